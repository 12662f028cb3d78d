// Package engine orchestrates one dialogue turn: context gathering, prompt assembly,
// the model call, reply reconciliation and persistence.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/easeaico/her-engine/internal/emotion"
	"github.com/easeaico/her-engine/internal/ledger"
	"github.com/easeaico/her-engine/internal/llm"
	"github.com/easeaico/her-engine/internal/memory"
	"github.com/easeaico/her-engine/internal/prompt"
	"github.com/easeaico/her-engine/internal/reconcile"
	"github.com/easeaico/her-engine/internal/types"
)

// SessionStore persists dialogs, turns and the rolling summary.
type SessionStore interface {
	CreateDialog(ctx context.Context, dialog types.Dialog) (types.Dialog, error)
	// GetDialog returns nil when the dialog does not exist.
	GetDialog(ctx context.Context, dialogID string) (*types.Dialog, error)
	SetDialogStatus(ctx context.Context, dialogID string, status types.DialogStatus) error
	AppendTurn(ctx context.Context, turn types.Turn) (types.Turn, error)
	ListTurns(ctx context.Context, dialogID string) ([]types.Turn, error)
	DeleteTurn(ctx context.Context, dialogID, turnID string) error
	GetSession(ctx context.Context, dialogID string) (types.SessionState, error)
	SaveSession(ctx context.Context, state types.SessionState) error
	ResetDialog(ctx context.Context, dialogID string) error
}

// UserDirectory resolves user profiles. A nil user means an anonymous free-tier caller.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
}

// CharacterProvider resolves persona cards and the tier table.
type CharacterProvider interface {
	Character(id string) (*types.Character, bool)
	Policy(tier types.Tier) types.TierPolicy
}

// Deps are the collaborators of the Controller.
type Deps struct {
	Sessions   SessionStore
	Users      UserDirectory
	Characters CharacterProvider
	Emotions   *emotion.Tracker
	Facts      *memory.Facts
	Summarizer *memory.Summarizer
	Ledger     *ledger.Ledger
	Assembler  *prompt.Assembler
	LLM        llm.Completer
}

// Options tune prompt budgeting and generation.
type Options struct {
	ChatParams llm.SamplingParams
	// TokenBudget caps the prompt size; zero or less means unlimited.
	TokenBudget     int
	ResponseReserve int
	StreamInterval  time.Duration
	// FixedWindow renders history as a constant number of user/assistant slots.
	FixedWindow bool
	// EnforceQuota makes ProcessTurn check the daily limit itself. When false the caller
	// gates turns with Ledger.Admit and ProcessTurn only counts them.
	EnforceQuota bool
	Now          func() time.Time
}

// Controller runs turns. It holds no per-dialog state; callers serialize turns of one dialog.
type Controller struct {
	deps Deps
	opts Options
}

// New creates a Controller.
func New(deps Deps, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = reconcile.DefaultStreamInterval
	}
	if deps.Assembler == nil {
		deps.Assembler = prompt.NewAssembler("")
	}
	return &Controller{deps: deps, opts: opts}
}

// TurnRequest is one user message, or a request to regenerate the last reply.
type TurnRequest struct {
	DialogID   string
	UserID     string
	Text       string
	Regenerate bool
	// OnPartial receives throttled snapshots of the visible reply while the model streams.
	OnPartial func(text string)
}

// TurnResult is what the caller shows to the user.
type TurnResult struct {
	VisibleText string               `json:"text"`
	Thoughts    string               `json:"thoughts,omitempty"`
	Actions     []types.Action       `json:"actions"`
	Summary     string               `json:"summary"`
	Emotion     types.EmotionalState `json:"emotion"`
	Structured  bool                 `json:"structured"`
	QuotaUsed   int                  `json:"quota_used"`
}

// OpenDialog starts a dialog between a user and a character, optionally bound to a story.
func (c *Controller) OpenDialog(ctx context.Context, userID, characterID, storyID string) (types.Dialog, error) {
	character, ok := c.deps.Characters.Character(characterID)
	if !ok {
		return types.Dialog{}, ErrCharacterNotFound
	}
	if storyID != "" && character.StoryByID(storyID) == nil {
		return types.Dialog{}, ErrStoryNotFound
	}
	dialog, err := c.deps.Sessions.CreateDialog(ctx, types.Dialog{
		UserID:      userID,
		CharacterID: characterID,
		StoryID:     storyID,
		Status:      types.DialogOpen,
	})
	if err != nil {
		return types.Dialog{}, fmt.Errorf("failed to create dialog: %w", err)
	}
	return dialog, nil
}

// Cancel marks a dialog so later turns are refused. An in-flight turn is not interrupted.
func (c *Controller) Cancel(ctx context.Context, userID, dialogID string) error {
	if _, err := c.dialog(ctx, userID, dialogID); err != nil {
		return err
	}
	if err := c.deps.Sessions.SetDialogStatus(ctx, dialogID, types.DialogCancelled); err != nil {
		return fmt.Errorf("failed to cancel dialog: %w", err)
	}
	return nil
}

// Reset clears turns, summary, emotional state and facts of the dialog's pair and reopens it.
func (c *Controller) Reset(ctx context.Context, userID, dialogID string) error {
	dialog, err := c.dialog(ctx, userID, dialogID)
	if err != nil {
		return err
	}
	if err := c.deps.Sessions.ResetDialog(ctx, dialogID); err != nil {
		return fmt.Errorf("failed to reset dialog: %w", err)
	}
	if err := c.deps.Emotions.Reset(ctx, dialog.UserID, dialog.CharacterID); err != nil {
		return err
	}
	if err := c.deps.Facts.Reset(ctx, dialog.UserID, dialog.CharacterID); err != nil {
		return err
	}
	if err := c.deps.Sessions.SetDialogStatus(ctx, dialogID, types.DialogOpen); err != nil {
		return fmt.Errorf("failed to reopen dialog: %w", err)
	}
	slog.Info("dialog reset", "dialog_id", dialogID, "user_id", userID)
	return nil
}

func (c *Controller) dialog(ctx context.Context, userID, dialogID string) (*types.Dialog, error) {
	dialog, err := c.deps.Sessions.GetDialog(ctx, dialogID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dialog: %w", err)
	}
	if dialog == nil || (userID != "" && dialog.UserID != userID) {
		return nil, ErrDialogNotFound
	}
	return dialog, nil
}

func (c *Controller) user(ctx context.Context, userID string) (*types.User, error) {
	if c.deps.Users == nil {
		return &types.User{ID: userID, Tier: types.TierFree}, nil
	}
	user, err := c.deps.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return &types.User{ID: userID, Tier: types.TierFree}, nil
	}
	if user.Tier == "" {
		user.Tier = types.TierFree
	}
	return user, nil
}

func (c *Controller) chatParams(character *types.Character) llm.SamplingParams {
	params := c.opts.ChatParams
	preset := character.Sampling
	if preset == nil {
		return params
	}
	if preset.Model != "" {
		params.Model = preset.Model
	}
	if preset.Temperature != nil {
		params.Temperature = preset.Temperature
	}
	if preset.TopP != nil {
		params.TopP = preset.TopP
	}
	if preset.MaxTokens > 0 {
		params.MaxTokens = preset.MaxTokens
	}
	return params
}

func userDisplayName(user *types.User) string {
	if user == nil {
		return ""
	}
	return strings.TrimSpace(user.Name)
}
