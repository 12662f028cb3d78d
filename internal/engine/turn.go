package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/easeaico/her-engine/internal/history"
	"github.com/easeaico/her-engine/internal/ledger"
	"github.com/easeaico/her-engine/internal/llm"
	"github.com/easeaico/her-engine/internal/memory"
	"github.com/easeaico/her-engine/internal/prompt"
	"github.com/easeaico/her-engine/internal/reconcile"
	"github.com/easeaico/her-engine/internal/types"
)

// turnContext is everything gathered before the prompt is assembled.
type turnContext struct {
	dialog    *types.Dialog
	character *types.Character
	user      *types.User
	policy    types.TierPolicy
	text      string

	turns   []types.Turn
	session types.SessionState
	facts   []types.MemoryFact
	emotion *types.EmotionalState
	effects []types.ActiveEffect
}

// ProcessTurn runs one turn to completion. With EnforceQuota set, quota rejection returns a
// *ledger.QuotaError before any model call; a model failure returns a *ModelError after the user turn was stored.
func (c *Controller) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	tc, err := c.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	now := c.opts.Now()

	if c.opts.EnforceQuota {
		if err := c.deps.Ledger.Admit(ctx, tc.user.ID, tc.policy, now); err != nil {
			return nil, err
		}
	}
	used, err := c.deps.Ledger.Increment(ctx, tc.user.ID, now)
	if err != nil {
		return nil, err
	}

	if err := c.recordUserTurn(ctx, tc, req); err != nil {
		return nil, err
	}
	if err := c.gather(ctx, tc, now); err != nil {
		return nil, err
	}

	depth := ledger.MemoryDepth(tc.policy, tc.effects)
	recalled := c.deps.Facts.Recall(ctx, tc.user.ID, tc.character.ID, tc.text, depth, tc.facts)

	messages, err := c.buildPrompt(ctx, tc, recalled)
	if err != nil {
		return nil, err
	}

	streamer := reconcile.NewStreamer(req.OnPartial, c.opts.StreamInterval)
	completion, err := c.deps.LLM.Complete(ctx, messages, c.chatParams(tc.character), streamer.Append)
	if err != nil {
		streamer.Stop()
		slog.Error("failed to generate reply", "dialog_id", tc.dialog.ID, "error", err.Error())
		return nil, &ModelError{Err: err}
	}
	reply := reconcile.Reconcile(completion.Text, tc.character.Name, userDisplayName(tc.user))
	streamer.Finish(reply.Text)

	assistant, err := c.deps.Sessions.AppendTurn(ctx, types.Turn{
		DialogID: tc.dialog.ID,
		Role:     types.RoleAssistant,
		Text:     reply.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store reply: %w", err)
	}

	result := &TurnResult{
		VisibleText: reply.Text,
		Thoughts:    reply.Thoughts,
		Structured:  reply.Structured,
		QuotaUsed:   used,
	}
	if tc.emotion != nil {
		result.Emotion = *tc.emotion
	}
	c.persist(ctx, tc, reply, append(tc.turns, assistant), result)
	return result, nil
}

func (c *Controller) validate(ctx context.Context, req TurnRequest) (*turnContext, error) {
	dialog, err := c.dialog(ctx, req.UserID, req.DialogID)
	if err != nil {
		return nil, err
	}
	if dialog.Status == types.DialogCancelled {
		return nil, ErrDialogClosed
	}
	character, ok := c.deps.Characters.Character(dialog.CharacterID)
	if !ok {
		return nil, ErrCharacterNotFound
	}
	if character.ActiveVersion() == nil {
		return nil, ErrNoPersonaVersion
	}

	text := strings.TrimSpace(req.Text)
	if req.Regenerate {
		turns, err := c.deps.Sessions.ListTurns(ctx, dialog.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list turns: %w", err)
		}
		pending := pendingUserTurn(turns)
		if pending == nil {
			return nil, ErrNothingToRetry
		}
		text = pending.Text
	} else if text == "" {
		return nil, ErrEmptyMessage
	}

	user, err := c.user(ctx, dialog.UserID)
	if err != nil {
		return nil, err
	}
	return &turnContext{
		dialog:    dialog,
		character: character,
		user:      user,
		policy:    c.deps.Characters.Policy(user.Tier),
		text:      text,
	}, nil
}

// pendingUserTurn is the user turn a regeneration answers again.
func pendingUserTurn(turns []types.Turn) *types.Turn {
	n := len(turns)
	if n > 0 && turns[n-1].Role == types.RoleAssistant {
		n--
	}
	if n == 0 || turns[n-1].Role != types.RoleUser {
		return nil
	}
	return &turns[n-1]
}

// recordUserTurn appends the new user turn, or drops the reply being regenerated.
func (c *Controller) recordUserTurn(ctx context.Context, tc *turnContext, req TurnRequest) error {
	if !req.Regenerate {
		if _, err := c.deps.Sessions.AppendTurn(ctx, types.Turn{
			DialogID: tc.dialog.ID,
			Role:     types.RoleUser,
			Text:     tc.text,
		}); err != nil {
			return fmt.Errorf("failed to store user turn: %w", err)
		}
		return nil
	}

	turns, err := c.deps.Sessions.ListTurns(ctx, tc.dialog.ID)
	if err != nil {
		return fmt.Errorf("failed to list turns: %w", err)
	}
	n := len(turns)
	if n == 0 || turns[n-1].Role != types.RoleAssistant {
		return nil
	}
	if err := c.deps.Sessions.DeleteTurn(ctx, tc.dialog.ID, turns[n-1].ID); err != nil {
		return fmt.Errorf("failed to drop regenerated reply: %w", err)
	}

	// the watermark counts turns, so it may not point past the shortened list
	state, err := c.deps.Sessions.GetSession(ctx, tc.dialog.ID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if state.SummarizedUpTo > n-1 {
		state.SummarizedUpTo = n - 1
		if err := c.deps.Sessions.SaveSession(ctx, state); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
	}
	return nil
}

// gather loads turns, summary, facts, emotional state and effects concurrently.
// Only the session read is fatal; the rest degrade to empty values.
func (c *Controller) gather(ctx context.Context, tc *turnContext, now time.Time) error {
	userID, characterID := tc.user.ID, tc.character.ID

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		turns, err := c.deps.Sessions.ListTurns(gctx, tc.dialog.ID)
		if err != nil {
			return fmt.Errorf("failed to list turns: %w", err)
		}
		tc.turns = turns
		return nil
	})
	g.Go(func() error {
		session, err := c.deps.Sessions.GetSession(gctx, tc.dialog.ID)
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		tc.session = session
		return nil
	})
	g.Go(func() error {
		facts, err := c.deps.Facts.List(gctx, userID, characterID)
		if err != nil {
			slog.Warn("failed to load facts", "user_id", userID, "error", err.Error())
			return nil
		}
		tc.facts = facts
		return nil
	})
	g.Go(func() error {
		state, err := c.deps.Emotions.GetOrCreate(gctx, userID, characterID, tc.character.InitialState)
		if err != nil {
			slog.Warn("failed to load emotional state", "user_id", userID, "error", err.Error())
			return nil
		}
		tc.emotion = &state
		return nil
	})
	g.Go(func() error {
		effects, err := c.deps.Ledger.ActiveEffects(gctx, userID, tc.dialog.ID, now)
		if err != nil {
			slog.Warn("failed to load effects", "user_id", userID, "error", err.Error())
			return nil
		}
		tc.effects = effects
		return nil
	})
	return g.Wait()
}

// buildPrompt windows the unsummarized turns into the token budget. Turns that do not fit
// are folded into the summary first, then the prompt is assembled.
func (c *Controller) buildPrompt(ctx context.Context, tc *turnContext, recalled []types.MemoryFact) ([]llm.Message, error) {
	in := prompt.Input{
		Character:   tc.character,
		User:        tc.user,
		Emotion:     tc.emotion,
		Story:       tc.character.StoryByID(tc.dialog.StoryID),
		Effects:     tc.effects,
		Facts:       recalled,
		Summary:     tc.session.Summary,
		UserMessage: tc.text,
	}

	// the pending user turn stays a candidate even when a regeneration left the watermark past it
	watermark := max(min(tc.session.SummarizedUpTo, len(tc.turns)-1), 0)
	candidates := tc.turns[watermark:]

	window, err := c.window(in, candidates)
	if err != nil {
		return nil, err
	}
	if len(window.Discarded) > 0 {
		fold := c.deps.Summarizer.Fold(ctx, memory.FoldRequest{
			CharacterName: tc.character.Name,
			Summary:       tc.session.Summary,
			Turns:         window.Discarded,
			Facts:         tc.facts,
		})
		slog.Info("token pressure summarization", "dialog_id", tc.dialog.ID, "discarded", len(window.Discarded), "changed", fold.Changed)
		c.applyOperations(ctx, tc, fold.Operations)
		if fold.Changed {
			tc.session.Summary = fold.Summary
			in.Summary = fold.Summary
			sideTask("save_summary", func() error {
				return c.deps.Sessions.SaveSession(ctx, tc.session)
			}, "dialog_id", tc.dialog.ID)
			if window, err = c.window(in, candidates); err != nil {
				return nil, err
			}
		}
	}

	// the pending user turn is the newest kept turn and goes in as UserMessage
	if n := len(window.Kept); n > 0 {
		in.History = window.Kept[:n-1]
	}
	if c.opts.FixedWindow {
		return c.deps.Assembler.AssembleFixed(in, prompt.FixedPairs)
	}
	return c.deps.Assembler.Assemble(in)
}

func (c *Controller) window(in prompt.Input, candidates []types.Turn) (history.Result, error) {
	if c.opts.TokenBudget <= 0 {
		return history.Window(candidates, history.Unlimited), nil
	}
	instruction, err := c.deps.Assembler.Instruction(in)
	if err != nil {
		return history.Result{}, err
	}
	budget := c.opts.TokenBudget - history.EstimateMessageTokens(instruction) - c.opts.ResponseReserve
	return history.Window(candidates, history.Budget(max(budget, 0))), nil
}

// persist stores everything derived from the reply. Each step is best-effort.
func (c *Controller) persist(ctx context.Context, tc *turnContext, reply reconcile.Reply, turns []types.Turn, result *TurnResult) {
	userID, characterID, dialogID := tc.user.ID, tc.character.ID, tc.dialog.ID
	now := c.opts.Now()

	if !reply.Delta.IsZero() || reply.Mood != nil {
		sideTask("emotion", func() error {
			state, err := c.deps.Emotions.ApplyDelta(ctx, userID, characterID, tc.character.InitialState, reply.Delta, reply.Mood)
			if err != nil {
				return err
			}
			result.Emotion = state
			return nil
		}, "dialog_id", dialogID)
	}

	if len(reply.Facts) > 0 {
		ops := make([]memory.Operation, 0, len(reply.Facts))
		for _, fact := range reply.Facts {
			if fact.Content == "" || utf8.RuneCountInString(fact.Content) > memory.MaxFactLength {
				continue
			}
			ops = append(ops, memory.Operation{Kind: memory.OpAdd, Content: fact.Content, Importance: fact.Importance})
		}
		c.applyOperations(ctx, tc, ops)
	}

	sideTask("actions", func() error {
		applied, err := c.deps.Ledger.ApplyActions(ctx, userID, dialogID, reply.Actions, now)
		if err != nil {
			return err
		}
		result.Actions = applied
		return nil
	}, "dialog_id", dialogID)
	if result.Actions == nil {
		result.Actions = []types.Action{}
	}

	sideTask("effects", func() error {
		return c.deps.Ledger.AfterTurn(ctx, userID, dialogID, now)
	}, "dialog_id", dialogID)

	c.summarizeInterval(ctx, tc, turns)
	result.Summary = tc.session.Summary
}

// summarizeInterval folds the next fixed slice of turns once enough accumulated.
// The watermark only advances when the pass produced a summary; memory operations apply either way.
func (c *Controller) summarizeInterval(ctx context.Context, tc *turnContext, turns []types.Turn) {
	watermark := tc.session.SummarizedUpTo
	slice, ok := c.deps.Summarizer.IntervalSlice(turns, watermark)
	if !ok {
		return
	}
	fold := c.deps.Summarizer.Fold(ctx, memory.FoldRequest{
		CharacterName: tc.character.Name,
		Summary:       tc.session.Summary,
		Turns:         slice,
		Facts:         tc.facts,
	})
	c.applyOperations(ctx, tc, fold.Operations)
	if !fold.Changed {
		slog.Warn("interval summarization skipped", "dialog_id", tc.dialog.ID, "watermark", watermark)
		return
	}

	next := tc.session
	next.Summary = fold.Summary
	next.SummarizedUpTo = watermark + c.deps.Summarizer.WindowSize()
	sideTask("save_summary", func() error {
		if err := c.deps.Sessions.SaveSession(ctx, next); err != nil {
			return err
		}
		tc.session = next
		return nil
	}, "dialog_id", tc.dialog.ID)
}

func (c *Controller) applyOperations(ctx context.Context, tc *turnContext, ops []memory.Operation) {
	if len(ops) == 0 {
		return
	}
	applied := c.deps.Facts.Apply(ctx, tc.user.ID, tc.character.ID, tc.facts, ops)
	slog.Debug("memory operations applied", "dialog_id", tc.dialog.ID, "proposed", len(ops), "applied", applied)
}
