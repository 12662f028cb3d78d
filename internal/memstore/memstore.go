// Package memstore keeps every engine store in process memory. It backs tests and
// single-node development runs where PostgreSQL is not available.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/her-engine/internal/types"
)

type pairKey struct {
	userID      string
	characterID string
}

type quotaKey struct {
	userID string
	day    string
}

type inventoryKey struct {
	userID string
	itemID string
}

type flagKey struct {
	userID   string
	dialogID string
	key      string
}

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu        sync.Mutex
	txMu      sync.Mutex
	users     map[string]types.User
	dialogs   map[string]types.Dialog
	turns     map[string][]types.Turn
	sessions  map[string]types.SessionState
	facts     map[pairKey][]types.MemoryFact
	emotions  map[pairKey]types.EmotionalState
	quota     map[quotaKey]int
	effects   map[string]types.ActiveEffect
	inventory map[inventoryKey]int
	flags     map[flagKey]string
	now       func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:     make(map[string]types.User),
		dialogs:   make(map[string]types.Dialog),
		turns:     make(map[string][]types.Turn),
		sessions:  make(map[string]types.SessionState),
		facts:     make(map[pairKey][]types.MemoryFact),
		emotions:  make(map[pairKey]types.EmotionalState),
		quota:     make(map[quotaKey]int),
		effects:   make(map[string]types.ActiveEffect),
		inventory: make(map[inventoryKey]int),
		flags:     make(map[flagKey]string),
		now:       time.Now,
	}
}

// PutUser stores or replaces a user profile.
func (s *Store) PutUser(user types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// GetUser returns nil when the user is unknown.
func (s *Store) GetUser(ctx context.Context, userID string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

// CreateDialog opens a dialog, assigning an id when empty.
func (s *Store) CreateDialog(ctx context.Context, dialog types.Dialog) (types.Dialog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dialog.ID == "" {
		dialog.ID = uuid.NewString()
	}
	if dialog.Status == "" {
		dialog.Status = types.DialogOpen
	}
	now := s.now()
	dialog.CreatedAt, dialog.UpdatedAt = now, now
	s.dialogs[dialog.ID] = dialog
	return dialog, nil
}

// GetDialog returns nil when the dialog is unknown.
func (s *Store) GetDialog(ctx context.Context, dialogID string) (*types.Dialog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dialog, ok := s.dialogs[dialogID]
	if !ok {
		return nil, nil
	}
	return &dialog, nil
}

func (s *Store) SetDialogStatus(ctx context.Context, dialogID string, status types.DialogStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dialog, ok := s.dialogs[dialogID]
	if !ok {
		return nil
	}
	dialog.Status = status
	dialog.UpdatedAt = s.now()
	s.dialogs[dialogID] = dialog
	return nil
}

func (s *Store) AppendTurn(ctx context.Context, turn types.Turn) (types.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	s.turns[turn.DialogID] = append(s.turns[turn.DialogID], turn)
	return turn, nil
}

func (s *Store) ListTurns(ctx context.Context, dialogID string) ([]types.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Turn(nil), s.turns[dialogID]...), nil
}

func (s *Store) DeleteTurn(ctx context.Context, dialogID, turnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[dialogID]
	for i := range turns {
		if turns[i].ID == turnID {
			s.turns[dialogID] = append(turns[:i:i], turns[i+1:]...)
			return nil
		}
	}
	return nil
}

// GetSession returns a zero state for a dialog without a summary yet.
func (s *Store) GetSession(ctx context.Context, dialogID string) (types.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[dialogID]
	if !ok {
		return types.SessionState{DialogID: dialogID}, nil
	}
	return state, nil
}

func (s *Store) SaveSession(ctx context.Context, state types.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.UpdatedAt = s.now()
	s.sessions[state.DialogID] = state
	return nil
}

// ResetDialog drops turns and the rolling summary of a dialog.
func (s *Store) ResetDialog(ctx context.Context, dialogID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, dialogID)
	delete(s.sessions, dialogID)
	return nil
}

func (s *Store) ListFacts(ctx context.Context, userID, characterID string) ([]types.MemoryFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.MemoryFact(nil), s.facts[pairKey{userID, characterID}]...), nil
}

func (s *Store) AddFact(ctx context.Context, fact types.MemoryFact) (types.MemoryFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	now := s.now()
	fact.CreatedAt, fact.UpdatedAt = now, now
	key := pairKey{fact.UserID, fact.CharacterID}
	s.facts[key] = append(s.facts[key], fact)
	return fact, nil
}

func (s *Store) UpdateFact(ctx context.Context, fact types.MemoryFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	facts := s.facts[pairKey{fact.UserID, fact.CharacterID}]
	for i := range facts {
		if facts[i].ID == fact.ID {
			fact.CreatedAt = facts[i].CreatedAt
			fact.UpdatedAt = s.now()
			facts[i] = fact
			return nil
		}
	}
	return nil
}

func (s *Store) DeleteFact(ctx context.Context, userID, characterID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{userID, characterID}
	facts := s.facts[key]
	for i := range facts {
		if facts[i].ID == id {
			s.facts[key] = append(facts[:i:i], facts[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) DeleteFacts(ctx context.Context, userID, characterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facts, pairKey{userID, characterID})
	return nil
}

// SearchFacts ranks facts with an embedding by cosine similarity.
func (s *Store) SearchFacts(ctx context.Context, userID, characterID string, embedding []float32, limit int) ([]types.MemoryFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type scored struct {
		fact  types.MemoryFact
		score float64
	}
	var candidates []scored
	for _, fact := range s.facts[pairKey{userID, characterID}] {
		if len(fact.Embedding) != len(embedding) || len(embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{fact: fact, score: cosine(fact.Embedding, embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]types.MemoryFact, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.fact)
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *Store) GetEmotionalState(ctx context.Context, userID, characterID string) (*types.EmotionalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.emotions[pairKey{userID, characterID}]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *Store) SaveEmotionalState(ctx context.Context, state types.EmotionalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.UpdatedAt = s.now()
	s.emotions[pairKey{state.UserID, state.CharacterID}] = state
	return nil
}

func (s *Store) DeleteEmotionalState(ctx context.Context, userID, characterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.emotions, pairKey{userID, characterID})
	return nil
}
