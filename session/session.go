// Package session holds per-conversation state: the turn history the
// pipeline reads context from, the current-state map, and the optional
// customer profile. Two store implementations exist, an in-process one for
// single-instance deployments and a Redis-backed one for shared state.
package session

import (
	"context"
	"time"

	"github.com/bankchat/bankchat-go/bankchat"
)

// Session is one conversation.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Turns holds the completed exchanges, oldest first, trimmed to the
	// configured history limit.
	Turns []bankchat.Turn `json:"turns"`

	// State is the mutable current-state map: selected account, last
	// intent, pending action. Stages read it, the chat service writes it.
	State bankchat.Fields `json:"state"`

	// Customer is the optional profile attached by the caller, used for
	// answer personalization.
	Customer bankchat.Fields `json:"customer,omitempty"`
}

// New creates an empty session.
func New(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		State:     bankchat.Fields{},
		Customer:  bankchat.Fields{},
	}
}

// AppendTurn records a completed turn and trims history to limit turns.
func (s *Session) AppendTurn(turn bankchat.Turn, limit int) {
	s.Turns = append(s.Turns, turn)
	if limit > 0 && len(s.Turns) > limit {
		s.Turns = s.Turns[len(s.Turns)-limit:]
	}
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy. Stores hand out clones so a reader never
// shares maps or slices with a turn that is mutating the same session.
func (s *Session) Clone() *Session {
	c := *s
	c.State = s.State.Clone()
	c.Customer = s.Customer.Clone()
	if s.Turns != nil {
		c.Turns = make([]bankchat.Turn, len(s.Turns))
		for i, turn := range s.Turns {
			c.Turns[i] = cloneTurn(turn)
		}
	}
	return &c
}

func cloneTurn(t bankchat.Turn) bankchat.Turn {
	if t.Stages == nil {
		return t
	}
	stages := make([]bankchat.StageResult, len(t.Stages))
	for i, sr := range t.Stages {
		sr.Fields = sr.Fields.Clone()
		stages[i] = sr
	}
	t.Stages = stages
	return t
}

// Summary is the list-view projection of a session.
type Summary struct {
	ID        string    `json:"id"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summarize builds the list-view projection.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:        s.ID,
		Turns:     len(s.Turns),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Store persists sessions. Implementations evict the oldest session once
// the configured capacity is reached, so an abandoned conversation cannot
// pin memory forever.
//
// Get returns bankchat.ErrSessionNotFound for unknown ids; GetOrCreate
// never does.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Summary, error)
	Count(ctx context.Context) (int, error)
}
