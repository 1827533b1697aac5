package store

import (
	"context"
	"time"

	"github.com/remiriasukaretto/LINEBOT/internal/models"
)

// WaitScope selects how CountWaitingAhead bounds the count: across the
// whole queue, or only among tickets sharing the subject ticket's type.
type WaitScope string

const (
	WaitScopeGlobal   WaitScope = "global"
	WaitScopeSameType WaitScope = "same_type"
)

type CreateTicketInput struct {
	OwnerID   string
	Note      string
	TypeID    *int64
	CreatedAt time.Time
}

// ListFilter narrows and orders ticket listings. SortBy is one of
// "id", "status", "type", "note"; SortOrder is "asc" or "desc". Zero
// values fall back to per-listing defaults.
type ListFilter struct {
	TypeID    *int64
	SortBy    string
	SortOrder string
	Limit     int
}

type TicketStore interface {
	// CreateTicket assigns the next id with status waiting. The
	// no-active-ticket check and the insert are one atomic unit;
	// a second active ticket for the same owner yields
	// ErrDuplicateActiveTicket.
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	// GetActiveTicket returns the owner's most recent ticket whose
	// status is waiting, called, or arrived.
	GetActiveTicket(ctx context.Context, ownerID string) (models.Ticket, bool, error)
	// CountWaitingAhead counts waiting tickets with a strictly lower id.
	CountWaitingAhead(ctx context.Context, ticketID int64, scope WaitScope) (int, error)
	// Transition is a single compare-and-set. A ticket whose current
	// status is outside from yields ErrInvalidTransition; a missing id
	// yields ErrTicketNotFound.
	Transition(ctx context.Context, ticketID int64, from []models.Status, to models.Status) (models.Ticket, error)
	// CallNextWaiting atomically claims the waiting ticket with the
	// smallest id and marks it called. ErrNoTicketWaiting when the
	// queue is empty.
	CallNextWaiting(ctx context.Context, calledAt time.Time) (models.Ticket, error)
	ListActive(ctx context.Context, filter ListFilter) ([]models.Ticket, error)
	ListHistory(ctx context.Context, filter ListFilter) ([]models.Ticket, error)
	CountWaitingByType(ctx context.Context) ([]models.TypeCount, error)
}

type TypeRegistry interface {
	CreateType(ctx context.Context, name string) (models.TicketType, error)
	// DeleteType clears type_id on referencing tickets, then removes
	// the type. Tickets themselves are untouched.
	DeleteType(ctx context.Context, typeID int64) error
	ToggleTypeAccepting(ctx context.Context, typeID int64) (models.TicketType, error)
	GetTypeByName(ctx context.Context, name string) (models.TicketType, bool, error)
	ListTypes(ctx context.Context) ([]models.TicketType, error)
	// ListAcceptingNames returns the names of accepting types in id
	// order, for "available types" prompts.
	ListAcceptingNames(ctx context.Context) ([]string, error)
	CountTypes(ctx context.Context) (int, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context) (models.Settings, error)
	ToggleAcceptingNew(ctx context.Context) (models.Settings, error)
}

type Session struct {
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type SessionStore interface {
	CreateSession(ctx context.Context, ttl time.Duration) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}
