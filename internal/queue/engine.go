package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/remiriasukaretto/LINEBOT/internal/models"
	"github.com/remiriasukaretto/LINEBOT/internal/store"
)

// Engine applies the queue business rules. Correctness under concurrent
// requests comes from the store's atomic operations, not from in-memory
// locking: multiple process instances may run against the same
// database.
type Engine struct {
	tickets        store.TicketStore
	types          store.TypeRegistry
	settings       store.SettingsStore
	notifier       Notifier
	storageTimeout time.Duration
}

type Options struct {
	// StorageTimeout bounds every storage call made by one engine
	// operation. Zero disables the bound.
	StorageTimeout time.Duration
}

func NewEngine(tickets store.TicketStore, types store.TypeRegistry, settings store.SettingsStore, notifier Notifier, options Options) *Engine {
	return &Engine{
		tickets:        tickets,
		types:          types,
		settings:       settings,
		notifier:       notifier,
		storageTimeout: options.StorageTimeout,
	}
}

// RejectReason classifies a reservation that was turned away by
// admission control. These are outcomes, not errors.
type RejectReason string

const (
	RejectQueueClosed     RejectReason = "queue_closed"
	RejectTypeUnavailable RejectReason = "type_unavailable"
)

type Rejection struct {
	Reason RejectReason
	// AcceptingTypes names the types currently open for reservation,
	// ascending by id.
	AcceptingTypes []string
}

type ReserveResult struct {
	Ticket    models.Ticket
	Position  int
	Scope     store.WaitScope
	Rejection *Rejection
}

// Reserve admits a new ticket for ownerID, optionally scoped to
// typeName. Admission control runs first: the global flag, then the
// per-type flag. A closed queue or unavailable type yields a Rejection
// in the result with no ticket created; an owner who already holds an
// active ticket gets store.ErrDuplicateActiveTicket.
func (e *Engine) Reserve(ctx context.Context, ownerID, note, typeName string) (ReserveResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	settings, err := e.settings.GetSettings(ctx)
	if err != nil {
		return ReserveResult{}, err
	}
	if !settings.AcceptingNew {
		return ReserveResult{Rejection: &Rejection{Reason: RejectQueueClosed}}, nil
	}

	var typeID *int64
	if typeName != "" {
		ticketType, found, err := e.types.GetTypeByName(ctx, typeName)
		if err != nil {
			return ReserveResult{}, err
		}
		if !found || !ticketType.Accepting {
			names, err := e.types.ListAcceptingNames(ctx)
			if err != nil {
				return ReserveResult{}, err
			}
			return ReserveResult{Rejection: &Rejection{Reason: RejectTypeUnavailable, AcceptingTypes: names}}, nil
		}
		typeID = &ticketType.ID
	} else {
		names, err := e.types.ListAcceptingNames(ctx)
		if err != nil {
			return ReserveResult{}, err
		}
		if len(names) == 0 {
			total, err := e.types.CountTypes(ctx)
			if err != nil {
				return ReserveResult{}, err
			}
			// With no types defined at all the queue is a single
			// untyped line; only existing-but-closed types reject.
			if total > 0 {
				return ReserveResult{Rejection: &Rejection{Reason: RejectTypeUnavailable}}, nil
			}
		}
	}

	ticket, err := e.tickets.CreateTicket(ctx, store.CreateTicketInput{
		OwnerID:   ownerID,
		Note:      note,
		TypeID:    typeID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return ReserveResult{}, err
	}
	ticket.TypeName = typeName

	scope := scopeFor(ticket)
	position, err := e.tickets.CountWaitingAhead(ctx, ticket.ID, scope)
	if err != nil {
		return ReserveResult{}, err
	}

	return ReserveResult{Ticket: ticket, Position: position, Scope: scope}, nil
}

// Cancel withdraws the owner's active ticket. Only waiting or called
// tickets may cancel; an arrived ticket yields
// store.ErrInvalidTransition and stays arrived.
func (e *Engine) Cancel(ctx context.Context, ownerID string) (models.Ticket, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	active, found, err := e.tickets.GetActiveTicket(ctx, ownerID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !found {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return e.tickets.Transition(ctx, active.ID, store.FromStatuses("cancel"), models.StatusCancelled)
}

// Arrive records that a called owner showed up. A still-waiting ticket
// yields store.ErrInvalidTransition.
func (e *Engine) Arrive(ctx context.Context, ownerID string) (models.Ticket, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	active, found, err := e.tickets.GetActiveTicket(ctx, ownerID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !found {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return e.tickets.Transition(ctx, active.ID, store.FromStatuses("arrive"), models.StatusArrived)
}

// CallResult carries a committed staff action plus the outcome of the
// owner notification it triggered. NotifyErr is informational: the
// transition stands regardless.
type CallResult struct {
	Ticket    models.Ticket
	NotifyErr error
}

func (e *Engine) Call(ctx context.Context, ticketID int64) (CallResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ticket, err := e.tickets.Transition(ctx, ticketID, store.FromStatuses("call"), models.StatusCalled)
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{Ticket: ticket, NotifyErr: e.notify(ctx, ticket.OwnerID, callMessage(ticket))}, nil
}

func (e *Engine) CallNext(ctx context.Context) (CallResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ticket, err := e.tickets.CallNextWaiting(ctx, time.Now().UTC())
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{Ticket: ticket, NotifyErr: e.notify(ctx, ticket.OwnerID, callMessage(ticket))}, nil
}

func (e *Engine) Finish(ctx context.Context, ticketID int64) (CallResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ticket, err := e.tickets.Transition(ctx, ticketID, store.FromStatuses("finish"), models.StatusDone)
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{Ticket: ticket, NotifyErr: e.notify(ctx, ticket.OwnerID, finishMessage(ticket))}, nil
}

type PositionResult struct {
	Ticket   models.Ticket
	Position int
	Scope    store.WaitScope
}

// Position reports the owner's active ticket and its wait position
// under the same scope rule applied at creation time: type-scoped when
// the ticket has a type, global otherwise. The value is a snapshot.
func (e *Engine) Position(ctx context.Context, ownerID string) (PositionResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	active, found, err := e.tickets.GetActiveTicket(ctx, ownerID)
	if err != nil {
		return PositionResult{}, err
	}
	if !found {
		return PositionResult{}, store.ErrTicketNotFound
	}

	scope := scopeFor(active)
	position, err := e.tickets.CountWaitingAhead(ctx, active.ID, scope)
	if err != nil {
		return PositionResult{}, err
	}
	return PositionResult{Ticket: active, Position: position, Scope: scope}, nil
}

func (e *Engine) notify(ctx context.Context, ownerID, message string) error {
	if e.notifier == nil {
		return nil
	}
	if err := e.notifier.Notify(ctx, ownerID, message); err != nil {
		log.Printf("notify failed owner=%s: %v", ownerID, err)
		return err
	}
	return nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.storageTimeout)
}

func scopeFor(ticket models.Ticket) store.WaitScope {
	if ticket.TypeID != nil {
		return store.WaitScopeSameType
	}
	return store.WaitScopeGlobal
}

func callMessage(ticket models.Ticket) string {
	return fmt.Sprintf("It's your turn! Ticket #%d, please come to the counter.", ticket.ID)
}

func finishMessage(ticket models.Ticket) string {
	return fmt.Sprintf("Ticket #%d is all done. Thank you for visiting!", ticket.ID)
}
