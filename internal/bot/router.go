package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/remiriasukaretto/LINEBOT/internal/models"
	"github.com/remiriasukaretto/LINEBOT/internal/queue"
	"github.com/remiriasukaretto/LINEBOT/internal/store"
)

// Engine is the slice of the queue engine the router drives. Staff
// actions go through the admin API instead, so they are absent here.
type Engine interface {
	Reserve(ctx context.Context, ownerID, note, typeName string) (queue.ReserveResult, error)
	Cancel(ctx context.Context, ownerID string) (models.Ticket, error)
	Arrive(ctx context.Context, ownerID string) (models.Ticket, error)
	Position(ctx context.Context, ownerID string) (queue.PositionResult, error)
}

const helpText = "Commands: \"reserve [type] [note]\" to take a ticket, \"cancel\" to give it up, \"arrive\" after you are called."

// Router maps one normalized text command from a ticket owner to a
// queue engine call and renders the reply. The caller identity is
// trusted; the transport layer authenticated it.
type Router struct {
	engine Engine
}

func NewRouter(engine Engine) *Router {
	return &Router{engine: engine}
}

func (r *Router) HandleText(ctx context.Context, ownerID, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return helpText
	}

	switch strings.ToLower(fields[0]) {
	case "reserve":
		typeName := ""
		note := ""
		if len(fields) > 1 {
			typeName = fields[1]
		}
		if len(fields) > 2 {
			note = strings.Join(fields[2:], " ")
		}
		return r.reserve(ctx, ownerID, note, typeName)
	case "cancel":
		return r.cancel(ctx, ownerID)
	case "arrive":
		return r.arrive(ctx, ownerID)
	default:
		return helpText
	}
}

func (r *Router) reserve(ctx context.Context, ownerID, note, typeName string) string {
	result, err := r.engine.Reserve(ctx, ownerID, note, typeName)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateActiveTicket) {
			return r.existingTicketReply(ctx, ownerID)
		}
		log.Printf("reserve failed owner=%s: %v", ownerID, err)
		return infraErrorText
	}

	if result.Rejection != nil {
		switch result.Rejection.Reason {
		case queue.RejectQueueClosed:
			return "Sorry, the queue is closed for new tickets right now."
		default:
			if len(result.Rejection.AcceptingTypes) > 0 {
				return fmt.Sprintf("That type isn't available. Currently accepting: %s.", strings.Join(result.Rejection.AcceptingTypes, ", "))
			}
			return "Sorry, no ticket types are accepting reservations right now."
		}
	}

	return fmt.Sprintf("Ticket #%d reserved. %s ahead of you.", result.Ticket.ID, groupCount(result.Position))
}

func (r *Router) existingTicketReply(ctx context.Context, ownerID string) string {
	position, err := r.engine.Position(ctx, ownerID)
	if err != nil {
		log.Printf("position lookup failed owner=%s: %v", ownerID, err)
		return "You already have an active ticket."
	}
	switch position.Ticket.Status {
	case models.StatusCalled:
		return fmt.Sprintf("You already have ticket #%d and it has been called. Please come to the counter.", position.Ticket.ID)
	case models.StatusArrived:
		return fmt.Sprintf("You already have ticket #%d and your arrival is recorded.", position.Ticket.ID)
	default:
		return fmt.Sprintf("You already have ticket #%d. %s ahead of you.", position.Ticket.ID, groupCount(position.Position))
	}
}

func (r *Router) cancel(ctx context.Context, ownerID string) string {
	ticket, err := r.engine.Cancel(ctx, ownerID)
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return "You don't have a ticket to cancel."
	case errors.Is(err, store.ErrInvalidTransition):
		return "Your ticket can no longer be cancelled."
	case err != nil:
		log.Printf("cancel failed owner=%s: %v", ownerID, err)
		return infraErrorText
	}
	return fmt.Sprintf("Ticket #%d cancelled.", ticket.ID)
}

func (r *Router) arrive(ctx context.Context, ownerID string) string {
	ticket, err := r.engine.Arrive(ctx, ownerID)
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return "You don't have an active ticket."
	case errors.Is(err, store.ErrInvalidTransition):
		return "You haven't been called yet. Please wait for your turn."
	case err != nil:
		log.Printf("arrive failed owner=%s: %v", ownerID, err)
		return infraErrorText
	}
	return fmt.Sprintf("Arrival recorded for ticket #%d. Please wait at the counter.", ticket.ID)
}

const infraErrorText = "Something went wrong. Please try again in a moment."

func groupCount(n int) string {
	if n == 1 {
		return "1 group"
	}
	return fmt.Sprintf("%d groups", n)
}
