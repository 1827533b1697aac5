package store

import "errors"

var (
	ErrDuplicateActiveTicket = errors.New("owner already has an active ticket")
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrInvalidTransition     = errors.New("ticket state does not allow this transition")
	ErrNoTicketWaiting       = errors.New("no ticket waiting")
	ErrTypeNotFound          = errors.New("ticket type not found")
	ErrDuplicateTypeName     = errors.New("ticket type name already exists")
	ErrInvalidTypeName       = errors.New("invalid ticket type name")
	ErrSessionNotFound       = errors.New("session not found")
)
