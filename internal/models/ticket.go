package models

import "time"

// Status is the lifecycle state of a ticket. Tickets only move forward:
// waiting -> called -> arrived -> done, with cancelled reachable from
// waiting or called. done and cancelled are terminal.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCalled    Status = "called"
	StatusArrived   Status = "arrived"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses are the non-terminal states. An owner may hold at most
// one ticket in any of these states at a time.
var ActiveStatuses = []Status{StatusWaiting, StatusCalled, StatusArrived}

func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusCalled || s == StatusArrived
}

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

type Ticket struct {
	ID         int64      `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Note       string     `json:"note,omitempty"`
	TypeID     *int64     `json:"type_id,omitempty"`
	TypeName   string     `json:"type,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	CalledAt   *time.Time `json:"called_at,omitempty"`
	ArrivedAt  *time.Time `json:"arrived_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
