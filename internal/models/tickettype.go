package models

import "time"

type TicketType struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Accepting bool      `json:"accepting"`
	CreatedAt time.Time `json:"created_at"`
}

// TypeCount is a waiting-ticket tally for one type. Name is empty for
// the untyped bucket.
type TypeCount struct {
	TypeID *int64 `json:"type_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Count  int    `json:"count"`
}

// Settings is the single-row, process-wide queue configuration.
type Settings struct {
	AcceptingNew bool `json:"accepting_new"`
}
