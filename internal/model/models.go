// Package model holds the wire and storage shapes shared across the
// session runtime: sessions, votes, chat, and the events published to
// subscribers.
package model

import "time"

// Status is a session's position in the WAITING -> LIVE -> ENDED
// lifecycle. Transitions are monotone; see lifecycle.Controller.
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusLive    Status = "LIVE"
	StatusEnded   Status = "ENDED"
)

// Choice is one of the two binary vote options.
type Choice string

const (
	ChoiceA Choice = "boy"
	ChoiceB Choice = "girl"
)

// ParseChoice validates a client-supplied option string.
func ParseChoice(s string) (Choice, bool) {
	switch Choice(s) {
	case ChoiceA, ChoiceB:
		return Choice(s), true
	default:
		return "", false
	}
}

// Session is the unit of a single reveal event. Created by the HTTP layer,
// mutated only by the Lifecycle Controller (Status), immutable Gender
// after creation.
type Session struct {
	ID         string    `json:"sessionId"`
	OwnerID    string    `json:"ownerId"`
	Gender     Choice    `json:"gender"`
	Status     Status    `json:"status"`
	RevealTime time.Time `json:"revealTime"`
	CreatedAt  time.Time `json:"createdAt"`
}

// VoteCount is the pair of aggregate counters for a session.
type VoteCount struct {
	Boy  int64 `json:"boy"`
	Girl int64 `json:"girl"`
}

// VoteRecord is one accepted vote, retained bounded for reconnect
// hydration and published immediately on vote-events/{sessionId}.
type VoteRecord struct {
	VoterID   string    `json:"visitorId"`
	Name      string    `json:"name"`
	Option    Choice    `json:"option"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is one accepted, sanitized chat entry.
type ChatMessage struct {
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	VoterID   string    `json:"visitorId"`
	Timestamp time.Time `json:"timestamp"`
}

// RevealFrame is the terminal payload published once per session on
// votes/{sessionId} at finalization.
type RevealFrame struct {
	Type       string    `json:"type"`
	Gender     Choice    `json:"gender"`
	FinalVotes VoteCount `json:"finalVotes"`
}

// VoteAckFrame is the personal acknowledgment published on
// vote-response/{sessionId}.
type VoteAckFrame struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AggregateFrame is the periodic broadcast payload on votes/{sessionId}.
type AggregateFrame struct {
	Boy  int64 `json:"boy"`
	Girl int64 `json:"girl"`
}
