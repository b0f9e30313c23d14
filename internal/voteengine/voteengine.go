// Package voteengine implements atomic vote admission (component F):
// rate limit -> session-active check -> dedup -> counter increment ->
// dirty flag -> individual-vote event.
package voteengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lvdashuaibi/revealcast/internal/model"
	"github.com/lvdashuaibi/revealcast/internal/publish"
	"go.uber.org/zap"
)

// Outcome is the closed set of admission results (§7 AdmissionError).
type Outcome string

const (
	OK           Outcome = "OK"
	RateLimited  Outcome = "RateLimited"
	NotFound     Outcome = "NotFound"
	Ended        Outcome = "Ended"
	AlreadyVoted Outcome = "AlreadyVoted"
	Failed       Outcome = "Failed"
)

// Request is a single vote attempt.
type Request struct {
	SessionID string
	VoterID   string
	Choice    model.Choice
	Name      string
}

// limiter is the subset of ratelimit.Limiter the engine needs.
type limiter interface {
	Admit(ctx context.Context, voterID string) (bool, error)
}

// repo is the subset of repository.Repository the engine needs.
type repo interface {
	GetSession(ctx context.Context, id string) (model.Session, bool, error)
	RecordVote(ctx context.Context, id, voterID string, choice model.Choice, name string) (bool, error)
}

// Engine is the Vote Engine.
type Engine struct {
	repo      repo
	limiter   limiter
	publisher publish.Publisher
	log       *zap.Logger
}

// New constructs an Engine.
func New(repo repo, limiter limiter, publisher publish.Publisher, log *zap.Logger) *Engine {
	return &Engine{repo: repo, limiter: limiter, publisher: publisher, log: log}
}

const defaultName = "Guest"

// CastVote runs the admission algorithm from §4.F. It is re-entrant and
// safe for concurrent calls with the same or different voter ids: of N
// concurrent calls with the same voter id, exactly one returns OK,
// linearized by the Session Repository's set-add atomicity.
func (e *Engine) CastVote(ctx context.Context, req Request) Outcome {
	admitted, err := e.limiter.Admit(ctx, req.VoterID)
	if err != nil {
		e.log.Warn("voteengine: rate limiter failure, treating as retryable", zap.Error(err))
		return Failed
	}
	if !admitted {
		return RateLimited
	}

	session, ok, err := e.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		e.log.Warn("voteengine: get session failed", zap.String("sessionId", req.SessionID), zap.Error(err))
		return Failed
	}
	if !ok {
		return NotFound
	}
	if session.Status == model.StatusEnded {
		return Ended
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultName
	}

	// A session that transitions to ENDED between the check above and the
	// call below may still admit this vote; that slack is accepted (§4.F)
	// rather than paying for a cross-step transaction.
	accepted, err := e.repo.RecordVote(ctx, req.SessionID, req.VoterID, req.Choice, name)
	if err != nil {
		e.log.Warn("voteengine: record vote failed", zap.String("sessionId", req.SessionID), zap.Error(err))
		return Failed
	}
	if !accepted {
		e.publishAck(ctx, req.SessionID, false, "you have already voted")
		return AlreadyVoted
	}

	rec := model.VoteRecord{VoterID: req.VoterID, Name: name, Option: req.Choice, Timestamp: time.Now()}
	if err := e.publisher.Publish(ctx, fmt.Sprintf("vote-events/%s", req.SessionID), rec); err != nil {
		e.log.Warn("voteengine: publish vote event failed", zap.Error(err))
	}
	e.publishAck(ctx, req.SessionID, true, "vote recorded")

	return OK
}

func (e *Engine) publishAck(ctx context.Context, sessionID string, success bool, message string) {
	ack := model.VoteAckFrame{Success: success, Message: message}
	if err := e.publisher.Publish(ctx, fmt.Sprintf("vote-response/%s", sessionID), ack); err != nil {
		e.log.Warn("voteengine: publish ack failed", zap.Error(err))
	}
}
