// Package chatengine implements the rate-limited, length-bounded,
// sanitized chat append and immediate fan-out (component G).
package chatengine

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/lvdashuaibi/revealcast/internal/model"
	"github.com/lvdashuaibi/revealcast/internal/publish"
	"go.uber.org/zap"
)

// Request is a single chat-send attempt.
type Request struct {
	SessionID string
	VoterID   string
	Name      string
	Body      string
}

type limiter interface {
	Admit(ctx context.Context, voterID string) (bool, error)
}

type repo interface {
	GetSession(ctx context.Context, id string) (model.Session, bool, error)
	AppendChat(ctx context.Context, id string, msg model.ChatMessage) error
}

// Engine is the Chat Engine. maxNameLen and maxBodyLen implement the §6
// name.maxLength / chat.maxLength configuration options.
type Engine struct {
	repo       repo
	limiter    limiter
	publisher  publish.Publisher
	log        *zap.Logger
	maxNameLen int
	maxBodyLen int
}

// New constructs an Engine with the configured length caps.
func New(repo repo, limiter limiter, publisher publish.Publisher, log *zap.Logger, maxNameLen, maxBodyLen int) *Engine {
	return &Engine{repo: repo, limiter: limiter, publisher: publisher, log: log, maxNameLen: maxNameLen, maxBodyLen: maxBodyLen}
}

// SendMessage runs the algorithm from §4.G. Returns false if the message
// was rejected for any reason (rate limit, unknown/ended session, or
// empty body after trim); the caller does not need to distinguish which.
func (e *Engine) SendMessage(ctx context.Context, req Request) bool {
	admitted, err := e.limiter.Admit(ctx, req.VoterID)
	if err != nil {
		e.log.Warn("chatengine: rate limiter failure", zap.Error(err))
		return false
	}
	if !admitted {
		return false
	}

	session, ok, err := e.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		e.log.Warn("chatengine: get session failed", zap.String("sessionId", req.SessionID), zap.Error(err))
		return false
	}
	if !ok || session.Status == model.StatusEnded {
		return false
	}

	name := truncate(strings.TrimSpace(req.Name), e.maxNameLen)
	body := truncate(strings.TrimSpace(req.Body), e.maxBodyLen)
	if body == "" {
		return false
	}

	msg := model.ChatMessage{
		Name:      html.EscapeString(name),
		Message:   html.EscapeString(body),
		VoterID:   req.VoterID,
		Timestamp: time.Now(),
	}

	if err := e.repo.AppendChat(ctx, req.SessionID, msg); err != nil {
		e.log.Warn("chatengine: append chat failed", zap.String("sessionId", req.SessionID), zap.Error(err))
		return false
	}

	if err := e.publisher.Publish(ctx, fmt.Sprintf("chat/%s", req.SessionID), msg); err != nil {
		e.log.Warn("chatengine: publish chat message failed", zap.Error(err))
	}
	return true
}

// truncate cuts s to at most n runes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
