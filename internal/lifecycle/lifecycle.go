// Package lifecycle drives the WAITING -> LIVE -> ENDED state machine from
// a clock (component H). It ticks every second, iterating only the
// Active Session Registry's in-memory snapshot.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/lvdashuaibi/revealcast/internal/model"
	"github.com/lvdashuaibi/revealcast/internal/publish"
	"go.uber.org/zap"
)

// activateWindow is how far before RevealTime a session goes LIVE (§4.H).
const activateWindow = 5 * time.Minute

type repo interface {
	GetSession(ctx context.Context, id string) (model.Session, bool, error)
	SetStatus(ctx context.Context, id string, status model.Status) error
	GetVotes(ctx context.Context, id string) (model.VoteCount, error)
	GetRecentChat(ctx context.Context, id string, n int) ([]model.ChatMessage, error)
	RemoveActive(ctx context.Context, id string) error
	ApplyPostRevealTTL(ctx context.Context, id string)
}

type registry interface {
	Snapshot() []string
	Unregister(id string)
}

// Archiver is the one-shot write of the final session document (§4.B,
// component B). It is a distinct interface so the archive backend can be
// swapped without touching the Controller.
type Archiver interface {
	Archive(ctx context.Context, doc model.Session, votes model.VoteCount, chat []model.ChatMessage, endedAt time.Time) error
}

// Controller is the Lifecycle Controller.
type Controller struct {
	repo      repo
	registry  registry
	publisher publish.Publisher
	archiver  Archiver
	log       *zap.Logger
	now       func() time.Time
}

// New constructs a Controller. now defaults to time.Now if nil, overridable
// for deterministic tests.
func New(repo repo, registry registry, publisher publish.Publisher, archiver Archiver, log *zap.Logger, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{repo: repo, registry: registry, publisher: publisher, archiver: archiver, log: log, now: now}
}

// Tick evaluates every registered session once: activate, then finalize.
// It is safe to call concurrently with Register/Unregister on the
// Registry because Snapshot returns a defensive copy.
func (c *Controller) Tick(ctx context.Context) {
	for _, id := range c.registry.Snapshot() {
		c.evaluate(ctx, id)
	}
}

func (c *Controller) evaluate(ctx context.Context, id string) {
	session, ok, err := c.repo.GetSession(ctx, id)
	if err != nil {
		c.log.Warn("lifecycle: get session failed, skipping this tick", zap.String("sessionId", id), zap.Error(err))
		return
	}
	if !ok {
		// Cache hash expired without going through ENDED; nothing left to
		// finalize. Reconcile will drop it from the Registry.
		return
	}

	now := c.now()

	if session.Status == model.StatusWaiting && !now.Before(session.RevealTime.Add(-activateWindow)) {
		if err := c.repo.SetStatus(ctx, id, model.StatusLive); err != nil {
			c.log.Warn("lifecycle: activate failed", zap.String("sessionId", id), zap.Error(err))
			return
		}
		session.Status = model.StatusLive
		c.log.Info("lifecycle: session activated", zap.String("sessionId", id))
	}

	if session.Status != model.StatusEnded && !now.Before(session.RevealTime) {
		c.finalize(ctx, id, session)
	}
}

// finalize is idempotent against concurrent ticks: the first successful
// SetStatus(ENDED) removes id from the active set and the Registry, so a
// later tick's GetSession will observe ENDED (or a missing session) and
// evaluate will not re-enter finalize.
//
// Nothing coordinates this read of the final counts with RecordVote: a vote
// admitted after GetVotes but before SetStatus(ENDED) is counted in the
// cache yet missing from the archive and the reveal frame.
func (c *Controller) finalize(ctx context.Context, id string, session model.Session) {
	votes, err := c.repo.GetVotes(ctx, id)
	if err != nil {
		c.log.Warn("lifecycle: get votes for finalize failed, retrying next tick", zap.String("sessionId", id), zap.Error(err))
		return
	}
	chat, err := c.repo.GetRecentChat(ctx, id, 500)
	if err != nil {
		c.log.Warn("lifecycle: get chat for finalize failed, retrying next tick", zap.String("sessionId", id), zap.Error(err))
		return
	}

	endedAt := c.now()
	if err := c.archiver.Archive(ctx, session, votes, chat, endedAt); err != nil {
		// ArchiveError: logged, not retried inline (§7, §9 open question).
		c.log.Error("lifecycle: archive write failed", zap.String("sessionId", id), zap.Error(err))
	}

	frame := model.RevealFrame{Type: "reveal", Gender: session.Gender, FinalVotes: votes}
	if err := c.publisher.Publish(ctx, fmt.Sprintf("votes/%s", id), frame); err != nil {
		c.log.Warn("lifecycle: publish reveal frame failed", zap.String("sessionId", id), zap.Error(err))
	}

	if err := c.repo.SetStatus(ctx, id, model.StatusEnded); err != nil {
		c.log.Warn("lifecycle: set ended failed", zap.String("sessionId", id), zap.Error(err))
		return
	}
	if err := c.repo.RemoveActive(ctx, id); err != nil {
		c.log.Warn("lifecycle: remove active failed", zap.String("sessionId", id), zap.Error(err))
	}
	c.repo.ApplyPostRevealTTL(ctx, id)
	c.registry.Unregister(id)
	c.log.Info("lifecycle: session ended", zap.String("sessionId", id))
}
