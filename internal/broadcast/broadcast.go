// Package broadcast implements the periodic, dirty-flag-gated emission of
// aggregate vote counts per active session (component I).
package broadcast

import (
	"context"
	"fmt"

	"github.com/lvdashuaibi/revealcast/internal/model"
	"github.com/lvdashuaibi/revealcast/internal/publish"
	"go.uber.org/zap"
)

type repo interface {
	TestAndClearDirty(ctx context.Context, id string) (bool, error)
	GetVotes(ctx context.Context, id string) (model.VoteCount, error)
}

type registry interface {
	IsEmpty() bool
	Snapshot() []string
}

// Scheduler is the Broadcast Scheduler.
type Scheduler struct {
	repo      repo
	registry  registry
	publisher publish.Publisher
	log       *zap.Logger
}

// New constructs a Scheduler.
func New(repo repo, registry registry, publisher publish.Publisher, log *zap.Logger) *Scheduler {
	return &Scheduler{repo: repo, registry: registry, publisher: publisher, log: log}
}

// Tick performs one broadcast pass. If the Registry is empty it returns
// immediately without touching the cache store, satisfying the "zero
// commands when idle" property (§8, S5).
func (s *Scheduler) Tick(ctx context.Context) {
	if s.registry.IsEmpty() {
		return
	}
	for _, id := range s.registry.Snapshot() {
		s.emitIfDirty(ctx, id)
	}
}

func (s *Scheduler) emitIfDirty(ctx context.Context, id string) {
	dirty, err := s.repo.TestAndClearDirty(ctx, id)
	if err != nil {
		s.log.Warn("broadcast: test-and-clear dirty failed, will retry next tick", zap.String("sessionId", id), zap.Error(err))
		return
	}
	if !dirty {
		return
	}

	votes, err := s.repo.GetVotes(ctx, id)
	if err != nil {
		s.log.Warn("broadcast: get votes failed", zap.String("sessionId", id), zap.Error(err))
		return
	}

	frame := model.AggregateFrame{Boy: votes.Boy, Girl: votes.Girl}
	if err := s.publisher.Publish(ctx, fmt.Sprintf("votes/%s", id), frame); err != nil {
		s.log.Warn("broadcast: publish failed", zap.String("sessionId", id), zap.Error(err))
	}
}
