package voteengine

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/revealcast/internal/model"
)

type stubLimiter struct {
	admit bool
	err   error
}

func (l *stubLimiter) Admit(ctx context.Context, voterID string) (bool, error) {
	return l.admit, l.err
}

type stubRepo struct {
	mu        sync.Mutex
	session   model.Session
	found     bool
	voted     map[string]bool
	lastNames map[string]string
}

func (r *stubRepo) GetSession(ctx context.Context, id string) (model.Session, bool, error) {
	return r.session, r.found, nil
}

func (r *stubRepo) RecordVote(ctx context.Context, id, voterID string, choice model.Choice, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.voted == nil {
		r.voted = make(map[string]bool)
	}
	if r.lastNames == nil {
		r.lastNames = make(map[string]string)
	}
	r.lastNames[voterID] = name
	if r.voted[voterID] {
		return false, nil
	}
	r.voted[voterID] = true
	return true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func TestCastVoteOK(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	pub := &recordingPublisher{}
	e := New(repo, &stubLimiter{admit: true}, pub, zap.NewNop())

	outcome := e.CastVote(context.Background(), Request{SessionID: "s1", VoterID: "v1", Choice: model.ChoiceA})
	if outcome != OK {
		t.Fatalf("got %v, want OK", outcome)
	}
	if len(pub.topics) != 2 {
		t.Fatalf("got %d published events, want 2 (vote-events + vote-response)", len(pub.topics))
	}
}

func TestCastVoteRateLimited(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	e := New(repo, &stubLimiter{admit: false}, &recordingPublisher{}, zap.NewNop())

	outcome := e.CastVote(context.Background(), Request{SessionID: "s1", VoterID: "v1", Choice: model.ChoiceA})
	if outcome != RateLimited {
		t.Fatalf("got %v, want RateLimited", outcome)
	}
}

func TestCastVoteNotFound(t *testing.T) {
	repo := &stubRepo{found: false}
	e := New(repo, &stubLimiter{admit: true}, &recordingPublisher{}, zap.NewNop())

	outcome := e.CastVote(context.Background(), Request{SessionID: "missing", VoterID: "v1", Choice: model.ChoiceA})
	if outcome != NotFound {
		t.Fatalf("got %v, want NotFound", outcome)
	}
}

func TestCastVoteEnded(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusEnded}, found: true}
	e := New(repo, &stubLimiter{admit: true}, &recordingPublisher{}, zap.NewNop())

	outcome := e.CastVote(context.Background(), Request{SessionID: "s1", VoterID: "v1", Choice: model.ChoiceA})
	if outcome != Ended {
		t.Fatalf("got %v, want Ended", outcome)
	}
}

func TestCastVoteAlreadyVoted(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	e := New(repo, &stubLimiter{admit: true}, &recordingPublisher{}, zap.NewNop())
	ctx := context.Background()

	e.CastVote(ctx, Request{SessionID: "s1", VoterID: "v1", Choice: model.ChoiceA})
	outcome := e.CastVote(ctx, Request{SessionID: "s1", VoterID: "v1", Choice: model.ChoiceB})
	if outcome != AlreadyVoted {
		t.Fatalf("got %v, want AlreadyVoted", outcome)
	}
}

func TestCastVoteEmptyNameDefaultsToGuest(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	e := New(repo, &stubLimiter{admit: true}, &recordingPublisher{}, zap.NewNop())

	outcome := e.CastVote(context.Background(), Request{SessionID: "s1", VoterID: "v1", Choice: model.ChoiceA, Name: ""})
	if outcome != OK {
		t.Fatalf("got %v, want OK", outcome)
	}
	if got := repo.lastNames["v1"]; got != defaultName {
		t.Fatalf("got name %q, want %q", got, defaultName)
	}
}

func TestCastVoteWhitespaceNameDefaultsToGuest(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	e := New(repo, &stubLimiter{admit: true}, &recordingPublisher{}, zap.NewNop())

	outcome := e.CastVote(context.Background(), Request{SessionID: "s1", VoterID: "v1", Choice: model.ChoiceA, Name: "   "})
	if outcome != OK {
		t.Fatalf("got %v, want OK", outcome)
	}
	if got := repo.lastNames["v1"]; got != defaultName {
		t.Fatalf("got name %q, want %q", got, defaultName)
	}
}

func TestCastVoteConcurrentSameVoterExactlyOneOK(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	e := New(repo, &stubLimiter{admit: true}, &recordingPublisher{}, zap.NewNop())

	const n = 20
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			outcomes[i] = e.CastVote(context.Background(), Request{SessionID: "s1", VoterID: "v1", Choice: model.ChoiceA})
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, o := range outcomes {
		if o == OK {
			okCount++
		}
	}
	if okCount != 1 {
		t.Fatalf("got %d OK outcomes, want exactly 1", okCount)
	}
}
