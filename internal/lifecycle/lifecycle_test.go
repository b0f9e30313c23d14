package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/revealcast/internal/model"
)

type stubRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	statuses map[string]int
	removed  map[string]bool
	votesErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{sessions: make(map[string]model.Session), statuses: make(map[string]int), removed: make(map[string]bool)}
}

func (r *stubRepo) GetSession(ctx context.Context, id string) (model.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok, nil
}

func (r *stubRepo) SetStatus(ctx context.Context, id string, status model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	s.Status = status
	r.sessions[id] = s
	r.statuses[id]++
	return nil
}

func (r *stubRepo) GetVotes(ctx context.Context, id string) (model.VoteCount, error) {
	if r.votesErr != nil {
		return model.VoteCount{}, r.votesErr
	}
	return model.VoteCount{Boy: 3, Girl: 5}, nil
}

func (r *stubRepo) GetRecentChat(ctx context.Context, id string, n int) ([]model.ChatMessage, error) {
	return nil, nil
}

func (r *stubRepo) RemoveActive(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed[id] = true
	return nil
}

func (r *stubRepo) ApplyPostRevealTTL(ctx context.Context, id string) {}

type stubRegistry struct {
	mu         sync.Mutex
	ids        map[string]struct{}
	unregister []string
}

func newStubRegistry(ids ...string) *stubRegistry {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &stubRegistry{ids: m}
}

func (r *stubRegistry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	return out
}

func (r *stubRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
	r.unregister = append(r.unregister, id)
}

type countingArchiver struct {
	mu    sync.Mutex
	calls int
}

func (a *countingArchiver) Archive(ctx context.Context, doc model.Session, votes model.VoteCount, chat []model.ChatMessage, endedAt time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return nil
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

func TestTickActivatesWithinWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	repo.sessions["s1"] = model.Session{ID: "s1", Status: model.StatusWaiting, RevealTime: now.Add(4 * time.Minute)}
	reg := newStubRegistry("s1")
	archiver := &countingArchiver{}
	pub := &recordingPublisher{}

	c := New(repo, reg, pub, archiver, zap.NewNop(), func() time.Time { return now })
	c.Tick(context.Background())

	got, _, _ := repo.GetSession(context.Background(), "s1")
	if got.Status != model.StatusLive {
		t.Fatalf("got status %v, want LIVE", got.Status)
	}
}

func TestTickFinalizesAtRevealTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	repo.sessions["s1"] = model.Session{ID: "s1", Status: model.StatusLive, RevealTime: now, Gender: model.ChoiceA}
	reg := newStubRegistry("s1")
	archiver := &countingArchiver{}
	pub := &recordingPublisher{}

	c := New(repo, reg, pub, archiver, zap.NewNop(), func() time.Time { return now })
	c.Tick(context.Background())

	got, _, _ := repo.GetSession(context.Background(), "s1")
	if got.Status != model.StatusEnded {
		t.Fatalf("got status %v, want ENDED", got.Status)
	}
	if archiver.calls != 1 {
		t.Fatalf("archive calls = %d, want 1", archiver.calls)
	}
	if !repo.removed["s1"] {
		t.Fatal("expected session removed from active set")
	}
	if len(reg.unregister) != 1 || reg.unregister[0] != "s1" {
		t.Fatalf("got unregister=%v, want [s1]", reg.unregister)
	}

	revealFrames := 0
	for _, topic := range pub.topics {
		if topic == "votes/s1" {
			revealFrames++
		}
	}
	if revealFrames != 1 {
		t.Fatalf("got %d reveal frames, want exactly 1", revealFrames)
	}
}

func TestTickIsIdempotentOnceEnded(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	repo.sessions["s1"] = model.Session{ID: "s1", Status: model.StatusLive, RevealTime: now}
	reg := newStubRegistry("s1")
	archiver := &countingArchiver{}
	pub := &recordingPublisher{}

	c := New(repo, reg, pub, archiver, zap.NewNop(), func() time.Time { return now })
	c.Tick(context.Background())
	// Session removed from registry; a second tick over the (now empty)
	// snapshot must not finalize it again.
	c.Tick(context.Background())

	if archiver.calls != 1 {
		t.Fatalf("archive calls = %d, want exactly 1", archiver.calls)
	}
}

func TestTickRetriesFinalizeAfterTransientVotesError(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	repo.sessions["s1"] = model.Session{ID: "s1", Status: model.StatusLive, RevealTime: now, Gender: model.ChoiceA}
	repo.votesErr = errors.New("transient store error")
	reg := newStubRegistry("s1")
	archiver := &countingArchiver{}
	pub := &recordingPublisher{}

	c := New(repo, reg, pub, archiver, zap.NewNop(), func() time.Time { return now })
	c.Tick(context.Background())

	if archiver.calls != 0 {
		t.Fatalf("archive calls = %d, want 0 while GetVotes fails", archiver.calls)
	}
	got, _, _ := repo.GetSession(context.Background(), "s1")
	if got.Status != model.StatusLive {
		t.Fatalf("got status %v, want session to remain LIVE for retry", got.Status)
	}
	if len(pub.topics) != 0 {
		t.Fatalf("got %d published frames, want 0 while GetVotes fails", len(pub.topics))
	}
	if len(reg.unregister) != 0 {
		t.Fatalf("got unregister=%v, want session to stay registered for retry", reg.unregister)
	}

	repo.votesErr = nil
	c.Tick(context.Background())

	if archiver.calls != 1 {
		t.Fatalf("archive calls = %d, want 1 after retry succeeds", archiver.calls)
	}
	got, _, _ = repo.GetSession(context.Background(), "s1")
	if got.Status != model.StatusEnded {
		t.Fatalf("got status %v, want ENDED after retry", got.Status)
	}
}

func TestTickSkipsUnknownSession(t *testing.T) {
	repo := newStubRepo()
	reg := newStubRegistry("ghost")
	archiver := &countingArchiver{}
	pub := &recordingPublisher{}

	c := New(repo, reg, pub, archiver, zap.NewNop(), nil)
	c.Tick(context.Background())

	if archiver.calls != 0 {
		t.Fatalf("archive calls = %d, want 0 for unknown session", archiver.calls)
	}
}
