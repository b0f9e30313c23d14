package chatengine

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/revealcast/internal/model"
)

type stubLimiter struct{ admit bool }

func (l *stubLimiter) Admit(ctx context.Context, voterID string) (bool, error) {
	return l.admit, nil
}

type stubRepo struct {
	session  model.Session
	found    bool
	appended []model.ChatMessage
}

func (r *stubRepo) GetSession(ctx context.Context, id string) (model.Session, bool, error) {
	return r.session, r.found, nil
}

func (r *stubRepo) AppendChat(ctx context.Context, id string, msg model.ChatMessage) error {
	r.appended = append(r.appended, msg)
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, topic string, payload interface{}) error { return nil }

func TestSendMessageAccepted(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	e := New(repo, &stubLimiter{admit: true}, nopPublisher{}, zap.NewNop(), 50, 280)

	ok := e.SendMessage(context.Background(), Request{SessionID: "s1", VoterID: "v1", Name: "Ann", Body: "hello"})
	if !ok {
		t.Fatal("expected message to be accepted")
	}
	if len(repo.appended) != 1 || repo.appended[0].Message != "hello" {
		t.Fatalf("got %+v", repo.appended)
	}
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	e := New(repo, &stubLimiter{admit: true}, nopPublisher{}, zap.NewNop(), 50, 280)

	ok := e.SendMessage(context.Background(), Request{SessionID: "s1", VoterID: "v1", Body: "   "})
	if ok {
		t.Fatal("expected whitespace-only body to be rejected")
	}
}

func TestSendMessageRejectsRateLimited(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	e := New(repo, &stubLimiter{admit: false}, nopPublisher{}, zap.NewNop(), 50, 280)

	if e.SendMessage(context.Background(), Request{SessionID: "s1", VoterID: "v1", Body: "hi"}) {
		t.Fatal("expected rate-limited send to be rejected")
	}
}

func TestSendMessageRejectsEndedSession(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusEnded}, found: true}
	e := New(repo, &stubLimiter{admit: true}, nopPublisher{}, zap.NewNop(), 50, 280)

	if e.SendMessage(context.Background(), Request{SessionID: "s1", VoterID: "v1", Body: "hi"}) {
		t.Fatal("expected send to an ended session to be rejected")
	}
}

func TestSendMessageEscapesHTML(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	e := New(repo, &stubLimiter{admit: true}, nopPublisher{}, zap.NewNop(), 50, 280)

	e.SendMessage(context.Background(), Request{SessionID: "s1", VoterID: "v1", Body: "<script>alert(1)</script>"})
	if len(repo.appended) != 1 {
		t.Fatalf("expected one appended message, got %d", len(repo.appended))
	}
	if strings.Contains(repo.appended[0].Message, "<script>") {
		t.Fatalf("expected escaped output, got %q", repo.appended[0].Message)
	}
}

func TestSendMessageTruncatesLongBody(t *testing.T) {
	repo := &stubRepo{session: model.Session{ID: "s1", Status: model.StatusLive}, found: true}
	e := New(repo, &stubLimiter{admit: true}, nopPublisher{}, zap.NewNop(), 50, 5)

	e.SendMessage(context.Background(), Request{SessionID: "s1", VoterID: "v1", Body: "this is far too long"})
	if len(repo.appended) != 1 {
		t.Fatalf("expected one appended message, got %d", len(repo.appended))
	}
	if len([]rune(repo.appended[0].Message)) != 5 {
		t.Fatalf("got %q, want length 5", repo.appended[0].Message)
	}
}
