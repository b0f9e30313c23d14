// Package repository is the concrete encoding of session, vote, chat,
// dirty-flag, voter-set, and active-session records in the cache store
// (component D). Every write here refreshes the session TTL.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lvdashuaibi/revealcast/internal/cachestore"
	"github.com/lvdashuaibi/revealcast/internal/model"
	"go.uber.org/zap"
)

const (
	maxVoteRecords  = 100
	maxChatMessages = 500
	dirtyValue      = "1"
)

func sessionKey(id string) string     { return "session:" + id }
func votesKey(id string) string       { return "votes:" + id }
func votersKey(id string) string      { return "voters:" + id }
func voteRecordsKey(id string) string { return "voterecords:" + id }
func chatKey(id string) string        { return "chat:" + id }
func dirtyKey(id string) string       { return "dirty:" + id }

const activeSessionsKey = "active_sessions"

// Repository is the Session Repository (§4.D).
type Repository struct {
	store         cachestore.Store
	log           *zap.Logger
	sessionTTL    time.Duration
	postRevealTTL time.Duration
}

// New constructs a Repository. sessionTTL and postRevealTTL implement the
// §6 defaults (24h / 1h) but are configurable.
func New(store cachestore.Store, log *zap.Logger, sessionTTL, postRevealTTL time.Duration) *Repository {
	return &Repository{
		store:         store,
		log:           log,
		sessionTTL:    sessionTTL,
		postRevealTTL: postRevealTTL,
	}
}

// SaveSession writes the session hash and adds the id to the active set.
func (r *Repository) SaveSession(ctx context.Context, s model.Session) error {
	fields := map[string]string{
		"sessionId":  s.ID,
		"ownerId":    s.OwnerID,
		"gender":     string(s.Gender),
		"status":     string(s.Status),
		"revealTime": s.RevealTime.Format(time.RFC3339Nano),
		"createdAt":  s.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := r.store.HSetAll(ctx, sessionKey(s.ID), fields); err != nil {
		return fmt.Errorf("repository: save session: %w", err)
	}
	if err := r.store.Expire(ctx, sessionKey(s.ID), r.sessionTTL); err != nil {
		return fmt.Errorf("repository: expire session: %w", err)
	}
	if _, err := r.store.SAdd(ctx, activeSessionsKey, s.ID); err != nil {
		return fmt.Errorf("repository: register active session: %w", err)
	}
	return nil
}

// GetSession returns the session, or ok=false if it does not exist (or
// has expired).
func (r *Repository) GetSession(ctx context.Context, id string) (model.Session, bool, error) {
	data, err := r.store.HGetAll(ctx, sessionKey(id))
	if err != nil {
		return model.Session{}, false, fmt.Errorf("repository: get session: %w", err)
	}
	if len(data) == 0 {
		return model.Session{}, false, nil
	}
	s, err := decodeSession(data)
	if err != nil {
		r.log.Warn("repository: skipping corrupt session record", zap.String("sessionId", id), zap.Error(err))
		return model.Session{}, false, nil
	}
	return s, true, nil
}

func decodeSession(data map[string]string) (model.Session, error) {
	revealTime, err := time.Parse(time.RFC3339Nano, data["revealTime"])
	if err != nil {
		return model.Session{}, fmt.Errorf("parse revealTime: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, data["createdAt"])
	if err != nil {
		return model.Session{}, fmt.Errorf("parse createdAt: %w", err)
	}
	return model.Session{
		ID:         data["sessionId"],
		OwnerID:    data["ownerId"],
		Gender:     model.Choice(data["gender"]),
		Status:     model.Status(data["status"]),
		RevealTime: revealTime,
		CreatedAt:  createdAt,
	}, nil
}

// SetStatus mutates the session status. Called only by the Lifecycle
// Controller.
func (r *Repository) SetStatus(ctx context.Context, id string, status model.Status) error {
	if err := r.store.HSetAll(ctx, sessionKey(id), map[string]string{"status": string(status)}); err != nil {
		return fmt.Errorf("repository: set status: %w", err)
	}
	if err := r.store.Expire(ctx, sessionKey(id), r.sessionTTL); err != nil {
		return fmt.Errorf("repository: set status: refresh ttl: %w", err)
	}
	return nil
}

// SessionExists is a cheap existence check without decoding the hash.
func (r *Repository) SessionExists(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.Exists(ctx, sessionKey(id))
	if err != nil {
		return false, fmt.Errorf("repository: session exists: %w", err)
	}
	return ok, nil
}

// InitVotes zeroes the vote counters for a new session.
func (r *Repository) InitVotes(ctx context.Context, id string) error {
	if err := r.store.HSetAll(ctx, votesKey(id), map[string]string{"boy": "0", "girl": "0"}); err != nil {
		return fmt.Errorf("repository: init votes: %w", err)
	}
	return r.store.Expire(ctx, votesKey(id), r.sessionTTL)
}

// RecordVote is the atomic vote-admission primitive (§4.D). The SAdd
// return value is the sole dedup check: no separate check-then-act. On a
// new voter it increments the chosen counter, marks the session dirty,
// appends a bounded VoteRecord, and refreshes TTLs. Returns false without
// side effects if the voter has already voted.
func (r *Repository) RecordVote(ctx context.Context, id, voterID string, choice model.Choice, name string) (bool, error) {
	added, err := r.store.SAdd(ctx, votersKey(id), voterID)
	if err != nil {
		return false, fmt.Errorf("repository: record vote dedup: %w", err)
	}
	if !added {
		return false, nil
	}

	field := "girl"
	if choice == model.ChoiceA {
		field = "boy"
	}
	if _, err := r.store.HIncrBy(ctx, votesKey(id), field, 1); err != nil {
		return true, fmt.Errorf("repository: increment vote count: %w", err)
	}

	if err := r.MarkDirty(ctx, id); err != nil {
		r.log.Warn("repository: failed to mark session dirty", zap.String("sessionId", id), zap.Error(err))
	}

	rec := model.VoteRecord{VoterID: voterID, Name: name, Option: choice, Timestamp: time.Now()}
	if err := r.appendBounded(ctx, voteRecordsKey(id), rec, maxVoteRecords); err != nil {
		r.log.Warn("repository: failed to append vote record", zap.String("sessionId", id), zap.Error(err))
	}

	r.refreshTTLs(ctx, id)
	return true, nil
}

// HasVoted reports whether voterID is already present in the VoterSet.
func (r *Repository) HasVoted(ctx context.Context, id, voterID string) (bool, error) {
	ok, err := r.store.SIsMember(ctx, votersKey(id), voterID)
	if err != nil {
		return false, fmt.Errorf("repository: has voted: %w", err)
	}
	return ok, nil
}

// GetVotes returns the current aggregate counts.
func (r *Repository) GetVotes(ctx context.Context, id string) (model.VoteCount, error) {
	data, err := r.store.HGetAll(ctx, votesKey(id))
	if err != nil {
		return model.VoteCount{}, fmt.Errorf("repository: get votes: %w", err)
	}
	boy, _ := strconv.ParseInt(data["boy"], 10, 64)
	girl, _ := strconv.ParseInt(data["girl"], 10, 64)
	return model.VoteCount{Boy: boy, Girl: girl}, nil
}

// AppendChat left-pushes a sanitized chat message and trims to
// maxChatMessages.
func (r *Repository) AppendChat(ctx context.Context, id string, msg model.ChatMessage) error {
	if err := r.appendBounded(ctx, chatKey(id), msg, maxChatMessages); err != nil {
		return fmt.Errorf("repository: append chat: %w", err)
	}
	r.refreshTTLs(ctx, id)
	return nil
}

func (r *Repository) appendBounded(ctx context.Context, key string, v interface{}, max int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := r.store.LPush(ctx, key, string(data)); err != nil {
		return err
	}
	if err := r.store.LTrim(ctx, key, 0, int64(max)-1); err != nil {
		return err
	}
	return r.store.Expire(ctx, key, r.sessionTTL)
}

// GetRecentChat returns up to n messages, oldest-first. Storage is
// most-recent-at-head, so the raw range is reversed. Records that fail to
// decode are skipped (SerializationError, §7), not fatal.
func (r *Repository) GetRecentChat(ctx context.Context, id string, n int) ([]model.ChatMessage, error) {
	raw, err := r.store.LRange(ctx, chatKey(id), 0, int64(n)-1)
	if err != nil {
		return nil, fmt.Errorf("repository: get recent chat: %w", err)
	}
	out := make([]model.ChatMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m model.ChatMessage
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			r.log.Warn("repository: skipping corrupt chat record", zap.String("sessionId", id), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// GetRecentVotes returns up to n vote records, oldest-first.
func (r *Repository) GetRecentVotes(ctx context.Context, id string, n int) ([]model.VoteRecord, error) {
	raw, err := r.store.LRange(ctx, voteRecordsKey(id), 0, int64(n)-1)
	if err != nil {
		return nil, fmt.Errorf("repository: get recent votes: %w", err)
	}
	out := make([]model.VoteRecord, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var rec model.VoteRecord
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			r.log.Warn("repository: skipping corrupt vote record", zap.String("sessionId", id), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// TestAndClearDirty atomically reads and clears the dirty flag.
func (r *Repository) TestAndClearDirty(ctx context.Context, id string) (bool, error) {
	_, ok, err := r.store.GetDel(ctx, dirtyKey(id))
	if err != nil {
		return false, fmt.Errorf("repository: test and clear dirty: %w", err)
	}
	return ok, nil
}

// MarkDirty sets the dirty flag with the session TTL.
func (r *Repository) MarkDirty(ctx context.Context, id string) error {
	if err := r.store.SetTTL(ctx, dirtyKey(id), dirtyValue, r.sessionTTL); err != nil {
		return fmt.Errorf("repository: mark dirty: %w", err)
	}
	return nil
}

// ActiveSessions returns the full active-session set from the cache
// store. Only the Registry reconciler should call this.
func (r *Repository) ActiveSessions(ctx context.Context) ([]string, error) {
	ids, err := r.store.SMembers(ctx, activeSessionsKey)
	if err != nil {
		return nil, fmt.Errorf("repository: active sessions: %w", err)
	}
	return ids, nil
}

// RemoveActive removes id from the active-session set.
func (r *Repository) RemoveActive(ctx context.Context, id string) error {
	if err := r.store.SRem(ctx, activeSessionsKey, id); err != nil {
		return fmt.Errorf("repository: remove active: %w", err)
	}
	return nil
}

// ApplyPostRevealTTL re-expires all per-session keys to the shorter
// post-reveal retention window.
func (r *Repository) ApplyPostRevealTTL(ctx context.Context, id string) {
	keys := []string{sessionKey(id), votesKey(id), votersKey(id), voteRecordsKey(id), chatKey(id), dirtyKey(id)}
	for _, k := range keys {
		if err := r.store.Expire(ctx, k, r.postRevealTTL); err != nil {
			r.log.Warn("repository: failed to apply post-reveal ttl", zap.String("key", k), zap.Error(err))
		}
	}
}

func (r *Repository) refreshTTLs(ctx context.Context, id string) {
	keys := []string{sessionKey(id), votesKey(id), votersKey(id), voteRecordsKey(id)}
	for _, k := range keys {
		if err := r.store.Expire(ctx, k, r.sessionTTL); err != nil {
			r.log.Warn("repository: failed to refresh ttl", zap.String("key", k), zap.Error(err))
		}
	}
}
