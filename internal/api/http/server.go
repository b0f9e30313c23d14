// Package http is the HTTP surface: reveal creation, session lookup and
// snapshot state, vote/chat submission, and an SSE stream backed by the
// Publisher Port's in-process hub. It binds the domain engines to gin,
// the teacher's declared (if previously unused) HTTP framework.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/revealcast/internal/archive"
	"github.com/lvdashuaibi/revealcast/internal/chatengine"
	"github.com/lvdashuaibi/revealcast/internal/model"
	"github.com/lvdashuaibi/revealcast/internal/publish/hub"
	"github.com/lvdashuaibi/revealcast/internal/registry"
	"github.com/lvdashuaibi/revealcast/internal/voteengine"
)

// sessionRepo is the subset of repository.Repository the HTTP layer reads
// and writes directly (creation and snapshot reads bypass the engines,
// which only guard the vote/chat write paths).
type sessionRepo interface {
	SaveSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, id string) (model.Session, bool, error)
	InitVotes(ctx context.Context, id string) error
	GetVotes(ctx context.Context, id string) (model.VoteCount, error)
	HasVoted(ctx context.Context, id, voterID string) (bool, error)
	GetRecentChat(ctx context.Context, id string, n int) ([]model.ChatMessage, error)
	GetRecentVotes(ctx context.Context, id string, n int) ([]model.VoteRecord, error)
}

// archiveReader answers session lookups once the cache TTL has expired.
type archiveReader interface {
	Get(ctx context.Context, sessionID string) (archive.Document, bool, error)
}

// Server bundles the domain collaborators behind the HTTP surface.
type Server struct {
	repo     sessionRepo
	archive  archiveReader
	registry *registry.Registry
	votes    *voteengine.Engine
	chat     *chatengine.Engine
	hub      *hub.Hub
	log      *zap.Logger
	baseURL  string
	origins  []string
}

// Config bundles Server construction parameters.
type Config struct {
	Repo           sessionRepo
	Archive        archiveReader
	Registry       *registry.Registry
	Votes          *voteengine.Engine
	Chat           *chatengine.Engine
	Hub            *hub.Hub
	Log            *zap.Logger
	BaseURL        string
	AllowedOrigins []string
}

// NewServer builds a Server from Config.
func NewServer(cfg Config) *Server {
	return &Server{
		repo:     cfg.Repo,
		archive:  cfg.Archive,
		registry: cfg.Registry,
		votes:    cfg.Votes,
		chat:     cfg.Chat,
		hub:      cfg.Hub,
		log:      cfg.Log,
		baseURL:  cfg.BaseURL,
		origins:  cfg.AllowedOrigins,
	}
}

// Router builds the gin engine with every route wired.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.corsMiddleware())

	api := r.Group("/api")
	api.POST("/reveals", s.createReveal)
	api.GET("/reveals/:sessionId", s.getReveal)
	api.GET("/session/:sessionId/state", s.getSessionState)
	api.POST("/session/:sessionId/vote", s.postVote)
	api.POST("/session/:sessionId/chat", s.postChat)
	api.GET("/session/:sessionId/stream", s.streamSession)
	return r
}

// corsMiddleware honors the §6 allowedOrigins list. An empty list means
// same-origin only; "*" opts into every origin (setAllowedOrigins
// semantics, not the pattern-matching variant, per the §9 decision
// recorded in DESIGN.md).
func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowAll := len(s.origins) == 1 && s.origins[0] == "*"
	allowed := make(map[string]struct{}, len(s.origins))
	for _, o := range s.origins {
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if allowAll {
				c.Header("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type createRevealRequest struct {
	OwnerID    string    `json:"ownerId" binding:"required"`
	Gender     string    `json:"gender" binding:"required"`
	RevealTime time.Time `json:"revealTime" binding:"required"`
}

// createReveal is the session-creation endpoint (§6). Gender is validated
// against the closed Choice enum and never echoed back before reveal.
func (s *Server) createReveal(c *gin.Context) {
	var req createRevealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	gender, ok := model.ParseChoice(req.Gender)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gender must be one of the two supported options"})
		return
	}
	if !req.RevealTime.After(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "revealTime must be in the future"})
		return
	}

	session := model.Session{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Gender:     gender,
		Status:     model.StatusWaiting,
		RevealTime: req.RevealTime,
		CreatedAt:  time.Now(),
	}

	ctx := c.Request.Context()
	if err := s.repo.SaveSession(ctx, session); err != nil {
		s.log.Warn("http: create reveal: save session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	if err := s.repo.InitVotes(ctx, session.ID); err != nil {
		s.log.Warn("http: create reveal: init votes failed", zap.Error(err))
	}
	s.registry.Register(session.ID)

	c.JSON(http.StatusCreated, gin.H{
		"sessionId":     session.ID,
		"status":        session.Status,
		"revealTime":    session.RevealTime,
		"createdAt":     session.CreatedAt,
		"shareableLink": s.baseURL + "/reveal/" + session.ID,
		"gender":        nil,
	})
}

// getReveal returns the session summary, falling back to the archive once
// the cache entry has expired past its post-reveal TTL.
func (s *Server) getReveal(c *gin.Context) {
	id := c.Param("sessionId")
	ctx := c.Request.Context()

	session, ok, err := s.repo.GetSession(ctx, id)
	if err != nil {
		s.log.Warn("http: get reveal failed", zap.String("sessionId", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if ok {
		body := gin.H{
			"sessionId":  session.ID,
			"status":     session.Status,
			"revealTime": session.RevealTime,
			"createdAt":  session.CreatedAt,
		}
		if session.Status == model.StatusEnded {
			body["gender"] = session.Gender
		}
		c.JSON(http.StatusOK, body)
		return
	}

	if s.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	doc, found, err := s.archive.Get(ctx, id)
	if err != nil {
		s.log.Warn("http: archive lookup failed", zap.String("sessionId", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":  doc.Session.ID,
		"status":     doc.Session.Status,
		"gender":     doc.Session.Gender,
		"revealTime": doc.Session.RevealTime,
		"createdAt":  doc.Session.CreatedAt,
		"finalVotes": doc.Votes,
	})
}

// getSessionState answers a reconnect snapshot: current status,
// aggregate votes (never gender pre-reveal), whether visitorId has
// already voted, and recent chat/vote history for hydration.
func (s *Server) getSessionState(c *gin.Context) {
	id := c.Param("sessionId")
	visitorID := c.Query("visitorId")
	ctx := c.Request.Context()

	session, ok, err := s.repo.GetSession(ctx, id)
	if err != nil {
		s.log.Warn("http: get session state failed", zap.String("sessionId", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	votes, err := s.repo.GetVotes(ctx, id)
	if err != nil {
		s.log.Warn("http: get votes failed", zap.String("sessionId", id), zap.Error(err))
	}
	chat, err := s.repo.GetRecentChat(ctx, id, 50)
	if err != nil {
		s.log.Warn("http: get recent chat failed", zap.String("sessionId", id), zap.Error(err))
	}
	recentVotes, err := s.repo.GetRecentVotes(ctx, id, 50)
	if err != nil {
		s.log.Warn("http: get recent votes failed", zap.String("sessionId", id), zap.Error(err))
	}

	hasVoted := false
	if visitorID != "" {
		hasVoted, _ = s.repo.HasVoted(ctx, id, visitorID)
	}

	var revealedGender interface{}
	if session.Status == model.StatusEnded {
		revealedGender = session.Gender
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":      session.ID,
		"status":         session.Status,
		"revealTime":     session.RevealTime,
		"votes":          votes,
		"hasVoted":       hasVoted,
		"recentMessages": chat,
		"recentVotes":    recentVotes,
		"revealedGender": revealedGender,
	})
}

type voteRequest struct {
	VoterID string `json:"visitorId" binding:"required"`
	Option  string `json:"option" binding:"required"`
	Name    string `json:"name"`
}

func (s *Server) postVote(c *gin.Context) {
	id := c.Param("sessionId")
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	choice, ok := model.ParseChoice(req.Option)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "option must be one of the two supported options"})
		return
	}

	outcome := s.votes.CastVote(c.Request.Context(), voteengine.Request{
		SessionID: id,
		VoterID:   req.VoterID,
		Choice:    choice,
		Name:      req.Name,
	})

	switch outcome {
	case voteengine.OK:
		c.JSON(http.StatusAccepted, gin.H{"outcome": outcome})
	case voteengine.RateLimited:
		c.JSON(http.StatusTooManyRequests, gin.H{"outcome": outcome})
	case voteengine.NotFound:
		c.JSON(http.StatusNotFound, gin.H{"outcome": outcome})
	case voteengine.Ended, voteengine.AlreadyVoted:
		c.JSON(http.StatusConflict, gin.H{"outcome": outcome})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"outcome": outcome})
	}
}

type chatRequest struct {
	VoterID string `json:"visitorId" binding:"required"`
	Name    string `json:"name"`
	Message string `json:"message" binding:"required"`
}

func (s *Server) postChat(c *gin.Context) {
	id := c.Param("sessionId")
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	accepted := s.chat.SendMessage(c.Request.Context(), chatengine.Request{
		SessionID: id,
		VoterID:   req.VoterID,
		Name:      req.Name,
		Body:      req.Message,
	})
	if !accepted {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "message rejected"})
		return
	}
	c.Status(http.StatusAccepted)
}
