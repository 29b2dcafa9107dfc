package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"songforge/pkg/auth"
	"songforge/pkg/data"
	"songforge/pkg/reputation"
	"songforge/pkg/session"
)

// Server exposes the core operations over HTTP. It is a thin layer: all
// validation and consistency lives in the engines; this layer maps identities
// in and error kinds out.
type Server struct {
	core       *session.Core
	reputation *reputation.Engine
	verifier   *auth.Verifier
	logger     *zap.Logger
}

// NewServer creates the HTTP surface.
func NewServer(core *session.Core, rep *reputation.Engine, verifier *auth.Verifier, logger *zap.Logger) *Server {
	return &Server{
		core:       core,
		reputation: rep,
		verifier:   verifier,
		logger:     logger,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Post("/sessions/{sessionID}/advance", s.handleAdvanceStage)
		r.Post("/sessions/{sessionID}/cancel", s.handleCancelSession)
		r.Get("/sessions/{sessionID}/ranking", s.handleGetRanking)

		r.Post("/sessions/{sessionID}/submissions", s.handleSubmitEntry)
		r.Get("/sessions/{sessionID}/submissions", s.handleListSubmissions)
		r.Post("/sessions/{sessionID}/songs", s.handleAddSongEntry)
		r.Post("/sessions/{sessionID}/submissions/{submissionID}/votes", s.handleCastVote)
		r.Delete("/sessions/{sessionID}/submissions/{submissionID}/votes", s.handleRemoveVote)
		r.Post("/submissions/{submissionID}/moderate", s.handleModerate)

		r.Get("/users/{userID}/reputation", s.handleGetReputation)
	})

	return r
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps an error kind onto a status code and an actionable
// message. No kind should ever require a stack trace to understand.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, status := classify(err)

	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func classify(err error) (kind string, status int) {
	switch {
	case errors.Is(err, data.ErrInvalidTransition):
		return "InvalidTransition", http.StatusConflict
	case errors.Is(err, data.ErrPreconditionNotMet):
		return "PreconditionNotMet", http.StatusConflict
	case errors.Is(err, data.ErrAlreadyTerminal):
		return "AlreadyTerminal", http.StatusConflict
	case errors.Is(err, data.ErrVotingClosed):
		return "VotingClosed", http.StatusConflict
	case errors.Is(err, data.ErrSelfVoteForbidden):
		return "SelfVoteForbidden", http.StatusForbidden
	case errors.Is(err, data.ErrDuplicateVote):
		return "DuplicateVote", http.StatusConflict
	case errors.Is(err, data.ErrInvalidVoteValue):
		return "InvalidVoteValue", http.StatusBadRequest
	case errors.Is(err, data.ErrVoteNotFound):
		return "VoteNotFound", http.StatusNotFound
	case errors.Is(err, data.ErrSubmissionLimitExceeded):
		return "SubmissionLimitExceeded", http.StatusConflict
	case errors.Is(err, data.ErrAnonymousNotAllowed):
		return "AnonymousNotAllowed", http.StatusForbidden
	case errors.Is(err, data.ErrNotFound):
		return "NotFound", http.StatusNotFound
	case errors.Is(err, data.ErrDuplicate):
		return "Duplicate", http.StatusConflict
	case errors.Is(err, data.ErrUnavailable):
		return "Unavailable", http.StatusServiceUnavailable
	default:
		return "Internal", http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, into interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}
