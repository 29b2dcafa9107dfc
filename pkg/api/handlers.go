package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"songforge/pkg/auth"
	"songforge/pkg/data"
	"songforge/pkg/session"
)

type createSessionRequest struct {
	Title    string               `json:"title"`
	Settings data.SessionSettings `json:"settings"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "BadRequest"})
		return
	}

	created, err := s.core.Sessions.CreateSession(r.Context(), identity.UserID, req.Title, req.Settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.core.Sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type advanceResponse struct {
	Stage data.Stage `json:"stage"`
}

func (s *Server) handleAdvanceStage(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.requireHost(r, sessionID, identity, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	stage, err := s.core.Sessions.Advance(r.Context(), sessionID, session.TriggerHost)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, advanceResponse{Stage: stage})
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.requireHost(r, sessionID, identity, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	stage, err := s.core.Sessions.Cancel(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, advanceResponse{Stage: stage})
}

func (s *Server) handleGetRanking(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.core.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	kind := data.KindLyrics
	if sess.Stage == data.StageSongVoting || sess.Stage == data.StageCompleted {
		if r.URL.Query().Get("kind") == string(data.KindSong) {
			kind = data.KindSong
		}
	}

	ranked, err := s.core.Submissions.Rank(r.Context(), sessionID, kind, sess.Settings.VotingSystem)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

type submitEntryRequest struct {
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Sections  []data.Section `json:"sections,omitempty"`
	Anonymous bool           `json:"anonymous"`
}

func (s *Server) handleSubmitEntry(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	var req submitEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "BadRequest"})
		return
	}

	sub, err := s.core.Submissions.SubmitEntry(r.Context(), session.EntryRequest{
		SessionID: chi.URLParam(r, "sessionID"),
		AuthorID:  identity.UserID,
		Title:     req.Title,
		Body:      req.Body,
		Sections:  req.Sections,
		Anonymous: req.Anonymous,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	kind := data.SubmissionKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = data.KindLyrics
	}

	subs, err := s.core.Submissions.List(r.Context(), chi.URLParam(r, "sessionID"), kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

type songEntryRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Server) handleAddSongEntry(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.requireHost(r, sessionID, identity, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req songEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "BadRequest"})
		return
	}

	sub, err := s.core.Submissions.AddSongEntry(r.Context(), sessionID, req.Title, req.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type castVoteRequest struct {
	Value int `json:"value"`
}

type voteResponse struct {
	Votes             int       `json:"votes"`
	WeightedVoteScore float64   `json:"weighted_vote_score"`
	CastAt            time.Time `json:"cast_at"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	var req castVoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "BadRequest"})
		return
	}

	tally, err := s.core.Votes.CastVote(r.Context(),
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "submissionID"),
		identity.UserID, req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, voteResponse{
		Votes:             tally.Votes,
		WeightedVoteScore: tally.WeightedVoteScore,
		CastAt:            time.Now().UTC(),
	})
}

func (s *Server) handleRemoveVote(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	tally, err := s.core.Votes.RemoveVote(r.Context(),
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "submissionID"),
		identity.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, voteResponse{
		Votes:             tally.Votes,
		WeightedVoteScore: tally.WeightedVoteScore,
		CastAt:            time.Now().UTC(),
	})
}

type moderateRequest struct {
	Status data.SubmissionStatus `json:"status"`
}

func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	if !identity.Moderator() {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "moderator role required", Kind: "Forbidden"})
		return
	}

	var req moderateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "BadRequest"})
		return
	}

	if err := s.core.Submissions.Moderate(r.Context(), chi.URLParam(r, "submissionID"), req.Status); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	profile, err := s.reputation.Profile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// requireHost verifies the caller hosts the session, optionally accepting
// moderators as well.
func (s *Server) requireHost(r *http.Request, sessionID string, identity auth.Identity, allowModerator bool) error {
	if allowModerator && identity.Moderator() {
		return nil
	}

	sess, err := s.core.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		return err
	}
	if sess.HostID != identity.UserID {
		return fmt.Errorf("%w: only the session host may do this", data.ErrPreconditionNotMet)
	}
	return nil
}
