package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/matching"
	"github.com/heartline/server/internal/profile"
)

type matchesResponse struct {
	Matches []matching.Candidate `json:"matches"`
	Count   int                  `json:"count"`
}

// handleMatches searches with the caller's stored preferences.
func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	raw, err := s.Users.PreferencesFor(r.Context(), userIDFrom(r.Context()))
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		s.logger.Error("load preferences", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	s.findMatches(w, r, raw)
}

// handleMatchSearch searches with preferences from the request body without
// storing them.
func (s *Server) handleMatchSearch(w http.ResponseWriter, r *http.Request) {
	var raw matching.RawPreferences
	if err := decodeJSON(w, r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	s.findMatches(w, r, raw)
}

func (s *Server) findMatches(w http.ResponseWriter, r *http.Request, raw matching.RawPreferences) {
	prefs, err := matching.ParsePreferences(raw)
	if err != nil {
		field, reason, _ := validationFields(err)
		writeValidation(w, field, reason)
		return
	}

	uid := userIDFrom(r.Context())
	matches, err := s.Matches.Find(r.Context(), uid, prefs)
	if err != nil {
		// The remote matcher re-validates and can still reject.
		if field, reason, ok := validationFields(err); ok {
			writeValidation(w, field, reason)
			return
		}
		s.logger.Error("match search", zap.String("user_id", uid), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "match_unavailable")
		return
	}
	if matches == nil {
		matches = []matching.Candidate{}
	}
	writeJSON(w, http.StatusOK, matchesResponse{Matches: matches, Count: len(matches)})
}
