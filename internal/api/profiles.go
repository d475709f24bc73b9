package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/matching"
	"github.com/heartline/server/internal/profile"
)

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.Users.ProfileByUserID(r.Context(), userIDFrom(r.Context()))
	if errors.Is(err, profile.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile_not_found")
		return
	}
	if err != nil {
		s.logger.Error("load profile", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var p profile.Profile
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	p.UserID = userIDFrom(r.Context())
	p.Normalize()
	if err := profile.ValidateProfile(p); err != nil {
		field, reason, _ := validationFields(err)
		writeValidation(w, field, reason)
		return
	}
	if s.Filter != nil {
		screened := []struct{ field, text string }{
			{"first_name", p.FirstName},
			{"occupation", p.Occupation},
			{"about", p.About},
		}
		for _, f := range screened {
			if res := s.Filter.CheckKeywords(f.text); res.Blocked {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "content_rejected", Field: f.field, Reason: res.Reason})
				return
			}
		}
	}

	if err := s.Users.UpsertProfile(r.Context(), &p); err != nil {
		s.logger.Error("save profile", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	s.handleGetProfile(w, r)
}

func (s *Server) handlePutGallery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Images []string `json:"images"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := profile.ValidateGallery(req.Images); err != nil {
		field, reason, _ := validationFields(err)
		writeValidation(w, field, reason)
		return
	}

	err := s.Users.SetGallery(r.Context(), userIDFrom(r.Context()), req.Images)
	if errors.Is(err, profile.ErrNotFound) {
		writeError(w, http.StatusConflict, "profile_not_initialized")
		return
	}
	if err != nil {
		s.logger.Error("set gallery", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	s.handleGetProfile(w, r)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	raw, err := s.Users.PreferencesFor(r.Context(), userIDFrom(r.Context()))
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		s.logger.Error("load preferences", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	// No stored preferences reads as "no constraints".
	writeJSON(w, http.StatusOK, raw)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var raw matching.RawPreferences
	if err := decodeJSON(w, r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	prefs, err := matching.ParsePreferences(raw)
	if err != nil {
		field, reason, _ := validationFields(err)
		writeValidation(w, field, reason)
		return
	}

	normalized := prefs.Raw()
	if err := s.Users.SavePreferences(r.Context(), userIDFrom(r.Context()), normalized); err != nil {
		s.logger.Error("save preferences", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, normalized)
}
