package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/chat"
	"github.com/heartline/server/internal/metrics"
	"github.com/heartline/server/internal/profile"
	"github.com/heartline/server/internal/report"
)

// reportSnapshotSize is how many recent messages are attached to a report.
const reportSnapshotSize = 20

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	uid := userIDFrom(r.Context())
	target := r.PathValue("id")
	if target == uid {
		writeError(w, http.StatusBadRequest, "invalid_target")
		return
	}
	if !s.userExists(w, r, target) {
		return
	}
	if err := s.Users.Block(r.Context(), uid, target); err != nil {
		s.logger.Error("block", zap.String("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if err := s.Chats.Forget(r.Context(), uid, target); err != nil {
		s.logger.Warn("drop cached conversation", zap.String("user_id", uid), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

type reportRequest struct {
	Reason  string `json:"reason"`
	Details string `json:"details"`
}

type reportResponse struct {
	ID int64 `json:"id"`
}

// handleReport files an abuse report with a snapshot of the conversation and
// suspends the reported user once enough reports accumulate.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	uid := userIDFrom(r.Context())
	target := r.PathValue("id")
	if target == uid {
		writeError(w, http.StatusBadRequest, "invalid_target")
		return
	}

	var req reportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Reason = strings.ToLower(strings.TrimSpace(req.Reason))
	if !report.ValidReason(req.Reason) {
		writeValidation(w, "reason", "unknown reason")
		return
	}
	if len(req.Details) > report.MaxDetails {
		writeValidation(w, "details", "too long")
		return
	}
	if !s.userExists(w, r, target) {
		return
	}

	rep := &report.Report{
		ReporterID: uid,
		ReportedID: target,
		Reason:     req.Reason,
		Details:    req.Details,
	}
	if msgs, err := s.Chats.Snapshot(r.Context(), uid, target, reportSnapshotSize); err != nil {
		s.logger.Warn("report snapshot failed", zap.String("reporter_id", uid), zap.Error(err))
	} else if len(msgs) > 0 {
		rep.ChatID = chat.ChatIDFor(uid, target)
		rep.Messages = snapshotEntries(msgs, uid)
	}

	if err := s.Reports.Create(r.Context(), rep); err != nil {
		s.logger.Error("create report", zap.String("reporter_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	s.checkReportThreshold(r, target)
	writeJSON(w, http.StatusCreated, reportResponse{ID: rep.ID})
}

func (s *Server) checkReportThreshold(r *http.Request, target string) {
	if s.Suspensions == nil {
		return
	}
	suspended, duration, err := s.Suspensions.ReportAndCheck(r.Context(), target)
	if err != nil {
		s.logger.Warn("report counter failed", zap.String("user_id", target), zap.Error(err))
		return
	}
	if !suspended {
		return
	}
	metrics.SuspensionsTotal.WithLabelValues("reports").Inc()
	s.logger.Info("user suspended by reports",
		zap.String("user_id", target),
		zap.Duration("duration", duration),
	)
	if s.Stream != nil {
		s.Stream.DisconnectUser(target)
	}
}

func snapshotEntries(msgs []chat.Message, reporterID string) []report.MessageEntry {
	entries := make([]report.MessageEntry, 0, len(msgs))
	for _, m := range msgs {
		from := "reported"
		if m.SenderID == reporterID {
			from = "reporter"
		}
		entries = append(entries, report.MessageEntry{From: from, Text: m.Body, Ts: m.CreatedAt.Unix()})
	}
	return entries
}

// userExists writes 404 and returns false when id is not an active user.
func (s *Server) userExists(w http.ResponseWriter, r *http.Request, id string) bool {
	u, err := s.Users.UserByID(r.Context(), id)
	if errors.Is(err, profile.ErrNotFound) || (err == nil && u.DeactivatedAt != nil) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return false
	}
	if err != nil {
		s.logger.Error("load user", zap.String("target", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return false
	}
	return true
}
