package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/chat"
)

type conversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
}

type messagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.Chats.Conversations(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.logger.Error("list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversationsResponse{Conversations: convs})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	n, err := s.Chats.UnreadCount(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.logger.Error("count unread", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

// handleHistory pages backwards through a conversation. before is an
// RFC 3339 timestamp or unix seconds; limit is capped by the store.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var before time.Time
	if v := q.Get("before"); v != "" {
		t, ok := parseTime(v)
		if !ok {
			writeValidation(w, "before", "not a timestamp")
			return
		}
		before = t
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeValidation(w, "limit", "must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := s.Chats.History(r.Context(), userIDFrom(r.Context()), r.PathValue("peerID"), before, limit)
	if err != nil {
		s.logger.Error("load history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

func parseTime(v string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, true
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	peer := r.PathValue("peerID")
	if peer != userIDFrom(r.Context()) && !s.userExists(w, r, peer) {
		return
	}

	msg, err := s.Chats.Send(r.Context(), userIDFrom(r.Context()), peer, req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, msg)
	case errors.Is(err, chat.ErrSelfMessage):
		writeError(w, http.StatusBadRequest, "invalid_peer")
	case errors.Is(err, chat.ErrBlocked):
		writeError(w, http.StatusForbidden, "blocked")
	case errors.Is(err, chat.ErrInvalidMessage):
		writeValidation(w, "text", err.Error())
	case errors.Is(err, chat.ErrBlockedContent):
		writeError(w, http.StatusBadRequest, "content_rejected")
	default:
		s.logger.Error("send message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.Chats.MarkRead(r.Context(), userIDFrom(r.Context()), r.PathValue("peerID"))
	if err != nil {
		s.logger.Error("mark read", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
