package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatgate/internal/channel"
	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

var (
	errBadID     = errors.New("invalid id")
	errBadCursor = errors.New("invalid cursor")
	errBadLimit  = errors.New("invalid limit")
)

// createChannelRequest is the body of POST /api/channels
type createChannelRequest struct {
	Name string `json:"name"`
}

// markReadRequest is the body of POST /api/channels/{id}/read
type markReadRequest struct {
	MessageID int64 `json:"messageId"`
}

// presenceResponse lists who is live in a channel on this instance
type presenceResponse = types.ChannelPresence

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}

// pageParams reads the optional limit and cursor query parameters
func pageParams(r *http.Request) (int, *int64, error) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, nil, errBadLimit
		}
		limit = n
	}

	var cursor *int64
	if raw := q.Get("cursor"); raw != "" {
		c, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || c <= 0 {
			return 0, nil, errBadCursor
		}
		cursor = &c
	}
	return limit, cursor, nil
}

// statusFor maps domain errors onto HTTP status codes
// FUNCTIONAL DISCOVERY: anything unrecognised is a 500 and its detail stays in the log
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, interfaces.ErrChannelNotFound):
		return http.StatusNotFound, "Channel not found"
	case errors.Is(err, interfaces.ErrMessageNotFound):
		return http.StatusNotFound, "Message not found"
	case errors.Is(err, interfaces.ErrNotMember):
		return http.StatusForbidden, types.ErrMsgNotMember
	case errors.Is(err, channel.ErrNotOwner):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, interfaces.ErrChannelExists):
		return http.StatusConflict, "Channel already exists"
	case errors.Is(err, channel.ErrInvalidUserID),
		errors.Is(err, types.ErrInvalidChannelName),
		errors.Is(err, types.ErrInvalidChannelID),
		errors.Is(err, types.ErrInvalidMessageID),
		errors.Is(err, errBadID),
		errors.Is(err, errBadCursor),
		errors.Is(err, errBadLimit):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, message := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	s.sendError(w, message, code)
}

// requireMember answers ErrNotMember unless the caller belongs to channelID.
// An unknown channel is reported as not found first.
func (s *Server) requireMember(ctx context.Context, channelID int64, userID string) error {
	if _, err := s.channels.GetChannel(ctx, channelID); err != nil {
		return err
	}
	ok, err := s.channels.IsMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return interfaces.ErrNotMember
	}
	return nil
}

// listChannels returns the caller's channels
func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r.Context())
	channels, err := s.channels.ListChannels(r.Context(), caller.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if channels == nil {
		channels = []*types.Channel{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"channels": channels})
}

// createChannel creates a channel owned by the caller
func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ch, err := s.channels.CreateChannel(r.Context(), req.Name, identityFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, ch)
}

// getChannel returns one channel the caller belongs to
func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.requireMember(r.Context(), id, identityFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	ch, err := s.channels.GetChannel(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ch)
}

// joinChannel adds the caller to a channel
func (s *Server) joinChannel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ch, err := s.channels.JoinChannel(r.Context(), id, identityFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ch)
}

// removeMember revokes a membership; "me" names the caller
// FUNCTIONAL DISCOVERY: revocation also evicts the user's live subscriptions
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := identityFrom(r.Context())
	target := mux.Vars(r)["userId"]
	if target == "me" {
		target = caller.UserID
	}

	if err := s.channels.RemoveMember(r.Context(), id, caller.UserID, target); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// channelPresence returns the live presence list of a channel
func (s *Server) channelPresence(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.requireMember(r.Context(), id, identityFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}

	resp := presenceResponse{ChannelID: id, Users: []types.PresenceEntry{}}
	if s.realtime != nil {
		if users := s.realtime.Presence(id); users != nil {
			resp.Users = users
		}
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// channelHistory serves cursor-paginated history, ascending by id
func (s *Server) channelHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, cursor, err := pageParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.requireMember(r.Context(), id, identityFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}

	page, err := s.store.ChannelHistory(r.Context(), id, limit, cursor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, page)
}

// searchChannel matches a query inside one channel
func (s *Server) searchChannel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, cursor, err := pageParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.requireMember(r.Context(), id, identityFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}

	page, err := s.store.SearchChannel(r.Context(), id, strings.TrimSpace(r.URL.Query().Get("q")), limit, cursor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, page)
}

// searchGlobal matches a query across every channel the caller belongs to
func (s *Server) searchGlobal(w http.ResponseWriter, r *http.Request) {
	limit, cursor, err := pageParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	caller := identityFrom(r.Context())
	page, err := s.store.SearchGlobal(r.Context(), caller.UserID, strings.TrimSpace(r.URL.Query().Get("q")), limit, cursor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, page)
}

// listReactions returns reactions grouped by emoji
func (s *Server) listReactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msg, err := s.store.GetMessage(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.requireMember(r.Context(), msg.ChannelID, identityFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}

	groups, err := s.store.ListReactions(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if groups == nil {
		groups = []types.ReactionGroup{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"messageId": id, "reactions": groups})
}

// markRead advances the caller's read watermark for a channel
func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	caller := identityFrom(r.Context())
	if err := s.requireMember(r.Context(), id, caller.UserID); err != nil {
		s.fail(w, r, err)
		return
	}

	state, err := s.store.MarkRead(r.Context(), caller.UserID, id, req.MessageID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, state)
}

// channelUnread returns the caller's unread count for one channel
func (s *Server) channelUnread(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := identityFrom(r.Context())
	if err := s.requireMember(r.Context(), id, caller.UserID); err != nil {
		s.fail(w, r, err)
		return
	}

	info, err := s.store.UnreadCount(r.Context(), caller.UserID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

// allUnread returns unread counts for every channel of the caller
func (s *Server) allUnread(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.UnreadForUser(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if infos == nil {
		infos = []types.UnreadInfo{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"channels": infos})
}
