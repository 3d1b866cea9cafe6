// Package devserver is a small SQLite-backed forum that speaks the REST and
// chat socket protocol of the DM client, for local development and tests.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/chat"
	"github.com/matheus3301/forumdm/internal/devserver/store"
	"github.com/matheus3301/forumdm/internal/forumapi"
	"github.com/matheus3301/forumdm/internal/protocol"
	"github.com/matheus3301/forumdm/internal/transport"
)

const (
	defaultMessageLimit = 30
	defaultThreadLimit  = 20
	maxLimit            = 200
	maxBodyLen          = 4000
)

type ctxKey struct{}

// Server serves the forum API over HTTP.
type Server struct {
	db     *store.DB
	auth   *Auth
	hub    *Hub
	logger *zap.Logger
	now    func() time.Time
	router *mux.Router
}

// NewServer wires routes over db.
func NewServer(db *store.DB, auth *Auth, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		db:     db,
		auth:   auth,
		logger: logger,
		now:    time.Now,
		router: mux.NewRouter(),
	}
	s.hub = NewHub(hubEvents{db}, logger.Named("hub"))
	s.routes()
	return s
}

// Hub returns the socket hub.
func (s *Server) Hub() *Hub { return s.hub }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests, s.authenticate)

	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/users/{id:[0-9]+}", s.handleUser).Methods(http.MethodGet)
	api.HandleFunc("/chat/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/chat/messages", s.handleSend).Methods(http.MethodPost)
	api.HandleFunc("/chat/messages/{id:[0-9]+}/recall", s.handleRecall).Methods(http.MethodPost)
	api.HandleFunc("/chat/threads", s.handleThreads).Methods(http.MethodGet)
	api.HandleFunc("/chat/presence", s.handlePresence).Methods(http.MethodPost)
	s.router.Handle(transport.ChatPath, s.authenticate(http.HandlerFunc(s.handleSocket))).Methods(http.MethodGet)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func userFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKey{}).(int64)
	return id
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := s.db.User(userFrom(r))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	p, err := s.db.User(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	peer, err := strconv.ParseInt(q.Get("peer_id"), 10, 64)
	if err != nil || peer <= 0 {
		writeError(w, http.StatusBadRequest, "peer_id is required")
		return
	}
	cursor, err := chat.ParseCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, ok := parseLimit(q.Get("limit"), defaultMessageLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	page, err := s.db.ListMessages(userFrom(r), peer, cursor, limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forumapi.MessagePageBody{
		Messages:   nonNil(page.Messages),
		NextCursor: page.NextCursor.String(),
		HasMore:    page.HasMore,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var in forumapi.SendBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	me := userFrom(r)
	switch {
	case in.Kind != "" && in.Kind != chat.KindText:
		writeError(w, http.StatusBadRequest, "only TEXT messages can be sent")
		return
	case strings.TrimSpace(in.Body) == "":
		writeError(w, http.StatusBadRequest, "message body is empty")
		return
	case utf8.RuneCountInString(in.Body) > maxBodyLen:
		writeError(w, http.StatusBadRequest, "message body is too long")
		return
	case in.To == me || in.To <= 0:
		writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	if _, err := s.db.User(in.To); err != nil {
		s.storeError(w, err)
		return
	}

	m, created, err := s.db.InsertMessage(me, in.To, in.Body, in.ClientToken, s.now().UnixMilli())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if created {
		s.hub.Publish(protocol.KindMessageNew, protocol.PayloadFromMessage(m), m.From, m.To)
	}
	writeJSON(w, http.StatusOK, forumapi.MessageBody{Message: m})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	before, err := s.db.Message(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	m, err := s.db.RecallMessage(userFrom(r), id, s.now().UnixMilli())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !before.Recalled() {
		s.hub.Publish(protocol.KindMessageRecall, protocol.PayloadFromMessage(m), m.From, m.To)
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := parseLimit(q.Get("limit"), defaultThreadLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	page, err := s.db.ListThreads(userFrom(r), q.Get("cursor"), limit)
	if err != nil {
		if errors.Is(err, store.ErrBadCursor) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.storeError(w, err)
		return
	}
	threads := page.Threads
	if threads == nil {
		threads = []chat.ThreadSummary{}
	}
	writeJSON(w, http.StatusOK, forumapi.ThreadPageBody{
		Threads:    threads,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var in forumapi.PresenceRequestBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	known, err := s.db.LastActive(in.UserIDs)
	if err != nil {
		s.storeError(w, err)
		return
	}
	out := forumapi.PresenceBody{Presence: []chat.PresenceState{}}
	for _, id := range in.UserIDs {
		last, ok := known[id]
		if !ok {
			continue
		}
		st := chat.PresenceState{PeerID: id, Status: chat.Offline, LastActiveAtMs: last}
		if s.hub.Online(id) {
			st.Status, st.LastActiveAtMs = chat.Online, nil
		}
		out.Presence = append(out.Presence, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	s.hub.Serve(r.Context(), conn, userFrom(r))
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrNotSender), errors.Is(err, store.ErrRecallWindow):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type hubEvents struct{ db *store.DB }

func (e hubEvents) MarkRead(user, peer int64) error      { return e.db.MarkRead(user, peer) }
func (e hubEvents) Offline(user int64, atMs int64) error { return e.db.Touch(user, atMs) }

func parseLimit(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, maxLimit), true
}

func nonNil(msgs []chat.Message) []chat.Message {
	if msgs == nil {
		return []chat.Message{}
	}
	return msgs
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, forumapi.ErrorBody{Error: msg})
}
