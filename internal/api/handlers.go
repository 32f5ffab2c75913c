package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

const healthCheckTimeout = 2 * time.Second

func (s *HubApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *HubApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// not a browser
		return true
	}

	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

func (s *HubApp) serveWs(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		s.log.Printf("rejecting websocket from origin %q", r.Header.Get("Origin"))
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	c, err := s.hub.Connect(conn)
	if err != nil {
		s.log.Printf("connect: %v", err)
		return
	}

	if userId, ok := UserId(r.Context()); ok {
		s.log.Printf("connection %s authenticated as %q", c.Id(), userId)
	}
}

const presenceListTimeout = 2 * time.Second

func (s *HubApp) getOnlineUsers(w http.ResponseWriter, r *http.Request) {
	if s.presence != nil {
		ctx, cancel := context.WithTimeout(r.Context(), presenceListTimeout)
		defer cancel()

		profiles, err := s.presence.List(ctx)
		if err == nil {
			s.writeJson(w, http.StatusOK, profiles)
			return
		}
		s.log.Printf("presence mirror: list: %v, falling back to local registry", err)
	}

	s.writeJson(w, http.StatusOK, s.hub.Registry().Snapshot())
}

func (s *HubApp) getBroadcasters(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, s.hub.Broadcasts().Snapshot())
}

func (s *HubApp) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}
