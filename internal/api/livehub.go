package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-livehub/internal/config"
	"github.com/npezzotti/go-livehub/internal/database"
	"github.com/npezzotti/go-livehub/internal/server"
	"github.com/npezzotti/go-livehub/internal/types"
)

// HubApp is the HTTP front of the hub: the websocket endpoint plus a few
// read-only views of its state.
type HubApp struct {
	log            *log.Logger
	db             database.MessageStore
	srv            *http.Server
	hub            *server.Hub
	signingKey     []byte
	allowedOrigins []string
	presence       PresenceLister
}

// PresenceLister lists identities online on any hub that shares the
// presence mirror.
type PresenceLister interface {
	List(ctx context.Context) ([]types.Profile, error)
}

func NewHubApp(mux *http.ServeMux, logger *log.Logger, hub *server.Hub, db database.MessageStore, cfg *config.Config) *HubApp {
	s := &HubApp{
		log:            logger,
		db:             db,
		hub:            hub,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /api/online", s.authMiddleware(s.getOnlineUsers))
	mux.HandleFunc("GET /api/broadcasters", s.authMiddleware(s.getBroadcasters))
	mux.HandleFunc("GET /healthz", s.healthz)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// WithPresence makes /api/online answer from p instead of this process's
// registry.
func (s *HubApp) WithPresence(p PresenceLister) *HubApp {
	s.presence = p
	return s
}

func (s *HubApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *HubApp) Start() error {
	s.log.Printf("starting server on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting requests and then closes every hub connection.
func (s *HubApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		return fmt.Errorf("hub shutdown: %w", err)
	}

	return nil
}
