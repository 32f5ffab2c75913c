package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-livehub/internal/config"
	"github.com/npezzotti/go-livehub/internal/database"
	"github.com/npezzotti/go-livehub/internal/server"
	"github.com/npezzotti/go-livehub/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewHubApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	db := &database.MockMessageStore{}
	hub := server.NewHub(logger, db, newTestStats())
	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		SigningKey:     []byte("secret"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewHubApp(mux, logger, hub, db, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, hub, app.hub, "expected hub to be set")
	assert.Equal(t, cfg.SigningKey, app.signingKey, "expected signing key to be set")
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins, "expected allowed origins to be set")
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr, "expected server address to match config")
}

func TestHubAppShutdown(t *testing.T) {
	app, _ := newTestApp(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, app.Shutdown(ctx))
}
