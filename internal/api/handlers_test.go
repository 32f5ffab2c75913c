package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-livehub/internal/config"
	"github.com/npezzotti/go-livehub/internal/database"
	"github.com/npezzotti/go-livehub/internal/presence"
	"github.com/npezzotti/go-livehub/internal/server"
	"github.com/npezzotti/go-livehub/internal/stats"
	"github.com/npezzotti/go-livehub/internal/testutil"
	"github.com/npezzotti/go-livehub/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func newTestApp(t *testing.T, db database.MessageStore, cfg *config.Config) (*HubApp, *server.Hub) {
	if db == nil {
		db = database.NewMemoryMessageStore()
	}
	if cfg == nil {
		cfg = &config.Config{
			ServerAddr:     "localhost:0",
			AllowedOrigins: []string{"http://localhost:3000"},
		}
	}

	logger := testutil.TestLogger(t)
	hub := server.NewHub(logger, db, newTestStats())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})

	return NewHubApp(http.NewServeMux(), logger, hub, db, cfg), hub
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestServeWs(t *testing.T) {
	app, hub := newTestApp(t, nil, nil)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	t.Run("allowed origin", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), http.Header{"Origin": {"http://localhost:3000"}})
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]any{
			"type": server.EventInit,
			"user": map[string]string{"id": "u1", "username": "one"},
		}))

		assert.Eventually(t, func() bool {
			_, ok := hub.Registry().Lookup("u1")
			return ok
		}, time.Second, 10*time.Millisecond, "expected connection to register")
	})

	t.Run("no origin", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
		require.NoError(t, err, "expected non-browser clients to connect")
		conn.Close()
	})

	t.Run("disallowed origin", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), http.Header{"Origin": {"http://evil.example"}})
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		}
	})

	t.Run("plain http", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/ws")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServeWs_Authenticated(t *testing.T) {
	app, _ := newTestApp(t, nil, &config.Config{
		ServerAddr: "localhost:0",
		SigningKey: testSigningKey,
	})
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	if assert.NotNil(t, resp) {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	token := signToken(t, jwt.SigningMethodHS256, testSigningKey, jwt.MapClaims{"sub": "u1"})
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+token, nil)
	require.NoError(t, err)
	conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(wsURL(srv), http.Header{"Authorization": {"Bearer " + token}})
	require.NoError(t, err)
	conn.Close()
}

func TestGetOnlineUsers(t *testing.T) {
	app, hub := newTestApp(t, nil, nil)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/online")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var users []types.Profile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&users))
	resp.Body.Close()
	assert.Empty(t, users)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": server.EventInit,
		"user": map[string]string{"id": "u1", "username": "one"},
	}))
	assert.Eventually(t, func() bool {
		_, ok := hub.Registry().Lookup("u1")
		return ok
	}, time.Second, 10*time.Millisecond)

	resp, err = http.Get(srv.URL + "/api/online")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&users))
	assert.Equal(t, []types.Profile{{Id: "u1", Username: "one"}}, users)
}

func TestGetBroadcasters(t *testing.T) {
	app, hub := newTestApp(t, nil, nil)

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/broadcasters", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	streamId := hub.Broadcasts().StartBroadcast("u1")

	rr = httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/broadcasters", nil))

	var broadcasters []types.Broadcaster
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&broadcasters))
	if assert.Len(t, broadcasters, 1) {
		assert.Equal(t, "u1", broadcasters[0].Id)
		assert.Equal(t, streamId, broadcasters[0].StreamId)
	}
}

func TestHealthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db := &database.MockMessageStore{}
		db.On("Ping", mock.Anything).Return(nil)
		app, _ := newTestApp(t, db, nil)

		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
		db.AssertExpectations(t)
	})

	t.Run("store down", func(t *testing.T) {
		db := &database.MockMessageStore{}
		db.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		app, _ := newTestApp(t, db, nil)

		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.JSONEq(t, `{"status_code":503,"message":"service unavailable"}`, rr.Body.String())
	})
}

func TestCORS(t *testing.T) {
	app, _ := newTestApp(t, nil, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/online", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	app.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

type failingLister struct{}

func (failingLister) List(context.Context) ([]types.Profile, error) {
	return nil, errors.New("redis down")
}

func TestGetOnlineUsers_FromMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	mirror := presence.NewRedisPresence(rdb, "")
	// published by another hub process
	require.NoError(t, mirror.SetOnline(context.Background(), types.Profile{Id: "remote", Username: "far"}))

	app, _ := newTestApp(t, nil, nil)
	app.WithPresence(mirror)

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/online", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var users []types.Profile
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&users))
	assert.Equal(t, []types.Profile{{Id: "remote", Username: "far"}}, users)

	t.Run("falls back to the local registry", func(t *testing.T) {
		app, _ := newTestApp(t, nil, nil)
		app.WithPresence(failingLister{})

		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/online", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})
}
