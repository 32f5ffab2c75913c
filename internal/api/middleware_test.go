package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-livehub/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &HubApp{
		log: testutil.TestLogger(t),
	}

	app.log.SetOutput(buf)

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &HubApp{}

	// simple handler that does not panic
	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_authMiddleware(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &HubApp{
		log:        testutil.TestLogger(t),
		signingKey: testSigningKey,
	}
	app.log.SetOutput(buf)

	var gotUserId string
	tokenHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId, ok := UserId(r.Context())
		if !ok {
			return
		}
		gotUserId = userId
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	validToken := signToken(t, jwt.SigningMethodHS256, testSigningKey, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	t.Run("valid cookie", func(t *testing.T) {
		gotUserId = ""
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: validToken})

		app.authMiddleware(tokenHandler).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ok", rr.Body.String())
		assert.Equal(t, "u1", gotUserId)
		assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
	})

	t.Run("valid bearer", func(t *testing.T) {
		gotUserId = ""
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+validToken)

		app.authMiddleware(tokenHandler).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "u1", gotUserId)
	})

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		app.authMiddleware(tokenHandler).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"status_code":401,"message":"unauthorized"}`, rr.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{
			Name:  tokenCookieKey,
			Value: "invalid-token",
		})

		app.authMiddleware(tokenHandler).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, buf.String(), "failed to extract user id from token")
	})

	t.Run("auth disabled", func(t *testing.T) {
		open := &HubApp{log: testutil.TestLogger(t)}
		called := false
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		open.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
			called = true
			_, ok := UserId(r.Context())
			assert.False(t, ok, "expected no identity without a signing key")
		}).ServeHTTP(rr, req)

		assert.True(t, called, "expected request to pass through")
	})
}
