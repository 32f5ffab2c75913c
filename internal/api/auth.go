package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt"
)

const tokenCookieKey = "token"

// identity claims, in order of preference
const (
	subjectClaim = "sub"
	userIdClaim  = "user-id"
)

type contextKey string

const userIdKey contextKey = "user-id"

var (
	errMissingToken    = errors.New("no token in request")
	errInvalidToken    = errors.New("invalid token")
	errMissingIdentity = errors.New("token carries no identity")
)

func UserId(ctx context.Context) (string, bool) {
	userId, ok := ctx.Value(userIdKey).(string)
	return userId, ok
}

func WithUserId(ctx context.Context, userId string) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

// tokenFromRequest looks for a token in the "token" cookie, then in a Bearer
// Authorization header, then in the "token" query parameter. Browsers cannot
// set headers on a websocket upgrade, hence the last two.
func tokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
			return token, nil
		}
	}

	if token := r.URL.Query().Get(tokenCookieKey); token != "" {
		return token, nil
	}

	return "", errMissingToken
}

func (s *HubApp) extractUserIdFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidToken
	}

	for _, name := range []string{subjectClaim, userIdClaim} {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatInt(int64(v), 10), nil
		}
	}

	return "", errMissingIdentity
}
