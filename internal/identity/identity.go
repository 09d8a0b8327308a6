// Package identity gives every browser an anonymous author id.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/store"
	"github.com/google/uuid"
)

const (
	// AuthorCookieName carries the anonymous author id.
	AuthorCookieName = "lumi_author"
	// DeviceHeaderName names the device a voice or text client runs on.
	DeviceHeaderName = "X-Lumi-Device-ID"
	// UnknownDevice is used when a client sends no usable device id.
	UnknownDevice = "unknown"

	authorPrefix = "author_"
	cookieMaxAge = 90 * 24 * time.Hour
	maxDeviceLen = 64
)

type contextKey int

const (
	userIDKey contextKey = iota
	deviceIDKey
)

// UserIDFromContext returns the author id set by Middleware, or "".
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// WithUserID returns ctx carrying userID. The CLI and tests use it in place of the cookie.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// DeviceIDFromContext returns the client's device id, or UnknownDevice.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return UnknownDevice
}

func validAuthorID(id string) bool {
	rest, ok := strings.CutPrefix(id, authorPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

func deviceID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(DeviceHeaderName))
	if id == "" {
		id = r.URL.Query().Get("device")
	}
	if id == "" || len(id) > maxDeviceLen || strings.ContainsFunc(id, func(c rune) bool {
		return c <= ' ' || c > '~'
	}) {
		return UnknownDevice
	}
	return id
}

// authorID returns the cookie's author id, minting one when it is missing or
// malformed. The cookie is refreshed either way.
func authorID(w http.ResponseWriter, r *http.Request, secure bool) string {
	id := ""
	if c, err := r.Cookie(AuthorCookieName); err == nil && validAuthorID(c.Value) {
		id = c.Value
	} else {
		id = authorPrefix + uuid.NewString()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AuthorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
	return id
}

// Middleware attaches the author and device ids and makes sure the author has
// an AppSettings record for prompts to read.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := authorID(w, r, !isDev)

			settings, err := repo.GetAppSettings(r.Context(), userID)
			if err == nil && settings == nil {
				err = repo.UpsertAppSettings(r.Context(), domain.NewAppSettings(userID, time.Now()))
			}
			if err != nil {
				http.Error(w, `{"error":"failed to initialize author"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithUserID(r.Context(), userID)
			ctx = context.WithValue(ctx, deviceIDKey, deviceID(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns the remote host without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
