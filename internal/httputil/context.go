package httputil

import (
	"context"
	"net/http"
)

type contextKey string

const userNameKey contextKey = "userName"

// WithUserName returns the request with the authenticated user name added to
// its context.
func WithUserName(r *http.Request, userName string) *http.Request {
	ctx := context.WithValue(r.Context(), userNameKey, userName)
	return r.WithContext(ctx)
}

// GetUserName retrieves the authenticated user name, or "" if unset.
func GetUserName(r *http.Request) string {
	userName, _ := r.Context().Value(userNameKey).(string)
	return userName
}
