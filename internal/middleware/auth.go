package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/addfeaturesnow/prodesk/internal/logging"
)

// DefaultUserID is the user assumed when a request names none.
const DefaultUserID = "user-1"

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

// MockAuth trusts the X-User-ID header and falls back to a fixed user.
// It stands in for real authentication in development deployments.
type MockAuth struct {
	defaultUser string
	logger      *logging.Logger
}

// NewMockAuth creates the middleware. An empty defaultUser means DefaultUserID.
func NewMockAuth(defaultUser string, logger *logging.Logger) *MockAuth {
	if defaultUser == "" {
		defaultUser = DefaultUserID
	}
	return &MockAuth{defaultUser: defaultUser, logger: logger}
}

// Handler returns the middleware handler.
func (m *MockAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			userID = m.defaultUser
		}
		ctx := logging.WithUserID(r.Context(), userID)
		if m.logger != nil {
			m.logger.WithContext(ctx).Debug("request authenticated")
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID extracts the user id from context.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}
