package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockLimiter) Reset(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func serve(t *testing.T, limiter *mockLimiter, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	handler := RateLimit(limiter, 30*time.Second, zaptest.NewLogger(t))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/graphs", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		key        string
		allowed    bool
		err        error
		status     int
	}{
		{"allowed", "10.0.0.1:5123", "ip:10.0.0.1", true, nil, http.StatusNoContent},
		{"limited", "10.0.0.2:80", "ip:10.0.0.2", false, nil, http.StatusTooManyRequests},
		{"address without port", "10.0.0.3", "ip:10.0.0.3", true, nil, http.StatusNoContent},
		{"limiter failure lets the request through", "10.0.0.4:1", "ip:10.0.0.4", false, errors.New("boom"), http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := new(mockLimiter)
			limiter.On("Allow", mock.Anything, tt.key).Return(tt.allowed, tt.err).Once()

			rec := serve(t, limiter, tt.remoteAddr)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusTooManyRequests {
				assert.Equal(t, "30", rec.Header().Get("Retry-After"))
				assert.Contains(t, rec.Body.String(), `"RATE_LIMITED"`)
			}
			limiter.AssertExpectations(t)
		})
	}
}
