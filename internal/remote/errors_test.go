package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), true},
		{"rate limited", &googleapi.Error{Code: 429}, true},
		{"server error", &googleapi.Error{Code: 503}, true},
		{"not found", &googleapi.Error{Code: 404}, false},
		{"unauthorized", &googleapi.Error{Code: 401}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyAPIError(t *testing.T) {
	if got := classifyAPIError(&googleapi.Error{Code: 401}); !errors.Is(got, ErrUnauthenticated) {
		t.Errorf("401 = %v, want ErrUnauthenticated", got)
	}
	if got := classifyAPIError(&googleapi.Error{Code: 404}); !errors.Is(got, ErrNotFound) {
		t.Errorf("404 = %v, want ErrNotFound", got)
	}

	serverErr := &googleapi.Error{Code: 500}
	if got := classifyAPIError(serverErr); !errors.As(got, new(*googleapi.Error)) {
		t.Errorf("500 should pass through unchanged, got %v", got)
	}

	plain := errors.New("not an api error")
	if got := classifyAPIError(plain); got != plain {
		t.Errorf("non-api error should pass through unchanged, got %v", got)
	}
}
