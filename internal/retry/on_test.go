package retry_test

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"

	"snapdiff/internal/retry"
)

func mustRetryOn(t *testing.T, s string) *retry.On {
	t.Helper()

	o, err := retry.NewRetryOnFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestOn_CheckResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		conditions string
		statusCode int
		want       bool
	}{
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "5xx",
			statusCode: http.StatusInternalServerError,
			want:       true,
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "5xx",
			statusCode: http.StatusNotFound,
			want:       false,
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "gateway-error",
			statusCode: http.StatusBadGateway,
			want:       true,
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "gateway-error",
			statusCode: http.StatusInternalServerError,
			want:       false,
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "retriable-4xx",
			statusCode: http.StatusConflict,
			want:       true,
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "too-many-requests",
			statusCode: http.StatusTooManyRequests,
			want:       true,
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "retriable-4xx",
			statusCode: http.StatusTooManyRequests,
			want:       false,
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "connect-failure, 418",
			statusCode: http.StatusTeapot,
			want:       true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := mustRetryOn(t, tt.conditions).CheckResponse(&http.Response{StatusCode: tt.statusCode})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

type temporaryError struct{}

func (temporaryError) Error() string   { return "temporary" }
func (temporaryError) Temporary() bool { return true }

func TestOn_CheckError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		conditions string
		err        error
		want       bool
	}{
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "connect-failure",
			err:        fmt.Errorf("dial: %w", temporaryError{}),
			want:       true,
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "connect-failure",
			err:        io.ErrUnexpectedEOF,
			want:       true,
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "connect-failure",
			err:        errors.New("permanent"),
			want:       false,
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			conditions: "gateway-error",
			err:        temporaryError{},
			want:       false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := mustRetryOn(t, tt.conditions).CheckError(tt.err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewRetryOnFromString_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := retry.NewRetryOnFromString("5xx,sometimes"); err == nil {
		t.Error("want error for unknown condition")
	}
}
