package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// Error wraps a provider failure with its HTTP status.
type Error struct {
	Backend   string
	Status    int
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "backend error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s: status %d", e.Backend, e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransient reports whether err is likely to clear on its own: timeouts,
// rate limiting and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Temporary || retryableStatus(be.Status)
	}
	return false
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// wrapSDKError converts an SDK error into *Error, extracting the HTTP status
// where the SDK exposes one. Context errors pass through untouched so the
// caller can tell a timeout from a provider failure.
func wrapSDKError(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	status := 0
	var (
		anthropicErr *anthropic.Error
		openaiErr    *openai.Error
		genaiErr     genai.APIError
	)
	switch {
	case errors.As(err, &anthropicErr):
		status = anthropicErr.StatusCode
	case errors.As(err, &openaiErr):
		status = openaiErr.StatusCode
	case errors.As(err, &genaiErr):
		status = genaiErr.Code
	}
	return &Error{Backend: name, Status: status, Temporary: retryableStatus(status), Err: err}
}
