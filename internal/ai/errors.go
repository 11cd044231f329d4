package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

var (
	ErrUnavailable   = fmt.Errorf("ai provider %w", appErr.ErrUnavailable)
	ErrTimeout       = fmt.Errorf("ai provider %w", appErr.ErrTimeout)
	ErrUnknownHandle = fmt.Errorf("unknown cache handle: %w", appErr.ErrNotFound)
)

// CapacityError reports content that does not fit a provider's context ceiling.
type CapacityError struct {
	Provider string
	Tokens   int
	Limit    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: content needs ~%d tokens, limit is %d", e.Provider, e.Tokens, e.Limit)
}

type FallbackDeniedError struct {
	Reason model.FallbackReason
	Detail string
}

func (e *FallbackDeniedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("fallback denied: %s", e.Reason)
	}
	return fmt.Sprintf("fallback denied: %s: %s", e.Reason, e.Detail)
}

type UpstreamError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// wrapCallError turns deadline expiry into ErrTimeout so callers never see a silent empty result.
func wrapCallError(provider string, err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", provider, ErrTimeout, err)
	}
	return err
}

func IsCapacity(err error) bool {
	var capErr *CapacityError
	return errors.As(err, &capErr)
}

func IsFallbackDenied(err error) bool {
	var denied *FallbackDeniedError
	return errors.As(err, &denied)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
