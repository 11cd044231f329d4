package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/ctxcache/internal/model"
)

const (
	PolicyAuto             = "auto"
	PolicyDeny             = "deny"
	PolicyLargeContextOnly = "large_context_only"
)

// PolicyPermission maps a configured fallback policy to a permission callback.
// "auto" returns nil, which grants every escalation.
func PolicyPermission(policy string) (PermissionFunc, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", PolicyAuto:
		return nil, nil
	case PolicyDeny:
		return func(ctx context.Context, event model.FallbackEvent) (bool, error) {
			return false, nil
		}, nil
	case PolicyLargeContextOnly:
		return func(ctx context.Context, event model.FallbackEvent) (bool, error) {
			return event.Reason == model.FallbackContextTooLarge, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported fallback policy: %s", policy)
	}
}
