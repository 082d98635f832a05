package orchestrator

import (
	"context"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
)

// Gateway performs the remote operations. Implementations never return errors:
// failures are folded into the returned result.
type Gateway interface {
	Protect(ctx context.Context, req domain.ProtectRequest) domain.OperationResult
	Reveal(ctx context.Context, req domain.RevealRequest) domain.OperationResult
	BulkProtect(ctx context.Context, req domain.BulkProtectRequest) domain.OperationResult
	BulkReveal(ctx context.Context, req domain.BulkRevealRequest) domain.OperationResult
	HealthCheck(ctx context.Context, cfg domain.Configuration) domain.HealthStatus
}

// SettingsSource yields the session settings current at request-build time.
type SettingsSource interface {
	Current() domain.Settings
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings domain.Settings

// Current returns the fixed settings.
func (s StaticSettings) Current() domain.Settings {
	return domain.Settings(s)
}
