package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// FlushTelemetry flushes buffered log records before process exit.
// Metrics are pull-based and need no flush. Call after every mounted view has
// been unmounted so the final poll and mutation records are included.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := logger.Sync(); err != nil && !isTerminalSyncError(err) {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}

// isTerminalSyncError reports the errors fsync returns for stderr attached to a terminal.
func isTerminalSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
