package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cloudferry/cloudferry/internal/cloudfile"
	"github.com/cloudferry/cloudferry/internal/provider"
)

// DefaultWorkers bounds concurrent transfers when no width is configured.
const DefaultWorkers = 5

// Manager runs transfers through a bounded worker pool. One failed transfer
// never aborts the others; each failure lands in the registry as Failed and
// is counted toward Wait's summary error.
type Manager struct {
	orch   *Orchestrator
	group  *errgroup.Group
	logger *slog.Logger

	queued atomic.Int64
	failed atomic.Int64
}

// NewManager creates a manager with the given pool width. width <= 0 falls
// back to DefaultWorkers.
func NewManager(orch *Orchestrator, width int, logger *slog.Logger) *Manager {
	if width <= 0 {
		width = DefaultWorkers
	}

	if logger == nil {
		logger = slog.Default()
	}

	group := &errgroup.Group{}
	group.SetLimit(width)

	return &Manager{
		orch:   orch,
		group:  group,
		logger: logger,
	}
}

// Enqueue schedules one transfer on the pool, blocking while the pool is
// full. The transfer's own failure is recorded in the registry, not
// propagated through the group — sibling transfers keep running.
func (m *Manager) Enqueue(ctx context.Context, file *cloudfile.File, source, target provider.Adapter) {
	m.queued.Add(1)

	m.group.Go(func() error {
		if err := m.orch.Transfer(ctx, file, source, target); err != nil {
			m.failed.Add(1)
		}

		return nil
	})
}

// Wait blocks until every enqueued transfer reaches a terminal state.
// Returns a summary error when any transfer failed.
func (m *Manager) Wait() error {
	// Worker funcs always return nil; failures are counted instead.
	_ = m.group.Wait()

	queued, failed := m.queued.Load(), m.failed.Load()

	m.logger.Info("all transfers finished",
		slog.Int64("total", queued),
		slog.Int64("failed", failed),
	)

	if failed > 0 {
		return fmt.Errorf("transfer: %d of %d transfers failed", failed, queued)
	}

	return nil
}
