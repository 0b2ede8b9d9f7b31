package transfer

import (
	"context"
	"log/slog"

	"github.com/cloudferry/cloudferry/internal/apiclient"
	"github.com/cloudferry/cloudferry/internal/push"
	"github.com/cloudferry/cloudferry/internal/sessionstore"
)

// JournalReader lists journaled sessions for the startup cross-check.
// Satisfied by *sessionstore.Store.
type JournalReader interface {
	Journal
	List(ctx context.Context) ([]sessionstore.Entry, error)
}

// Reconciler re-establishes transfer visibility after a restart: sessions
// the server still reports as running are synthesized into registry records,
// journaled sessions the server no longer knows are compensated, and push
// events keep the records current from then on.
type Reconciler struct {
	api      *apiclient.Client
	registry *Registry
	journal  JournalReader
	logger   *slog.Logger
}

// NewReconciler creates a reconciler. journal may be nil, which skips the
// orphan cross-check.
func NewReconciler(api *apiclient.Client, registry *Registry, journal JournalReader, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		api:      api,
		registry: registry,
		journal:  journal,
		logger:   logger,
	}
}

// Reconcile runs the startup pass: fetch the server's in-progress sessions,
// synthesize records for those unknown locally, and cancel journaled
// sessions the server stopped reporting.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	summaries, err := r.api.ListUnfinishedSessions(ctx)
	if err != nil {
		return err
	}

	serverSessions := make(map[string]bool, len(summaries))

	for _, s := range summaries {
		serverSessions[s.SessionID] = true

		if _, ok := r.registry.Get(s.FileID); ok {
			continue
		}

		r.logger.Info("synthesizing record for server-side transfer",
			slog.String("session_id", s.SessionID),
			slog.String("file_id", s.FileID),
		)

		r.registry.Upsert(s.FileID, Patch{
			FileName:       stringPatch(s.FileName),
			SessionID:      stringPatch(s.SessionID),
			Status:         statusPatch(StatusInProgress),
			UploadProgress: intPatch(s.Progress),
		})
	}

	r.compensateOrphans(ctx, serverSessions)

	return nil
}

// compensateOrphans cancels journaled sessions the server no longer reports
// as running. Best-effort: a dead session's cancel failing is already
// handled inside CancelSession.
func (r *Reconciler) compensateOrphans(ctx context.Context, serverSessions map[string]bool) {
	if r.journal == nil {
		return
	}

	entries, err := r.journal.List(ctx)
	if err != nil {
		r.logger.Warn("listing journaled sessions failed", slog.String("error", err.Error()))

		return
	}

	for _, e := range entries {
		if serverSessions[e.SessionID] {
			continue
		}

		r.logger.Info("canceling orphaned session",
			slog.String("session_id", e.SessionID),
			slog.String("provider", e.Provider.String()),
		)

		r.api.CancelSession(ctx, &apiclient.Session{
			ID:       e.SessionID,
			Provider: e.Provider,
			State:    apiclient.SessionCreated,
		})

		if err := r.journal.Delete(ctx, e.SessionID); err != nil {
			r.logger.Warn("removing orphaned session from journal failed",
				slog.String("session_id", e.SessionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Apply folds one push event into the registry. Progress events update the
// upload percentage; status events move the record to the reported state. A
// deletion pushed for a record still considered non-terminal is a
// server-initiated failure.
func (r *Reconciler) Apply(ev push.Event) {
	switch ev.Type {
	case push.EventProgress:
		if rec, ok := r.registry.Get(ev.FileID); !ok || rec.Status.Terminal() {
			return
		}

		r.registry.Upsert(ev.FileID, Patch{UploadProgress: intPatch(ev.Progress)})

	case push.EventStatus:
		r.applyStatus(ev)
	}
}

func (r *Reconciler) applyStatus(ev push.Event) {
	rec, ok := r.registry.Get(ev.FileID)
	if !ok {
		return
	}

	switch ev.Status {
	case "completed":
		r.registry.Upsert(ev.FileID, Patch{
			Status:           statusPatch(StatusCompleted),
			DownloadProgress: intPatch(100),
			UploadProgress:   intPatch(100),
		})

	case "failed":
		message := ev.Error
		if message == "" {
			message = "something went wrong"
		}

		r.registry.Upsert(ev.FileID, Patch{
			Status: statusPatch(StatusFailed),
			Error:  stringPatch(message),
		})

	case "canceled":
		r.registry.Upsert(ev.FileID, Patch{Status: statusPatch(StatusCanceled)})

	case "deleted":
		if rec.Status.Terminal() {
			return
		}

		r.logger.Warn("server stopped transfer",
			slog.String("file_id", ev.FileID),
			slog.String("session_id", rec.SessionID),
		)

		r.registry.Upsert(ev.FileID, Patch{
			Status: statusPatch(StatusFailed),
			Error:  stringPatch(serverStoppedMessage),
		})

	default:
		r.logger.Debug("ignoring unknown push status",
			slog.String("status", ev.Status),
			slog.String("file_id", ev.FileID),
		)
	}
}
