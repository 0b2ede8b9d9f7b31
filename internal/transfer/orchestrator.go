package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cloudferry/cloudferry/internal/apiclient"
	"github.com/cloudferry/cloudferry/internal/cloudfile"
	"github.com/cloudferry/cloudferry/internal/provider"
	"github.com/cloudferry/cloudferry/internal/sessionstore"
)

// serverStoppedMessage reports a transfer the broker terminated on its own.
const serverStoppedMessage = "server stopped this transfer"

// Journal records in-flight sessions so a crashed process can compensate on
// the next start. Satisfied by *sessionstore.Store; nil-able for callers
// that do not want crash safety.
type Journal interface {
	Put(ctx context.Context, e sessionstore.Entry) error
	Delete(ctx context.Context, sessionID string) error
}

// Orchestrator executes one file's end-to-end move from a source provider to
// a target provider: acquire bytes, create a broker session, upload, complete
// — with best-effort session cancellation compensating every failure after
// session creation.
type Orchestrator struct {
	api      *apiclient.Client
	registry *Registry
	journal  Journal
	logger   *slog.Logger

	// chunkThreshold routes OneDrive uploads above this size to the chunked
	// large-upload path.
	chunkThreshold int64
}

// NewOrchestrator creates an orchestrator. journal may be nil.
func NewOrchestrator(
	api *apiclient.Client, registry *Registry, journal Journal, chunkThreshold int64, logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	if chunkThreshold <= 0 {
		chunkThreshold = provider.DefaultChunkSize
	}

	return &Orchestrator{
		api:            api,
		registry:       registry,
		journal:        journal,
		chunkThreshold: chunkThreshold,
		logger:         logger,
	}
}

// Transfer moves one file from source to target. The record for file.ID
// tracks both phases; on return the record is in a terminal state. The
// returned error is the normalized failure, nil on success.
func (o *Orchestrator) Transfer(ctx context.Context, file *cloudfile.File, source, target provider.Adapter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.registry.Upsert(file.ID, Patch{
		FileName: stringPatch(file.Name),
		Status:   statusPatch(StatusStarting),
		Cancel:   cancel,
	})

	o.logger.Info("starting transfer",
		slog.String("file_id", file.ID),
		slog.String("name", file.Name),
		slog.String("source", source.Provider().String()),
		slog.String("target", target.Provider().String()),
	)

	var buf bytes.Buffer

	info, err := source.Fetch(ctx, file, &buf, func(pct int) {
		o.registry.Upsert(file.ID, Patch{DownloadProgress: intPatch(pct)})
	})
	if err != nil {
		return o.fail(ctx, file.ID, nil, err)
	}

	data := buf.Bytes()

	uploadProgress := func(pct int) {
		o.registry.Upsert(file.ID, Patch{UploadProgress: intPatch(pct)})
	}

	// Photos runs the raw upload-token protocol with no broker session, so
	// there is nothing to register and nothing to compensate.
	if tokenUploader, ok := target.(provider.TokenUploader); ok {
		if err := tokenUploader.UploadWithToken(ctx, file.Name, data, uploadProgress); err != nil {
			return o.fail(ctx, file.ID, nil, err)
		}

		o.complete(file.ID)

		return nil
	}

	session, err := o.api.CreateSession(ctx, target.Provider(), file.Name, int64(len(data)))
	if err != nil {
		// No session exists yet — nothing to compensate.
		return o.fail(ctx, file.ID, nil, err)
	}

	o.journalPut(ctx, session, file)

	o.registry.Upsert(file.ID, Patch{
		SessionID: stringPatch(session.ID),
		Status:    statusPatch(StatusInProgress),
	})

	if err := o.upload(ctx, target, session, file.Name, data, uploadProgress); err != nil {
		return o.fail(ctx, file.ID, session, err)
	}

	meta := apiclient.CompleteMetadata{
		PermissionID: info.PermissionID,
		SourceFileID: file.ID,
		Name:         file.Name,
		Size:         int64(len(data)),
	}

	if err := o.api.CompleteSession(ctx, session, meta); err != nil {
		return o.fail(ctx, file.ID, session, err)
	}

	o.journalDelete(ctx, session.ID)
	o.complete(file.ID)

	return nil
}

// upload routes to the chunked path for OneDrive targets above the threshold
// and the simple single-request path for everything else.
func (o *Orchestrator) upload(
	ctx context.Context, target provider.Adapter, session *apiclient.Session,
	name string, data []byte, progress apiclient.ProgressFunc,
) error {
	if large, ok := target.(provider.LargeUploader); ok && int64(len(data)) > o.chunkThreshold {
		return large.UploadLarge(ctx, session, name, data, progress)
	}

	uploader, ok := target.(provider.SessionUploader)
	if !ok {
		return apiclient.NewValidationError("provider %q does not support session uploads", target.Provider())
	}

	return uploader.Upload(ctx, session, name, data, progress)
}

func (o *Orchestrator) complete(fileID string) {
	o.registry.Upsert(fileID, Patch{
		Status:           statusPatch(StatusCompleted),
		DownloadProgress: intPatch(100),
		UploadProgress:   intPatch(100),
	})

	o.logger.Info("transfer completed", slog.String("file_id", fileID))
}

// fail normalizes err, compensates the session if one was created, and moves
// the record to its terminal state. A failure caused by the transfer's own
// context being canceled lands in Canceled, everything else in Failed.
// The original error is always returned — never the compensation's.
func (o *Orchestrator) fail(ctx context.Context, fileID string, session *apiclient.Session, err error) error {
	if session != nil {
		// Best-effort: CancelSession swallows its own errors and survives a
		// canceled context.
		o.api.CancelSession(ctx, session)
		o.journalDelete(ctx, session.ID)
	}

	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		o.registry.Upsert(fileID, Patch{Status: statusPatch(StatusCanceled)})

		o.logger.Info("transfer canceled", slog.String("file_id", fileID))

		return normalizeError(err)
	}

	normalized := normalizeError(err)
	status, message := errorStatusMessage(normalized)

	o.registry.Upsert(fileID, Patch{
		Status: statusPatch(StatusFailed),
		Error:  stringPatch(message),
	})

	o.logger.Error("transfer failed",
		slog.String("file_id", fileID),
		slog.Int("status", status),
		slog.String("error", message),
	)

	return normalized
}

// normalizeError coerces any failure into a uniform error carrying an
// HTTP-like status and a user-facing message. Broker and adapter errors
// already are; transport and decode failures get the generic treatment.
func normalizeError(err error) error {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return err
	}

	var partial *apiclient.PartialError
	if errors.As(err, &partial) {
		return err
	}

	return fmt.Errorf("%w: %s",
		apiclient.StatusError(http.StatusInternalServerError, "something went wrong"), err)
}

// errorStatusMessage extracts the HTTP-like status and user-facing message
// from a normalized error.
func errorStatusMessage(err error) (int, string) {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, apiErr.Message
	}

	var partial *apiclient.PartialError
	if errors.As(err, &partial) {
		return http.StatusOK, partial.Error()
	}

	return http.StatusInternalServerError, "something went wrong"
}

func (o *Orchestrator) journalPut(ctx context.Context, session *apiclient.Session, file *cloudfile.File) {
	if o.journal == nil {
		return
	}

	err := o.journal.Put(ctx, sessionstore.Entry{
		SessionID: session.ID,
		Provider:  session.Provider,
		FileID:    file.ID,
		FileName:  file.Name,
	})
	if err != nil {
		// The journal is an aid for crash recovery, never a reason to fail a
		// live transfer.
		o.logger.Warn("journaling session failed",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) journalDelete(ctx context.Context, sessionID string) {
	if o.journal == nil {
		return
	}

	if err := o.journal.Delete(context.WithoutCancel(ctx), sessionID); err != nil {
		o.logger.Warn("removing journaled session failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}
