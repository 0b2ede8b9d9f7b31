package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudferry/cloudferry/internal/cloudfile"
)

// SessionState tracks the lifecycle of one broker upload session. A session
// is never reused after reaching Completed or Cancelled.
type SessionState int

const (
	SessionUninitialized SessionState = iota
	SessionCreated
	SessionCompleting
	SessionCompleted
	SessionCancelling
	SessionCancelled
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionCompleting:
		return "completing"
	case SessionCompleted:
		return "completed"
	case SessionCancelling:
		return "cancelling"
	case SessionCancelled:
		return "cancelled"
	default:
		return "uninitialized"
	}
}

// ErrSessionTerminal is returned when an operation is attempted on a session
// that already completed or was cancelled.
var ErrSessionTerminal = errors.New("apiclient: upload session already finished")

// Session is one broker-issued resumable upload slot. Exactly one session
// exists per in-flight transfer of one file. AccessToken is the provider
// access token extracted from the composite identifier returned at creation;
// it authenticates the provider-native upload requests.
type Session struct {
	ID          string
	AccessToken string
	Provider    cloudfile.Provider
	State       SessionState
}

// CompleteMetadata is sent with the complete call so the broker can perform
// its follow-up (permission changes on the source item, bookkeeping)
// atomically with marking the session done.
type CompleteMetadata struct {
	PermissionID string `json:"permissionId,omitempty"`
	SourceFileID string `json:"sourceFileId,omitempty"`
	Name         string `json:"name,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// createSessionResponse is the broker's envelope for session registration.
// FileID is the composite "{sessionScopedID}:{accessToken}" identifier.
type createSessionResponse struct {
	Data struct {
		SessionID string `json:"sessionId"`
		FileID    string `json:"fileId"`
	} `json:"data"`
}

// splitCompositeID parses the broker's "{sessionScopedID}:{accessToken}"
// wire format. Both parts must be non-empty; anything else fails fast as a
// validation error rather than producing a confusing upload failure later.
func splitCompositeID(fileID string) (scopedID, accessToken string, err error) {
	idx := strings.Index(fileID, ":")
	if idx < 0 {
		return "", "", NewValidationError("malformed session file id %q: missing separator", fileID)
	}

	scopedID, accessToken = fileID[:idx], fileID[idx+1:]
	if scopedID == "" || accessToken == "" {
		return "", "", NewValidationError("malformed session file id %q: empty component", fileID)
	}

	return scopedID, accessToken, nil
}

// CreateSession registers an upload slot with the broker for the given
// target provider. A failure here is fatal to the transfer attempt — there
// is no session to cancel yet.
func (c *Client) CreateSession(ctx context.Context, provider cloudfile.Provider, name string, size int64) (*Session, error) {
	c.logger.Info("creating upload session",
		slog.String("provider", provider.String()),
		slog.String("name", name),
		slog.Int64("size", size),
	)

	reqBody, err := json.Marshal(map[string]any{
		"name": name,
		"size": size,
	})
	if err != nil {
		return nil, fmt.Errorf("apiclient: marshaling session request: %w", err)
	}

	path := fmt.Sprintf("/api/%s/files/uploadSessions", provider)

	data, err := c.DoJSON(ctx, http.MethodPost, path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	var csr createSessionResponse
	if decErr := json.Unmarshal(data, &csr); decErr != nil {
		return nil, fmt.Errorf("apiclient: decoding session response: %w", decErr)
	}

	if csr.Data.SessionID == "" {
		return nil, NewValidationError("session response missing sessionId")
	}

	_, accessToken, err := splitCompositeID(csr.Data.FileID)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("upload session created",
		slog.String("session_id", csr.Data.SessionID),
		slog.String("provider", provider.String()),
	)

	return &Session{
		ID:          csr.Data.SessionID,
		AccessToken: accessToken,
		Provider:    provider,
		State:       SessionCreated,
	}, nil
}

// CompleteSession tells the broker the provider-side upload finished. The
// broker performs any needed follow-up atomically with marking the session
// done. A failure here must be compensated by CancelSession — the
// orchestrator owns that path.
func (c *Client) CompleteSession(ctx context.Context, session *Session, meta CompleteMetadata) error {
	if session.State == SessionCompleted || session.State == SessionCancelled {
		return ErrSessionTerminal
	}

	session.State = SessionCompleting

	c.logger.Info("completing upload session",
		slog.String("session_id", session.ID),
		slog.String("provider", session.Provider.String()),
	)

	reqBody, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("apiclient: marshaling complete request: %w", err)
	}

	path := fmt.Sprintf("/api/%s/files/uploadSessions/%s/complete", session.Provider, url.PathEscape(session.ID))

	if _, err := c.DoJSON(ctx, http.MethodPut, path, bytes.NewReader(reqBody)); err != nil {
		return err
	}

	session.State = SessionCompleted

	return nil
}

// CancelSession releases the broker-side upload slot. Best-effort and
// fire-and-forget: it is invoked from error paths without knowing the exact
// session state, so every failure is swallowed (logged at Warn) and it is
// always safe to call — even on a session that is already near-complete.
//
// Uses context.WithoutCancel so compensation still runs when the transfer's
// own context was the thing that got canceled.
func (c *Client) CancelSession(ctx context.Context, session *Session) {
	if session == nil || session.ID == "" {
		return
	}

	if session.State == SessionCompleted || session.State == SessionCancelled {
		return
	}

	session.State = SessionCancelling

	c.logger.Info("canceling upload session",
		slog.String("session_id", session.ID),
		slog.String("provider", session.Provider.String()),
	)

	path := fmt.Sprintf("/api/%s/files/uploadSessions/%s/cancel", session.Provider, url.PathEscape(session.ID))

	resp, err := c.Do(context.WithoutCancel(ctx), http.MethodPut, path, nil)
	if err != nil {
		c.logger.Warn("cancel upload session failed",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)

		session.State = SessionCancelled

		return
	}
	defer resp.Body.Close()

	// No meaningful body — drain to reuse the connection.
	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		c.logger.Warn("draining cancel response body failed",
			slog.String("error", drainErr.Error()),
		)
	}

	session.State = SessionCancelled

	c.logger.Debug("upload session canceled", slog.String("session_id", session.ID))
}

// SessionSummary is one server-reported transfer session, used for startup
// reconciliation after the client lost its in-memory state.
type SessionSummary struct {
	SessionID string `json:"sessionId"`
	FileID    string `json:"fileId"`
	FileName  string `json:"fileName"`
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
}

type listSessionsResponse struct {
	Data struct {
		Sessions []SessionSummary `json:"sessions"`
	} `json:"data"`
}

// ListUnfinishedSessions fetches the current user's sessions still reported
// as in_progress by the broker.
func (c *Client) ListUnfinishedSessions(ctx context.Context) ([]SessionSummary, error) {
	c.logger.Debug("listing unfinished transfer sessions")

	filter := url.QueryEscape(`{"status":"in_progress"}`)

	data, err := c.DoJSON(ctx, http.MethodGet, "/transfer_sessions?filter="+filter, nil)
	if err != nil {
		return nil, err
	}

	var lsr listSessionsResponse
	if decErr := json.Unmarshal(data, &lsr); decErr != nil {
		return nil, fmt.Errorf("apiclient: decoding sessions response: %w", decErr)
	}

	return lsr.Data.Sessions, nil
}
