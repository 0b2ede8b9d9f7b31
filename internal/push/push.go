// Package push implements the live update channel: a websocket client that
// receives per-file upload progress and status events from the broker and
// hands them to a callback. The connection is registered per user with a
// fresh client ID and reconnects with backoff until its context is canceled.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Event types pushed by the broker.
const (
	EventProgress = "UPLOAD_PROGRESS_EVENT"
	EventStatus   = "UPLOAD_STATUS_EVENT"
)

// Event is one pushed update for a file's transfer.
type Event struct {
	Type     string `json:"type"`
	FileID   string `json:"fileId"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
	Error    string `json:"error"`
}

// Handler receives each decoded event. Called from the read loop goroutine.
type Handler func(Event)

// Reconnect backoff bounds.
const (
	reconnectBase = 1 * time.Second
	reconnectMax  = 30 * time.Second
)

// Client maintains the websocket connection to the broker's push endpoint.
type Client struct {
	pushURL string
	userID  string
	handler Handler
	logger  *slog.Logger

	// dialFunc is swapped in tests to avoid a real network dial.
	dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)
}

// NewClient creates a push client for the given endpoint and user. Events
// are delivered to handler in receipt order.
func NewClient(pushURL, userID string, handler Handler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		pushURL: pushURL,
		userID:  userID,
		handler: handler,
		logger:  logger,
		dialFunc: func(ctx context.Context, u string) (*websocket.Conn, error) {
			conn, _, err := websocket.Dial(ctx, u, nil)

			return conn, err
		},
	}
}

// Run connects and reads events until ctx is canceled, reconnecting with
// exponential backoff on any connection failure. Always returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectBase

	for {
		if err := c.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			c.logger.Warn("push connection lost",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// connectAndRead dials once and consumes events until the connection drops.
func (c *Client) connectAndRead(ctx context.Context) error {
	u, err := url.Parse(c.pushURL)
	if err != nil {
		return fmt.Errorf("push: parsing push URL: %w", err)
	}

	q := u.Query()
	q.Set("client", uuid.NewString())
	q.Set("user", c.userID)
	u.RawQuery = q.Encode()

	conn, err := c.dialFunc(ctx, u.String())
	if err != nil {
		return fmt.Errorf("push: dialing %s: %w", c.pushURL, err)
	}

	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	c.logger.Info("push channel connected", slog.String("user", c.userID))

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
				return nil
			}

			return fmt.Errorf("push: reading event: %w", err)
		}

		if msgType != websocket.MessageText {
			continue
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("dropping undecodable push event",
				slog.String("error", err.Error()),
			)

			continue
		}

		switch ev.Type {
		case EventProgress, EventStatus:
			c.handler(ev)
		default:
			c.logger.Debug("ignoring unknown push event type",
				slog.String("type", ev.Type),
			)
		}
	}
}
