package push

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_ReceivesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every connection registers with a fresh client ID and the user.
		assert.NotEmpty(t, r.URL.Query().Get("client"))
		assert.Equal(t, "user-1", r.URL.Query().Get("user"))

		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)

		ctx := r.Context()

		writes := []string{
			`{"type":"UPLOAD_PROGRESS_EVENT","fileId":"f1","progress":30}`,
			`not json`,
			`{"type":"SOMETHING_ELSE","fileId":"f1"}`,
			`{"type":"UPLOAD_STATUS_EVENT","fileId":"f1","status":"failed","error":"quota exceeded"}`,
		}

		for _, msg := range writes {
			require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
		}

		// Hold the connection open until the client goes away.
		<-ctx.Done()
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	events := make(chan Event, 8)

	client := NewClient(wsURL(srv), "user-1", func(ev Event) {
		events <- ev
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- client.Run(ctx)
	}()

	// Only the two well-formed, known-type events come through.
	first := <-events
	assert.Equal(t, EventProgress, first.Type)
	assert.Equal(t, "f1", first.FileID)
	assert.Equal(t, 30, first.Progress)

	second := <-events
	assert.Equal(t, EventStatus, second.Type)
	assert.Equal(t, "failed", second.Status)
	assert.Equal(t, "quota exceeded", second.Error)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	conns := make(chan struct{}, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns <- struct{}{}

		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)

		// Drop the connection immediately; the client should come back.
		conn.Close(websocket.StatusInternalError, "going away")
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := NewClient(wsURL(srv), "user-1", func(Event) {}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Run(ctx) //nolint:errcheck // return value is just ctx.Err()

	for i := 0; i < 2; i++ {
		select {
		case <-conns:
		case <-time.After(10 * time.Second):
			t.Fatal("client did not reconnect")
		}
	}
}

func TestClient_BadURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := NewClient("://bad", "user-1", func(Event) {}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
