package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudferry/cloudferry/internal/apiclient"
	"github.com/cloudferry/cloudferry/internal/cloudfile"
	"github.com/cloudferry/cloudferry/internal/provider"
	"github.com/cloudferry/cloudferry/internal/sessionstore"
)

// memJournal is an in-memory Journal/JournalReader for tests.
type memJournal struct {
	mu      sync.Mutex
	entries map[string]sessionstore.Entry
}

func newMemJournal() *memJournal {
	return &memJournal{entries: make(map[string]sessionstore.Entry)}
}

func (j *memJournal) Put(_ context.Context, e sessionstore.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[e.SessionID] = e

	return nil
}

func (j *memJournal) Delete(_ context.Context, sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.entries, sessionID)

	return nil
}

func (j *memJournal) List(_ context.Context) ([]sessionstore.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]sessionstore.Entry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}

	return out, nil
}

// brokerCounters tracks which broker/provider endpoints a test scenario hit.
type brokerCounters struct {
	sessionCreates atomic.Int64
	completes      atomic.Int64
	cancels        atomic.Int64
	contentPuts    atomic.Int64
}

type testEnv struct {
	srv      *httptest.Server
	registry *Registry
	journal  *memJournal
	orch     *Orchestrator
	counters *brokerCounters
	deps     provider.Deps
}

// newTestEnv builds a fake broker + Graph server handling the full transfer
// surface. completeStatus controls the complete endpoint's response.
func newTestEnv(t *testing.T, completeStatus int) *testEnv {
	t.Helper()

	counters := &brokerCounters{}

	mux := http.NewServeMux()

	var srv *httptest.Server

	mux.HandleFunc("POST /api/google/files/{id}/link", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"data":{"url":%q,"permissionId":"perm-9"}}`, srv.URL+"/raw")
	})

	mux.HandleFunc("GET /raw", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ten bytes!")
	})

	mux.HandleFunc("POST /api/onedrive/files/uploadSessions", func(w http.ResponseWriter, _ *http.Request) {
		counters.sessionCreates.Add(1)
		fmt.Fprint(w, `{"data":{"sessionId":"sess-1","fileId":"scoped-1:tok-1"}}`)
	})

	mux.HandleFunc("PUT /api/onedrive/files/uploadSessions/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		counters.completes.Add(1)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var meta apiclient.CompleteMetadata
		require.NoError(t, json.Unmarshal(body, &meta))
		assert.Equal(t, "perm-9", meta.PermissionID)
		assert.Equal(t, "src1", meta.SourceFileID)

		if completeStatus != http.StatusOK {
			w.WriteHeader(completeStatus)
			fmt.Fprint(w, `{"errors":[{"name":"dest.bin","error":"backend exploded"}]}`)

			return
		}

		fmt.Fprint(w, `{}`)
	})

	mux.HandleFunc("PUT /api/onedrive/files/uploadSessions/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		counters.cancels.Add(1)
		assert.Equal(t, "sess-1", r.PathValue("id"))
		fmt.Fprint(w, `{}`)
	})

	mux.HandleFunc("PUT /me/drive/root:/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		counters.contentPuts.Add(1)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{}`)
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	logger := discardLogger()
	api := apiclient.NewClient(srv.URL, srv.Client(), apiclient.StaticToken("test-token"), logger)
	registry := NewRegistry(logger)
	journal := newMemJournal()

	deps := provider.Deps{
		API:      api,
		HTTP:     srv.Client(),
		Logger:   logger,
		GraphURL: srv.URL,
	}

	return &testEnv{
		srv:      srv,
		registry: registry,
		journal:  journal,
		orch:     NewOrchestrator(api, registry, journal, provider.DefaultChunkSize, logger),
		counters: counters,
		deps:     deps,
	}
}

func (e *testEnv) adapter(t *testing.T, p cloudfile.Provider) provider.Adapter {
	t.Helper()

	a, err := provider.New(p, e.deps)
	require.NoError(t, err)

	return a
}

func TestTransfer_DriveToOneDrive_SimplePath(t *testing.T) {
	env := newTestEnv(t, http.StatusOK)

	var percents []int

	env.registry.Subscribe(func(rec Record) {
		percents = append(percents, rec.Percent())
	})

	file := &cloudfile.File{ID: "src1", Name: "dest.bin", Size: 10}

	err := env.orch.Transfer(context.Background(),
		file, env.adapter(t, cloudfile.GoogleDrive), env.adapter(t, cloudfile.OneDrive))
	require.NoError(t, err)

	// Exactly one session, one content PUT, one complete, zero cancels.
	assert.Equal(t, int64(1), env.counters.sessionCreates.Load())
	assert.Equal(t, int64(1), env.counters.contentPuts.Load())
	assert.Equal(t, int64(1), env.counters.completes.Load())
	assert.Equal(t, int64(0), env.counters.cancels.Load())

	rec, ok := env.registry.Get("src1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.DownloadProgress)
	assert.Equal(t, 100, rec.UploadProgress)
	assert.Equal(t, "sess-1", rec.SessionID)

	// Composite progress is monotonic and lands on exactly 100.
	require.NotEmpty(t, percents)

	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}

	assert.Equal(t, 100, percents[len(percents)-1])

	// Journal drained on completion.
	entries, err := env.journal.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransfer_CompleteFails_CancelsSession(t *testing.T) {
	env := newTestEnv(t, http.StatusInternalServerError)

	file := &cloudfile.File{ID: "src1", Name: "dest.bin", Size: 10}

	err := env.orch.Transfer(context.Background(),
		file, env.adapter(t, cloudfile.GoogleDrive), env.adapter(t, cloudfile.OneDrive))
	require.Error(t, err)

	// The session created for this transfer was compensated.
	assert.Equal(t, int64(1), env.counters.sessionCreates.Load())
	assert.Equal(t, int64(1), env.counters.cancels.Load())

	// The record carries the broker's original message, not the cancel's.
	rec, ok := env.registry.Get("src1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "backend exploded", rec.Error)

	var apiErr *apiclient.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "backend exploded", apiErr.Message)

	entries, jerr := env.journal.List(context.Background())
	require.NoError(t, jerr)
	assert.Empty(t, entries)
}

func TestTransfer_FetchFails_NoSessionCreated(t *testing.T) {
	env := newTestEnv(t, http.StatusOK)

	// Unknown source ID: the link endpoint 404s before any session exists.
	file := &cloudfile.File{ID: "missing", Name: "gone.bin"}

	srcMux := http.NewServeMux()
	srcMux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":[{"name":"gone.bin","error":"file not found"}]}`)
	})

	srcSrv := httptest.NewServer(srcMux)
	defer srcSrv.Close()

	srcDeps := env.deps
	srcDeps.API = apiclient.NewClient(srcSrv.URL, srcSrv.Client(), apiclient.StaticToken("test-token"), discardLogger())

	source, err := provider.New(cloudfile.GoogleDrive, srcDeps)
	require.NoError(t, err)

	err = env.orch.Transfer(context.Background(), file, source, env.adapter(t, cloudfile.OneDrive))
	require.Error(t, err)

	assert.Equal(t, int64(0), env.counters.sessionCreates.Load())
	assert.Equal(t, int64(0), env.counters.cancels.Load())

	rec, ok := env.registry.Get("missing")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "file not found", rec.Error)
}

func TestTransfer_LargeUploadPath(t *testing.T) {
	var chunkRanges []string

	counters := &brokerCounters{}

	mux := http.NewServeMux()

	var srv *httptest.Server

	mux.HandleFunc("POST /api/google/files/{id}/link", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"data":{"url":%q,"permissionId":""}}`, srv.URL+"/raw")
	})

	mux.HandleFunc("GET /raw", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, strings.Repeat("z", 300))
	})

	mux.HandleFunc("POST /api/onedrive/files/uploadSessions", func(w http.ResponseWriter, _ *http.Request) {
		counters.sessionCreates.Add(1)
		fmt.Fprint(w, `{"data":{"sessionId":"sess-1","fileId":"scoped-1:tok-1"}}`)
	})

	mux.HandleFunc("POST /me/drive/root:/{rest...}", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"uploadUrl":%q}`, srv.URL+"/graph-upload")
	})

	mux.HandleFunc("PUT /graph-upload", func(w http.ResponseWriter, r *http.Request) {
		chunkRanges = append(chunkRanges, r.Header.Get("Content-Range"))
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("PUT /api/onedrive/files/uploadSessions/{id}/complete", func(w http.ResponseWriter, _ *http.Request) {
		counters.completes.Add(1)
		fmt.Fprint(w, `{}`)
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	logger := discardLogger()
	api := apiclient.NewClient(srv.URL, srv.Client(), apiclient.StaticToken("test-token"), logger)
	registry := NewRegistry(logger)

	deps := provider.Deps{
		API:       api,
		HTTP:      srv.Client(),
		Logger:    logger,
		GraphURL:  srv.URL,
		ChunkSize: 128,
	}

	source, err := provider.New(cloudfile.GoogleDrive, deps)
	require.NoError(t, err)

	target, err := provider.New(cloudfile.OneDrive, deps)
	require.NoError(t, err)

	// 300-byte buffer over a 128-byte threshold routes to the chunked path.
	orch := NewOrchestrator(api, registry, nil, 128, logger)

	file := &cloudfile.File{ID: "big1", Name: "big.bin"}

	require.NoError(t, orch.Transfer(context.Background(), file, source, target))

	assert.Equal(t, []string{
		"bytes 0-127/300",
		"bytes 128-255/300",
		"bytes 256-299/300",
	}, chunkRanges)

	rec, ok := registry.Get("big1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestTransfer_PhotosTarget_NoSession(t *testing.T) {
	// No session endpoints are registered: a session create would 404 and
	// fail the transfer, so success proves the token path skipped them.
	mux := http.NewServeMux()

	var srv *httptest.Server

	uploads := 0

	mux.HandleFunc("POST /api/google/files/{id}/link", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"data":{"url":%q,"permissionId":""}}`, srv.URL+"/raw")
	})

	mux.HandleFunc("GET /raw", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "photo bytes")
	})

	mux.HandleFunc("POST /api/googlephotos/uploads", func(w http.ResponseWriter, _ *http.Request) {
		uploads++
		fmt.Fprint(w, `{"data":{"uploadToken":"tok-xyz"}}`)
	})

	mux.HandleFunc("POST /api/googlephotos/files", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{}}`)
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	logger := discardLogger()
	api := apiclient.NewClient(srv.URL, srv.Client(), apiclient.StaticToken("test-token"), logger)
	registry := NewRegistry(logger)

	deps := provider.Deps{API: api, HTTP: srv.Client(), Logger: logger}

	source, err := provider.New(cloudfile.GoogleDrive, deps)
	require.NoError(t, err)

	target, err := provider.New(cloudfile.GooglePhotos, deps)
	require.NoError(t, err)

	orch := NewOrchestrator(api, registry, nil, 0, logger)

	file := &cloudfile.File{ID: "pic1", Name: "pic.jpg"}

	require.NoError(t, orch.Transfer(context.Background(), file, source, target))

	assert.Equal(t, 1, uploads)

	rec, ok := registry.Get("pic1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestTransfer_CancelDuringSessionCreate(t *testing.T) {
	started := make(chan struct{})

	mux := http.NewServeMux()

	var srv *httptest.Server

	mux.HandleFunc("POST /api/google/files/{id}/link", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"data":{"url":%q,"permissionId":""}}`, srv.URL+"/raw")
	})

	mux.HandleFunc("GET /raw", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "bytes")
	})

	mux.HandleFunc("POST /api/onedrive/files/uploadSessions", func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection; otherwise a
		// client disconnect never cancels r.Context() and Close deadlocks.
		io.Copy(io.Discard, r.Body) //nolint:errcheck

		close(started)
		// Hold the request open until the transfer's context cancels it.
		<-r.Context().Done()
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	logger := discardLogger()
	api := apiclient.NewClient(srv.URL, srv.Client(), apiclient.StaticToken("test-token"), logger)
	registry := NewRegistry(logger)

	deps := provider.Deps{API: api, HTTP: srv.Client(), Logger: logger, GraphURL: srv.URL}

	source, err := provider.New(cloudfile.GoogleDrive, deps)
	require.NoError(t, err)

	target, err := provider.New(cloudfile.OneDrive, deps)
	require.NoError(t, err)

	orch := NewOrchestrator(api, registry, nil, 0, logger)

	file := &cloudfile.File{ID: "c1", Name: "c.bin"}

	done := make(chan error, 1)

	go func() {
		done <- orch.Transfer(context.Background(), file, source, target)
	}()

	<-started
	require.True(t, registry.Cancel("c1"))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not return after cancel")
	}

	rec, ok := registry.Get("c1")
	require.True(t, ok)
	assert.Equal(t, StatusCanceled, rec.Status)
}
