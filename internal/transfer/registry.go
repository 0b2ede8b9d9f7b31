package transfer

import (
	"log/slog"
	"sync"
)

// Registry is the single shared mutable structure of the transfer pipeline.
// Every status and progress mutation flows through Upsert, which merges a
// partial patch into the record for a file and fans the updated record out
// to subscribers. Terminal records persist until Clear.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string // FileIDs in insertion order, for stable listing

	nextSubID int
	subs      map[int]func(Record)

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		records: make(map[string]*Record),
		subs:    make(map[int]func(Record)),
		logger:  logger,
	}
}

// Upsert merges patch into the record for fileID, creating the record if
// absent. Progress updates are last-applied-wins; out-of-order delivery from
// the push channel is not reconciled. The merged record is fanned out to all
// subscribers.
func (r *Registry) Upsert(fileID string, patch Patch) Record {
	r.mu.Lock()

	rec, ok := r.records[fileID]
	if !ok {
		rec = &Record{FileID: fileID}
		r.records[fileID] = rec
		r.order = append(r.order, fileID)
	}

	if patch.FileName != nil {
		rec.FileName = *patch.FileName
	}

	if patch.SessionID != nil {
		rec.SessionID = *patch.SessionID
	}

	if patch.Status != nil {
		rec.Status = *patch.Status
	}

	if patch.DownloadProgress != nil {
		rec.DownloadProgress = *patch.DownloadProgress
	}

	if patch.UploadProgress != nil {
		rec.UploadProgress = *patch.UploadProgress
	}

	if patch.Error != nil {
		rec.Error = *patch.Error
	}

	if patch.Cancel != nil {
		rec.cancel = patch.Cancel
	}

	snapshot := *rec

	subs := make([]func(Record), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}

	r.mu.Unlock()

	// Fan out outside the lock so a slow subscriber cannot stall transfers.
	for _, fn := range subs {
		fn(snapshot)
	}

	return snapshot
}

// Get returns a copy of the record for fileID.
func (r *Registry) Get(fileID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[fileID]
	if !ok {
		return Record{}, false
	}

	return *rec, true
}

// List returns copies of all records in insertion order.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.records[id])
	}

	return out
}

// Clear drops every record. Cancel handles are not invoked; use CancelAll
// for that.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]*Record)
	r.order = nil
}

// CancelAll invokes every non-terminal record's cancel handle and clears the
// registry. Called on explicit user action and on process shutdown so no
// in-flight request is orphaned.
func (r *Registry) CancelAll() {
	r.mu.Lock()

	var cancels []func()

	for _, rec := range r.records {
		if !rec.Status.Terminal() && rec.cancel != nil {
			cancels = append(cancels, rec.cancel)
		}
	}

	count := len(cancels)

	r.records = make(map[string]*Record)
	r.order = nil

	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	if count > 0 {
		r.logger.Info("canceled all transfers", slog.Int("count", count))
	}
}

// Cancel invokes one record's cancel handle. The record itself transitions
// to Canceled through the orchestrator's error path, not here.
func (r *Registry) Cancel(fileID string) bool {
	r.mu.Lock()

	rec, ok := r.records[fileID]

	var cancel func()
	if ok && !rec.Status.Terminal() && rec.cancel != nil {
		cancel = rec.cancel
	}

	r.mu.Unlock()

	if cancel == nil {
		return false
	}

	cancel()

	return true
}

// Subscribe registers a callback invoked with a copy of every upserted
// record. Returns an unsubscribe func. Callbacks run on the upserting
// goroutine and must not call back into the registry synchronously.
func (r *Registry) Subscribe(fn func(Record)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSubID
	r.nextSubID++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		delete(r.subs, id)
	}
}
