package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cloudferry/cloudferry/internal/apiclient"
	"github.com/cloudferry/cloudferry/internal/cloudfile"
	"github.com/cloudferry/cloudferry/internal/quickxor"
)

// insufficientStorageMessage is the user-legible message for a 507 from the
// OneDrive upload endpoints. Unlike other upload failures it names the cause
// so the user can act on it.
const insufficientStorageMessage = "not enough storage space in the destination OneDrive account"

// oneDriveAdapter talks to OneDrive through the broker for metadata and
// directly to the Graph API for uploads. Downloads use the pre-authenticated
// download URL from the listing; no rewrite or relay is needed.
type oneDriveAdapter struct {
	api       *apiclient.Client
	http      *http.Client
	graphURL  string
	chunkSize int64
	logger    *slog.Logger
}

func newOneDriveAdapter(deps Deps) *oneDriveAdapter {
	return &oneDriveAdapter{
		api:       deps.API,
		http:      deps.HTTP,
		graphURL:  deps.GraphURL,
		chunkSize: deps.ChunkSize,
		logger:    deps.Logger,
	}
}

func (a *oneDriveAdapter) Provider() cloudfile.Provider {
	return cloudfile.OneDrive
}

// ChunkSize returns the large-upload chunk size in effect, which doubles as
// the simple/large path threshold.
func (a *oneDriveAdapter) ChunkSize() int64 {
	return a.chunkSize
}

// oneDriveItem mirrors the Graph driveItem fields we consume. Folders are
// marked by the presence of the folder facet, not a mimeType.
type oneDriveItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Size            int64  `json:"size"`
	CreatedDateTime string `json:"createdDateTime"`
	WebURL          string `json:"webUrl"`
	DownloadURL     string `json:"@microsoft.graph.downloadUrl"`
	File            *struct {
		MimeType string `json:"mimeType"`
		Hashes   struct {
			QuickXorHash string `json:"quickXorHash"`
		} `json:"hashes"`
	} `json:"file"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
	Thumbnails []struct {
		Medium struct {
			URL string `json:"url"`
		} `json:"medium"`
	} `json:"thumbnails"`
}

func (a *oneDriveAdapter) normalize(raw json.RawMessage) (cloudfile.File, error) {
	var item oneDriveItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return cloudfile.File{}, fmt.Errorf("provider: decoding onedrive item: %w", err)
	}

	kind := cloudfile.KindFile
	if item.Folder != nil {
		kind = cloudfile.KindFolder
	}

	name := cloudfile.NormalizeName(item.Name)

	f := cloudfile.File{
		ID:          item.ID,
		Name:        name,
		Kind:        kind,
		Origin:      cloudfile.OneDrive,
		WebURL:      item.WebURL,
		DownloadURL: item.DownloadURL,
		IconURL:     cloudfile.IconURL(name, kind),
		Size:        item.Size,
	}

	if item.File != nil {
		f.MimeType = item.File.MimeType
	}

	if len(item.Thumbnails) > 0 {
		f.ThumbnailURL = item.Thumbnails[0].Medium.URL
	}

	if item.CreatedDateTime != "" {
		if t, err := time.Parse(time.RFC3339, item.CreatedDateTime); err == nil {
			f.CreatedAt = t
		} else {
			a.logger.Warn("invalid onedrive createdDateTime",
				slog.String("item_id", item.ID),
				slog.String("raw", item.CreatedDateTime),
			)
		}
	}

	return f, nil
}

func (a *oneDriveAdapter) ListFiles(ctx context.Context, opts ListOptions) (*ListResult, error) {
	return listFiles(ctx, a.api, cloudfile.OneDrive, a.pathParam(opts), opts, false, a.normalize)
}

func (a *oneDriveAdapter) ListFolders(ctx context.Context, opts ListOptions) (*ListResult, error) {
	return listFiles(ctx, a.api, cloudfile.OneDrive, a.pathParam(opts), opts, true, a.normalize)
}

// pathParam resolves the browse path for OneDrive, which addresses items by
// literal path: the embedded folder-ID suffixes are stripped from every
// segment rather than extracted. Query search ignores the path.
func (a *oneDriveAdapter) pathParam(opts ListOptions) string {
	if opts.Query != "" {
		return ""
	}

	return cloudfile.StripSegmentIDs(opts.Path)
}

func (a *oneDriveAdapter) GetFile(ctx context.Context, id string) (*cloudfile.File, error) {
	return getFile(ctx, a.api, cloudfile.OneDrive, id, a.normalize)
}

func (a *oneDriveAdapter) DeleteFiles(ctx context.Context, refs []cloudfile.Ref) error {
	return deleteFiles(ctx, a.api, cloudfile.OneDrive, refs)
}

func (a *oneDriveAdapter) CreateFolder(ctx context.Context, name, path string) error {
	return createFolder(ctx, a.api, cloudfile.OneDrive, name, a.pathParam(ListOptions{Path: path}))
}

func (a *oneDriveAdapter) Identity(ctx context.Context) (*cloudfile.Identity, error) {
	return identity(ctx, a.api, cloudfile.OneDrive)
}

// Fetch acquires the file's bytes from the listed download URL directly.
// The URL is pre-authenticated by OneDrive, so no rewrite is needed.
func (a *oneDriveAdapter) Fetch(
	ctx context.Context, file *cloudfile.File, w io.Writer, progress apiclient.ProgressFunc,
) (*FetchInfo, error) {
	a.logger.Info("fetching onedrive file",
		slog.String("file_id", file.ID),
		slog.Int64("size", file.Size),
	)

	if file.DownloadURL == "" {
		return nil, apiclient.NewValidationError("missing download URL for %q", file.Name)
	}

	if _, err := a.api.FetchURL(ctx, file.DownloadURL, w, progress); err != nil {
		return nil, err
	}

	return &FetchInfo{}, nil
}

// Upload sends the buffer as a single content PUT, authenticated with the
// session's access token. Only for buffers at or below the chunk threshold.
func (a *oneDriveAdapter) Upload(
	ctx context.Context, session *apiclient.Session, name string, data []byte, progress apiclient.ProgressFunc,
) error {
	a.logger.Info("onedrive simple upload",
		slog.String("name", name),
		slog.Int("size", len(data)),
	)

	uploadURL := fmt.Sprintf("%s/me/drive/root:/%s:/content", a.graphURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("provider: creating onedrive upload request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider: onedrive upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkUploadStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("provider: reading onedrive upload response: %w", err)
	}

	a.verifyUploadedHash(body, data, name)

	if progress != nil {
		progress(100)
	}

	return nil
}

// verifyUploadedHash compares the QuickXorHash OneDrive reports for the
// stored item against a local digest of the uploaded bytes. A mismatch is
// logged, not returned: the upload itself succeeded, and Graph omits the
// hash for some item types.
func (a *oneDriveAdapter) verifyUploadedHash(body, data []byte, name string) {
	var item oneDriveItem
	if err := json.Unmarshal(body, &item); err != nil {
		return
	}

	if item.File == nil || item.File.Hashes.QuickXorHash == "" {
		return
	}

	local := quickxor.SumBase64(data)
	if local != item.File.Hashes.QuickXorHash {
		a.logger.Warn("uploaded content hash mismatch",
			slog.String("name", name),
			slog.String("local", local),
			slog.String("remote", item.File.Hashes.QuickXorHash),
		)
	}
}

// graphUploadSession is the Graph-side resumable session. Distinct from the
// broker session: the broker session tracks the transfer, the Graph session
// tracks the chunked byte stream. Its URL is pre-authenticated.
type graphUploadSession struct {
	UploadURL string `json:"uploadUrl"`
}

// UploadLarge uploads via the chunked Graph protocol: a resumable session is
// created with the broker session's access token, then the buffer is tiled
// into strictly sequential Content-Range PUTs of chunkSize bytes (the
// protocol forbids concurrent chunk upload to one session). Progress is
// recomputed after each chunk; a final 100 is always emitted so rounding
// never leaves the bar short.
func (a *oneDriveAdapter) UploadLarge(
	ctx context.Context, session *apiclient.Session, name string, data []byte, progress apiclient.ProgressFunc,
) error {
	total := int64(len(data))

	a.logger.Info("onedrive large upload",
		slog.String("name", name),
		slog.Int64("size", total),
		slog.Int64("chunk_size", a.chunkSize),
	)

	gs, err := a.createGraphSession(ctx, session, name)
	if err != nil {
		return err
	}

	for offset := int64(0); offset < total; offset += a.chunkSize {
		end := offset + a.chunkSize
		if end > total {
			end = total
		}

		body, err := a.uploadChunk(ctx, gs, data[offset:end], offset, end, total)
		if err != nil {
			return err
		}

		// The final chunk's response is the completed driveItem.
		if end == total {
			a.verifyUploadedHash(body, data, name)
		}

		if progress != nil {
			progress(apiclient.Percent(end, total))
		}
	}

	if progress != nil {
		progress(100)
	}

	return nil
}

func (a *oneDriveAdapter) createGraphSession(
	ctx context.Context, session *apiclient.Session, name string,
) (*graphUploadSession, error) {
	sessionURL := fmt.Sprintf("%s/me/drive/root:/%s:/createUploadSession", a.graphURL, url.PathEscape(name))

	payload, err := json.Marshal(map[string]any{
		"item": map[string]string{"@microsoft.graph.conflictBehavior": "rename"},
	})
	if err != nil {
		return nil, fmt.Errorf("provider: marshaling upload session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sessionURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider: creating upload session request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: upload session request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkUploadStatus(resp); err != nil {
		return nil, err
	}

	var gs graphUploadSession
	if decErr := json.NewDecoder(resp.Body).Decode(&gs); decErr != nil {
		return nil, fmt.Errorf("provider: decoding upload session response: %w", decErr)
	}

	if gs.UploadURL == "" {
		return nil, apiclient.NewValidationError("upload session response missing uploadUrl")
	}

	return &gs, nil
}

// uploadChunk PUTs one byte range. The session URL is pre-authenticated, so
// no Authorization header is sent. 202 acknowledges an intermediate chunk;
// 200/201 arrives on the final one.
func (a *oneDriveAdapter) uploadChunk(
	ctx context.Context, gs *graphUploadSession, chunk []byte, offset, end, total int64,
) ([]byte, error) {
	a.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("end", end),
		slog.Int64("total", total),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, gs.UploadURL, bytes.NewReader(chunk))
	if err != nil {
		return nil, fmt.Errorf("provider: creating chunk request: %w", err)
	}

	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end-1, total))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = end - offset

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: chunk upload failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkUploadStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider: reading chunk response: %w", err)
	}

	return body, nil
}

// checkUploadStatus classifies a non-2xx response from a OneDrive upload
// endpoint. 507 gets the distinct insufficient-storage message; everything
// else carries whatever the body said.
func checkUploadStatus(resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	if resp.StatusCode == http.StatusInsufficientStorage {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // body content irrelevant for 507

		return apiclient.StatusError(resp.StatusCode, insufficientStorageMessage)
	}

	errBody, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message

	return apiclient.StatusError(resp.StatusCode, "onedrive upload failed: %s", string(errBody))
}
