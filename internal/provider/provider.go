// Package provider implements the per-provider adapters (Google Drive,
// Google Photos, OneDrive) that translate the canonical file operations into
// broker and provider-native HTTP calls, normalizing every result to
// cloudfile.File.
package provider

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

	"github.com/cloudferry/cloudferry/internal/apiclient"
	"github.com/cloudferry/cloudferry/internal/cloudfile"
)

// ErrUnknownProvider is returned by New for unsupported provider names.
var ErrUnknownProvider = errors.New("provider: unknown provider")

// ListOptions parameterizes a listing call. Query, when present, switches
// the listing into recursive name-search mode which ignores the parent
// filter. Extra is forwarded untouched (the broker uses it as part of its
// caching key for folders-only listings).
type ListOptions struct {
	Path      string
	Query     string
	PageToken string
	Extra     url.Values
}

// ListResult is one page of canonical files.
type ListResult struct {
	Files         []cloudfile.File
	NextPageToken string
}

// FetchInfo reports side effects of acquiring a file's bytes. For Google
// Drive, generating a fetchable link may create a share permission whose ID
// is needed later when finalizing the transfer.
type FetchInfo struct {
	PermissionID string
}

// Adapter is the canonical operation surface every provider implements.
// Download/upload specifics differ enough per provider that the transfer
// orchestrator type-asserts the narrower upload interfaces it needs.
type Adapter interface {
	Provider() cloudfile.Provider
	ListFiles(ctx context.Context, opts ListOptions) (*ListResult, error)
	ListFolders(ctx context.Context, opts ListOptions) (*ListResult, error)
	GetFile(ctx context.Context, id string) (*cloudfile.File, error)
	DeleteFiles(ctx context.Context, refs []cloudfile.Ref) error
	CreateFolder(ctx context.Context, name, path string) error
	Identity(ctx context.Context) (*cloudfile.Identity, error)

	// Fetch streams the file's bytes to w, applying provider-specific
	// pre-processing (export rewrite, relay proxying) before the fetch.
	Fetch(ctx context.Context, file *cloudfile.File, w io.Writer, progress apiclient.ProgressFunc) (*FetchInfo, error)
}

// SessionUploader uploads a full buffer in one request against a
// broker-issued upload session. Implemented by Drive and OneDrive.
type SessionUploader interface {
	Upload(ctx context.Context, session *apiclient.Session, name string, data []byte, progress apiclient.ProgressFunc) error
}

// LargeUploader uploads via the sequential chunked protocol. OneDrive only.
type LargeUploader interface {
	UploadLarge(ctx context.Context, session *apiclient.Session, name string, data []byte, progress apiclient.ProgressFunc) error
}

// TokenUploader uploads via the raw upload-token protocol. Google Photos
// only — Photos does not use broker upload sessions.
type TokenUploader interface {
	UploadWithToken(ctx context.Context, name string, data []byte, progress apiclient.ProgressFunc) error
}

// Deps carries the shared collaborators adapters are built from.
type Deps struct {
	API    *apiclient.Client
	HTTP   *http.Client // direct provider-native calls (uploads)
	Logger *slog.Logger

	// Provider-native endpoint origins, overridable for tests.
	GraphURL       string // OneDrive Graph API
	DriveUploadURL string // Google Drive multipart upload

	// ChunkSize is the OneDrive large-upload chunk size in bytes. Must be a
	// multiple of 320KiB per the Graph upload-session protocol.
	ChunkSize int64
}

func (d *Deps) defaults() {
	if d.HTTP == nil {
		d.HTTP = http.DefaultClient
	}

	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	if d.GraphURL == "" {
		d.GraphURL = "https://graph.microsoft.com/v1.0"
	}

	if d.DriveUploadURL == "" {
		d.DriveUploadURL = "https://www.googleapis.com/upload/drive/v3/files"
	}

	if d.ChunkSize <= 0 {
		d.ChunkSize = DefaultChunkSize
	}
}

// Graph protocol chunk alignment unit. Chunk sizes must be a multiple of
// this or non-final chunks are rejected.
const ChunkAlignment int64 = 320 * 1024

// DefaultChunkSize is 10MiB, 320KiB-aligned.
const DefaultChunkSize = 32 * ChunkAlignment

// New builds the adapter for the given provider.
func New(p cloudfile.Provider, deps Deps) (Adapter, error) {
	deps.defaults()

	switch p {
	case cloudfile.GoogleDrive:
		return newDriveAdapter(deps), nil
	case cloudfile.GooglePhotos:
		return newPhotosAdapter(deps), nil
	case cloudfile.OneDrive:
		return newOneDriveAdapter(deps), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
}

// listFilesResponse is the broker's listing envelope. Items arrive in the
// provider's native shape; each adapter supplies the normalize hook.
type listFilesResponse struct {
	Data struct {
		Files         []json.RawMessage `json:"files"`
		NextPageToken string            `json:"nextPageToken"`
	} `json:"data"`
}

// normalizeFunc converts one provider-native item into a canonical File.
type normalizeFunc func(raw json.RawMessage) (cloudfile.File, error)

// listFiles performs the shared broker listing call. pathParam is the
// provider-appropriate rendition of the browse path (parent folder ID for
// Drive-family, stripped literal path for OneDrive).
func listFiles(
	ctx context.Context, api *apiclient.Client, p cloudfile.Provider,
	pathParam string, opts ListOptions, foldersOnly bool, normalize normalizeFunc,
) (*ListResult, error) {
	params := url.Values{}
	params.Set("fields", "*")
	params.Set("path", pathParam)

	if opts.Query != "" {
		params.Set("query", opts.Query)
	}

	if opts.PageToken != "" {
		params.Set("next_token", opts.PageToken)
	}

	if foldersOnly {
		params.Set("folders_only", "true")

		for k, vs := range opts.Extra {
			for _, v := range vs {
				params.Add(k, v)
			}
		}
	}

	data, err := api.DoJSON(ctx, http.MethodGet, fmt.Sprintf("/api/%s/files?%s", p, params.Encode()), nil)
	if err != nil {
		return nil, err
	}

	var lfr listFilesResponse
	if decErr := json.Unmarshal(data, &lfr); decErr != nil {
		return nil, fmt.Errorf("provider: decoding listing response: %w", decErr)
	}

	result := &ListResult{NextPageToken: lfr.Data.NextPageToken}

	for _, raw := range lfr.Data.Files {
		f, normErr := normalize(raw)
		if normErr != nil {
			return nil, normErr
		}

		result.Files = append(result.Files, f)
	}

	return result, nil
}

// getFile fetches a single item's metadata and normalizes it.
func getFile(
	ctx context.Context, api *apiclient.Client, p cloudfile.Provider,
	id string, normalize normalizeFunc,
) (*cloudfile.File, error) {
	data, err := api.DoJSON(ctx, http.MethodGet, fmt.Sprintf("/api/%s/files/%s", p, url.PathEscape(id)), nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data struct {
			File json.RawMessage `json:"file"`
		} `json:"data"`
	}

	if decErr := json.Unmarshal(data, &envelope); decErr != nil {
		return nil, fmt.Errorf("provider: decoding file response: %w", decErr)
	}

	f, err := normalize(envelope.Data.File)
	if err != nil {
		return nil, err
	}

	return &f, nil
}

// deleteFiles issues the batch delete. A 2xx response carrying a non-empty
// error list surfaces as apiclient.PartialError so callers can attribute
// failures per file.
func deleteFiles(ctx context.Context, api *apiclient.Client, p cloudfile.Provider, refs []cloudfile.Ref) error {
	if len(refs) == 0 {
		return nil
	}

	payload, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("provider: marshaling delete refs: %w", err)
	}

	path := fmt.Sprintf("/api/%s/files?files=%s", p, url.QueryEscape(string(payload)))

	_, err = api.DoJSON(ctx, http.MethodDelete, path, nil)

	return err
}

// createFolder creates a folder under the given browse path.
func createFolder(ctx context.Context, api *apiclient.Client, p cloudfile.Provider, name, pathParam string) error {
	payload, err := json.Marshal(map[string]string{
		"name": name,
		"path": pathParam,
	})
	if err != nil {
		return fmt.Errorf("provider: marshaling create folder request: %w", err)
	}

	_, err = api.DoJSON(ctx, http.MethodPost, fmt.Sprintf("/api/%s/files/folders", p), bytes.NewReader(payload))

	return err
}

// identity performs the "get current identity" check. A 401 is not an error:
// it signals the provider is simply not connected for this user.
func identity(ctx context.Context, api *apiclient.Client, p cloudfile.Provider) (*cloudfile.Identity, error) {
	data, err := api.DoJSON(ctx, http.MethodGet, fmt.Sprintf("/api/%s/me", p), nil)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			return &cloudfile.Identity{Connected: false}, nil
		}

		return nil, err
	}

	var envelope struct {
		Data struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"data"`
	}

	if decErr := json.Unmarshal(data, &envelope); decErr != nil {
		return nil, fmt.Errorf("provider: decoding identity response: %w", decErr)
	}

	return &cloudfile.Identity{
		Connected: true,
		Email:     envelope.Data.Email,
		Name:      envelope.Data.Name,
	}, nil
}
