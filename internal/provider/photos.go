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
)

// photosAdapter talks to Google Photos through the broker. Photo bytes are
// not directly fetchable cross-origin, so every download is relayed through
// the broker's proxy endpoint. Uploads do not use broker upload sessions;
// Photos runs the raw upload-token protocol instead (bytes first, then a
// media item created from the returned token).
type photosAdapter struct {
	api    *apiclient.Client
	logger *slog.Logger
}

func newPhotosAdapter(deps Deps) *photosAdapter {
	return &photosAdapter{
		api:    deps.API,
		logger: deps.Logger,
	}
}

func (a *photosAdapter) Provider() cloudfile.Provider {
	return cloudfile.GooglePhotos
}

// photosItem mirrors the Photos media item fields we consume. Albums arrive
// through the same listing with an isAlbum marker instead of a mimeType.
type photosItem struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	Title         string `json:"title"`
	MimeType      string `json:"mimeType"`
	BaseURL       string `json:"baseUrl"`
	ProductURL    string `json:"productUrl"`
	IsAlbum       bool   `json:"isAlbum"`
	MediaMetadata struct {
		CreationTime string `json:"creationTime"`
	} `json:"mediaMetadata"`
}

func (a *photosAdapter) normalize(raw json.RawMessage) (cloudfile.File, error) {
	var item photosItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return cloudfile.File{}, fmt.Errorf("provider: decoding photos item: %w", err)
	}

	kind := cloudfile.KindFile
	if item.IsAlbum {
		kind = cloudfile.KindFolder
	}

	// Albums carry a title, media items a filename.
	rawName := item.Filename
	if rawName == "" {
		rawName = item.Title
	}

	name := cloudfile.NormalizeName(rawName)

	f := cloudfile.File{
		ID:           item.ID,
		Name:         name,
		Kind:         kind,
		Origin:       cloudfile.GooglePhotos,
		WebURL:       item.ProductURL,
		IconURL:      cloudfile.IconURL(name, kind),
		MimeType:     item.MimeType,
		ThumbnailURL: item.BaseURL,
	}

	if item.BaseURL != "" {
		// "=d" asks Photos for original bytes instead of a display rendition.
		f.DownloadURL = item.BaseURL + "=d"
	}

	if ct := item.MediaMetadata.CreationTime; ct != "" {
		if t, err := time.Parse(time.RFC3339, ct); err == nil {
			f.CreatedAt = t
		} else {
			a.logger.Warn("invalid photos creationTime",
				slog.String("item_id", item.ID),
				slog.String("raw", ct),
			)
		}
	}

	return f, nil
}

func (a *photosAdapter) ListFiles(ctx context.Context, opts ListOptions) (*ListResult, error) {
	return listFiles(ctx, a.api, cloudfile.GooglePhotos, a.pathParam(opts), opts, false, a.normalize)
}

func (a *photosAdapter) ListFolders(ctx context.Context, opts ListOptions) (*ListResult, error) {
	return listFiles(ctx, a.api, cloudfile.GooglePhotos, a.pathParam(opts), opts, true, a.normalize)
}

// pathParam resolves the browse path to the album ID embedded in the last
// segment, or "" for the library root. Query search ignores the album filter.
func (a *photosAdapter) pathParam(opts ListOptions) string {
	if opts.Query != "" {
		return ""
	}

	return cloudfile.LastSegmentID(opts.Path)
}

func (a *photosAdapter) GetFile(ctx context.Context, id string) (*cloudfile.File, error) {
	return getFile(ctx, a.api, cloudfile.GooglePhotos, id, a.normalize)
}

func (a *photosAdapter) DeleteFiles(ctx context.Context, refs []cloudfile.Ref) error {
	return deleteFiles(ctx, a.api, cloudfile.GooglePhotos, refs)
}

func (a *photosAdapter) CreateFolder(ctx context.Context, name, path string) error {
	return createFolder(ctx, a.api, cloudfile.GooglePhotos, name, a.pathParam(ListOptions{Path: path}))
}

func (a *photosAdapter) Identity(ctx context.Context) (*cloudfile.Identity, error) {
	return identity(ctx, a.api, cloudfile.GooglePhotos)
}

// relayURL routes a photo download through the broker's server-side proxy.
// Photo CDN URLs reject cross-origin fetches, so the bytes must be pulled
// by the broker and streamed back.
func relayURL(baseURL, rawURL string) (string, error) {
	if rawURL == "" {
		return "", apiclient.NewValidationError("missing download URL for relay")
	}

	params := url.Values{}
	params.Set("url", rawURL)

	return baseURL + "/api/googlephotos/relay?" + params.Encode(), nil
}

// Fetch acquires the photo's original bytes through the relay proxy.
func (a *photosAdapter) Fetch(
	ctx context.Context, file *cloudfile.File, w io.Writer, progress apiclient.ProgressFunc,
) (*FetchInfo, error) {
	a.logger.Info("fetching photos file",
		slog.String("file_id", file.ID),
		slog.String("mime_type", file.MimeType),
	)

	fetchURL, err := relayURL(a.api.BaseURL(), file.DownloadURL)
	if err != nil {
		return nil, err
	}

	if _, err := a.api.FetchURL(ctx, fetchURL, w, progress); err != nil {
		return nil, err
	}

	return &FetchInfo{}, nil
}

// uploadTokenResponse carries the opaque token minted for raw bytes.
type uploadTokenResponse struct {
	Data struct {
		UploadToken string `json:"uploadToken"`
	} `json:"data"`
}

// UploadWithToken runs the two-step Photos upload: raw bytes are POSTed to
// the broker's uploads endpoint, which returns an upload token; a media item
// is then created from the token. There is no broker upload session, so
// there is nothing to compensate if the second step fails.
func (a *photosAdapter) UploadWithToken(
	ctx context.Context, name string, data []byte, progress apiclient.ProgressFunc,
) error {
	a.logger.Info("photos token upload",
		slog.String("name", name),
		slog.Int("size", len(data)),
	)

	resp, err := a.api.DoRaw(ctx, http.MethodPost, "/api/googlephotos/uploads",
		bytes.NewReader(data), "application/octet-stream",
		map[string]string{"X-Goog-Upload-File-Name": name})
	if err != nil {
		return err
	}

	var utr uploadTokenResponse
	if decErr := json.Unmarshal(resp, &utr); decErr != nil {
		return fmt.Errorf("provider: decoding upload token response: %w", decErr)
	}

	if utr.Data.UploadToken == "" {
		return apiclient.NewValidationError("empty upload token for %q", name)
	}

	payload, err := json.Marshal(map[string]string{
		"uploadToken": utr.Data.UploadToken,
		"fileName":    name,
	})
	if err != nil {
		return fmt.Errorf("provider: marshaling media item request: %w", err)
	}

	if _, err := a.api.DoJSON(ctx, http.MethodPost, "/api/googlephotos/files", bytes.NewReader(payload)); err != nil {
		return err
	}

	if progress != nil {
		progress(100)
	}

	return nil
}
