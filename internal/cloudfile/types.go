// Package cloudfile defines the canonical file representation shared by all
// provider adapters, plus the path grammar used to address folders across
// providers. Adapters normalize their native item shapes into File — callers
// never see raw provider data.
package cloudfile

import (
	"time"

	"golang.org/x/text/unicode/norm"
)

// Provider identifies a cloud storage provider.
type Provider string

// Supported providers. The string values double as the provider segment in
// broker API paths (e.g. /api/google/files).
const (
	GoogleDrive  Provider = "google"
	GooglePhotos Provider = "googlephotos"
	OneDrive     Provider = "onedrive"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case GoogleDrive, GooglePhotos, OneDrive:
		return true
	default:
		return false
	}
}

func (p Provider) String() string {
	return string(p)
}

// Kind distinguishes files from folders.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}

	return "file"
}

// File is the canonical, provider-agnostic representation of a remote item.
// Kind and MimeType are kept mutually consistent by each adapter's
// normalization (Drive marks folders with a dedicated mimeType, OneDrive
// with a folder facet).
type File struct {
	ID           string
	Name         string
	Kind         Kind
	Origin       Provider
	WebURL       string
	DownloadURL  string // provider-specific; may need pre-processing before fetch
	IconURL      string
	ThumbnailURL string
	CreatedAt    time.Time
	MimeType     string
	Size         int64
}

// IsFolder reports whether the item is a folder.
func (f *File) IsFolder() bool {
	return f.Kind == KindFolder
}

// NormalizeName returns the NFC form of a provider-supplied file name.
// Providers disagree on Unicode normalization (macOS clients upload NFD),
// so every adapter runs names through this before building a File.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// Ref identifies a file for batch operations such as delete. Name is carried
// alongside the ID so partial failures can be attributed to a human-readable
// name.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Identity describes the account a provider is connected as. A provider that
// responds 401 to the identity check is reported as not connected rather
// than as an error.
type Identity struct {
	Connected bool
	Email     string
	Name      string
}
