package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudferry/cloudferry/internal/cloudfile"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want cloudfile.Provider
	}{
		{"google", cloudfile.GoogleDrive},
		{"drive", cloudfile.GoogleDrive},
		{"googledrive", cloudfile.GoogleDrive},
		{"googlephotos", cloudfile.GooglePhotos},
		{"photos", cloudfile.GooglePhotos},
		{"onedrive", cloudfile.OneDrive},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseProvider(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseProvider_Unknown(t *testing.T) {
	_, err := parseProvider("dropbox")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dropbox")
}

func TestParseSource(t *testing.T) {
	p, id, err := parseSource("onedrive:ABC123")
	require.NoError(t, err)
	assert.Equal(t, cloudfile.OneDrive, p)
	assert.Equal(t, "ABC123", id)

	// IDs may themselves contain colons; only the first one splits.
	p, id, err = parseSource("google:doc:v2")
	require.NoError(t, err)
	assert.Equal(t, cloudfile.GoogleDrive, p)
	assert.Equal(t, "doc:v2", id)
}

func TestParseSource_Invalid(t *testing.T) {
	for _, in := range []string{"no-colon", "google:", ":id", "dropbox:x"} {
		t.Run(in, func(t *testing.T) {
			_, _, err := parseSource(in)
			assert.Error(t, err)
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, formatSize(tc.bytes))
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))

	past := time.Date(2019, time.March, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Mar  5  2019", formatTime(past))
}
