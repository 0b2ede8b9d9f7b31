package cloudfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLastSegmentID(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"empty path", "", ""},
		{"root slash", "/", ""},
		{"single segment with id", "Documents~abc123", "abc123"},
		{"chain takes last id", "Documents~abc/Tax~def456", "def456"},
		{"segment without id", "Documents", ""},
		{"last segment without id", "Documents~abc/Tax", ""},
		{"tilde in name keeps last separator", "back~up~xyz", "xyz"},
		{"trailing separator yields empty", "Documents~", ""},
		{"leading slash ignored", "/Photos~p1", "p1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LastSegmentID(tt.path))
		})
	}
}

func TestStripSegmentIDs(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"empty", "", ""},
		{"single", "Documents~abc123", "Documents"},
		{"chain", "Documents~abc/Tax~def/2024~ghi", "Documents/Tax/2024"},
		{"mixed plain segments", "Documents/Tax~def", "Documents/Tax"},
		{"double slash collapsed", "a~1//b~2", "a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripSegmentIDs(tt.path))
		})
	}
}

func TestJoinSegment(t *testing.T) {
	assert.Equal(t, "Docs~d1", JoinSegment("", "Docs", "d1"))
	assert.Equal(t, "Docs~d1/Tax~t1", JoinSegment("Docs~d1", "Tax", "t1"))
	assert.Equal(t, "Docs~d1/Tax", JoinSegment("Docs~d1", "Tax", ""))

	// Round trip: ID embedded by JoinSegment is recovered by LastSegmentID.
	p := JoinSegment(JoinSegment("", "a", "1"), "b", "2")
	assert.Equal(t, "2", LastSegmentID(p))
	assert.Equal(t, "a/b", StripSegmentIDs(p))
}

func TestIconURL(t *testing.T) {
	assert.Equal(t, "/icons/folder.svg", IconURL("anything", KindFolder))
	assert.Equal(t, "/icons/word.svg", IconURL("report.DOCX", KindFile))
	assert.Equal(t, "/icons/image.svg", IconURL("photo.jpeg", KindFile))
	assert.Equal(t, "/icons/file.svg", IconURL("unknown.xyz", KindFile))
	assert.Equal(t, "/icons/file.svg", IconURL("noextension", KindFile))

	// Deterministic: same input, same output.
	assert.Equal(t, IconURL("a.pdf", KindFile), IconURL("a.pdf", KindFile))
}

func TestNormalizeName(t *testing.T) {
	// NFD "é" (e + combining acute) normalizes to NFC single rune.
	nfd := "résumé.pdf"
	nfc := "résumé.pdf"
	assert.Equal(t, nfc, NormalizeName(nfd))
	assert.Equal(t, nfc, NormalizeName(nfc))
}

func TestProviderValid(t *testing.T) {
	assert.True(t, GoogleDrive.Valid())
	assert.True(t, GooglePhotos.Valid())
	assert.True(t, OneDrive.Valid())
	assert.False(t, Provider("dropbox").Valid())
}
