package provider

import (
	"net/url"

	"github.com/cloudferry/cloudferry/internal/apiclient"
)

// Google-native mimeTypes are not directly fetchable; they must be exported
// through the broker's conversion endpoint into an interoperable binary
// format. The mapping is fixed — an unmapped native mimeType is a
// validation error, reported before any network call.
var googleExportMimeTypes = map[string]string{
	"application/vnd.google-apps.document":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.google-apps.spreadsheet":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.google-apps.presentation": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.google-apps.drawing":      "image/png",
	"application/vnd.google-apps.script":       "application/vnd.google-apps.script+json",
}

// googleNativePrefix marks mimeTypes owned by Google editors.
const googleNativePrefix = "application/vnd.google-apps."

// isGoogleNative reports whether the mimeType denotes a Google editors
// format that requires export before its bytes can be fetched.
func isGoogleNative(mimeType string) bool {
	return len(mimeType) >= len(googleNativePrefix) && mimeType[:len(googleNativePrefix)] == googleNativePrefix
}

// GoogleExportMimeType resolves the export target format for a Google-native
// mimeType. Unmapped input (including the folder mimeType) is a 400-class
// validation error.
func GoogleExportMimeType(mimeType string) (string, error) {
	target, ok := googleExportMimeTypes[mimeType]
	if !ok {
		return "", apiclient.NewValidationError("no export mapping for mimeType %q", mimeType)
	}

	return target, nil
}

// exportURL rewrites a raw download URL to route through the broker's export
// endpoint, converting the document to targetMime during the fetch.
func exportURL(baseURL, rawURL, targetMime string) (string, error) {
	if rawURL == "" {
		return "", apiclient.NewValidationError("missing download URL for export")
	}

	params := url.Values{}
	params.Set("url", rawURL)
	params.Set("mimeType", targetMime)

	return baseURL + "/api/google/export?" + params.Encode(), nil
}
