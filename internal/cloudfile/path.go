package cloudfile

import "strings"

// Browse paths encode folder ancestry as a slash-separated chain where each
// segment may carry an embedded folder ID suffix: "Documents~abc123/Tax~def".
// Drive-family providers address folders by ID and need only the last
// segment's ID; OneDrive addresses folders by literal path and needs the
// chain with the ID suffixes stripped.

// segmentIDSeparator splits a path segment into display name and folder ID.
const segmentIDSeparator = "~"

// LastSegmentID extracts the folder ID embedded in the final path segment.
// Returns "" when the path is empty or the final segment carries no ID —
// callers treat that as the provider root.
func LastSegmentID(path string) string {
	segments := splitPath(path)
	if len(segments) == 0 {
		return ""
	}

	last := segments[len(segments)-1]

	idx := strings.LastIndex(last, segmentIDSeparator)
	if idx < 0 || idx == len(last)-1 {
		return ""
	}

	return last[idx+1:]
}

// StripSegmentIDs removes the ID suffix from every segment and rejoins the
// chain into a plain path ("Documents/Tax"). Segments without a suffix pass
// through unchanged. Returns "" for the root.
func StripSegmentIDs(path string) string {
	segments := splitPath(path)
	for i, seg := range segments {
		if idx := strings.LastIndex(seg, segmentIDSeparator); idx >= 0 {
			segments[i] = seg[:idx]
		}
	}

	return strings.Join(segments, "/")
}

// JoinSegment appends a folder to a browse path, embedding its ID.
func JoinSegment(path, name, id string) string {
	seg := name
	if id != "" {
		seg = name + segmentIDSeparator + id
	}

	if path == "" {
		return seg
	}

	return path + "/" + seg
}

// splitPath splits on "/" and drops empty segments, so "/", "" and
// "a//b" are all handled uniformly.
func splitPath(path string) []string {
	raw := strings.Split(path, "/")

	segments := make([]string, 0, len(raw))

	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}

	return segments
}
