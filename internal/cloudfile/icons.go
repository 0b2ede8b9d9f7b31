package cloudfile

import (
	"path"
	"strings"
)

// iconBasePath is where the UI serves per-type icons from.
const iconBasePath = "/icons"

// iconByExtension maps lowercase file extensions to icon names. Anything
// unmapped falls back to the generic file icon; folders always get "folder".
var iconByExtension = map[string]string{
	".doc":  "word",
	".docx": "word",
	".xls":  "excel",
	".xlsx": "excel",
	".ppt":  "powerpoint",
	".pptx": "powerpoint",
	".pdf":  "pdf",
	".txt":  "text",
	".md":   "text",
	".csv":  "spreadsheet",
	".jpg":  "image",
	".jpeg": "image",
	".png":  "image",
	".gif":  "image",
	".heic": "image",
	".svg":  "image",
	".mp3":  "audio",
	".wav":  "audio",
	".flac": "audio",
	".mp4":  "video",
	".mov":  "video",
	".mkv":  "video",
	".avi":  "video",
	".zip":  "archive",
	".tar":  "archive",
	".gz":   "archive",
	".7z":   "archive",
	".rar":  "archive",
}

// IconURL derives an icon URL deterministically from a file name's
// extension. The same name always yields the same URL.
func IconURL(name string, kind Kind) string {
	if kind == KindFolder {
		return iconBasePath + "/folder.svg"
	}

	ext := strings.ToLower(path.Ext(name))

	icon, ok := iconByExtension[ext]
	if !ok {
		icon = "file"
	}

	return iconBasePath + "/" + icon + ".svg"
}
