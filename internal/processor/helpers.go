package processor

import (
	"path/filepath"
	"strings"
)

// ContentTypeFor returns the MIME type to advertise for an artifact file.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".ts":
		return "video/mp2t"
	case ".gif":
		return "image/gif"
	case ".mp3":
		return "audio/mpeg"
	case ".aac":
		return "audio/aac"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// archiveKey is the object key an artifact is archived under.
func archiveKey(token, deliveryName string) string {
	return "renders/" + token + "/" + deliveryName
}
