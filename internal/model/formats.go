package model

import (
	"path/filepath"
	"strings"
)

// Extensions accepted when enumerating a source folder.
var ImageExtMap = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"bmp":  true,
	"webp": true,
}

// ExtendedImageExtMap is accepted on top of ImageExtMap when extended formats are on.
var ExtendedImageExtMap = map[string]bool{
	"avif": true,
	"ico":  true,
}

var ContentTypeByExt = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"webp": "image/webp",
	"avif": "image/avif",
	"ico":  "image/x-icon",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
}

// IsImageFile reports whether name carries an allow-listed extension (case-insensitive).
func IsImageFile(name string, extended bool) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return false
	}
	return ImageExtMap[ext] || (extended && ExtendedImageExtMap[ext])
}

func ContentType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ct, ok := ContentTypeByExt[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
