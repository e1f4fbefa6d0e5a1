package utils

import (
	"fmt"
	"path/filepath"
	"strings"

	"deskchat/apperr"
)

// FileExtension is one of the attachment extensions the client accepts
type FileExtension string

const (
	ExtTXT  FileExtension = ".txt"
	ExtMD   FileExtension = ".md"
	ExtPY   FileExtension = ".py"
	ExtJSON FileExtension = ".json"

	ExtPNG  FileExtension = ".png"
	ExtJPG  FileExtension = ".jpg"
	ExtJPEG FileExtension = ".jpeg"
	ExtGIF  FileExtension = ".gif"
	ExtWEBP FileExtension = ".webp"
)

const (
	// MaxTextFileSize is the largest text attachment accepted (1 MiB)
	MaxTextFileSize = 1 << 20
	// MaxImageFileSize is the largest image attachment accepted (10 MiB)
	MaxImageFileSize = 10 << 20
	// MaxImageDimension is the longest side kept before an image is downscaled
	MaxImageDimension = 2048
)

// TextExtensions returns the extensions attached as text
func TextExtensions() []FileExtension {
	return []FileExtension{ExtTXT, ExtMD, ExtPY, ExtJSON}
}

// ImageExtensions returns the extensions attached as images
func ImageExtensions() []FileExtension {
	return []FileExtension{ExtPNG, ExtJPG, ExtJPEG, ExtGIF, ExtWEBP}
}

// AllExtensions returns every accepted extension, text first
func AllExtensions() []FileExtension {
	return append(TextExtensions(), ImageExtensions()...)
}

// ExtensionFilter returns AllExtensions as plain strings, for file dialogs
func ExtensionFilter() []string {
	exts := AllExtensions()
	out := make([]string, len(exts))
	for i, e := range exts {
		out[i] = string(e)
	}
	return out
}

// ParseFileExtension returns the extension of filename if it is accepted
func ParseFileExtension(filename string) (FileExtension, error) {
	ext := FileExtension(strings.ToLower(filepath.Ext(filename)))
	if ext.IsText() || ext.IsImage() {
		return ext, nil
	}
	names := make([]string, 0, len(AllExtensions()))
	for _, e := range AllExtensions() {
		names = append(names, string(e))
	}
	return "", apperr.Validation("unsupported file type %q; supported: %s", filepath.Ext(filename), strings.Join(names, " "))
}

// IsText reports whether the extension is attached as text
func (e FileExtension) IsText() bool {
	switch e {
	case ExtTXT, ExtMD, ExtPY, ExtJSON:
		return true
	}
	return false
}

// IsImage reports whether the extension is attached as an image
func (e FileExtension) IsImage() bool {
	switch e {
	case ExtPNG, ExtJPG, ExtJPEG, ExtGIF, ExtWEBP:
		return true
	}
	return false
}

// MaxSize is the size limit for files with this extension
func (e FileExtension) MaxSize() int64 {
	if e.IsImage() {
		return MaxImageFileSize
	}
	return MaxTextFileSize
}

// MimeType returns the MIME type stored with attachments of this extension
func (e FileExtension) MimeType() string {
	switch e {
	case ExtTXT:
		return "text/plain"
	case ExtMD:
		return "text/markdown"
	case ExtPY:
		return "text/x-python"
	case ExtJSON:
		return "application/json"
	case ExtPNG:
		return "image/png"
	case ExtJPG, ExtJPEG:
		return "image/jpeg"
	case ExtGIF:
		return "image/gif"
	case ExtWEBP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
