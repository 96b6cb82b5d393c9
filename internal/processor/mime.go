package processor

import (
	"bytes"
	"mime"
	"strings"
)

// Allowed input formats
const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWEBP = "image/webp"
)

var allowedMimeTypes = map[string]bool{
	MimeJPEG: true,
	MimePNG:  true,
	MimeWEBP: true,
}

// IsAllowedMimeType reports whether the normalized MIME type is accepted.
func IsAllowedMimeType(mimeType string) bool {
	return allowedMimeTypes[NormalizeMimeType(mimeType)]
}

// NormalizeMimeType lowercases, drops parameters and folds common aliases.
func NormalizeMimeType(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	switch mt {
	case "image/jpg", "image/pjpeg":
		return MimeJPEG
	case "image/x-png":
		return MimePNG
	}
	return mt
}

// ResolveMimeType returns the declared type, or the sniffed one when the
// declaration is missing or generic.
func ResolveMimeType(declared string, data []byte) string {
	mt := NormalizeMimeType(declared)
	if mt == "" || mt == "application/octet-stream" {
		if sniffed := DetectMimeTypeFromMagicBytes(data); sniffed != "" {
			return sniffed
		}
	}
	return mt
}

// DetectMimeTypeFromMagicBytes detects the actual MIME type from file content magic bytes
func DetectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return MimePNG
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return MimeJPEG
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return MimeWEBP
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// TIFF: 'I' 'I' 0x2A 0x00 (little-endian) or 'M' 'M' 0x00 0x2A (big-endian)
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	return ""
}
