package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const dataURIPrefix = "data:"

var (
	// ErrInvalidDataURI is returned for sources that are not base64 image data URIs.
	ErrInvalidDataURI = errors.New("invalid data URI")
	// ErrAssetTooLarge is returned when the decoded payload exceeds the size limit.
	ErrAssetTooLarge = errors.New("asset exceeds maximum size")
)

var imageExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/avif":    "avif",
	"image/svg+xml": "svg",
	"image/heic":    "heic",
}

// DataURI is a decoded inline image payload.
type DataURI struct {
	MimeType string
	Data     []byte
}

// IsDataURI reports whether src embeds its bytes rather than pointing elsewhere.
func IsDataURI(src string) bool {
	return strings.HasPrefix(src, dataURIPrefix)
}

// ParseDataURI decodes "data:image/<type>;base64,<payload>". maxSize <= 0 disables the size check.
func ParseDataURI(src string, maxSize int64) (*DataURI, error) {
	if !IsDataURI(src) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidDataURI, dataURIPrefix)
	}
	header, payload, ok := strings.Cut(src[len(dataURIPrefix):], ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing payload separator", ErrInvalidDataURI)
	}

	params := strings.Split(header, ";")
	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrInvalidDataURI, mimeType)
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return nil, fmt.Errorf("%w: payload is not base64 encoded", ErrInvalidDataURI)
	}

	if maxSize > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxSize+2 {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrAssetTooLarge, maxSize)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidDataURI)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrAssetTooLarge, maxSize)
	}

	return &DataURI{MimeType: mimeType, Data: data}, nil
}

// Extension returns the file extension for the payload's media type.
func (d *DataURI) Extension() string {
	if ext, ok := imageExtensions[d.MimeType]; ok {
		return ext
	}
	ext := strings.TrimPrefix(d.MimeType, "image/")
	if i := strings.IndexAny(ext, "+;"); i >= 0 {
		ext = ext[:i]
	}
	if ext == "" {
		return "bin"
	}
	return ext
}
