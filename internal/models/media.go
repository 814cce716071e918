package models

import (
	"fmt"
	"net/http"
)

// MediaType is the MIME type of an attachment the forum accepts.
type MediaType string

const (
	MediaTypeJPG MediaType = "image/jpeg"
	MediaTypePNG MediaType = "image/png"
)

// MaxMediaSize caps a single attachment.
const MaxMediaSize = 5 * 1024 * 1024

// MediaItem is an image attached to a post or comment. Data is base64 on the wire.
type MediaItem struct {
	Data []byte    `json:"data"`
	Type MediaType `json:"type"`
}

// Extension returns the file extension used when uploading the item.
func (m MediaItem) Extension() string {
	switch m.Type {
	case MediaTypePNG:
		return ".png"
	default:
		return ".jpg"
	}
}

// Validate checks the declared type against the accepted set and the actual bytes.
func (m MediaItem) Validate() error {
	if len(m.Data) == 0 {
		return NewValidationError("Media attachment is empty")
	}
	if len(m.Data) > MaxMediaSize {
		return NewValidationError(fmt.Sprintf("Media attachment too large (max %d bytes)", MaxMediaSize))
	}
	switch m.Type {
	case MediaTypeJPG, MediaTypePNG:
	default:
		return NewValidationError(fmt.Sprintf("Unsupported media type %q", m.Type))
	}
	if sniffed := http.DetectContentType(m.Data); sniffed != string(m.Type) {
		return NewValidationError(fmt.Sprintf("Media content is %s, declared %s", sniffed, m.Type))
	}
	return nil
}
