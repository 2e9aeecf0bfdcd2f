package transport

import (
	"errors"
	"strings"
)

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

var ErrEmptyContent = errors.New("message content is empty")

// Content is the tagged union of message bodies the transport understands.
type Content interface {
	contentType() string
}

type Text struct {
	Body string `json:"body"`
}

// Media carries its kind in the "type" field of the encoded form.
type Media struct {
	Kind     MediaKind `json:"-"`
	URL      string    `json:"url"`
	Mimetype string    `json:"mimetype,omitempty"`
	FileName string    `json:"file_name,omitempty"`
	Caption  string    `json:"caption,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

type Reaction struct {
	TargetID string `json:"target_id"`
	Emoji    string `json:"emoji"`
}

func (Text) contentType() string     { return "text" }
func (m Media) contentType() string  { return string(m.Kind) }
func (Location) contentType() string { return "location" }
func (Reaction) contentType() string { return "reaction" }

// TypeOf returns the wire type name of content, or "unknown" for nil.
func TypeOf(c Content) string {
	if c == nil {
		return "unknown"
	}
	return c.contentType()
}

// TextOf extracts the human readable text carried by content.
func TextOf(c Content) string {
	switch v := c.(type) {
	case Text:
		return v.Body
	case Media:
		return v.Caption
	case Location:
		return v.Name
	case Reaction:
		return v.Emoji
	default:
		return ""
	}
}

// Validate rejects content that the transport would refuse to encode.
func Validate(c Content) error {
	switch v := c.(type) {
	case Text:
		if strings.TrimSpace(v.Body) == "" {
			return ErrEmptyContent
		}
	case Media:
		if strings.TrimSpace(v.URL) == "" {
			return errors.New("media url is required")
		}
		switch v.Kind {
		case MediaImage, MediaVideo, MediaAudio, MediaDocument:
		default:
			return errors.New("unsupported media kind")
		}
	case Location:
		if v.Latitude < -90 || v.Latitude > 90 || v.Longitude < -180 || v.Longitude > 180 {
			return errors.New("location out of range")
		}
	case Reaction:
		if strings.TrimSpace(v.TargetID) == "" {
			return errors.New("reaction target is required")
		}
	default:
		return ErrEmptyContent
	}
	return nil
}
