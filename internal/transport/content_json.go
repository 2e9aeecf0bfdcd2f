package transport

import (
	"encoding/json"
	"fmt"
)

// MarshalContent encodes content as one flat object whose "type" field names
// the variant: {"type":"image","url":...}.
func MarshalContent(c Content) ([]byte, error) {
	switch v := c.(type) {
	case Text:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text
		}{"text", v})
	case Media:
		return json.Marshal(struct {
			Type MediaKind `json:"type"`
			Media
		}{v.Kind, v})
	case Location:
		return json.Marshal(struct {
			Type string `json:"type"`
			Location
		}{"location", v})
	case Reaction:
		return json.Marshal(struct {
			Type string `json:"type"`
			Reaction
		}{"reaction", v})
	default:
		return nil, fmt.Errorf("transport: cannot encode content %T", c)
	}
}

// UnmarshalContent decodes the output of MarshalContent.
func UnmarshalContent(data []byte) (Content, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "text":
		var v Text
		err := json.Unmarshal(data, &v)
		return v, err
	case string(MediaImage), string(MediaVideo), string(MediaAudio), string(MediaDocument):
		var v Media
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		v.Kind = MediaKind(head.Type)
		return v, nil
	case "location":
		var v Location
		err := json.Unmarshal(data, &v)
		return v, err
	case "reaction":
		var v Reaction
		err := json.Unmarshal(data, &v)
		return v, err
	default:
		return nil, fmt.Errorf("transport: unknown content type %q", head.Type)
	}
}
