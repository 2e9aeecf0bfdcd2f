package transport

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestContentJSONKeepsVariantFields(t *testing.T) {
	cases := []struct {
		content Content
		want    map[string]any
	}{
		{Text{Body: "hi"}, map[string]any{"type": "text", "body": "hi"}},
		{
			Media{Kind: MediaDocument, URL: "https://x/a.pdf", FileName: "a.pdf"},
			map[string]any{"type": "document", "url": "https://x/a.pdf", "file_name": "a.pdf"},
		},
		{Location{Latitude: 0, Longitude: 0}, map[string]any{"type": "location", "latitude": 0.0, "longitude": 0.0}},
		{Reaction{TargetID: "m1", Emoji: "+1"}, map[string]any{"type": "reaction", "target_id": "m1", "emoji": "+1"}},
	}
	for _, tc := range cases {
		raw, err := MarshalContent(tc.content)
		if err != nil {
			t.Fatalf("marshal %#v: %v", tc.content, err)
		}
		var got map[string]any
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("unexpected encoding for %T: %v", tc.content, got)
		}
		back, err := UnmarshalContent(raw)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if !reflect.DeepEqual(back, tc.content) {
			t.Fatalf("expected %#v back, got %#v", tc.content, back)
		}
	}
}

func TestContentJSONRejectsUnknown(t *testing.T) {
	if _, err := MarshalContent(nil); err == nil {
		t.Fatal("expected error for nil content")
	}
	if _, err := UnmarshalContent([]byte(`{"type":"sticker"}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
