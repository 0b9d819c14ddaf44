package pose

import (
	"errors"
	"testing"
)

func TestDecodeValidFrame(t *testing.T) {
	data := []byte(`{"id":1,"landmarks":[{"id":0,"x":0.25,"y":0.75},{"id":12,"x":1.2,"y":-0.1,"z":0.3}]}`)

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.ID != 1 {
		t.Fatalf("expected pose id 1, got %d", frame.ID)
	}
	if len(frame.Landmarks) != 2 {
		t.Fatalf("expected 2 landmarks, got %d", len(frame.Landmarks))
	}
	if got := frame.Landmarks[1]; got.ID != 12 || got.X != 1.2 || got.Y != -0.1 {
		t.Fatalf("unexpected landmark: %+v", got)
	}
}

func TestDecodeEmptyLandmarkList(t *testing.T) {
	frame, err := Decode([]byte(`{"id":0,"landmarks":[]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frame.Landmarks) != 0 {
		t.Fatalf("expected no landmarks, got %d", len(frame.Landmarks))
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":            ``,
		"not json":         `hello`,
		"missing id":       `{"landmarks":[]}`,
		"missing list":     `{"id":1}`,
		"wrong id type":    `{"id":"one","landmarks":[]}`,
		"wrong list type":  `{"id":1,"landmarks":{}}`,
		"landmark missing": `{"id":1,"landmarks":[{"id":0,"x":0.5}]}`,
		"landmark type":    `{"id":1,"landmarks":[{"id":0,"x":"a","y":0.5}]}`,
		"truncated":        `{"id":1,"landmarks":[{"id":0,`,
		"invalid utf8":     "{\"id\":1,\"landmarks\":[],\"n\":\"\xff\"}",
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			if !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := []Frame{
		{ID: 0, Landmarks: []Landmark{}},
		{ID: 1, Landmarks: []Landmark{{ID: 3, X: 0.1, Y: 0.2}, {ID: 0, X: 0.9, Y: 0.33333333333}}},
		{ID: 2, Landmarks: []Landmark{{ID: 32, X: -0.5, Y: 1.5}}},
	}

	for _, want := range frames {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != want.ID || len(got.Landmarks) != len(want.Landmarks) {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
		}
		for i := range want.Landmarks {
			if got.Landmarks[i] != want.Landmarks[i] {
				t.Fatalf("landmark %d mismatch: got %+v want %+v", i, got.Landmarks[i], want.Landmarks[i])
			}
		}
	}
}

func TestEncodeNilLandmarks(t *testing.T) {
	data, err := Encode(Frame{ID: 4})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(data); err != nil {
		t.Fatalf("nil landmark list should encode as empty array: %v", err)
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet([]byte("abc"), 60); got != "abc" {
		t.Fatalf("unexpected snippet %q", got)
	}
	if got := Snippet([]byte("abcdef"), 3); got != "abc..." {
		t.Fatalf("unexpected snippet %q", got)
	}
}
