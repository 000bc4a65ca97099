package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestJSONCodecEncodeCommand(t *testing.T) {
	codec := NewJSONCodec()
	tests := []struct {
		name string
		cmd  Command
		want map[string]any
	}{
		{name: "get-status", cmd: GetStatus{}, want: map[string]any{"type": "get-status"}},
		{name: "toggle-pause", cmd: TogglePause{}, want: map[string]any{"type": "toggle-pause"}},
		{name: "seek", cmd: Seek{Position: 42.5}, want: map[string]any{"type": "seek", "position": 42.5}},
		{name: "skip-forward", cmd: SkipForward{Amount: 10}, want: map[string]any{"type": "skip-forward", "amount": 10.0}},
		{name: "skip-backward", cmd: SkipBackward{Amount: 10}, want: map[string]any{"type": "skip-backward", "amount": 10.0}},
		{name: "set-volume", cmd: SetVolume{Volume: 35}, want: map[string]any{"type": "set-volume", "volume": 35.0}},
		{name: "toggle-mute", cmd: ToggleMute{}, want: map[string]any{"type": "toggle-mute"}},
		{name: "toggle-fullscreen", cmd: ToggleFullscreen{}, want: map[string]any{"type": "toggle-fullscreen"}},
	}

	for _, tc := range tests {
		raw, err := codec.EncodeCommand(tc.cmd)
		if err != nil {
			t.Fatalf("%s: encode: %v", tc.name, err)
		}
		var got map[string]any
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("%s: decode encoded frame: %v", tc.name, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
		for k, v := range tc.want {
			if got[k] != v {
				t.Fatalf("%s: field %q expected %v, got %v", tc.name, k, v, got[k])
			}
		}
	}
}

func TestJSONCodecEncodeIdentify(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	raw, err := NewJSONCodec().EncodeIdentify(at)
	if err != nil {
		t.Fatalf("encode identify: %v", err)
	}
	if string(raw) != `{"type":"identify","timestamp":1700000000123}` {
		t.Fatalf("unexpected identify frame: %s", raw)
	}
}

func TestJSONCodecDecodeIdentifyResponse(t *testing.T) {
	msg, err := NewJSONCodec().DecodeServerMessage([]byte(`{"type":"identify_response","application":"IINA","name":"Living Room"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp, ok := msg.(IdentifyResponse)
	if !ok {
		t.Fatalf("expected IdentifyResponse, got %T", msg)
	}
	if resp.Application != DefaultApplication || resp.Name != "Living Room" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestJSONCodecDecodeStatus(t *testing.T) {
	msg, err := NewJSONCodec().DecodeServerMessage([]byte(`{"type":"status","data":{"paused":true,"volume":30,"title":"Clip"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	update, ok := msg.(StatusUpdate)
	if !ok {
		t.Fatalf("expected StatusUpdate, got %T", msg)
	}
	if !update.HasData {
		t.Fatalf("expected status data")
	}
	if update.Patch.Paused == nil || !*update.Patch.Paused {
		t.Fatalf("expected paused=true in patch")
	}
	if update.Patch.Volume == nil || *update.Patch.Volume != 30 {
		t.Fatalf("expected volume=30 in patch")
	}
	if update.Patch.Muted != nil {
		t.Fatalf("expected muted to stay unset")
	}
}

func TestJSONCodecDecodeStatusWithoutData(t *testing.T) {
	msg, err := NewJSONCodec().DecodeServerMessage([]byte(`{"type":"status"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	update, ok := msg.(StatusUpdate)
	if !ok || update.HasData {
		t.Fatalf("expected status without data, got %#v", msg)
	}
}

func TestJSONCodecDecodeUnknownType(t *testing.T) {
	msg, err := NewJSONCodec().DecodeServerMessage([]byte(`{"type":"playlist","items":[]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := msg.(Unknown); !ok {
		t.Fatalf("expected Unknown, got %T", msg)
	}
	if msg.MessageType() != "playlist" {
		t.Fatalf("unexpected type %q", msg.MessageType())
	}
}

func TestJSONCodecDecodeMalformed(t *testing.T) {
	frames := []string{
		``,
		`not json`,
		`{"name":"no type"}`,
		`{"type":""}`,
		`["status"]`,
		`{"type":"status","data":{"volume":"loud"}}`,
	}
	for _, frame := range frames {
		_, err := NewJSONCodec().DecodeServerMessage([]byte(frame))
		if !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("frame %q: expected ErrMalformedMessage, got %v", frame, err)
		}
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("seek", "90")
	if err != nil {
		t.Fatalf("parse seek: %v", err)
	}
	if seek, ok := cmd.(Seek); !ok || seek.Position != 90 {
		t.Fatalf("unexpected seek command: %#v", cmd)
	}

	cmd, err = ParseCommand("Toggle-Pause", "")
	if err != nil {
		t.Fatalf("parse toggle-pause: %v", err)
	}
	if _, ok := cmd.(TogglePause); !ok {
		t.Fatalf("unexpected command: %#v", cmd)
	}

	if _, err := ParseCommand("set-volume", ""); err == nil {
		t.Fatalf("expected missing argument error")
	}
	if _, err := ParseCommand("set-volume", "abc"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseCommand("eject", ""); err == nil {
		t.Fatalf("expected unknown command error")
	}
}
