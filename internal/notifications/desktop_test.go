package notifications

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestDesktopSenderPassesPayload(t *testing.T) {
	var gotTitle, gotMessage string
	s := &DesktopSender{
		notify: func(title, message string, _ any) error {
			gotTitle, gotMessage = title, message

			return nil
		},
		logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	}

	s.Send(Payload{Title: "IINA - connected", Content: "192.168.1.20:10010"})

	if gotTitle != "IINA - connected" || gotMessage != "192.168.1.20:10010" {
		t.Fatalf("unexpected notification %q / %q", gotTitle, gotMessage)
	}
}

func TestDesktopSenderLogsFailures(t *testing.T) {
	var logs bytes.Buffer
	s := &DesktopSender{
		notify: func(string, string, any) error { return errors.New("no dbus") },
		logger: slog.New(slog.NewTextHandler(&logs, nil)),
	}

	s.Send(Payload{Title: "t"})

	if !strings.Contains(logs.String(), "no dbus") {
		t.Fatalf("expected failure to be logged, got %q", logs.String())
	}
}

func TestSenderFunc(t *testing.T) {
	var got Payload
	var sender Sender = SenderFunc(func(p Payload) { got = p })
	sender.Send(Payload{Title: "x", Content: "y"})
	if got.Title != "x" || got.Content != "y" {
		t.Fatalf("unexpected payload %+v", got)
	}
}
