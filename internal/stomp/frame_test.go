package stomp

import (
	"errors"
	"maps"
	"testing"
)

func TestParseAndSerialize(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"no headers no body", &Frame{Command: "DISCONNECT", Headers: map[string]string{}}},
		{"connect", NewFrame(CONNECT, HeaderAcceptVersion, "1.2", HeaderHost, "stomp.example", HeaderLogin, "meni", HeaderPasscode, "films")},
		{"send with body", &Frame{Command: "SEND", Headers: map[string]string{HeaderDestination: "/topic/a"}, Body: "hello"}},
		{"multiline body", &Frame{Command: "SEND", Headers: map[string]string{HeaderDestination: "/a"}, Body: "line1\nline2\n\nline4"}},
		{"body starts with newline", &Frame{Command: "SEND", Headers: map[string]string{HeaderDestination: "/a"}, Body: "\nx"}},
		{"body ends with newline", &Frame{Command: "MESSAGE", Headers: map[string]string{HeaderSubscription: "1", HeaderMessageID: "7"}, Body: "x\n"}},
		{"value with colon", &Frame{Command: "SEND", Headers: map[string]string{HeaderDestination: "tcp://a:1"}}},
		{"unicode", &Frame{Command: "SEND", Headers: map[string]string{HeaderDestination: "/חדשות"}, Body: "שלום ✓"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := Parse(tt.frame.Serialize())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if parsed.Command != tt.frame.Command {
				t.Errorf("command: expected %q, got %q", tt.frame.Command, parsed.Command)
			}
			if !maps.Equal(parsed.Headers, tt.frame.Headers) {
				t.Errorf("headers: expected %v, got %v", tt.frame.Headers, parsed.Headers)
			}
			if parsed.Body != tt.frame.Body {
				t.Errorf("body: expected %q, got %q", tt.frame.Body, parsed.Body)
			}
		})
	}
}

func TestParseLenientHeaders(t *testing.T) {
	raw := " SUBSCRIBE \n destination : /a \nno colon here\nid:1\nid:2\n:orphan\n\nbody"
	frame, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Type() != SUBSCRIBE {
		t.Errorf("expected SUBSCRIBE, got %s", frame.Command)
	}
	if v, _ := frame.Header(HeaderDestination); v != "/a" {
		t.Errorf("expected trimmed destination, got %q", v)
	}
	if v, _ := frame.Header(HeaderID); v != "1" {
		t.Errorf("expected first id header to win, got %q", v)
	}
	if len(frame.Headers) != 2 {
		t.Errorf("expected 2 headers, got %v", frame.Headers)
	}
	if frame.Body != "body" {
		t.Errorf("expected body, got %q", frame.Body)
	}
}

func TestParseSkipsHeartbeats(t *testing.T) {
	frame, err := Parse("\n\r\nSEND\ndestination:/a\n\nx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Type() != SEND || frame.Body != "x" {
		t.Errorf("unexpected frame %+v", frame)
	}
}

func TestParseEmpty(t *testing.T) {
	for _, raw := range []string{"", "\n", "  \n\n"} {
		if _, err := Parse(raw); !errors.Is(err, ErrEmptyCommand) {
			t.Errorf("raw=%q expected ErrEmptyCommand, got %v", raw, err)
		}
	}
}

func TestSerializeFormat(t *testing.T) {
	frame := NewFrame(RECEIPT, HeaderReceiptID, "9")
	if got := frame.Serialize(); got != "RECEIPT\nreceipt-id:9\n\n" {
		t.Errorf("unexpected serialization %q", got)
	}

	frame = NewFrame(MESSAGE, HeaderSubscription, "1", HeaderDestination, "/a", HeaderMessageID, "3")
	frame.Body = "hi"
	if got := frame.Serialize(); got != "MESSAGE\ndestination:/a\nmessage-id:3\nsubscription:1\n\nhi" {
		t.Errorf("unexpected serialization %q", got)
	}
}

func TestLookupCommand(t *testing.T) {
	tests := []struct {
		name   string
		expect CommandType
	}{
		{"CONNECT", CONNECT},
		{" SEND ", SEND},
		{"SUBSCRIBE", SUBSCRIBE},
		{"UNSUBSCRIBE", UNSUBSCRIBE},
		{"DISCONNECT", DISCONNECT},
		{"MESSAGE", MESSAGE},
		{"connect", UNKNOWN},
		{"STOMP", UNKNOWN},
		{"", UNKNOWN},
	}
	for _, tt := range tests {
		if got := LookupCommand(tt.name); got != tt.expect {
			t.Errorf("LookupCommand(%q): expected %s, got %s", tt.name, tt.expect, got)
		}
	}
	if UNKNOWN.ClientCommand() || MESSAGE.ClientCommand() || !SEND.ClientCommand() {
		t.Error("ClientCommand classification is wrong")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	frame := NewFrame(MESSAGE, HeaderDestination, "/a")
	clone := frame.Clone()
	clone.SetHeader(HeaderSubscription, "2")
	if _, ok := frame.Header(HeaderSubscription); ok {
		t.Error("clone shares header map with template")
	}
}
