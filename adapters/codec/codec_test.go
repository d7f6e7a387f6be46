package codec

import (
	"testing"

	"github.com/duskrail/switchboard/internal/chat"
)

func TestTeamsThreadID_RoundTrip(t *testing.T) {
	cases := []TeamsLocator{
		{ConversationID: "19:abc123@thread.tacv2", ServiceURL: "https://smba.trafficmanager.net/amer/"},
		{ConversationID: "", ServiceURL: ""},
	}
	for _, loc := range cases {
		id := EncodeTeamsThreadID(loc)
		got, err := DecodeTeamsThreadID(id)
		if err != nil {
			t.Fatalf("DecodeTeamsThreadID(%q): %v", id, err)
		}
		if got != loc {
			t.Errorf("round-trip mismatch: got %+v, want %+v", got, loc)
		}
	}
}

func TestDecodeTeamsThreadID_Malformed(t *testing.T) {
	for _, bad := range []string{"slack:x:y", "teams:onlyonepart", "teams:not-base64!!:also-not-base64!!"} {
		if _, err := DecodeTeamsThreadID(chat.ThreadID(bad)); err == nil {
			t.Errorf("expected error decoding %q", bad)
		}
	}
}

func TestGChatThreadID_RoundTrip(t *testing.T) {
	cases := []GChatLocator{
		{Space: "spaces/AAAA"},
		{Space: "spaces/AAAA", ThreadName: "spaces/AAAA/threads/BBBB"},
		{Space: "spaces/AAAA", IsDM: true},
		{Space: "spaces/AAAA", ThreadName: "spaces/AAAA/threads/BBBB", IsDM: true},
	}
	for _, loc := range cases {
		id := EncodeGChatThreadID(loc)
		got, err := DecodeGChatThreadID(id)
		if err != nil {
			t.Fatalf("DecodeGChatThreadID(%q): %v", id, err)
		}
		if got != loc {
			t.Errorf("round-trip mismatch: got %+v, want %+v", got, loc)
		}
	}
}

func TestDecodeGChatThreadID_Malformed(t *testing.T) {
	for _, bad := range []string{"slack:x", "gchat:", "gchat:spaces/A:not-base64!!:dm"} {
		if _, err := DecodeGChatThreadID(chat.ThreadID(bad)); err == nil {
			t.Errorf("expected error decoding %q", bad)
		}
	}
}

func TestLinearThreadID_RoundTrip(t *testing.T) {
	cases := []LinearLocator{
		{IssueID: "ENG-123"},
		{IssueID: "ENG-123", CommentID: "abc-def-123"},
	}
	for _, loc := range cases {
		id := EncodeLinearThreadID(loc)
		got, err := DecodeLinearThreadID(id)
		if err != nil {
			t.Fatalf("DecodeLinearThreadID(%q): %v", id, err)
		}
		if got != loc {
			t.Errorf("round-trip mismatch: got %+v, want %+v", got, loc)
		}
	}
}

func TestDecodeLinearThreadID_Malformed(t *testing.T) {
	for _, bad := range []string{"github:x:1", "linear:", "linear:ENG-1:x:2", "linear:ENG-1:c:"} {
		if _, err := DecodeLinearThreadID(chat.ThreadID(bad)); err == nil {
			t.Errorf("expected error decoding %q", bad)
		}
	}
}
