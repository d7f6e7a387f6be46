// Package codec implements thread-ID round-trip encodings for platforms
// with no full ingress/egress adapter in this repo: Microsoft Teams,
// Google Chat, and Linear. Each codec is a pure, standalone pair of
// functions — no adapter.Adapter plumbing — exercising the same opaque
// "<adapter-name>:<suffix>" thread-ID contract the full adapters use.
package codec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/duskrail/switchboard/internal/chat"
)

// TeamsLocator identifies a Microsoft Teams conversation: the bot
// framework conversation ID plus the service URL that routes replies
// back to the correct tenant.
type TeamsLocator struct {
	ConversationID string
	ServiceURL     string
}

// EncodeTeamsThreadID builds "teams:<base64url(conversationId)>:<base64url(serviceUrl)>".
func EncodeTeamsThreadID(loc TeamsLocator) chat.ThreadID {
	return chat.ThreadID(fmt.Sprintf("teams:%s:%s",
		base64.URLEncoding.EncodeToString([]byte(loc.ConversationID)),
		base64.URLEncoding.EncodeToString([]byte(loc.ServiceURL))))
}

// DecodeTeamsThreadID parses a thread ID built by EncodeTeamsThreadID.
func DecodeTeamsThreadID(id chat.ThreadID) (TeamsLocator, error) {
	const prefix = "teams:"
	s := string(id)
	if !strings.HasPrefix(s, prefix) {
		return TeamsLocator{}, fmt.Errorf("codec: malformed teams thread id: %s", s)
	}
	parts := strings.SplitN(strings.TrimPrefix(s, prefix), ":", 2)
	if len(parts) != 2 {
		return TeamsLocator{}, fmt.Errorf("codec: malformed teams thread id: %s", s)
	}
	conv, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return TeamsLocator{}, fmt.Errorf("codec: decode teams conversation id: %w", err)
	}
	svc, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return TeamsLocator{}, fmt.Errorf("codec: decode teams service url: %w", err)
	}
	return TeamsLocator{ConversationID: string(conv), ServiceURL: string(svc)}, nil
}

// GChatLocator identifies a Google Chat space and, when the thread is
// a specific threaded reply rather than the space's top-level stream,
// the thread name within it. IsDM marks a 1:1 direct-message space.
type GChatLocator struct {
	Space      string
	ThreadName string // empty for the space's default/top-level thread
	IsDM       bool
}

// EncodeGChatThreadID builds "gchat:<space>[:<base64url(threadName)>][:dm]".
func EncodeGChatThreadID(loc GChatLocator) chat.ThreadID {
	s := "gchat:" + loc.Space
	if loc.ThreadName != "" {
		s += ":" + base64.URLEncoding.EncodeToString([]byte(loc.ThreadName))
	}
	if loc.IsDM {
		s += ":dm"
	}
	return chat.ThreadID(s)
}

// DecodeGChatThreadID parses a thread ID built by EncodeGChatThreadID.
func DecodeGChatThreadID(id chat.ThreadID) (GChatLocator, error) {
	const prefix = "gchat:"
	s := string(id)
	if !strings.HasPrefix(s, prefix) {
		return GChatLocator{}, fmt.Errorf("codec: malformed gchat thread id: %s", s)
	}
	parts := strings.Split(strings.TrimPrefix(s, prefix), ":")
	if len(parts) == 0 || parts[0] == "" {
		return GChatLocator{}, fmt.Errorf("codec: malformed gchat thread id: %s", s)
	}
	loc := GChatLocator{Space: parts[0]}
	rest := parts[1:]
	if len(rest) > 0 && rest[len(rest)-1] == "dm" {
		loc.IsDM = true
		rest = rest[:len(rest)-1]
	}
	switch len(rest) {
	case 0:
	case 1:
		name, err := base64.URLEncoding.DecodeString(rest[0])
		if err != nil {
			return GChatLocator{}, fmt.Errorf("codec: decode gchat thread name: %w", err)
		}
		loc.ThreadName = string(name)
	default:
		return GChatLocator{}, fmt.Errorf("codec: malformed gchat thread id: %s", s)
	}
	return loc, nil
}

// LinearLocator identifies a Linear issue and, when the thread is a
// specific comment thread rather than the issue's main activity feed,
// the root comment ID.
type LinearLocator struct {
	IssueID   string
	CommentID string // empty for the issue's main activity feed
}

// EncodeLinearThreadID builds "linear:<issueId>[:c:<commentId>]".
func EncodeLinearThreadID(loc LinearLocator) chat.ThreadID {
	s := "linear:" + loc.IssueID
	if loc.CommentID != "" {
		s += ":c:" + loc.CommentID
	}
	return chat.ThreadID(s)
}

// DecodeLinearThreadID parses a thread ID built by EncodeLinearThreadID.
func DecodeLinearThreadID(id chat.ThreadID) (LinearLocator, error) {
	const prefix = "linear:"
	s := string(id)
	if !strings.HasPrefix(s, prefix) {
		return LinearLocator{}, fmt.Errorf("codec: malformed linear thread id: %s", s)
	}
	rest := strings.TrimPrefix(s, prefix)
	parts := strings.Split(rest, ":")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return LinearLocator{}, fmt.Errorf("codec: malformed linear thread id: %s", s)
		}
		return LinearLocator{IssueID: parts[0]}, nil
	case 3:
		if parts[1] != "c" || parts[0] == "" || parts[2] == "" {
			return LinearLocator{}, fmt.Errorf("codec: malformed linear thread id: %s", s)
		}
		return LinearLocator{IssueID: parts[0], CommentID: parts[2]}, nil
	default:
		return LinearLocator{}, fmt.Errorf("codec: malformed linear thread id: %s", s)
	}
}
