// Package adapter defines the platform-specific ingress/egress plug-in
// contract the kernel drives, and the back-reference it uses to hand
// normalized events to the kernel.
package adapter

import (
	"context"
	"net/http"
	"time"

	"github.com/duskrail/switchboard/internal/chat"
	"github.com/duskrail/switchboard/internal/emoji"
)

// RequestOptions carries the optional waitUntil hook from the webhook
// request. On serverless hosts this lets the kernel hand off the
// dispatch as a background task while the HTTP response returns
// immediately; when nil, the kernel runs the dispatch on an internal
// goroutine tracked by a wait group (drained by Kernel.Shutdown) and
// also returns immediately.
type RequestOptions struct {
	WaitUntil func(task func())
}

// WebhookRequest is the adapter-agnostic view of an inbound HTTP
// delivery: method, headers, and body, plus the wall-clock time to
// evaluate replay-window checks against (overridable in tests).
type WebhookRequest struct {
	Method  string
	Headers http.Header
	Body    []byte
	Now     time.Time
}

// WebhookResponse is the adapter-agnostic HTTP response to write back
// to the platform.
type WebhookResponse struct {
	Status int
	Body   []byte
}

// Kernel is the subset of the dispatcher an adapter needs in order to
// hand normalized events upstream. kernel.Kernel satisfies this
// interface structurally.
type Kernel interface {
	ProcessMessage(ctx context.Context, a Adapter, msg chat.Message, opts RequestOptions) error
	ProcessReaction(ctx context.Context, a Adapter, evt chat.ReactionEvent, opts RequestOptions) error
	ProcessAction(ctx context.Context, a Adapter, evt chat.ActionEvent, opts RequestOptions) error
}

// Adapter is the platform-specific plug-in contract the kernel drives.
type Adapter interface {
	// Name is the unique key this adapter registers under, and the
	// thread-ID prefix it owns.
	Name() string
	// UserName is the bot's handle on this platform, used for mention
	// detection.
	UserName() string
	// BotUserID is the platform-native ID used as a mention-detection
	// fallback; empty if the platform has none.
	BotUserID() string

	// Initialize receives the kernel back-reference so the adapter can
	// call ProcessMessage/ProcessReaction/ProcessAction as events arrive,
	// whether from an HTTP webhook or a persistent connection (gateway).
	Initialize(kernel Kernel)

	// HandleWebhook verifies, parses, normalizes, and dispatches one
	// HTTP delivery, replying as quickly as possible. Adapters whose
	// ingress is not webhook-based (e.g. a gateway/WebSocket connection)
	// return switcherr.NotImplementedError here.
	HandleWebhook(ctx context.Context, req WebhookRequest, opts RequestOptions) (WebhookResponse, error)

	// PostMessage sends postable to threadId, returning the sent
	// message's identity or a typed error.
	PostMessage(ctx context.Context, threadID chat.ThreadID, postable chat.Postable) (chat.SentMessage, error)
	// EditMessage updates a previously sent message.
	EditMessage(ctx context.Context, threadID chat.ThreadID, messageID string, postable chat.Postable) error
	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, threadID chat.ThreadID, messageID string) error
	// AddReaction attaches a normalized emoji reaction to a message.
	AddReaction(ctx context.Context, threadID chat.ThreadID, messageID string, emojiName string) error
	// RemoveReaction removes a previously added reaction.
	RemoveReaction(ctx context.Context, threadID chat.ThreadID, messageID string, emojiName string) error
	// NormalizeEmoji resolves a raw, platform-native reaction
	// representation (a Slack short-code, a GChat/Discord unicode glyph,
	// ...) to its singleton *chat.Emoji via reg, using whichever alias
	// table matches this platform's wire format.
	NormalizeEmoji(reg *emoji.Registry, raw string) *chat.Emoji
	// StartTyping signals a typing indicator in the thread.
	StartTyping(ctx context.Context, threadID chat.ThreadID) error

	// FetchMessages pages through thread history.
	FetchMessages(ctx context.Context, threadID chat.ThreadID, opts chat.FetchOptions) (chat.FetchResult, error)
	// FetchThread returns a thread's channel identity.
	FetchThread(ctx context.Context, threadID chat.ThreadID) (chat.ThreadInfo, error)

	// EncodeThreadID / DecodeThreadID form the round-trip codec:
	// DecodeThreadID(EncodeThreadID(v)) == v for every platform value v.
	EncodeThreadID(platformData any) (chat.ThreadID, error)
	DecodeThreadID(s chat.ThreadID) (any, error)

	// ParseMessage normalizes a raw platform payload into a Message,
	// used when the kernel hands back a raw payload without its
	// original thread context.
	ParseMessage(raw any) (chat.Message, error)
	// RenderFormatted renders a document tree to the platform's wire format.
	RenderFormatted(content *chat.FormattedContent) (string, error)

	// OnThreadSubscribe optionally registers additional platform-side
	// event subscriptions (e.g. GChat Pub/Sub) when a thread is
	// subscribed. Returns switcherr.NotImplementedError if unsupported.
	OnThreadSubscribe(ctx context.Context, threadID chat.ThreadID) error
	// OpenDM opens (or resolves) a direct-message thread with userID.
	// Returns switcherr.NotImplementedError on platforms without DMs.
	OpenDM(ctx context.Context, userID string) (chat.ThreadID, error)
	// IsDM reports whether threadID is a direct-message thread.
	IsDM(ctx context.Context, threadID chat.ThreadID) (bool, error)
}
