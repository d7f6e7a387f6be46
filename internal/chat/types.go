// Package chat holds the normalized data model shared across every
// adapter: thread IDs, messages, authors, reactions, actions,
// attachments, and formatted content.
package chat

import (
	"strings"
	"time"
)

// ThreadID is an opaque, printable string owned by the originating
// adapter. Every thread ID has the form "<adapter-name>:<suffix>". The
// kernel treats thread IDs as opaque equality/hash keys and only ever
// reads the "<adapter-name>:" prefix to find which adapter owns a thread.
type ThreadID string

// AdapterName extracts the "<adapter-name>" portion of a thread ID, or
// "" if the ID carries no recognizable prefix.
func (t ThreadID) AdapterName() string {
	s := string(t)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return ""
	}
	return s[:i]
}

// BotPresence describes whether a message author is a bot account.
// Some platforms cannot determine this with certainty.
type BotPresence int

const (
	BotUnknown BotPresence = iota
	BotTrue
	BotFalse
)

// Author identifies who sent a message or triggered an event.
type Author struct {
	UserID   string
	UserName string
	FullName string
	IsBot    BotPresence
	// IsMe is set by the adapter when the event originates from this bot
	// instance. The kernel relies on this for the self-filter; a false
	// negative here permits infinite echo loops.
	IsMe bool
}

// AttachmentType enumerates the kinds of attachments a message may carry.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
)

// Attachment describes a file attached to a message. FetchData, when
// present, is a one-shot byte supplier for gated downloads.
type Attachment struct {
	Type      AttachmentType
	URL       string
	Name      string
	MimeType  string
	Size      int64
	Width     int
	Height    int
	FetchData func() ([]byte, error)
}

// FormattedContent is a platform-neutral document tree (a Markdown-like
// AST). The kernel passes it through without inspection; only adapters
// parse or render it, via Adapter.RenderFormatted.
type FormattedContent struct {
	// Nodes holds the document's top-level child nodes. The concrete
	// node shape is adapter-defined; the kernel never inspects it.
	Nodes []Node
}

// Node is a single element of a formatted-content or card document tree:
// a tagged variant with a kind discriminator, free-form attributes, and
// child nodes addressed by integer position.
type Node struct {
	Kind     string
	Attrs    map[string]any
	Text     string
	Children []Node
}

// Metadata carries delivery bookkeeping for a Message.
type Metadata struct {
	DateSent time.Time
	Edited   bool
	EditedAt *time.Time
}

// Message is the kernel's normalized view of one platform message.
// Messages are value objects; the kernel never mutates one in place
// except to set IsMention after mention detection.
type Message struct {
	ID          string
	ThreadID    ThreadID
	Text        string // plain text
	Formatted   *FormattedContent
	Raw         any // adapter-opaque original payload
	Author      Author
	Metadata    Metadata
	Attachments []Attachment
	// IsMention is set by the dispatcher after mention detection; adapters
	// never set it.
	IsMention bool
}

// Emoji is the process-wide singleton value object for one normalized
// emoji name. Two Emoji values for the same name are always == by
// pointer identity; see package emoji for the registry that enforces
// this.
type Emoji struct {
	Name string
}

// ReactionEvent represents a reaction being added to or removed from a
// message.
type ReactionEvent struct {
	Emoji    *Emoji
	RawEmoji string
	Added    bool
	User     Author
	MessageID string
	ThreadID  ThreadID
	Adapter   string
	Raw       any
}

// ActionEvent represents a user clicking a card button.
type ActionEvent struct {
	ActionID  string
	Value     string
	HasValue  bool
	User      Author
	ThreadID  ThreadID
	MessageID string
	Adapter   string
	Raw       any
}

// Postable is anything that Thread.Post accepts: a raw platform-native
// string, a markdown string, a formatted-content AST, or a card element
// tree with optional plain-text fallback.
type Postable struct {
	Text         string            // plain/raw text, used verbatim
	Markdown     string            // markdown source, rendered per-adapter
	AST          *FormattedContent // pre-built document tree
	Card         *Node             // card element tree root
	FallbackText string            // used when Card cannot be rendered
	Files        []Attachment
}

// ThreadInfo describes a thread's channel identity.
type ThreadInfo struct {
	ChannelID   string
	DisplayName string
	IsDM        bool
}

// SentMessage is the result of a successful post, carrying enough
// identity for the caller to manipulate what it sent without
// re-deriving IDs.
type SentMessage struct {
	ID       string
	ThreadID ThreadID
	Raw      any
}

// FetchDirection selects the pagination order for FetchMessages.
type FetchDirection string

const (
	Forward  FetchDirection = "forward"
	Backward FetchDirection = "backward"
)

// FetchOptions parameterizes a history page request.
type FetchOptions struct {
	Limit     int // maximum, not a minimum
	Cursor    string
	Direction FetchDirection
}

// FetchResult is one page of message history.
type FetchResult struct {
	Messages   []Message
	NextCursor string
}
