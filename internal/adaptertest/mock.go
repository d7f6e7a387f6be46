// Package adaptertest provides a Mock adapter.Adapter test double: it
// records sent messages, simulates inbound events, and pre-seeds
// thread history.
package adaptertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/duskrail/switchboard/internal/adapter"
	"github.com/duskrail/switchboard/internal/chat"
	"github.com/duskrail/switchboard/internal/emoji"
	"github.com/duskrail/switchboard/internal/switcherr"
)

// Mock implements adapter.Adapter for tests.
type Mock struct {
	mu sync.Mutex

	name      string
	userName  string
	botUserID string
	kernel    adapter.Kernel

	sent      []chat.Postable
	edited    []EditCall
	deleted   []DeleteCall
	reactions []ReactionCall
	history   map[chat.ThreadID][]chat.Message
	threads   map[chat.ThreadID]chat.ThreadInfo

	nextMessageID int
}

// EditCall records an EditMessage invocation.
type EditCall struct {
	ThreadID  chat.ThreadID
	MessageID string
	Postable  chat.Postable
}

// DeleteCall records a DeleteMessage invocation.
type DeleteCall struct {
	ThreadID  chat.ThreadID
	MessageID string
}

// ReactionCall records an Add/RemoveReaction invocation.
type ReactionCall struct {
	ThreadID  chat.ThreadID
	MessageID string
	Emoji     string
	Added     bool
}

// New returns a Mock adapter named name, with userName used for mention
// detection.
func New(name, userName, botUserID string) *Mock {
	return &Mock{
		name:      name,
		userName:  userName,
		botUserID: botUserID,
		history:   make(map[chat.ThreadID][]chat.Message),
		threads:   make(map[chat.ThreadID]chat.ThreadInfo),
	}
}

func (m *Mock) Name() string      { return m.name }
func (m *Mock) UserName() string  { return m.userName }
func (m *Mock) BotUserID() string { return m.botUserID }

func (m *Mock) Initialize(k adapter.Kernel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kernel = k
}

func (m *Mock) HandleWebhook(ctx context.Context, req adapter.WebhookRequest, opts adapter.RequestOptions) (adapter.WebhookResponse, error) {
	return adapter.WebhookResponse{}, switcherr.NewNotImplementedError(m.name, "webhook ingress")
}

func (m *Mock) PostMessage(ctx context.Context, threadID chat.ThreadID, postable chat.Postable) (chat.SentMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, postable)
	m.nextMessageID++
	id := fmt.Sprintf("msg-%d", m.nextMessageID)
	return chat.SentMessage{ID: id, ThreadID: threadID}, nil
}

func (m *Mock) EditMessage(ctx context.Context, threadID chat.ThreadID, messageID string, postable chat.Postable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edited = append(m.edited, EditCall{ThreadID: threadID, MessageID: messageID, Postable: postable})
	return nil
}

func (m *Mock) DeleteMessage(ctx context.Context, threadID chat.ThreadID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, DeleteCall{ThreadID: threadID, MessageID: messageID})
	return nil
}

func (m *Mock) AddReaction(ctx context.Context, threadID chat.ThreadID, messageID, emojiName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, ReactionCall{ThreadID: threadID, MessageID: messageID, Emoji: emojiName, Added: true})
	return nil
}

func (m *Mock) RemoveReaction(ctx context.Context, threadID chat.ThreadID, messageID, emojiName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, ReactionCall{ThreadID: threadID, MessageID: messageID, Emoji: emojiName, Added: false})
	return nil
}

// NormalizeEmoji delegates to reg's platform-agnostic fallback, since
// tests pass in whatever raw string they want treated as the name.
func (m *Mock) NormalizeEmoji(reg *emoji.Registry, raw string) *chat.Emoji {
	return reg.Normalize(raw)
}

func (m *Mock) StartTyping(ctx context.Context, threadID chat.ThreadID) error { return nil }

func (m *Mock) FetchMessages(ctx context.Context, threadID chat.ThreadID, opts chat.FetchOptions) (chat.FetchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.history[threadID]
	limit := opts.Limit
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return chat.FetchResult{Messages: msgs}, nil
}

func (m *Mock) FetchThread(ctx context.Context, threadID chat.ThreadID) (chat.ThreadInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.threads[threadID]; ok {
		return info, nil
	}
	return chat.ThreadInfo{ChannelID: string(threadID)}, nil
}

func (m *Mock) EncodeThreadID(platformData any) (chat.ThreadID, error) {
	s, ok := platformData.(string)
	if !ok {
		return "", switcherr.NewValidationError(m.name, "platformData must be a string")
	}
	return chat.ThreadID(m.name + ":" + s), nil
}

func (m *Mock) DecodeThreadID(s chat.ThreadID) (any, error) {
	prefix := m.name + ":"
	str := string(s)
	if len(str) <= len(prefix) || str[:len(prefix)] != prefix {
		return nil, switcherr.NewValidationError(m.name, "malformed thread id: "+str)
	}
	return str[len(prefix):], nil
}

func (m *Mock) ParseMessage(raw any) (chat.Message, error) {
	msg, ok := raw.(chat.Message)
	if !ok {
		return chat.Message{}, switcherr.NewValidationError(m.name, "raw payload is not a chat.Message")
	}
	return msg, nil
}

func (m *Mock) RenderFormatted(content *chat.FormattedContent) (string, error) {
	return "", nil
}

func (m *Mock) OnThreadSubscribe(ctx context.Context, threadID chat.ThreadID) error { return nil }

func (m *Mock) OpenDM(ctx context.Context, userID string) (chat.ThreadID, error) {
	return "", switcherr.NewNotImplementedError(m.name, "direct messages")
}

func (m *Mock) IsDM(ctx context.Context, threadID chat.ThreadID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threads[threadID].IsDM, nil
}

// --- Test helpers ---

// syncWaitUntil runs the handed-off task immediately, inline, so tests
// can observe dispatch effects without racing a background goroutine.
func syncWaitUntil(task func()) { task() }

// SimulateMessage pushes msg through the kernel exactly as an adapter
// would upon receiving it. The dispatch runs inline (via a synchronous
// waitUntil) so the call returns only once handlers have finished.
func (m *Mock) SimulateMessage(ctx context.Context, msg chat.Message) error {
	m.mu.Lock()
	k := m.kernel
	m.mu.Unlock()
	if k == nil {
		return fmt.Errorf("adaptertest: Initialize was never called")
	}
	return k.ProcessMessage(ctx, m, msg, adapter.RequestOptions{WaitUntil: syncWaitUntil})
}

// SimulateReaction pushes evt through the kernel, inline.
func (m *Mock) SimulateReaction(ctx context.Context, evt chat.ReactionEvent) error {
	m.mu.Lock()
	k := m.kernel
	m.mu.Unlock()
	return k.ProcessReaction(ctx, m, evt, adapter.RequestOptions{WaitUntil: syncWaitUntil})
}

// SimulateAction pushes evt through the kernel, inline.
func (m *Mock) SimulateAction(ctx context.Context, evt chat.ActionEvent) error {
	m.mu.Lock()
	k := m.kernel
	m.mu.Unlock()
	return k.ProcessAction(ctx, m, evt, adapter.RequestOptions{WaitUntil: syncWaitUntil})
}

// SetThreadHistory pre-seeds FetchMessages results for threadID.
func (m *Mock) SetThreadHistory(threadID chat.ThreadID, msgs []chat.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[threadID] = msgs
}

// SetThreadInfo pre-seeds FetchThread results for threadID.
func (m *Mock) SetThreadInfo(threadID chat.ThreadID, info chat.ThreadInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadID] = info
}

// Sent returns a copy of every postable sent via PostMessage.
func (m *Mock) Sent() []chat.Postable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Postable, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns how many messages were posted.
func (m *Mock) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
