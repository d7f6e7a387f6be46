// Package discord implements the chat-kernel Adapter contract for
// Discord over the Gateway WebSocket: ingress arrives as gateway events
// pushed directly into the kernel rather than through an HTTP webhook,
// since Discord has no inbound webhook delivery for messages.
package discord

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/duskrail/switchboard/internal/adapter"
	"github.com/duskrail/switchboard/internal/chat"
	"github.com/duskrail/switchboard/internal/emoji"
	"github.com/duskrail/switchboard/internal/logging"
	"github.com/duskrail/switchboard/internal/switcherr"
)

const (
	maxRetries      = 3
	baseBackoff     = 2 * time.Second
	maxBackoff      = 2 * time.Minute
	defaultPageSize = 100
	maxMessageLen   = 2000
)

// session abstracts the discordgo.Session methods used here, so tests
// can inject a fake.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(edit *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

type realSession struct{ s *discordgo.Session }

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageEditComplex(edit *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEditComplex(edit, options...)
}
func (r *realSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelMessageDelete(channelID, messageID, options...)
}
func (r *realSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionAdd(channelID, messageID, emojiID, options...)
}
func (r *realSession) MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionRemove(channelID, messageID, emojiID, userID, options...)
}
func (r *realSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelTyping(channelID, options...)
}
func (r *realSession) MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart) (*discordgo.Channel, error) {
	return r.s.MessageThreadStartComplex(channelID, messageID, data)
}
func (r *realSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	return r.s.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() { return r.s.AddHandler(handler) }

// Adapter implements adapter.Adapter for Discord.
type Adapter struct {
	sess      session
	botToken  string
	userName  string // configured bot handle, for mention detection
	botUserID string
	mu        sync.Mutex
	connected bool
	kernel    adapter.Kernel
	logger    logging.Logger
}

// Options configures a new Adapter.
type Options struct {
	BotToken string
	UserName string
	Session  session // injected in tests
	Logger   logging.Logger
}

// New creates a Discord Adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	return &Adapter{botToken: opts.BotToken, userName: opts.UserName, sess: opts.Session, logger: logger}, nil
}

func (a *Adapter) Name() string      { return "discord" }
func (a *Adapter) UserName() string  { return a.userName }
func (a *Adapter) BotUserID() string { a.mu.Lock(); defer a.mu.Unlock(); return a.botUserID }

func (a *Adapter) Initialize(k adapter.Kernel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kernel = k
}

// Connect opens the Gateway WebSocket and registers the handlers that
// feed inbound events directly into the kernel.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent | discordgo.IntentsGuildMessageReactions
		a.sess = &realSession{s: dg}
	}

	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
	})
	a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(ctx, m)
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		a.handleReaction(ctx, r.MessageReaction, true)
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		a.handleReaction(ctx, r.MessageReaction, false)
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// HandleWebhook is not implemented: Discord ingress is gateway-based.
func (a *Adapter) HandleWebhook(ctx context.Context, req adapter.WebhookRequest, opts adapter.RequestOptions) (adapter.WebhookResponse, error) {
	return adapter.WebhookResponse{}, switcherr.NewNotImplementedError(a.Name(), "webhook ingress (discord uses the gateway)")
}

func (a *Adapter) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	a.mu.Lock()
	k := a.kernel
	botID := a.botUserID
	a.mu.Unlock()
	if k == nil {
		return
	}

	threadID, err := a.EncodeThreadID(threadLocator{ChannelID: m.ChannelID})
	if err != nil {
		a.logger.Error("discord: encode thread id", "error", err)
		return
	}

	msg := chat.Message{
		ID:       m.ID,
		ThreadID: threadID,
		Text:     m.Content,
		Raw:      m,
		Author: chat.Author{
			UserID:   m.Author.ID,
			UserName: m.Author.Username,
			FullName: m.Author.GlobalName,
			IsBot:    chat.BotFalse,
			IsMe:     m.Author.ID == botID,
		},
	}
	if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
		msg.Metadata.DateSent = ts
	}

	if err := k.ProcessMessage(ctx, a, msg, adapter.RequestOptions{}); err != nil {
		a.logger.Error("discord: process message", "error", err)
	}
}

func (a *Adapter) handleReaction(ctx context.Context, r *discordgo.MessageReaction, added bool) {
	a.mu.Lock()
	k := a.kernel
	botID := a.botUserID
	a.mu.Unlock()
	if k == nil || r.UserID == botID {
		return
	}
	threadID, err := a.EncodeThreadID(threadLocator{ChannelID: r.ChannelID})
	if err != nil {
		return
	}
	evt := chat.ReactionEvent{
		RawEmoji:  r.Emoji.Name,
		Added:     added,
		User:      chat.Author{UserID: r.UserID, IsMe: r.UserID == botID},
		MessageID: r.MessageID,
		ThreadID:  threadID,
		Adapter:   a.Name(),
		Raw:       r,
	}
	if err := k.ProcessReaction(ctx, a, evt, adapter.RequestOptions{}); err != nil {
		a.logger.Error("discord: process reaction", "error", err)
	}
}

// PostMessage sends postable.Text (or FallbackText for an unrendered
// card) to the thread, chunking at Discord's 2000-character cap so
// long posts succeed instead of failing outright.
func (a *Adapter) PostMessage(ctx context.Context, threadID chat.ThreadID, postable chat.Postable) (chat.SentMessage, error) {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return chat.SentMessage{}, err
	}
	channelID := locator.(threadLocator).ChannelID

	text := postableText(postable)
	chunks := chunkMessage(text, maxMessageLen)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	var last *discordgo.Message
	for _, chunk := range chunks {
		var sendErr error
		err := a.retryOnRateLimit(ctx, func() error {
			last, sendErr = a.sess.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: chunk})
			return sendErr
		})
		if err != nil {
			return chat.SentMessage{}, translateErr(a.Name(), err)
		}
	}
	return chat.SentMessage{ID: last.ID, ThreadID: threadID, Raw: last}, nil
}

func (a *Adapter) EditMessage(ctx context.Context, threadID chat.ThreadID, messageID string, postable chat.Postable) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	channelID := locator.(threadLocator).ChannelID
	text := postableText(postable)
	return a.retryOnRateLimit(ctx, func() error {
		_, err := a.sess.ChannelMessageEditComplex(discordgo.NewMessageEdit(channelID, messageID).SetContent(text))
		return translateErr(a.Name(), err)
	})
}

func (a *Adapter) DeleteMessage(ctx context.Context, threadID chat.ThreadID, messageID string) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	channelID := locator.(threadLocator).ChannelID
	return translateErr(a.Name(), a.sess.ChannelMessageDelete(channelID, messageID))
}

func (a *Adapter) AddReaction(ctx context.Context, threadID chat.ThreadID, messageID, emojiName string) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	channelID := locator.(threadLocator).ChannelID
	return translateErr(a.Name(), a.sess.MessageReactionAdd(channelID, messageID, emojiName))
}

func (a *Adapter) RemoveReaction(ctx context.Context, threadID chat.ThreadID, messageID, emojiName string) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	channelID := locator.(threadLocator).ChannelID
	return translateErr(a.Name(), a.sess.MessageReactionRemove(channelID, messageID, emojiName, "@me"))
}

// NormalizeEmoji maps Discord's reaction representation — a unicode
// glyph for standard emoji, a bare name for guild custom emoji — the
// same way GChat's native form is mapped, since both wire unicode
// glyphs directly rather than short-codes.
func (a *Adapter) NormalizeEmoji(reg *emoji.Registry, raw string) *chat.Emoji {
	return reg.FromGChat(raw)
}

func (a *Adapter) StartTyping(ctx context.Context, threadID chat.ThreadID) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	return translateErr(a.Name(), a.sess.ChannelTyping(locator.(threadLocator).ChannelID))
}

// FetchMessages pages through channel history. Discord's API only
// fetches descending (newest-first); a forward request is simulated by
// fetching the requested page and reversing it.
func (a *Adapter) FetchMessages(ctx context.Context, threadID chat.ThreadID, opts chat.FetchOptions) (chat.FetchResult, error) {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return chat.FetchResult{}, err
	}
	channelID := locator.(threadLocator).ChannelID

	limit := opts.Limit
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	var raw []*discordgo.Message
	err = a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		raw, apiErr = a.sess.ChannelMessages(channelID, limit, opts.Cursor, "", "")
		return apiErr
	})
	if err != nil {
		return chat.FetchResult{}, translateErr(a.Name(), err)
	}

	messages := make([]chat.Message, len(raw))
	for i, m := range raw {
		messages[i] = chat.Message{ID: m.ID, ThreadID: threadID, Text: m.Content, Raw: m,
			Author: chat.Author{UserID: m.Author.ID, UserName: m.Author.Username}}
	}
	if opts.Direction == chat.Forward {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	var nextCursor string
	if len(raw) > 0 {
		nextCursor = raw[len(raw)-1].ID
	}
	return chat.FetchResult{Messages: messages, NextCursor: nextCursor}, nil
}

func (a *Adapter) FetchThread(ctx context.Context, threadID chat.ThreadID) (chat.ThreadInfo, error) {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return chat.ThreadInfo{}, err
	}
	channelID := locator.(threadLocator).ChannelID
	ch, err := a.sess.Channel(channelID)
	if err != nil {
		return chat.ThreadInfo{}, translateErr(a.Name(), err)
	}
	return chat.ThreadInfo{ChannelID: channelID, DisplayName: ch.Name, IsDM: ch.Type == discordgo.ChannelTypeDM}, nil
}

// threadLocator is the Discord-specific platform value round-tripped
// through Encode/DecodeThreadID.
type threadLocator struct {
	ChannelID string
}

func (a *Adapter) EncodeThreadID(platformData any) (chat.ThreadID, error) {
	loc, ok := platformData.(threadLocator)
	if !ok {
		return "", switcherr.NewValidationError(a.Name(), "encodeThreadID expects a discord threadLocator")
	}
	return chat.ThreadID(fmt.Sprintf("discord:%s", loc.ChannelID)), nil
}

func (a *Adapter) DecodeThreadID(s chat.ThreadID) (any, error) {
	const prefix = "discord:"
	str := string(s)
	if !strings.HasPrefix(str, prefix) {
		return nil, switcherr.NewValidationError(a.Name(), "malformed discord thread id: "+str)
	}
	return threadLocator{ChannelID: strings.TrimPrefix(str, prefix)}, nil
}

func (a *Adapter) ParseMessage(raw any) (chat.Message, error) {
	m, ok := raw.(*discordgo.Message)
	if !ok {
		return chat.Message{}, switcherr.NewValidationError(a.Name(), "raw payload is not a *discordgo.Message")
	}
	threadID, err := a.EncodeThreadID(threadLocator{ChannelID: m.ChannelID})
	if err != nil {
		return chat.Message{}, err
	}
	return chat.Message{ID: m.ID, ThreadID: threadID, Text: m.Content, Raw: m,
		Author: chat.Author{UserID: m.Author.ID, UserName: m.Author.Username}}, nil
}

func (a *Adapter) RenderFormatted(content *chat.FormattedContent) (string, error) {
	var b strings.Builder
	renderNodes(&b, content.Nodes)
	return b.String(), nil
}

func renderNodes(b *strings.Builder, nodes []chat.Node) {
	for _, n := range nodes {
		switch n.Kind {
		case "bold":
			b.WriteString("**")
			b.WriteString(n.Text)
			b.WriteString("**")
		case "code":
			b.WriteString("`")
			b.WriteString(n.Text)
			b.WriteString("`")
		default:
			b.WriteString(n.Text)
		}
		renderNodes(b, n.Children)
	}
}

func (a *Adapter) OnThreadSubscribe(ctx context.Context, threadID chat.ThreadID) error { return nil }

func (a *Adapter) OpenDM(ctx context.Context, userID string) (chat.ThreadID, error) {
	return "", switcherr.NewNotImplementedError(a.Name(), "direct messages")
}

func (a *Adapter) IsDM(ctx context.Context, threadID chat.ThreadID) (bool, error) {
	info, err := a.FetchThread(ctx, threadID)
	if err != nil {
		return false, err
	}
	return info.IsDM, nil
}

// CreateThread creates a Discord thread from an existing message,
// returning a thread ID subsequent kernel calls can target.
func (a *Adapter) CreateThread(ctx context.Context, channelID, messageID, name string) (chat.ThreadID, error) {
	var th *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		th, apiErr = a.sess.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: 1440,
			Type:                discordgo.ChannelTypeGuildPublicThread,
		})
		return apiErr
	})
	if err != nil {
		return "", translateErr(a.Name(), err)
	}
	return a.EncodeThreadID(threadLocator{ChannelID: th.ID})
}

func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// chunkMessage splits text into pieces of at most maxLen, preferring to
// break at newlines.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cut := strings.LastIndexByte(text[:maxLen], '\n')
		if cut <= 0 {
			cut = maxLen
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	return chunks
}

func postableText(p chat.Postable) string {
	if p.Text != "" {
		return p.Text
	}
	if p.Markdown != "" {
		return p.Markdown
	}
	if p.FallbackText != "" {
		return p.FallbackText
	}
	return ""
}

func translateErr(adapterName string, err error) error {
	if err == nil {
		return nil
	}
	restErr, ok := err.(*discordgo.RESTError)
	if !ok || restErr.Response == nil {
		return switcherr.NewNetworkError(adapterName, err)
	}
	switch restErr.Response.StatusCode {
	case 401:
		return switcherr.NewAuthenticationError(adapterName, err)
	case 403:
		return switcherr.NewPermissionError(adapterName, err)
	case 404:
		return switcherr.NewResourceNotFoundError(adapterName, "message or channel")
	case 429:
		return switcherr.NewRateLimitError(adapterName, nil, err)
	default:
		return switcherr.NewAdapterError(adapterName, "discord API error", err)
	}
}
