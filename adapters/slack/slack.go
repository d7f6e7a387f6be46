// Package slack implements the chat-kernel Adapter contract for Slack
// over the Events API: ingress is an HTTP webhook verified with Slack's
// HMAC signing secret, rather than a persistent Socket Mode connection.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/duskrail/switchboard/internal/adapter"
	"github.com/duskrail/switchboard/internal/chat"
	"github.com/duskrail/switchboard/internal/emoji"
	"github.com/duskrail/switchboard/internal/logging"
	"github.com/duskrail/switchboard/internal/switcherr"
)

const (
	maxRetries  = 3
	maxPageSize = 200
	// replaySkew bounds how stale a signed request timestamp may be,
	// rejecting replayed deliveries outside the window.
	replaySkew = 5 * time.Minute
)

// client abstracts the slackapi methods used here, for test mocks.
type client interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	DeleteMessage(channelID, timestamp string) (string, string, error)
	AddReaction(name string, item slackapi.ItemRef) error
	RemoveReaction(name string, item slackapi.ItemRef) error
	GetConversationReplies(params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
	GetConversationInfo(input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// Adapter implements adapter.Adapter for Slack.
type Adapter struct {
	cl            client
	signingSecret string
	userName      string
	botUserID     string
	mu            sync.Mutex
	kernel        adapter.Kernel
	logger        logging.Logger
	now           func() time.Time // overridable in tests
}

// Options configures a new Adapter.
type Options struct {
	BotToken      string
	SigningSecret string
	UserName      string
	BotUserID     string
	Client        client // injected in tests
	Logger        logging.Logger
}

// New creates a Slack Adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.SigningSecret == "" {
		return nil, fmt.Errorf("slack: signing secret is required to verify webhook deliveries")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	cl := opts.Client
	if cl == nil {
		cl = slackapi.New(opts.BotToken)
	}
	return &Adapter{
		cl:            cl,
		signingSecret: opts.SigningSecret,
		userName:      opts.UserName,
		botUserID:     opts.BotUserID,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (a *Adapter) Name() string      { return "slack" }
func (a *Adapter) UserName() string  { return a.userName }
func (a *Adapter) BotUserID() string { a.mu.Lock(); defer a.mu.Unlock(); return a.botUserID }

func (a *Adapter) Initialize(k adapter.Kernel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kernel = k
}

// HandleWebhook verifies the HMAC signature and replay window, parses
// the Events API envelope, and either answers an URL-verification
// challenge or dispatches the inner event to the kernel.
func (a *Adapter) HandleWebhook(ctx context.Context, req adapter.WebhookRequest, opts adapter.RequestOptions) (adapter.WebhookResponse, error) {
	now := req.Now
	if now.IsZero() {
		now = a.now()
	}
	if err := verifySignature(a.signingSecret, req.Headers, req.Body, now, replaySkew); err != nil {
		a.logger.Warn("slack: signature verification failed", "error", err)
		return adapter.WebhookResponse{Status: 401, Body: []byte("unauthorized")}, nil
	}

	event, err := slackevents.ParseEvent(req.Body, slackevents.OptionNoVerifyToken())
	if err != nil {
		return adapter.WebhookResponse{Status: 400, Body: []byte("malformed payload")}, nil
	}

	if event.Type == slackevents.URLVerification {
		var challenge struct {
			Challenge string `json:"challenge"`
		}
		if err := json.Unmarshal(req.Body, &challenge); err != nil {
			return adapter.WebhookResponse{Status: 400}, nil
		}
		return adapter.WebhookResponse{Status: 200, Body: []byte(challenge.Challenge)}, nil
	}

	if event.Type != slackevents.CallbackEvent {
		return adapter.WebhookResponse{Status: 200}, nil
	}

	a.mu.Lock()
	k := a.kernel
	a.mu.Unlock()

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType != "" {
			return adapter.WebhookResponse{Status: 200}, nil
		}
		msg := a.toMessage(ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User, ev.Text, ev)
		msg.Author.IsMe = ev.User == a.BotUserID()
		if k != nil {
			if err := k.ProcessMessage(ctx, a, msg, opts); err != nil {
				a.logger.Error("slack: process message", "error", err)
			}
		}
	case *slackevents.AppMentionEvent:
		msg := a.toMessage(ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User, ev.Text, ev)
		msg.Author.IsMe = ev.User == a.BotUserID()
		if k != nil {
			if err := k.ProcessMessage(ctx, a, msg, opts); err != nil {
				a.logger.Error("slack: process mention", "error", err)
			}
		}
	case *slackevents.ReactionAddedEvent:
		a.dispatchReaction(ctx, k, ev.Item.Channel, ev.Item.Timestamp, ev.User, ev.Reaction, true, opts)
	case *slackevents.ReactionRemovedEvent:
		a.dispatchReaction(ctx, k, ev.Item.Channel, ev.Item.Timestamp, ev.User, ev.Reaction, false, opts)
	}

	return adapter.WebhookResponse{Status: 200}, nil
}

func (a *Adapter) dispatchReaction(ctx context.Context, k adapter.Kernel, channel, messageTS, userID, reaction string, added bool, opts adapter.RequestOptions) {
	if k == nil {
		return
	}
	threadID, err := a.EncodeThreadID(threadLocator{ChannelID: channel, ThreadTS: messageTS})
	if err != nil {
		return
	}
	evt := chat.ReactionEvent{
		RawEmoji:  reaction,
		Added:     added,
		User:      chat.Author{UserID: userID, IsMe: userID == a.BotUserID()},
		MessageID: messageTS,
		ThreadID:  threadID,
		Adapter:   a.Name(),
	}
	if err := k.ProcessReaction(ctx, a, evt, opts); err != nil {
		a.logger.Error("slack: process reaction", "error", err)
	}
}

func (a *Adapter) toMessage(channel, threadTS, ts, userID, text string, raw any) chat.Message {
	rootTS := threadTS
	if rootTS == "" {
		rootTS = ts
	}
	threadID, _ := a.EncodeThreadID(threadLocator{ChannelID: channel, ThreadTS: rootTS})
	return chat.Message{
		ID:       ts,
		ThreadID: threadID,
		Text:     text,
		Raw:      raw,
		Author:   chat.Author{UserID: userID, UserName: a.resolveUserName(userID)},
		Metadata: chat.Metadata{DateSent: parseSlackTimestamp(ts)},
	}
}

func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := a.cl.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.RealName
}

// threadLocator is the Slack-specific platform value: a channel plus
// the root message timestamp that identifies the thread.
type threadLocator struct {
	ChannelID string
	ThreadTS  string
}

func (a *Adapter) EncodeThreadID(platformData any) (chat.ThreadID, error) {
	loc, ok := platformData.(threadLocator)
	if !ok {
		return "", switcherr.NewValidationError(a.Name(), "encodeThreadID expects a slack threadLocator")
	}
	return chat.ThreadID(fmt.Sprintf("slack:%s:%s", loc.ChannelID, loc.ThreadTS)), nil
}

func (a *Adapter) DecodeThreadID(s chat.ThreadID) (any, error) {
	const prefix = "slack:"
	str := string(s)
	if !strings.HasPrefix(str, prefix) {
		return nil, switcherr.NewValidationError(a.Name(), "malformed slack thread id: "+str)
	}
	rest := strings.TrimPrefix(str, prefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return nil, switcherr.NewValidationError(a.Name(), "malformed slack thread id: "+str)
	}
	return threadLocator{ChannelID: parts[0], ThreadTS: parts[1]}, nil
}

func (a *Adapter) PostMessage(ctx context.Context, threadID chat.ThreadID, postable chat.Postable) (chat.SentMessage, error) {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return chat.SentMessage{}, err
	}
	loc := locator.(threadLocator)

	options := buildMessageOptions(loc.ThreadTS, postable)
	var channel, ts string
	err = retryOnRateLimit(ctx, func() error {
		var postErr error
		channel, ts, postErr = a.cl.PostMessage(loc.ChannelID, options...)
		return postErr
	})
	if err != nil {
		return chat.SentMessage{}, translateErr(a.Name(), err)
	}
	return chat.SentMessage{ID: ts, ThreadID: chat.ThreadID(fmt.Sprintf("slack:%s:%s", channel, loc.ThreadTS))}, nil
}

func (a *Adapter) EditMessage(ctx context.Context, threadID chat.ThreadID, messageID string, postable chat.Postable) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	loc := locator.(threadLocator)
	options := buildMessageOptions("", postable)
	return translateErr(a.Name(), retryOnRateLimit(ctx, func() error {
		_, _, _, err := a.cl.UpdateMessage(loc.ChannelID, messageID, options...)
		return err
	}))
}

func (a *Adapter) DeleteMessage(ctx context.Context, threadID chat.ThreadID, messageID string) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	loc := locator.(threadLocator)
	_, _, err = a.cl.DeleteMessage(loc.ChannelID, messageID)
	return translateErr(a.Name(), err)
}

func (a *Adapter) AddReaction(ctx context.Context, threadID chat.ThreadID, messageID, emojiName string) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	loc := locator.(threadLocator)
	return translateErr(a.Name(), a.cl.AddReaction(emojiName, slackapi.NewRefToMessage(loc.ChannelID, messageID)))
}

func (a *Adapter) RemoveReaction(ctx context.Context, threadID chat.ThreadID, messageID, emojiName string) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	loc := locator.(threadLocator)
	return translateErr(a.Name(), a.cl.RemoveReaction(emojiName, slackapi.NewRefToMessage(loc.ChannelID, messageID)))
}

// NormalizeEmoji maps Slack's short-code reaction representation
// (without colons, e.g. "+1") to the normalized singleton via reg.
func (a *Adapter) NormalizeEmoji(reg *emoji.Registry, raw string) *chat.Emoji {
	return reg.FromSlack(raw)
}

// StartTyping returns a NotImplementedError: Slack's Events API has no typing-indicator
// endpoint a bot can drive (only clients emit the legacy RTM event).
func (a *Adapter) StartTyping(ctx context.Context, threadID chat.ThreadID) error {
	return switcherr.NewNotImplementedError(a.Name(), "typing indicator")
}

func (a *Adapter) FetchMessages(ctx context.Context, threadID chat.ThreadID, opts chat.FetchOptions) (chat.FetchResult, error) {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return chat.FetchResult{}, err
	}
	loc := locator.(threadLocator)

	pageSize := maxPageSize
	if opts.Limit > 0 && opts.Limit < pageSize {
		pageSize = opts.Limit
	}
	params := &slackapi.GetConversationRepliesParameters{
		ChannelID: loc.ChannelID,
		Timestamp: loc.ThreadTS,
		Limit:     pageSize,
		Cursor:    opts.Cursor,
	}

	var raw []slackapi.Message
	var nextCursor string
	err = retryOnRateLimit(ctx, func() error {
		var apiErr error
		var hasMore bool
		raw, hasMore, nextCursor, apiErr = a.cl.GetConversationReplies(params)
		if !hasMore {
			nextCursor = ""
		}
		return apiErr
	})
	if err != nil {
		return chat.FetchResult{}, translateErr(a.Name(), err)
	}

	messages := make([]chat.Message, len(raw))
	for i, m := range raw {
		messages[i] = a.toMessage(loc.ChannelID, loc.ThreadTS, m.Timestamp, m.User, m.Text, m)
	}
	if opts.Direction == chat.Backward {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return chat.FetchResult{Messages: messages, NextCursor: nextCursor}, nil
}

func (a *Adapter) FetchThread(ctx context.Context, threadID chat.ThreadID) (chat.ThreadInfo, error) {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return chat.ThreadInfo{}, err
	}
	loc := locator.(threadLocator)
	ch, err := a.cl.GetConversationInfo(&slackapi.GetConversationInfoInput{ChannelID: loc.ChannelID})
	if err != nil {
		return chat.ThreadInfo{}, translateErr(a.Name(), err)
	}
	return chat.ThreadInfo{ChannelID: loc.ChannelID, DisplayName: ch.Name, IsDM: ch.IsIM}, nil
}

func (a *Adapter) ParseMessage(raw any) (chat.Message, error) {
	m, ok := raw.(slackapi.Message)
	if !ok {
		return chat.Message{}, switcherr.NewValidationError(a.Name(), "raw payload is not a slack.Message")
	}
	return a.toMessage(m.Channel, m.ThreadTimestamp, m.Timestamp, m.User, m.Text, m), nil
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
			b.WriteString("*")
			b.WriteString(n.Text)
			b.WriteString("*")
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

// buildMessageOptions translates a Postable into Slack MsgOptions.
func buildMessageOptions(threadTS string, postable chat.Postable) []slackapi.MsgOption {
	var options []slackapi.MsgOption
	if threadTS != "" {
		options = append(options, slackapi.MsgOptionTS(threadTS))
	}
	if postable.Card != nil {
		options = append(options, slackapi.MsgOptionAttachments(cardToAttachment(*postable.Card, postable.FallbackText)))
		return options
	}
	text := postable.Text
	if text == "" {
		text = postable.Markdown
	}
	options = append(options, slackapi.MsgOptionText(text, false))
	return options
}

func cardToAttachment(card chat.Node, fallback string) slackapi.Attachment {
	att := slackapi.Attachment{Fallback: fallback}
	if title, ok := card.Attrs["title"].(string); ok {
		att.Title = title
	}
	if color, ok := card.Attrs["color"].(string); ok {
		att.Color = color
	}
	att.Text = card.Text
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate
// limit errors, respecting the RetryAfter hint when the platform sends
// one and honoring context cancellation.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	if len(parts) == 0 {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func translateErr(adapterName string, err error) error {
	if err == nil {
		return nil
	}
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		ms := int64(rle.RetryAfter / time.Millisecond)
		return switcherr.NewRateLimitError(adapterName, &ms, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not_authed"), strings.Contains(msg, "invalid_auth"), strings.Contains(msg, "token_revoked"):
		return switcherr.NewAuthenticationError(adapterName, err)
	case strings.Contains(msg, "not_in_channel"), strings.Contains(msg, "restricted_action"):
		return switcherr.NewPermissionError(adapterName, err)
	case strings.Contains(msg, "channel_not_found"), strings.Contains(msg, "message_not_found"):
		return switcherr.NewResourceNotFoundError(adapterName, "channel or message")
	default:
		return switcherr.NewAdapterError(adapterName, "slack API error", err)
	}
}
