package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/duskrail/switchboard/internal/adapter"
	"github.com/duskrail/switchboard/internal/chat"
)

const testSecret = "test-signing-secret"

type mockClient struct {
	posted      []postCall
	postErr     error
	replies     []slackapi.Message
	repliesErr  error
	users       map[string]*slackapi.User
	conv        *slackapi.Channel
	deleteCalls int
}

type postCall struct {
	channelID string
	options   []slackapi.MsgOption
}

func (m *mockClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postCall{channelID: channelID, options: options})
	return channelID, fmt.Sprintf("%d.000000", 1000+len(m.posted)), nil
}
func (m *mockClient) UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error) {
	return channelID, timestamp, "", nil
}
func (m *mockClient) DeleteMessage(channelID, timestamp string) (string, string, error) {
	m.deleteCalls++
	return channelID, timestamp, nil
}
func (m *mockClient) AddReaction(name string, item slackapi.ItemRef) error    { return nil }
func (m *mockClient) RemoveReaction(name string, item slackapi.ItemRef) error { return nil }
func (m *mockClient) GetConversationReplies(params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error) {
	if m.repliesErr != nil {
		return nil, false, "", m.repliesErr
	}
	return m.replies, false, "", nil
}
func (m *mockClient) GetConversationInfo(input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error) {
	if m.conv != nil {
		return m.conv, nil
	}
	return &slackapi.Channel{}, nil
}
func (m *mockClient) GetUserInfo(userID string) (*slackapi.User, error) {
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user not found")
}

func newTestAdapter(t *testing.T) (*Adapter, *mockClient) {
	t.Helper()
	cl := &mockClient{users: map[string]*slackapi.User{}}
	a, err := New(Options{Client: cl, SigningSecret: testSecret, UserName: "bot", BotUserID: "U-BOT"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a, cl
}

func sign(t *testing.T, secret string, ts string, body []byte) string {
	t.Helper()
	base := "v0:" + ts + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func signedHeaders(t *testing.T, secret string, ts time.Time, body []byte) http.Header {
	t.Helper()
	tsStr := strconv.FormatInt(ts.Unix(), 10)
	h := http.Header{}
	h.Set("X-Slack-Request-Timestamp", tsStr)
	h.Set("X-Slack-Signature", sign(t, secret, tsStr, body))
	return h
}

func TestNew_RequiresBotTokenOrClient(t *testing.T) {
	if _, err := New(Options{SigningSecret: testSecret}); err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestNew_RequiresSigningSecret(t *testing.T) {
	if _, err := New(Options{Client: &mockClient{}}); err == nil {
		t.Fatal("expected error for missing signing secret")
	}
}

func TestVerifySignature_Valid(t *testing.T) {
	body := []byte(`{"type":"event_callback"}`)
	now := time.Unix(1700000000, 0)
	headers := signedHeaders(t, testSecret, now, body)
	if err := verifySignature(testSecret, headers, body, now, replaySkew); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"type":"event_callback"}`)
	now := time.Unix(1700000000, 0)
	headers := signedHeaders(t, "other-secret", now, body)
	if err := verifySignature(testSecret, headers, body, now, replaySkew); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestVerifySignature_ReplayedTimestampRejected(t *testing.T) {
	body := []byte(`{"type":"event_callback"}`)
	delivered := time.Unix(1700000000, 0)
	headers := signedHeaders(t, testSecret, delivered, body)
	farFuture := delivered.Add(10 * time.Minute)
	if err := verifySignature(testSecret, headers, body, farFuture, replaySkew); err == nil {
		t.Fatal("expected replay-window rejection")
	}
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	a, _ := newTestAdapter(t)
	body := []byte(`{"type":"event_callback"}`)
	now := time.Unix(1700000000, 0)
	headers := signedHeaders(t, "wrong", now, body)
	resp, err := a.HandleWebhook(context.Background(), adapter.WebhookRequest{Body: body, Headers: headers, Now: now}, adapter.RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 401 {
		t.Errorf("status = %d, want 401", resp.Status)
	}
}

func TestHandleWebhook_URLVerificationChallenge(t *testing.T) {
	a, _ := newTestAdapter(t)
	body := []byte(`{"type":"url_verification","challenge":"abc123","token":"x"}`)
	now := time.Unix(1700000000, 0)
	headers := signedHeaders(t, testSecret, now, body)
	resp, err := a.HandleWebhook(context.Background(), adapter.WebhookRequest{Body: body, Headers: headers, Now: now}, adapter.RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != "abc123" {
		t.Fatalf("resp = %+v, want 200/abc123", resp)
	}
}

func TestHandleWebhook_DispatchesMessageEvent(t *testing.T) {
	a, _ := newTestAdapter(t)
	fk := &fakeKernel{}
	a.Initialize(fk)

	body := []byte(`{
		"type": "event_callback",
		"event": {
			"type": "message",
			"channel": "C1",
			"user": "U1",
			"text": "hello there",
			"ts": "1700000001.000100"
		}
	}`)
	now := time.Unix(1700000000, 0)
	headers := signedHeaders(t, testSecret, now, body)
	resp, err := a.HandleWebhook(context.Background(), adapter.WebhookRequest{Body: body, Headers: headers, Now: now}, adapter.RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if len(fk.messages) != 1 || fk.messages[0].Text != "hello there" {
		t.Fatalf("messages = %+v", fk.messages)
	}
}

func TestHandleWebhook_MarksSelfAuthoredMessage(t *testing.T) {
	a, _ := newTestAdapter(t)
	fk := &fakeKernel{}
	a.Initialize(fk)

	body := []byte(`{
		"type": "event_callback",
		"event": {
			"type": "message",
			"channel": "C1",
			"user": "U-BOT",
			"text": "echo",
			"ts": "1700000001.000100"
		}
	}`)
	now := time.Unix(1700000000, 0)
	headers := signedHeaders(t, testSecret, now, body)
	if _, err := a.HandleWebhook(context.Background(), adapter.WebhookRequest{Body: body, Headers: headers, Now: now}, adapter.RequestOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A plain message from the bot's own user ID (no bot_id/subtype) is
	// handed to the kernel with Author.IsMe set; the kernel's self filter
	// decides.
	if len(fk.messages) != 1 || !fk.messages[0].Author.IsMe {
		t.Fatalf("expected one message with Author.IsMe = true, got %+v", fk.messages)
	}
}

func TestEncodeDecodeThreadID_RoundTrip(t *testing.T) {
	a, _ := newTestAdapter(t)
	id, err := a.EncodeThreadID(threadLocator{ChannelID: "C1", ThreadTS: "1700000000.000100"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if id != "slack:C1:1700000000.000100" {
		t.Errorf("id = %q", id)
	}
	decoded, err := a.DecodeThreadID(id)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	loc := decoded.(threadLocator)
	if loc.ChannelID != "C1" || loc.ThreadTS != "1700000000.000100" {
		t.Errorf("decoded = %+v", loc)
	}
}

func TestDecodeThreadID_Malformed(t *testing.T) {
	a, _ := newTestAdapter(t)
	if _, err := a.DecodeThreadID("slack:onlychannel"); err == nil {
		t.Fatal("expected error for missing timestamp segment")
	}
	if _, err := a.DecodeThreadID("discord:C1:1"); err == nil {
		t.Fatal("expected error for mismatched adapter prefix")
	}
}

func TestPostMessage_Success(t *testing.T) {
	a, cl := newTestAdapter(t)
	sent, err := a.PostMessage(context.Background(), "slack:C1:1700000000.000100", chat.Postable{Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent.ID == "" {
		t.Fatal("expected a message id")
	}
	if len(cl.posted) != 1 || cl.posted[0].channelID != "C1" {
		t.Fatalf("posted = %+v", cl.posted)
	}
}

func TestPostMessage_TranslatesRateLimitError(t *testing.T) {
	a, cl := newTestAdapter(t)
	cl.postErr = &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	_, err := a.PostMessage(context.Background(), "slack:C1:1700000000.000100", chat.Postable{Text: "hi"})
	if err == nil {
		t.Fatal("expected rate-limit error after exhausting retries")
	}
}

func TestDeleteMessage_Success(t *testing.T) {
	a, cl := newTestAdapter(t)
	if err := a.DeleteMessage(context.Background(), "slack:C1:1700000000.000100", "1700000001.000100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cl.deleteCalls != 1 {
		t.Errorf("deleteCalls = %d, want 1", cl.deleteCalls)
	}
}

func TestFetchMessages_DefaultOrderIsAscending(t *testing.T) {
	a, cl := newTestAdapter(t)
	cl.replies = []slackapi.Message{
		{Msg: slackapi.Msg{User: "U1", Text: "first", Timestamp: "1700000000.000100"}},
		{Msg: slackapi.Msg{User: "U1", Text: "second", Timestamp: "1700000001.000100"}},
	}
	result, err := a.FetchMessages(context.Background(), "slack:C1:1700000000.000100", chat.FetchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Messages) != 2 || result.Messages[0].Text != "first" {
		t.Fatalf("messages = %+v", result.Messages)
	}
}

func TestRetryOnRateLimit_NonRateLimitErrorDoesNotRetry(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		return fmt.Errorf("boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retryOnRateLimit(ctx, func() error {
		calls++
		return &slackapi.RateLimitedError{RetryAfter: time.Second}
	})
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	ts := parseSlackTimestamp("1700000000.000100")
	if ts.Unix() != 1700000000 {
		t.Errorf("unix = %d, want 1700000000", ts.Unix())
	}
	if !parseSlackTimestamp("garbage").IsZero() {
		t.Error("expected zero time for malformed timestamp")
	}
}

// fakeKernel records ProcessMessage/ProcessReaction calls for webhook
// dispatch assertions.
type fakeKernel struct {
	messages  []chat.Message
	reactions []chat.ReactionEvent
}

func (f *fakeKernel) ProcessMessage(ctx context.Context, a adapter.Adapter, msg chat.Message, opts adapter.RequestOptions) error {
	f.messages = append(f.messages, msg)
	return nil
}
func (f *fakeKernel) ProcessReaction(ctx context.Context, a adapter.Adapter, evt chat.ReactionEvent, opts adapter.RequestOptions) error {
	f.reactions = append(f.reactions, evt)
	return nil
}
func (f *fakeKernel) ProcessAction(ctx context.Context, a adapter.Adapter, evt chat.ActionEvent, opts adapter.RequestOptions) error {
	return nil
}
