// Package thread implements the thread facade: the per-invocation
// handle passed into handlers, exposing subscribe/post/edit/typing/
// history against one adapter+thread.
package thread

import (
	"context"
	"fmt"

	"github.com/duskrail/switchboard/internal/adapter"
	"github.com/duskrail/switchboard/internal/chat"
	"github.com/duskrail/switchboard/internal/state"
)

// Thread is a per-invocation handle. A new Thread is constructed for
// every dispatch; it is not safe to retain across dispatches since
// IsSubscribed may short-circuit based on dispatch-time knowledge.
type Thread struct {
	id        chat.ThreadID
	adapterImpl adapter.Adapter
	store     state.Store
	channelID string
	isDM      bool

	// knownSubscribed, when non-nil, lets IsSubscribed answer without
	// consulting the state store: the dispatcher already knows the
	// answer because it just branched on subscription dominance.
	knownSubscribed *bool
}

// New constructs a Thread facade for id, owned by a, backed by store.
// knownSubscribed may be nil (consult the store) or a pointer to the
// dispatcher's already-known answer.
func New(a adapter.Adapter, store state.Store, id chat.ThreadID, channelID string, isDM bool, knownSubscribed *bool) *Thread {
	return &Thread{
		id:              id,
		adapterImpl:     a,
		store:           store,
		channelID:       channelID,
		isDM:            isDM,
		knownSubscribed: knownSubscribed,
	}
}

// ID returns the thread's opaque identifier.
func (t *Thread) ID() chat.ThreadID { return t.id }

// Adapter returns the underlying platform adapter.
func (t *Thread) Adapter() adapter.Adapter { return t.adapterImpl }

// ChannelID returns the channel identity this thread lives in.
func (t *Thread) ChannelID() string { return t.channelID }

// IsDM reports whether this thread is a direct-message thread.
func (t *Thread) IsDM() bool { return t.isDM }

// RecentMessages fetches the most recent page of thread history
// (backward direction, at most limit messages).
func (t *Thread) RecentMessages(ctx context.Context, limit int) ([]chat.Message, error) {
	res, err := t.adapterImpl.FetchMessages(ctx, t.id, chat.FetchOptions{Limit: limit, Direction: chat.Backward})
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// AllMessages returns a lazy asynchronous sequence over the thread's
// entire history, paging via FetchMessages until the adapter reports no
// further cursor. Each call to the returned function fetches the next
// page on demand.
func (t *Thread) AllMessages(ctx context.Context, direction chat.FetchDirection, pageSize int) func() ([]chat.Message, error) {
	cursor := ""
	done := false
	return func() ([]chat.Message, error) {
		if done {
			return nil, nil
		}
		res, err := t.adapterImpl.FetchMessages(ctx, t.id, chat.FetchOptions{
			Limit:     pageSize,
			Cursor:    cursor,
			Direction: direction,
		})
		if err != nil {
			return nil, err
		}
		if res.NextCursor == "" {
			done = true
		}
		cursor = res.NextCursor
		return res.Messages, nil
	}
}

// IsSubscribed reports whether this thread is currently subscribed.
// When constructed inside a subscribed-message dispatch, the answer is
// already known and no state-store round trip is made.
func (t *Thread) IsSubscribed(ctx context.Context) (bool, error) {
	if t.knownSubscribed != nil {
		return *t.knownSubscribed, nil
	}
	return t.store.IsSubscribed(ctx, string(t.id))
}

// Subscribe adds the thread to the subscription set and then calls the
// adapter's optional OnThreadSubscribe hook. The two side effects need
// not be atomic: the subscription persists even if the hook fails
// (at-least-once semantics for OnThreadSubscribe), so the hook's error
// is returned to the caller but the subscription is not rolled back.
func (t *Thread) Subscribe(ctx context.Context) error {
	if err := t.store.Subscribe(ctx, string(t.id)); err != nil {
		return fmt.Errorf("thread: subscribe %s: %w", t.id, err)
	}
	known := true
	t.knownSubscribed = &known
	if err := t.adapterImpl.OnThreadSubscribe(ctx, t.id); err != nil {
		return fmt.Errorf("thread: onThreadSubscribe %s: %w", t.id, err)
	}
	return nil
}

// Unsubscribe removes the thread from the subscription set.
func (t *Thread) Unsubscribe(ctx context.Context) error {
	if err := t.store.Unsubscribe(ctx, string(t.id)); err != nil {
		return fmt.Errorf("thread: unsubscribe %s: %w", t.id, err)
	}
	known := false
	t.knownSubscribed = &known
	return nil
}

// Post sends a postable message to the thread, returning a SentMessage
// the caller can edit/delete/react to without re-deriving IDs.
func (t *Thread) Post(ctx context.Context, postable chat.Postable) (*Sent, error) {
	sent, err := t.adapterImpl.PostMessage(ctx, t.id, postable)
	if err != nil {
		return nil, err
	}
	return &Sent{thread: t, SentMessage: sent}, nil
}

// StartTyping signals a typing indicator in the thread.
func (t *Thread) StartTyping(ctx context.Context) error {
	return t.adapterImpl.StartTyping(ctx, t.id)
}

// Refresh re-fetches the thread's channel identity from the adapter.
func (t *Thread) Refresh(ctx context.Context) (chat.ThreadInfo, error) {
	info, err := t.adapterImpl.FetchThread(ctx, t.id)
	if err != nil {
		return chat.ThreadInfo{}, err
	}
	t.channelID = info.ChannelID
	t.isDM = info.IsDM
	return info, nil
}

// MentionUser returns the plain "@userID" form for userID; no
// adapter-specific mention syntax is applied.
func (t *Thread) MentionUser(userID string) string {
	return "@" + userID
}

// Sent is a materialized send result: a SentMessage plus the
// facade-bound operations to manipulate it.
type Sent struct {
	thread *Thread
	chat.SentMessage
}

// Edit updates this sent message's content.
func (s *Sent) Edit(ctx context.Context, postable chat.Postable) error {
	return s.thread.adapterImpl.EditMessage(ctx, s.ThreadID, s.ID, postable)
}

// Delete removes this sent message.
func (s *Sent) Delete(ctx context.Context) error {
	return s.thread.adapterImpl.DeleteMessage(ctx, s.ThreadID, s.ID)
}

// AddReaction attaches a normalized emoji reaction to this sent message.
func (s *Sent) AddReaction(ctx context.Context, emojiName string) error {
	return s.thread.adapterImpl.AddReaction(ctx, s.ThreadID, s.ID, emojiName)
}

// RemoveReaction removes a previously added reaction from this sent message.
func (s *Sent) RemoveReaction(ctx context.Context, emojiName string) error {
	return s.thread.adapterImpl.RemoveReaction(ctx, s.ThreadID, s.ID, emojiName)
}
