// Package kernel implements the dispatcher: self filter, deduplication,
// lease acquisition, subscription-dominance, mention detection, and
// pattern matching, run in that order for every inbound event.
package kernel

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/duskrail/switchboard/internal/adapter"
	"github.com/duskrail/switchboard/internal/chat"
	"github.com/duskrail/switchboard/internal/emoji"
	"github.com/duskrail/switchboard/internal/logging"
	"github.com/duskrail/switchboard/internal/registry"
	"github.com/duskrail/switchboard/internal/state"
	"github.com/duskrail/switchboard/internal/switcherr"
	"github.com/duskrail/switchboard/internal/thread"
)

// DedupeTTL and LeaseTTL are the default windows used during dispatch.
const (
	DedupeTTL = 60 * time.Second
	LeaseTTL  = 30 * time.Second
)

// Kernel wires the registry, state store, and emoji registry together
// and runs the dispatch algorithm for every normalized event an adapter
// hands it. One Kernel serves every adapter registered with it.
type Kernel struct {
	store    state.Store
	registry *registry.Registry
	emoji    *emoji.Registry
	logger   logging.Logger

	dedupeTTL time.Duration
	leaseTTL  time.Duration

	// background tracks tasks spawned on the internal pool when an
	// adapter calls ProcessMessage without a waitUntil hook, so the
	// kernel can drain outstanding work on Shutdown.
	background sync.WaitGroup
}

// Option configures a Kernel at construction time.
type Option func(*Kernel)

// WithLogger overrides the default no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// WithDedupeTTL overrides the default 60s dedup window (tests only).
func WithDedupeTTL(d time.Duration) Option {
	return func(k *Kernel) { k.dedupeTTL = d }
}

// WithLeaseTTL overrides the default 30s lease TTL (tests only).
func WithLeaseTTL(d time.Duration) Option {
	return func(k *Kernel) { k.leaseTTL = d }
}

// New builds a Kernel over store, dispatching to the handlers in reg
// and using emojiReg to resolve normalized reaction names.
func New(store state.Store, reg *registry.Registry, emojiReg *emoji.Registry, opts ...Option) *Kernel {
	k := &Kernel{
		store:     store,
		registry:  reg,
		emoji:     emojiReg,
		logger:    logging.Noop(),
		dedupeTTL: DedupeTTL,
		leaseTTL:  LeaseTTL,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Shutdown waits for every background task spawned via an adapter's
// missing waitUntil hook to finish.
func (k *Kernel) Shutdown() {
	k.background.Wait()
}

// ProcessMessage runs the core dispatch algorithm for one normalized
// message.
func (k *Kernel) ProcessMessage(ctx context.Context, a adapter.Adapter, msg chat.Message, opts adapter.RequestOptions) error {
	return k.dispatch(ctx, opts, func(ctx context.Context) error {
		return k.processMessage(ctx, a, msg)
	})
}

func (k *Kernel) processMessage(ctx context.Context, a adapter.Adapter, msg chat.Message) error {
	// A. Self filter — drop unconditionally.
	if msg.Author.IsMe {
		return nil
	}

	// B. Deduplication — short-circuit duplicates.
	dedupeKey := fmt.Sprintf("dedupe:%s:%s", a.Name(), msg.ID)
	var seen bool
	found, err := k.store.Get(ctx, dedupeKey, &seen)
	if err != nil {
		k.logger.Error("dedup read failed", "adapter", a.Name(), "threadId", string(msg.ThreadID), "messageId", msg.ID, "error", err)
	}
	if found {
		k.logger.Debug("duplicate delivery dropped", "adapter", a.Name(), "messageId", msg.ID)
		return nil
	}
	// Best-effort write: if this fails, a retry will read absent and
	// the message will be processed twice. Handlers must be idempotent.
	if err := k.store.Set(ctx, dedupeKey, true, k.dedupeTTL); err != nil {
		k.logger.Error("dedup write failed", "adapter", a.Name(), "messageId", msg.ID, "error", err)
	}

	// C. Lease — serialize per-thread work.
	lease, err := k.store.AcquireLease(ctx, string(msg.ThreadID), k.leaseTTL)
	if err != nil {
		return fmt.Errorf("kernel: acquire lease: %w", err)
	}
	if lease == nil {
		k.logger.Warn("lease contention", "adapter", a.Name(), "threadId", string(msg.ThreadID), "messageId", msg.ID)
		return switcherr.NewLockError(a.Name(), string(msg.ThreadID))
	}
	defer func() {
		if err := k.store.ReleaseLease(ctx, lease); err != nil {
			k.logger.Error("release lease failed", "adapter", a.Name(), "threadId", string(msg.ThreadID), "error", err)
		}
	}()

	threadInfo, err := a.FetchThread(ctx, msg.ThreadID)
	if err != nil {
		k.logger.Error("fetch thread failed", "adapter", a.Name(), "threadId", string(msg.ThreadID), "error", err)
	}

	// D. Subscription takes priority over mention/pattern.
	subscribed, err := k.store.IsSubscribed(ctx, string(msg.ThreadID))
	if err != nil {
		return fmt.Errorf("kernel: check subscription: %w", err)
	}
	if subscribed {
		msg.IsMention = detectMention(a, msg.Text)
		known := true
		th := thread.New(a, k.store, msg.ThreadID, threadInfo.ChannelID, threadInfo.IsDM, &known)
		return k.registry.RunSubscribedHandlers(ctx, th, msg)
	}

	// E. Mention detection.
	if detectMention(a, msg.Text) {
		msg.IsMention = true
		known := false
		th := thread.New(a, k.store, msg.ThreadID, threadInfo.ChannelID, threadInfo.IsDM, &known)
		return k.registry.RunMentionHandlers(ctx, th, msg)
	}

	// F. Pattern matching — every matching pattern fires.
	known := false
	th := thread.New(a, k.store, msg.ThreadID, threadInfo.ChannelID, threadInfo.IsDM, &known)
	return k.registry.RunPatternHandlers(ctx, th, msg)
}

// ProcessReaction dispatches a reaction event. It follows the same
// lease discipline as ProcessMessage but skips dedup (platform reaction
// events are low-volume and platforms deduplicate) and the
// mention/pattern phases.
func (k *Kernel) ProcessReaction(ctx context.Context, a adapter.Adapter, evt chat.ReactionEvent, opts adapter.RequestOptions) error {
	return k.dispatch(ctx, opts, func(ctx context.Context) error {
		if evt.User.IsMe {
			return nil
		}
		lease, err := k.store.AcquireLease(ctx, string(evt.ThreadID), k.leaseTTL)
		if err != nil {
			return fmt.Errorf("kernel: acquire lease: %w", err)
		}
		if lease == nil {
			k.logger.Warn("lease contention", "adapter", a.Name(), "threadId", string(evt.ThreadID))
			return switcherr.NewLockError(a.Name(), string(evt.ThreadID))
		}
		defer func() { _ = k.store.ReleaseLease(ctx, lease) }()

		evt.Emoji = a.NormalizeEmoji(k.emoji, evt.RawEmoji)

		threadInfo, _ := a.FetchThread(ctx, evt.ThreadID)
		th := thread.New(a, k.store, evt.ThreadID, threadInfo.ChannelID, threadInfo.IsDM, nil)
		return k.registry.RunReactionHandlers(ctx, th, evt)
	})
}

// ProcessAction dispatches a card-button action event, with the same
// lease discipline as ProcessReaction.
func (k *Kernel) ProcessAction(ctx context.Context, a adapter.Adapter, evt chat.ActionEvent, opts adapter.RequestOptions) error {
	return k.dispatch(ctx, opts, func(ctx context.Context) error {
		if evt.User.IsMe {
			return nil
		}
		lease, err := k.store.AcquireLease(ctx, string(evt.ThreadID), k.leaseTTL)
		if err != nil {
			return fmt.Errorf("kernel: acquire lease: %w", err)
		}
		if lease == nil {
			k.logger.Warn("lease contention", "adapter", a.Name(), "threadId", string(evt.ThreadID))
			return switcherr.NewLockError(a.Name(), string(evt.ThreadID))
		}
		defer func() { _ = k.store.ReleaseLease(ctx, lease) }()

		threadInfo, _ := a.FetchThread(ctx, evt.ThreadID)
		th := thread.New(a, k.store, evt.ThreadID, threadInfo.ChannelID, threadInfo.IsDM, nil)
		return k.registry.RunActionHandlers(ctx, th, evt)
	})
}

// dispatch wraps fn as a waitUntil-handed background task: when the
// caller supplied a waitUntil hook, the kernel hands the whole dispatch
// to it and returns immediately (nil); with no hook, the kernel runs fn
// on an internal goroutine tracked by k.background so Shutdown can
// drain it, also returning immediately. Errors from fn are logged at
// the top of the dispatch task (LockError at warn, anything else at
// error) rather than surfaced to the caller.
func (k *Kernel) dispatch(ctx context.Context, opts adapter.RequestOptions, fn func(context.Context) error) error {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				k.logger.Error("dispatch panic", "panic", r)
			}
		}()
		if err := fn(ctx); err != nil {
			logDispatchError(k.logger, err)
		}
	}

	if opts.WaitUntil != nil {
		opts.WaitUntil(run)
		return nil
	}

	k.background.Add(1)
	go func() {
		defer k.background.Done()
		run()
	}()
	return nil
}

func logDispatchError(logger logging.Logger, err error) {
	var lockErr *switcherr.LockError
	if isLockError(err, &lockErr) {
		logger.Warn("lease conflict", "error", err)
		return
	}
	logger.Error("dispatch error", "error", err)
}

func isLockError(err error, target **switcherr.LockError) bool {
	le, ok := err.(*switcherr.LockError)
	if ok {
		*target = le
	}
	return ok
}

// detectMention checks two word-boundary, case-insensitive patterns
// over the normalized text — "@<userName>" and, as a fallback,
// "@<botUserId>" — with regex metacharacters in the identifiers
// escaped.
func detectMention(a adapter.Adapter, text string) bool {
	if re := mentionPattern(a.UserName()); re != nil && re.MatchString(text) {
		return true
	}
	if botID := a.BotUserID(); botID != "" {
		if re := mentionPattern(botID); re != nil && re.MatchString(text) {
			return true
		}
	}
	return false
}

func mentionPattern(identifier string) *regexp.Regexp {
	if identifier == "" {
		return nil
	}
	expr := `(?i)@` + regexp.QuoteMeta(identifier) + `\b`
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil
	}
	return re
}
