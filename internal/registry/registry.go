// Package registry implements the handler registry: the five
// user-registration points, stored in insertion-ordered lists with no
// deregistration.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/duskrail/switchboard/internal/chat"
	"github.com/duskrail/switchboard/internal/emoji"
	"github.com/duskrail/switchboard/internal/thread"
)

// MessageHandler handles a mention, pattern, or subscribed-message dispatch.
type MessageHandler func(ctx context.Context, th *thread.Thread, msg chat.Message) error

// ReactionHandler handles a reaction event.
type ReactionHandler func(ctx context.Context, th *thread.Thread, evt chat.ReactionEvent) error

// ActionHandler handles a card-button action event.
type ActionHandler func(ctx context.Context, th *thread.Thread, evt chat.ActionEvent) error

// Pattern matches message text for onNewMessage registrations.
type Pattern struct{ re *regexp.Regexp }

// NewPattern compiles expr as the pattern's matching regexp.
func NewPattern(expr string) (*Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("registry: invalid pattern %q: %w", expr, err)
	}
	return &Pattern{re: re}, nil
}

// Matches reports whether text satisfies the pattern.
func (p *Pattern) Matches(text string) bool { return p.re.MatchString(text) }

type patternBinding struct {
	pattern *Pattern
	handler MessageHandler
}

type reactionBinding struct {
	names   []string // empty means match-all
	handler ReactionHandler
}

type actionBinding struct {
	ids     []string // empty means match-all
	handler ActionHandler
}

// Registry stores every registered handler, in insertion order.
// Registration is append-only: there is no deregistration primitive.
type Registry struct {
	mu          sync.Mutex
	mentions    []MessageHandler
	patterns    []patternBinding
	subscribed  []MessageHandler
	reactions   []reactionBinding
	actions     []actionBinding
	emojiReg    *emoji.Registry
}

// New returns an empty Registry using reg for normalized-emoji matching
// on OnReaction filters.
func New(reg *emoji.Registry) *Registry {
	return &Registry{emojiReg: reg}
}

// OnNewMention registers a handler invoked when a message mentions the bot.
func (r *Registry) OnNewMention(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mentions = append(r.mentions, h)
}

// OnNewMessage registers a handler invoked for every message whose text
// matches pattern, when the thread is neither subscribed nor mentioned.
func (r *Registry) OnNewMessage(pattern *Pattern, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, patternBinding{pattern: pattern, handler: h})
}

// OnSubscribedMessage registers a handler invoked for every message in a
// subscribed thread.
func (r *Registry) OnSubscribedMessage(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = append(r.subscribed, h)
}

// OnReaction registers a handler for reaction events. names restricts
// matching to those normalized emoji names (via the emoji registry's
// Matches); a nil/empty names matches every reaction.
func (r *Registry) OnReaction(names []string, h ReactionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, reactionBinding{names: names, handler: h})
}

// OnAction registers a handler for card-button action events. ids
// restricts matching to those action IDs; a nil/empty ids matches any
// action.
func (r *Registry) OnAction(ids []string, h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, actionBinding{ids: ids, handler: h})
}

// RunMentionHandlers runs every registered mention handler, in
// registration order, stopping at the first error.
func (r *Registry) RunMentionHandlers(ctx context.Context, th *thread.Thread, msg chat.Message) error {
	r.mu.Lock()
	handlers := append([]MessageHandler(nil), r.mentions...)
	r.mu.Unlock()
	return runAll(handlers, ctx, th, msg)
}

// RunSubscribedHandlers runs every registered subscribed-message
// handler, in registration order.
func (r *Registry) RunSubscribedHandlers(ctx context.Context, th *thread.Thread, msg chat.Message) error {
	r.mu.Lock()
	handlers := append([]MessageHandler(nil), r.subscribed...)
	r.mu.Unlock()
	return runAll(handlers, ctx, th, msg)
}

// RunPatternHandlers runs every pattern handler whose pattern matches
// msg.Text, in registration order. Pattern matching does not
// short-circuit: every matching pattern's handler runs.
func (r *Registry) RunPatternHandlers(ctx context.Context, th *thread.Thread, msg chat.Message) error {
	r.mu.Lock()
	bindings := append([]patternBinding(nil), r.patterns...)
	r.mu.Unlock()
	for _, b := range bindings {
		if !b.pattern.Matches(msg.Text) {
			continue
		}
		if err := b.handler(ctx, th, msg); err != nil {
			return err
		}
	}
	return nil
}

// RunReactionHandlers runs every reaction handler whose filter accepts
// evt.Emoji, in registration order.
func (r *Registry) RunReactionHandlers(ctx context.Context, th *thread.Thread, evt chat.ReactionEvent) error {
	r.mu.Lock()
	bindings := append([]reactionBinding(nil), r.reactions...)
	r.mu.Unlock()
	for _, b := range bindings {
		if len(b.names) > 0 && !matchesAny(r.emojiReg, evt, b.names) {
			continue
		}
		if err := b.handler(ctx, th, evt); err != nil {
			return err
		}
	}
	return nil
}

func matchesAny(reg *emoji.Registry, evt chat.ReactionEvent, names []string) bool {
	for _, name := range names {
		if evt.Emoji != nil && evt.Emoji.Name == name {
			return true
		}
		if reg != nil && reg.Matches(evt.RawEmoji, name) {
			return true
		}
	}
	return false
}

// RunActionHandlers runs every action handler whose filter accepts
// evt.ActionID, in registration order.
func (r *Registry) RunActionHandlers(ctx context.Context, th *thread.Thread, evt chat.ActionEvent) error {
	r.mu.Lock()
	bindings := append([]actionBinding(nil), r.actions...)
	r.mu.Unlock()
	for _, b := range bindings {
		if len(b.ids) > 0 && !containsString(b.ids, evt.ActionID) {
			continue
		}
		if err := b.handler(ctx, th, evt); err != nil {
			return err
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func runAll(handlers []MessageHandler, ctx context.Context, th *thread.Thread, msg chat.Message) error {
	for _, h := range handlers {
		if err := h(ctx, th, msg); err != nil {
			return err
		}
	}
	return nil
}
