// Package emoji implements a process-wide normalized-emoji registry:
// a cached singleton value object per normalized name, with
// per-platform alias tables in both directions.
package emoji

import (
	"sync"

	"github.com/duskrail/switchboard/internal/chat"
)

// Registry maps normalized emoji names to per-platform representations
// and caches one *chat.Emoji singleton per name so callers can compare
// by pointer identity.
type Registry struct {
	mu         sync.Mutex
	singletons map[string]*chat.Emoji
	toSlack    map[string]string
	fromSlack  map[string]string
	toGChat    map[string]string
	fromGChat  map[string]string
}

// defaultAliases seeds the registry with a handful of well-known
// cross-platform emoji, mirroring the kind of table a shipped bot
// framework ships out of the box.
var defaultAliases = map[string]struct{ slack, gchat string }{
	"thumbsup":   {"+1", "👍"},
	"thumbsdown": {"-1", "👎"},
	"white_check_mark": {"white_check_mark", "✅"},
	"eyes":       {"eyes", "👀"},
	"rocket":     {"rocket", "🚀"},
	"x":          {"x", "❌"},
}

// New returns a Registry pre-populated with the default alias table.
func New() *Registry {
	r := &Registry{
		singletons: make(map[string]*chat.Emoji),
		toSlack:    make(map[string]string),
		fromSlack:  make(map[string]string),
		toGChat:    make(map[string]string),
		fromGChat:  make(map[string]string),
	}
	for name, aliases := range defaultAliases {
		r.Extend(name, aliases.slack, aliases.gchat)
	}
	return r
}

// Extend registers (or overwrites) the platform aliases for a
// normalized name, seeding its singleton if this is the first time the
// name has been seen.
func (r *Registry) Extend(normalized, slackAlias, gchatAlias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.singleton(normalized)
	if slackAlias != "" {
		r.toSlack[normalized] = slackAlias
		r.fromSlack[slackAlias] = normalized
	}
	if gchatAlias != "" {
		r.toGChat[normalized] = gchatAlias
		r.fromGChat[gchatAlias] = normalized
	}
}

// singleton returns the cached *chat.Emoji for name, creating it (and
// caching it) on first use. Caller must hold r.mu.
func (r *Registry) singleton(name string) *chat.Emoji {
	if e, ok := r.singletons[name]; ok {
		return e
	}
	e := &chat.Emoji{Name: name}
	r.singletons[name] = e
	return e
}

// Normalize returns the singleton *chat.Emoji for a normalized name,
// creating it on first use even if no alias was ever registered for it
// (adapters may see emoji the default table doesn't know about).
func (r *Registry) Normalize(name string) *chat.Emoji {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.singleton(name)
}

// FromSlack maps a Slack-native emoji short-code (without colons) to the
// normalized *chat.Emoji singleton, falling back to treating the
// short-code itself as the normalized name if no alias is registered.
func (r *Registry) FromSlack(slackAlias string) *chat.Emoji {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.fromSlack[slackAlias]; ok {
		return r.singleton(name)
	}
	return r.singleton(slackAlias)
}

// FromGChat maps a GChat-native emoji (unicode glyph) to the normalized
// singleton, falling back the same way as FromSlack.
func (r *Registry) FromGChat(gchatEmoji string) *chat.Emoji {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.fromGChat[gchatEmoji]; ok {
		return r.singleton(name)
	}
	return r.singleton(gchatEmoji)
}

// ToSlack renders a normalized name as a Slack short-code, falling back
// to the bare name if no alias was registered.
func (r *Registry) ToSlack(normalized string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alias, ok := r.toSlack[normalized]; ok {
		return alias
	}
	return normalized
}

// ToGChat renders a normalized name as a GChat unicode glyph, falling
// back to the bare name if no alias was registered.
func (r *Registry) ToGChat(normalized string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alias, ok := r.toGChat[normalized]; ok {
		return alias
	}
	return normalized
}

// Matches reports whether a raw, platform-native emoji representation
// corresponds to the normalized name, checking both alias tables.
func (r *Registry) Matches(rawEmoji, normalized string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.fromSlack[rawEmoji]; ok && name == normalized {
		return true
	}
	if name, ok := r.fromGChat[rawEmoji]; ok && name == normalized {
		return true
	}
	return rawEmoji == normalized
}
