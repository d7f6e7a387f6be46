package emoji

import "testing"

func TestSingletonIdentity(t *testing.T) {
	r := New()
	a := r.Normalize("thumbsup")
	b := r.Normalize("thumbsup")
	if a != b {
		t.Errorf("expected identical pointer for repeated Normalize calls, got %p != %p", a, b)
	}
}

func TestFromSlackFallsBackToBareName(t *testing.T) {
	r := New()
	e := r.FromSlack("some_custom_emoji")
	if e.Name != "some_custom_emoji" {
		t.Errorf("Name = %q, want fallback to bare alias", e.Name)
	}
}

func TestToSlackKnownAlias(t *testing.T) {
	r := New()
	if got := r.ToSlack("thumbsup"); got != "+1" {
		t.Errorf("ToSlack(thumbsup) = %q, want +1", got)
	}
}

func TestMatches(t *testing.T) {
	r := New()
	if !r.Matches("+1", "thumbsup") {
		t.Error("expected Slack +1 to match normalized thumbsup")
	}
	if !r.Matches("👍", "thumbsup") {
		t.Error("expected GChat 👍 to match normalized thumbsup")
	}
	if r.Matches("-1", "thumbsup") {
		t.Error("did not expect -1 to match thumbsup")
	}
}

func TestExtendCustomEntry(t *testing.T) {
	r := New()
	r.Extend("party_parrot", "partyparrot", "🦜")
	if r.ToSlack("party_parrot") != "partyparrot" {
		t.Error("custom alias not registered")
	}
	if r.FromGChat("🦜").Name != "party_parrot" {
		t.Error("custom gchat alias not registered")
	}
}
