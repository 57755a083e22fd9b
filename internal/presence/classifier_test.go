package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newTestClassifier(online, idle time.Duration) *Classifier {
	return NewClassifier(Config{OnlineWindow: online, IdleWindow: idle}).
		WithClock(func() time.Time { return testNow })
}

func ago(d time.Duration) *time.Time { return ptr(testNow.Add(-d)) }

func TestClassify_NoSignals(t *testing.T) {
	c := newTestClassifier(10*time.Minute, time.Hour)
	assert.Equal(t, Offline, c.Classify(nil))
	assert.Equal(t, Offline, c.Classify([]Signal{{Source: "empty"}}))
}

func TestClassify_Recency(t *testing.T) {
	c := newTestClassifier(10*time.Minute, 60*time.Minute)
	tests := []struct {
		name string
		age  time.Duration
		want State
	}{
		{"3m", 3 * time.Minute, Online},
		{"on online edge", 10 * time.Minute, Online},
		{"45m", 45 * time.Minute, Idle},
		{"90m", 90 * time.Minute, Offline},
		{"clock skew", -2 * time.Minute, Online},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify([]Signal{{Source: "profile", LastActive: ago(tt.age)}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_RecencyUsesNewestAcrossSources(t *testing.T) {
	c := newTestClassifier(5*time.Minute, 30*time.Minute)
	got := c.Classify([]Signal{
		{Source: "profile", LastActive: ago(2 * time.Hour)},
		{Source: "member", UpdatedAt: ago(20 * time.Minute)},
		{Source: "gateway", LastSeen: ago(50 * time.Minute)},
	})
	assert.Equal(t, Idle, got)
}

func TestClassify_ManualOverrideWins(t *testing.T) {
	c := newTestClassifier(10*time.Minute, time.Hour)
	signals := []Signal{
		{Source: "gateway", Online: ptr(true), Status: ptr("available"), LastActive: ago(time.Minute)},
		{Source: "override", ManualState: ptr("busy"), ManualExpiry: ptr(testNow.Add(time.Hour))},
	}
	assert.Equal(t, Busy, c.Classify(signals))
}

func TestClassify_ExpiredOverrideIgnored(t *testing.T) {
	c := newTestClassifier(10*time.Minute, time.Hour)
	signals := []Signal{
		{Source: "override", ManualState: ptr("busy"), ManualExpiry: ptr(testNow.Add(-time.Second))},
		{Source: "gateway", Online: ptr(true)},
	}
	assert.Equal(t, Online, c.Classify(signals))

	// expiring exactly now counts as expired
	signals[0].ManualExpiry = ptr(testNow)
	assert.Equal(t, Online, c.Classify(signals))
}

func TestClassify_OverrideNeedsExpiryAndValidState(t *testing.T) {
	c := newTestClassifier(10*time.Minute, time.Hour)
	assert.Equal(t, Offline, c.Classify([]Signal{{ManualState: ptr("busy")}}))
	assert.Equal(t, Offline, c.Classify([]Signal{{ManualState: ptr("sleeping"), ManualExpiry: ptr(testNow.Add(time.Hour))}}))
	assert.Equal(t, Idle, c.Classify([]Signal{{ManualState: ptr(" IDLE "), ManualExpiry: ptr(testNow.Add(time.Hour))}}))
}

func TestClassify_Flags(t *testing.T) {
	c := newTestClassifier(10*time.Minute, time.Hour)

	assert.Equal(t, Online, c.Classify([]Signal{
		{Source: "a", Online: ptr(false)},
		{Source: "b", Online: ptr(true)},
	}))

	// only false values present: offline, even with a fresh timestamp
	assert.Equal(t, Offline, c.Classify([]Signal{
		{Source: "a", Online: ptr(false), LastActive: ago(time.Minute)},
		{Source: "b", Status: ptr("online")},
	}))

	assert.Equal(t, Idle, c.Classify([]Signal{{Source: "a", Away: ptr(true)}}))

	// away=false alone says nothing; fall through to status
	assert.Equal(t, Busy, c.Classify([]Signal{{Source: "a", Away: ptr(false), Status: ptr("dnd")}}))
}

func TestClassify_StatusSynonyms(t *testing.T) {
	c := newTestClassifier(10*time.Minute, time.Hour)
	tests := map[string]State{
		"away":      Idle,
		" BRB ":     Idle,
		"dnd":       Busy,
		"Busy":      Busy,
		"invisible": Offline,
		"off":       Offline,
		"active":    Online,
		"Available": Online,
	}
	for raw, want := range tests {
		assert.Equal(t, want, c.Classify([]Signal{{Status: ptr(raw)}}), raw)
	}
}

func TestClassify_FirstMatchingStatusWins(t *testing.T) {
	c := newTestClassifier(10*time.Minute, time.Hour)
	got := c.Classify([]Signal{
		{Source: "a", Status: ptr("on a train")},
		{Source: "b", Status: ptr("brb")},
		{Source: "c", Status: ptr("dnd")},
	})
	assert.Equal(t, Idle, got)
}

func TestClassify_UnknownStatusFallsBackToRecency(t *testing.T) {
	c := newTestClassifier(10*time.Minute, time.Hour)
	got := c.Classify([]Signal{{Status: ptr("gaming"), LastActive: ago(time.Minute)}})
	assert.Equal(t, Online, got)
}

func TestClassify_CustomSynonyms(t *testing.T) {
	c := NewClassifier(Config{
		OnlineWindow: time.Minute,
		IdleWindow:   time.Hour,
		Synonyms:     map[State][]string{Idle: {"lunch"}},
	}).WithClock(func() time.Time { return testNow })
	assert.Equal(t, Idle, c.Classify([]Signal{{Status: ptr("Lunch")}}))
	assert.Equal(t, Offline, c.Classify([]Signal{{Status: ptr("away")}}))
}

func TestNewClassifier_Defaults(t *testing.T) {
	cfg := NewClassifier(Config{OnlineWindow: 20 * time.Minute, IdleWindow: 5 * time.Minute}).Config()
	assert.Equal(t, 20*time.Minute, cfg.OnlineWindow)
	assert.Equal(t, time.Hour, cfg.IdleWindow)

	cfg = NewClassifier(Config{}).Config()
	assert.Equal(t, DefaultConfig().OnlineWindow, cfg.OnlineWindow)
	assert.NotEmpty(t, cfg.Synonyms)
}

func TestParseState(t *testing.T) {
	st, ok := ParseState("Online")
	assert.True(t, ok)
	assert.Equal(t, Online, st)
	_, ok = ParseState("lurking")
	assert.False(t, ok)
}
