// Package presence classifies a member's live presence from several
// partially overlapping signal sources.
package presence

import (
	"strings"
	"time"
)

// State is one of the four presence states.
type State string

const (
	Online  State = "online"
	Busy    State = "busy"
	Idle    State = "idle"
	Offline State = "offline"
)

// ParseState accepts the four state names in any case and surrounding
// whitespace.
func ParseState(s string) (State, bool) {
	switch st := State(strings.ToLower(strings.TrimSpace(s))); st {
	case Online, Busy, Idle, Offline:
		return st, true
	}
	return "", false
}

// Signal is what one source knows about a member. A nil field means the
// source does not supply it, which is different from false or zero.
type Signal struct {
	Source string

	Online *bool
	Away   *bool
	Status *string

	ManualState  *string
	ManualExpiry *time.Time

	LastActive *time.Time
	LastSeen   *time.Time
	UpdatedAt  *time.Time
}

// Config holds the windows and synonyms every call site shares.
type Config struct {
	OnlineWindow time.Duration
	IdleWindow   time.Duration
	// Synonyms maps a state to the raw status strings that mean it. Entries
	// are compared after lowercasing and trimming.
	Synonyms map[State][]string
}

// DefaultSynonyms is the status vocabulary seen across clients.
func DefaultSynonyms() map[State][]string {
	return map[State][]string{
		Online:  {"online", "active", "available", "here"},
		Busy:    {"busy", "dnd", "do not disturb", "do_not_disturb", "donotdisturb"},
		Idle:    {"idle", "away", "brb", "afk"},
		Offline: {"offline", "invisible", "off", "inactive"},
	}
}

// DefaultConfig returns the default windows and synonyms.
func DefaultConfig() Config {
	return Config{
		OnlineWindow: 10 * time.Minute,
		IdleWindow:   60 * time.Minute,
		Synonyms:     DefaultSynonyms(),
	}
}

// statusOrder fixes the order synonym sets are consulted in, so a string
// listed under two states always resolves the same way.
var statusOrder = []State{Busy, Idle, Offline, Online}

// Classifier turns signals into a State. It holds no per-member state.
type Classifier struct {
	cfg      Config
	synonyms map[string]State
	now      func() time.Time
}

// NewClassifier creates a Classifier. A non-positive OnlineWindow or an
// IdleWindow shorter than OnlineWindow falls back to the defaults.
func NewClassifier(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.OnlineWindow <= 0 {
		cfg.OnlineWindow = def.OnlineWindow
	}
	if cfg.IdleWindow < cfg.OnlineWindow {
		cfg.IdleWindow = max(def.IdleWindow, cfg.OnlineWindow)
	}
	if len(cfg.Synonyms) == 0 {
		cfg.Synonyms = def.Synonyms
	}

	syn := make(map[string]State)
	for _, st := range statusOrder {
		for _, word := range cfg.Synonyms[st] {
			w := normalizeStatus(word)
			if _, taken := syn[w]; !taken {
				syn[w] = st
			}
		}
	}
	return &Classifier{cfg: cfg, synonyms: syn, now: time.Now}
}

// WithClock returns a copy of c that reads time from now.
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	cp := *c
	cp.now = now
	return &cp
}

// Config returns the effective configuration.
func (c *Classifier) Config() Config { return c.cfg }

// Now is the classifier's clock.
func (c *Classifier) Now() time.Time { return c.now() }

// Classify resolves signals in this order, first applicable wins:
//  1. an unexpired manual override naming a valid state;
//  2. explicit booleans: any online=true is online, otherwise any away=true
//     is idle, otherwise an online=false is offline;
//  3. the first status string matching a synonym;
//  4. the newest activity timestamp against the online and idle windows;
//  5. offline.
func (c *Classifier) Classify(signals []Signal) State {
	now := c.now()

	for _, s := range signals {
		if s.ManualState == nil || s.ManualExpiry == nil || !now.Before(*s.ManualExpiry) {
			continue
		}
		if st, ok := ParseState(*s.ManualState); ok {
			return st
		}
	}

	if st, ok := fromFlags(signals); ok {
		return st
	}

	for _, s := range signals {
		if s.Status == nil {
			continue
		}
		if st, ok := c.synonyms[normalizeStatus(*s.Status)]; ok {
			return st
		}
	}

	if last, ok := latestActivity(signals); ok {
		age := now.Sub(last)
		switch {
		case age <= c.cfg.OnlineWindow:
			return Online
		case age <= c.cfg.IdleWindow:
			return Idle
		default:
			return Offline
		}
	}

	return Offline
}

func fromFlags(signals []Signal) (State, bool) {
	var sawOnline, away bool
	for _, s := range signals {
		if s.Online != nil {
			if *s.Online {
				return Online, true
			}
			sawOnline = true
		}
		if s.Away != nil && *s.Away {
			away = true
		}
	}
	switch {
	case away:
		return Idle, true
	case sawOnline:
		return Offline, true
	}
	return "", false
}

func latestActivity(signals []Signal) (time.Time, bool) {
	var latest time.Time
	var found bool
	for _, s := range signals {
		for _, ts := range []*time.Time{s.LastActive, s.LastSeen, s.UpdatedAt} {
			if ts == nil || ts.IsZero() {
				continue
			}
			if !found || ts.After(latest) {
				latest = *ts
				found = true
			}
		}
	}
	return latest, found
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
