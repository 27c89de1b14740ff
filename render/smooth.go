// Package render paces the arrival of streamed text into a bounded-rate
// character reveal, decoupled from network burstiness. The state machine
// (idle → streaming → drain → settled) is the portable part; scheduling is
// the caller's job — a frame callback, a fixed-interval timer, or a test
// clock all work, because Tick carries no timing assumptions beyond the
// injected clock.
package render

import (
	"strings"
	"time"

	"github.com/rivo/uniseg"
)

// State is the reveal machine's phase.
type State int

const (
	// StateIdle is the phase before any turn has started.
	StateIdle State = iota
	// StateStreaming advances the displayed prefix while upstream produces.
	StateStreaming
	// StateDraining catches the display up at double rate after upstream
	// completed with text still unrevealed.
	StateDraining
	// StateSettled means the displayed text equals the final text.
	StateSettled
)

// Default pacing. Reveal is measured in grapheme clusters, not bytes, so a
// multi-byte emoji or a combining sequence reveals atomically.
const (
	DefaultRevealPerTick = 3
	DefaultSafetyTimeout = 3 * time.Second
	drainMultiplier      = 2
)

// Config parameterizes a Smoother. Zero values take the defaults above.
type Config struct {
	RevealPerTick int           // grapheme clusters revealed per tick
	SafetyTimeout time.Duration // hard cap on the drain phase
	Now           func() time.Time
}

// Smoother re-paces text arrival into a smooth reveal. Within a turn the
// displayed prefix is monotonically non-decreasing and never exceeds the
// known text; the only non-incremental jump is the drain safety timeout,
// which fires at most once per turn. Not safe for concurrent use; callers
// drive it from a single render loop.
type Smoother struct {
	cfg Config

	state      State
	target     string
	displayed  int // byte offset into target, always a grapheme boundary
	drainStart time.Time
}

// New creates a Smoother in the idle state.
func New(cfg Config) *Smoother {
	if cfg.RevealPerTick <= 0 {
		cfg.RevealPerTick = DefaultRevealPerTick
	}
	if cfg.SafetyTimeout <= 0 {
		cfg.SafetyTimeout = DefaultSafetyTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Smoother{cfg: cfg}
}

// StartTurn synchronously resets displayed state for a new turn. Callers
// must invoke it before the first paint of the turn so no stale tail from
// the previous turn is ever visible.
func (s *Smoother) StartTurn() {
	s.state = StateStreaming
	s.target = ""
	s.displayed = 0
	s.drainStart = time.Time{}
}

// SetTarget records the latest known full text. Targets normally only
// grow; if a re-derivation shrinks the text below the displayed prefix
// (an envelope opening retroactively hides bytes), the prefix is clamped —
// the displayed text never exceeds the known text.
func (s *Smoother) SetTarget(text string) {
	if s.state == StateIdle {
		s.state = StateStreaming
	}
	shown := s.Displayed()
	s.target = text
	if !strings.HasPrefix(text, shown) {
		s.displayed = commonBoundary(text, commonPrefixLen(text, shown))
	}
}

// Complete signals that upstream finished producing. If the display
// already caught up the machine settles; otherwise it enters the drain
// phase: double reveal rate, and once the safety deadline passes the next
// Tick jumps straight to the full text. The machine is passive — it only
// advances when ticked — so the caller keeps ticking until Settled.
func (s *Smoother) Complete() {
	if s.state == StateIdle || s.state == StateSettled {
		return
	}
	if s.displayed >= len(s.target) {
		s.state = StateSettled
		return
	}
	s.state = StateDraining
	s.drainStart = s.cfg.Now()
}

// Reveal displays text in full and settles immediately. Used for text that
// arrives whole rather than streamed, such as history replay.
func (s *Smoother) Reveal(text string) {
	s.state = StateSettled
	s.target = text
	s.displayed = len(text)
	s.drainStart = time.Time{}
}

// Tick advances the reveal by the per-tick budget and returns the
// displayed prefix. Safe to call in any state; idle and settled ticks are
// no-ops.
func (s *Smoother) Tick() string {
	switch s.state {
	case StateIdle, StateSettled:
		return s.Displayed()
	case StateDraining:
		if s.cfg.Now().Sub(s.drainStart) >= s.cfg.SafetyTimeout {
			s.displayed = len(s.target)
			s.state = StateSettled
			return s.target
		}
		s.advance(s.cfg.RevealPerTick * drainMultiplier)
		if s.displayed >= len(s.target) {
			s.state = StateSettled
		}
	default:
		s.advance(s.cfg.RevealPerTick)
	}
	return s.Displayed()
}

// Displayed returns the currently revealed prefix.
func (s *Smoother) Displayed() string {
	return s.target[:s.displayed]
}

// State returns the current phase.
func (s *Smoother) State() State { return s.state }

// Settled reports whether the turn's text is fully revealed.
func (s *Smoother) Settled() bool { return s.state == StateSettled }

// advance moves the displayed boundary forward by n grapheme clusters.
func (s *Smoother) advance(n int) {
	rest := s.target[s.displayed:]
	state := -1
	for i := 0; i < n && len(rest) > 0; i++ {
		var cluster string
		cluster, rest, _, state = uniseg.StepString(rest, state)
		s.displayed += len(cluster)
	}
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// commonBoundary returns the largest grapheme boundary in text not past
// limit.
func commonBoundary(text string, limit int) int {
	if limit > len(text) {
		limit = len(text)
	}
	boundary := 0
	rest := text
	state := -1
	for len(rest) > 0 {
		var cluster string
		cluster, rest, _, state = uniseg.StepString(rest, state)
		if boundary+len(cluster) > limit {
			break
		}
		boundary += len(cluster)
	}
	return boundary
}
