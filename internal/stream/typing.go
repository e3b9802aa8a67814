package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Signaler is the per-transport "is typing" capability. Implementations
// throttle themselves, so callers may signal on every delta.
type Signaler interface {
	SignalTyping(ctx context.Context)
	SignalTextDelta(ctx context.Context, text string)
	StopTyping(ctx context.Context)
}

// Platform names a messaging transport with a known typing throttle.
type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
	PlatformSignal   Platform = "signal"
	PlatformTeams    Platform = "teams"
	PlatformSlack    Platform = "slack"
	PlatformConsole  Platform = "console"
)

// throttles are the minimum gap between typing pulses per platform. A zero
// entry means the platform has no typing indicator.
var throttles = map[Platform]time.Duration{
	PlatformDiscord:  8 * time.Second,
	PlatformTelegram: 4 * time.Second,
	PlatformWhatsApp: 3 * time.Second,
	PlatformSignal:   3 * time.Second,
	PlatformTeams:    2 * time.Second,
	PlatformSlack:    0,
	PlatformConsole:  2 * time.Second,
}

// ThrottleFor returns the typing throttle for a platform and whether the
// platform is known.
func ThrottleFor(p Platform) (time.Duration, bool) {
	d, ok := throttles[p]
	return d, ok
}

// PulseFunc sends one typing indicator to the platform.
type PulseFunc func(ctx context.Context) error

// ThrottledSignaler pulses at most once per interval.
type ThrottledSignaler struct {
	interval time.Duration
	pulse    PulseFunc
	stop     PulseFunc
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastPulse time.Time
}

// NewSignaler returns the Signaler for a platform. Platforms without a
// typing indicator (Slack) and a nil pulse both get NoopSignaler.
func NewSignaler(p Platform, pulse PulseFunc, logger *slog.Logger) Signaler {
	interval, ok := throttles[p]
	if !ok || interval == 0 || pulse == nil {
		return NoopSignaler{}
	}
	return NewThrottledSignaler(interval, pulse, nil, logger)
}

// NewThrottledSignaler builds a signaler with an explicit interval. stop may
// be nil for platforms whose indicator expires on its own.
func NewThrottledSignaler(interval time.Duration, pulse, stop PulseFunc, logger *slog.Logger) *ThrottledSignaler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThrottledSignaler{interval: interval, pulse: pulse, stop: stop, logger: logger, now: time.Now}
}

func (s *ThrottledSignaler) SignalTyping(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	if !s.lastPulse.IsZero() && now.Sub(s.lastPulse) < s.interval {
		s.mu.Unlock()
		return
	}
	s.lastPulse = now
	s.mu.Unlock()

	if err := s.pulse(ctx); err != nil {
		s.logger.Warn("stream: typing pulse failed", "error", err)
	}
}

func (s *ThrottledSignaler) SignalTextDelta(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.SignalTyping(ctx)
}

func (s *ThrottledSignaler) StopTyping(ctx context.Context) {
	s.mu.Lock()
	s.lastPulse = time.Time{}
	s.mu.Unlock()
	if s.stop == nil {
		return
	}
	if err := s.stop(ctx); err != nil {
		s.logger.Warn("stream: typing stop failed", "error", err)
	}
}

// NoopSignaler satisfies Signaler for transports without typing indicators.
type NoopSignaler struct{}

func (NoopSignaler) SignalTyping(context.Context)            {}
func (NoopSignaler) SignalTextDelta(context.Context, string) {}
func (NoopSignaler) StopTyping(context.Context)              {}
