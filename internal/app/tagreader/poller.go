package tagreader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrReadTimeout is returned by readers when a read did not complete in time.
var ErrReadTimeout = errors.New("tag read timeout")

// Reader is the proximity reader hardware protocol.
type Reader interface {
	// Read returns the uid of the tag on the reader, or "" when none.
	Read(ctx context.Context) (string, error)
	// Reset reinitializes the reader.
	Reset(ctx context.Context) error
}

// EventSink receives debounced tag events.
type EventSink interface {
	HandleTagEvent(ctx context.Context, ev Event) error
}

// WarningFunc is called when the reader needed a reset. recovered tells
// whether the reset brought the reader back.
type WarningFunc func(msg string, err error, recovered bool)

// PollerConfig holds poller configuration.
type PollerConfig struct {
	Interval       time.Duration  // Read interval
	ErrorThreshold int            // Consecutive errors before the reader is reset
	ResetAttempts  int            // Bounded reset attempts
	ResetBackoff   time.Duration  // Initial backoff between reset attempts
	Debounce       DebounceConfig // Debouncer timings
}

// Poller reads the reader periodically and forwards debounced events.
type Poller struct {
	cfg       PollerConfig
	reader    Reader
	sink      EventSink
	onWarning WarningFunc
	now       func() time.Time

	mu        sync.Mutex
	debouncer *Debouncer

	consecutiveErrors int
	resets            atomic.Int64
}

// NewPoller creates a poller.
func NewPoller(cfg PollerConfig, reader Reader, sink EventSink, onWarning WarningFunc) *Poller {
	if onWarning == nil {
		onWarning = func(string, error, bool) {}
	}
	return &Poller{
		cfg:       cfg,
		reader:    reader,
		sink:      sink,
		onWarning: onWarning,
		now:       time.Now,
		debouncer: NewDebouncer(cfg.Debounce),
	}
}

// SetClock overrides the time source.
func (p *Poller) SetClock(now func() time.Time) {
	p.now = now
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	zlog.Info().Msgf("tagreader: polling started: interval=%v", p.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("tagreader: polling stopped")
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll performs a single read cycle.
func (p *Poller) Poll(ctx context.Context) {
	uid, err := p.reader.Read(ctx)
	now := p.now()

	if err != nil {
		p.consecutiveErrors++
		zlog.Debug().Msgf("tagreader: read failed: consecutive=%d err=%v", p.consecutiveErrors, err)
		if p.cfg.ErrorThreshold > 0 && p.consecutiveErrors >= p.cfg.ErrorThreshold {
			p.reset(ctx, err)
			p.consecutiveErrors = 0
		}
		return
	}

	p.mu.Lock()
	if p.consecutiveErrors > 0 {
		p.debouncer.Hold(now)
	}
	p.consecutiveErrors = 0
	ev, ok := p.debouncer.Sample(uid, now)
	p.mu.Unlock()

	if !ok {
		return
	}

	zlog.Debug().Msgf("tagreader: %s: uid=%s", ev.Kind, ev.UID)
	if err := p.sink.HandleTagEvent(ctx, ev); err != nil {
		zlog.Warn().Err(err).Msgf("tagreader: failed to deliver event: kind=%s uid=%s", ev.Kind, ev.UID)
	}
}

func (p *Poller) reset(ctx context.Context, cause error) {
	p.resets.Add(1)
	zlog.Warn().Err(cause).Msgf("tagreader: error threshold reached, resetting reader: threshold=%d", p.cfg.ErrorThreshold)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.ResetBackoff
	attempts := p.cfg.ResetAttempts
	if attempts < 1 {
		attempts = 1
	}

	err := backoff.Retry(func() error {
		return p.reader.Reset(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
	if err != nil {
		zlog.Error().Err(err).Msgf("tagreader: reader reset failed: attempts=%d", attempts)
		p.onWarning("tag reader reset failed", err, false)
		return
	}
	p.onWarning("tag reader was reset after repeated read errors", cause, true)
}

// ForceRedetect makes the next read of uid produce a fresh Present.
func (p *Poller) ForceRedetect(uid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.debouncer.ForceRedetect(uid)
	zlog.Debug().Msgf("tagreader: force redetect: uid=%s", uid)
}

// Current returns the uid currently considered present.
func (p *Poller) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debouncer.Current()
}

// Resets returns how many times the reader has been reset.
func (p *Poller) Resets() int {
	return int(p.resets.Load())
}
