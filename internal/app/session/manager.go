// Package session provides the device session manager.
package session

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/audio"
	"github.com/osa030/tagbox/internal/app/broadcast"
	"github.com/osa030/tagbox/internal/app/control"
	"github.com/osa030/tagbox/internal/app/filter"
	"github.com/osa030/tagbox/internal/app/lookup"
	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/app/session/registry"
	"github.com/osa030/tagbox/internal/app/session/state"
	"github.com/osa030/tagbox/internal/app/tagreader"
	"github.com/osa030/tagbox/internal/infra/config"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
)

// Lookup is the playlist lookup used by the session.
type Lookup interface {
	lookup.Resolver
	lookup.Cataloger
	lookup.Watcher
}

// Deps holds the hardware and outer collaborators of a session.
type Deps struct {
	Hardware  audio.Hardware
	Reader    tagreader.Reader
	Inputs    control.InputDevice // Optional
	Transport broadcast.Transport
	Lookup    Lookup
	Metrics   Metrics // Optional
}

// Manager owns every engine of the device and wires them together.
type Manager struct {
	// Configuration
	config *config.Config
	now    func() time.Time

	// Components
	stateMgr    *state.Manager
	clients     *registry.ClientRegistry
	lookup      Lookup
	audio       *audio.Engine
	playback    *playback.Engine
	broadcast   *broadcast.Engine
	poller      *tagreader.Poller
	controls    *control.Source
	inputs      control.InputDevice
	filterChain *filter.Chain
	metrics     Metrics

	// Set while playback is in the error state
	playbackFailed bool
	failedMu       sync.Mutex

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewManager creates a session manager.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if deps.Hardware == nil || deps.Reader == nil || deps.Transport == nil || deps.Lookup == nil {
		return nil, errors.New("hardware, reader, transport and lookup are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}

	m := &Manager{
		config:      cfg,
		now:         time.Now,
		stateMgr:    state.New(uuid.New().String(), 0),
		clients:     registry.NewClientRegistry(),
		lookup:      deps.Lookup,
		inputs:      deps.Inputs,
		filterChain: filter.NewChain(),
		metrics:     deps.Metrics,
		done:        make(chan struct{}),
	}

	m.audio = audio.NewEngine(audio.Config{
		ProgressInterval:         config.Ms(cfg.Audio.ProgressIntervalMs),
		RetryAttempts:            cfg.Audio.RetryAttempts,
		RetryBackoff:             config.Ms(cfg.Audio.RetryBackoffMs),
		PreviousRestartThreshold: config.Ms(cfg.Audio.PreviousRestartThresholdMs),
		SeekStep:                 config.Ms(cfg.Audio.SeekStepMs),
		VolumeStep:               cfg.Audio.VolumeStep,
		DefaultVolume:            cfg.Audio.DefaultVolume,
		QueueSize:                cfg.Audio.QueueSize,
	}, deps.Hardware)

	m.playback = playback.NewEngine(playback.Config{
		ManualPriorityWindow: config.Ms(cfg.Playback.ManualPriorityWindowMs),
		RecheckInterval:      config.Ms(cfg.Playback.RecheckIntervalMs),
		SeekStep:             config.Ms(cfg.Audio.SeekStepMs),
		QueueSize:            cfg.Playback.QueueSize,
		ResolveTimeout:       config.Ms(cfg.Playback.ResolveTimeoutMs),
	}, m.audio, deps.Lookup, m)

	m.broadcast = broadcast.NewEngine(broadcast.Config{
		MaxAttempts:      cfg.Broadcast.MaxAttempts,
		RetryInitial:     config.Ms(cfg.Broadcast.RetryInitialMs),
		RetryMax:         config.Ms(cfg.Broadcast.RetryMaxMs),
		DedupTTL:         time.Duration(cfg.Broadcast.DedupTTLSec) * time.Second,
		DedupSize:        cfg.Broadcast.DedupSize,
		PositionInterval: config.Ms(cfg.Broadcast.PositionIntervalMs),
		QueueSize:        cfg.Broadcast.QueueSize,
	}, deps.Transport, m, m.roomSnapshot, deps.Metrics)

	m.poller = tagreader.NewPoller(tagreader.PollerConfig{
		Interval:       config.Ms(cfg.TagReader.PollIntervalMs),
		ErrorThreshold: cfg.TagReader.ErrorThreshold,
		ResetAttempts:  cfg.TagReader.ResetAttempts,
		ResetBackoff:   config.Ms(cfg.TagReader.ResetBackoffMs),
		Debounce: tagreader.DebounceConfig{
			Cooldown:         config.Ms(cfg.TagReader.CooldownMs),
			RemovalThreshold: config.Ms(cfg.TagReader.RemovalThresholdMs),
		},
	}, deps.Reader, tagSink{m}, m.onReaderWarning)

	controls, err := control.NewSource(control.Config{
		Buttons:    cfg.Controls.Buttons,
		EncoderCW:  cfg.Controls.EncoderCW,
		EncoderCCW: cfg.Controls.EncoderCCW,
		MaxDetents: cfg.Controls.MaxDetents,
	}, manualSink{m})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create control source")
	}
	m.controls = controls

	if err := m.setupFilters(); err != nil {
		return nil, err
	}

	return m, nil
}

// setupFilters initializes the guard chain. Guards run in a fixed order so
// the cheapest rejection wins.
func (m *Manager) setupFilters() error {
	cfg := m.config

	order := []string{
		"known_command_filter",
		"command_args_filter",
		"operation_rate_filter",
		"playlist_loaded_filter",
	}
	registered := filter.GetRegistered()
	for _, name := range order {
		if !cfg.IsGuardEnabled(name) {
			zlog.Info().Msgf("session: guard disabled: name=%s", name)
			continue
		}
		factory, ok := registered[name]
		if !ok {
			return errors.AssertionFailedf("guard %s is not registered", name)
		}
		f := factory()
		if err := f.ValidateConfig(cfg.GetGuardSettings(name)); err != nil {
			return errors.Wrapf(err, "invalid settings for guard %s", name)
		}
		m.filterChain.Add(f)
	}
	return nil
}

// Start starts every engine. The session runs until ctx is done or Stop is
// called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.audio.Start(m.ctx); err != nil {
		m.cancel()
		return errors.Wrap(err, "failed to start audio engine")
	}

	m.run("broadcast", m.broadcast.Run)
	m.run("playback", m.playback.Run)
	m.run("tagreader", m.poller.Run)
	if m.inputs != nil {
		m.run("controls", func(ctx context.Context) error {
			return m.controls.Run(ctx, m.inputs)
		})
	}

	if err := m.lookup.Watch(m.ctx, m.onCollectionChange); err != nil {
		zlog.Warn().Err(err).Msg("session: library watch unavailable")
		m.stateMgr.Warn("lookup", "library watch unavailable", err, m.now())
	}

	m.started = true
	m.stateMgr.MarkStarted(m.now())
	zlog.Info().Msgf("phase changed: phase=%s device_id=%s", m.stateMgr.GetPhase(), m.stateMgr.GetDeviceID())
	return nil
}

// run starts a worker that is restarted when it panics.
func (m *Manager) run(name string, fn func(ctx context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			panicked, err := m.runOnce(name, fn)
			if err != nil {
				zlog.Error().Err(err).Msgf("session: worker failed: name=%s", name)
			}
			if !panicked || m.ctx.Err() != nil {
				return
			}
			zlog.Info().Msgf("session: restarting worker: name=%s", name)
		}
	}()
}

func (m *Manager) runOnce(name string, fn func(ctx context.Context) error) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("session: worker panicked: name=%s panic=%v\n%s", name, r, debug.Stack())
			panicked = true
		}
	}()
	return false, fn(m.ctx)
}

// Stop stops every engine and waits for the workers to exit.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.started = false
	m.mu.Unlock()

	if _, err := m.audio.Stop(ctx); err != nil {
		zlog.Warn().Err(err).Msg("session: failed to stop audio on shutdown")
	}

	m.cancel()
	m.playback.Close()
	m.broadcast.Close()
	m.audio.Close()

	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "workers did not stop")
	}

	m.stateMgr.MarkStopped()
	close(m.done)
	zlog.Info().Msgf("phase changed: phase=%s device_id=%s", m.stateMgr.GetPhase(), m.stateMgr.GetDeviceID())
	return nil
}

// Done is closed once the session has stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// SetClock overrides the time source of the session and its engines.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
	m.playback.SetClock(now)
	m.broadcast.SetClock(now)
	m.poller.SetClock(now)
}

// Phase returns the device phase.
func (m *Manager) Phase() state.Phase {
	return m.stateMgr.GetPhase()
}
