package tagreader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	uid string
	err error
}

type fakeReader struct {
	mu      sync.Mutex
	results []readResult
	resets  int
	resetFn func() error
}

func (r *fakeReader) Read(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return "", nil
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res.uid, res.err
}

func (r *fakeReader) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	if r.resetFn != nil {
		return r.resetFn()
	}
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) HandleTagEvent(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]Kind, len(s.events))
	for i, e := range s.events {
		kinds[i] = e.Kind
	}
	return kinds
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestPoller(reader Reader, sink EventSink, onWarning WarningFunc) *Poller {
	p := NewPoller(PollerConfig{
		Interval:       10 * time.Millisecond,
		ErrorThreshold: 3,
		ResetAttempts:  2,
		ResetBackoff:   time.Millisecond,
		Debounce: DebounceConfig{
			Cooldown:         200 * time.Millisecond,
			RemovalThreshold: 300 * time.Millisecond,
		},
	}, reader, sink, onWarning)
	clock := &stepClock{now: t0, step: 100 * time.Millisecond}
	p.SetClock(clock.Now)
	return p
}

func TestPoller_PresentThenAbsent(t *testing.T) {
	reader := &fakeReader{results: []readResult{
		{uid: "X"}, {uid: "X"}, {uid: ""}, {uid: ""}, {uid: ""}, {uid: ""},
	}}
	sink := &recordingSink{}
	p := newTestPoller(reader, sink, nil)

	for i := 0; i < 6; i++ {
		p.Poll(context.Background())
	}

	assert.Equal(t, []Kind{KindPresent, KindAbsent}, sink.kinds())
}

func TestPoller_ErrorsNeverProduceAbsent(t *testing.T) {
	readErr := errors.New("i2c nack")
	reader := &fakeReader{results: []readResult{
		{uid: "X"},
		{err: readErr}, {err: readErr}, {err: ErrReadTimeout}, {err: readErr}, {err: readErr},
		{uid: "X"},
	}}
	sink := &recordingSink{}

	var warnings []string
	p := newTestPoller(reader, sink, func(msg string, err error, recovered bool) {
		assert.True(t, recovered)
		warnings = append(warnings, msg)
	})

	for i := 0; i < 7; i++ {
		p.Poll(context.Background())
	}

	assert.Equal(t, []Kind{KindPresent}, sink.kinds())
	assert.Equal(t, 1, reader.resets)
	assert.Equal(t, 1, p.Resets())
	require.Len(t, warnings, 1)

	uid, ok := p.Current()
	assert.True(t, ok)
	assert.Equal(t, "X", uid)
}

func TestPoller_AbsenceMeasuredFromRecovery(t *testing.T) {
	readErr := errors.New("bus error")
	reader := &fakeReader{results: []readResult{
		{uid: "X"},
		{err: readErr}, {err: readErr},
		{uid: ""},
		{uid: ""},
		{uid: ""},
		{uid: ""},
	}}
	sink := &recordingSink{}
	p := newTestPoller(reader, sink, nil)

	for i := 0; i < 4; i++ {
		p.Poll(context.Background())
	}
	assert.Equal(t, []Kind{KindPresent}, sink.kinds())

	for i := 0; i < 3; i++ {
		p.Poll(context.Background())
	}
	assert.Equal(t, []Kind{KindPresent}, sink.kinds())

	p.Poll(context.Background())
	assert.Equal(t, []Kind{KindPresent, KindAbsent}, sink.kinds())
}

func TestPoller_ResetFailureIsBounded(t *testing.T) {
	readErr := errors.New("dead reader")
	reader := &fakeReader{
		results: []readResult{{err: readErr}, {err: readErr}, {err: readErr}},
		resetFn: func() error { return errors.New("still dead") },
	}

	var warned error
	p := newTestPoller(reader, &recordingSink{}, func(msg string, err error, recovered bool) {
		assert.False(t, recovered)
		warned = err
	})

	for i := 0; i < 3; i++ {
		p.Poll(context.Background())
	}

	assert.Equal(t, 2, reader.resets)
	assert.Error(t, warned)
}

func TestPoller_ForceRedetect(t *testing.T) {
	reader := &fakeReader{results: []readResult{{uid: "X"}, {uid: "X"}, {uid: "X"}}}
	sink := &recordingSink{}
	p := newTestPoller(reader, sink, nil)

	p.Poll(context.Background())
	p.Poll(context.Background())
	p.ForceRedetect("X")
	p.Poll(context.Background())

	assert.Equal(t, []Kind{KindPresent, KindPresent}, sink.kinds())
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	reader := &fakeReader{}
	p := newTestPoller(reader, &recordingSink{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPoller_ResetsReadableWhileRunning(t *testing.T) {
	results := make([]readResult, 200)
	for i := range results {
		results[i] = readResult{err: errors.New("bus timeout")}
	}
	p := newTestPoller(&fakeReader{results: results}, &recordingSink{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Resets() > 0 }, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
