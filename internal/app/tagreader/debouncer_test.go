package tagreader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func ms(n int) time.Time { return t0.Add(time.Duration(n) * time.Millisecond) }

func newTestDebouncer() *Debouncer {
	return NewDebouncer(DebounceConfig{
		Cooldown:         500 * time.Millisecond,
		RemovalThreshold: 800 * time.Millisecond,
	})
}

type sample struct {
	uid string
	at  time.Time
}

func run(d *Debouncer, samples []sample) []Event {
	var events []Event
	for _, s := range samples {
		if ev, ok := d.Sample(s.uid, s.at); ok {
			events = append(events, ev)
		}
	}
	return events
}

func TestDebouncer_OnePresentPerPresentation(t *testing.T) {
	d := newTestDebouncer()

	samples := []sample{{"X", ms(0)}}
	for i := 1; i <= 20; i++ {
		samples = append(samples, sample{"X", ms(i * 100)})
	}

	events := run(d, samples)
	require.Len(t, events, 1)
	assert.Equal(t, Present("X", ms(0)), events[0])
}

func TestDebouncer_GapsBelowThresholdNeverEmitAbsent(t *testing.T) {
	d := newTestDebouncer()

	events := run(d, []sample{
		{"X", ms(0)},
		{"", ms(300)},
		{"", ms(700)},
		{"X", ms(750)},
		{"", ms(1200)},
		{"X", ms(1500)},
	})

	require.Len(t, events, 1)
	assert.Equal(t, KindPresent, events[0].Kind)
}

func TestDebouncer_AbsentAfterThreshold(t *testing.T) {
	d := newTestDebouncer()

	events := run(d, []sample{
		{"X", ms(0)},
		{"", ms(500)},
		{"", ms(801)},
		{"", ms(1200)},
	})

	require.Len(t, events, 2)
	assert.Equal(t, Present("X", ms(0)), events[0])
	assert.Equal(t, Absent("X", ms(801)), events[1])
}

func TestDebouncer_PresentAfterAbsent(t *testing.T) {
	d := newTestDebouncer()

	events := run(d, []sample{
		{"X", ms(0)},
		{"", ms(1000)},
		{"X", ms(2000)},
	})

	require.Len(t, events, 3)
	assert.Equal(t, KindPresent, events[0].Kind)
	assert.Equal(t, KindAbsent, events[1].Kind)
	assert.Equal(t, Present("X", ms(2000)), events[2])
}

func TestDebouncer_DifferentUIDEmitsPresent(t *testing.T) {
	d := newTestDebouncer()

	events := run(d, []sample{
		{"X", ms(0)},
		{"Y", ms(100)},
		{"Y", ms(200)},
	})

	require.Len(t, events, 2)
	assert.Equal(t, Present("X", ms(0)), events[0])
	assert.Equal(t, Present("Y", ms(100)), events[1])

	uid, ok := d.Current()
	assert.True(t, ok)
	assert.Equal(t, "Y", uid)
}

func TestDebouncer_ForceRedetect(t *testing.T) {
	d := newTestDebouncer()

	_, ok := d.Sample("X", ms(0))
	require.True(t, ok)

	d.ForceRedetect("X")
	_, present := d.Current()
	assert.False(t, present)

	ev, ok := d.Sample("X", ms(100))
	require.True(t, ok)
	assert.Equal(t, Present("X", ms(100)), ev)

	_, ok = d.Sample("X", ms(200))
	assert.False(t, ok)
}

func TestDebouncer_ForceRedetectOtherUIDIgnored(t *testing.T) {
	d := newTestDebouncer()
	_, _ = d.Sample("X", ms(0))

	d.ForceRedetect("Y")

	_, ok := d.Sample("X", ms(100))
	assert.False(t, ok)
}

func TestDebouncer_NoReadsNoEvents(t *testing.T) {
	d := newTestDebouncer()
	events := run(d, []sample{{"", ms(0)}, {"", ms(5000)}})
	assert.Empty(t, events)
}
