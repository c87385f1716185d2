package playback

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/audio2midi/pkg/logging"
	"github.com/james-see/audio2midi/pkg/notes"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeTicker struct{ ch chan time.Time }

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               {}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) add(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
	return nil
}

// Events on channel 0 are recorded bare, others with a "chN " prefix
func (r *recordingSink) record(ch uint8, format string, args ...any) error {
	s := fmt.Sprintf(format, args...)
	if ch != 0 {
		s = fmt.Sprintf("ch%d %s", ch, s)
	}
	return r.add(s)
}

func (r *recordingSink) NoteOn(ch, p, v uint8) error { return r.record(ch, "on %d", p) }
func (r *recordingSink) NoteOff(ch, p uint8) error   { return r.record(ch, "off %d", p) }
func (r *recordingSink) PitchBend(ch uint8, s float64) error {
	return r.record(ch, "bend %.2f", s)
}

func (r *recordingSink) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type tick struct {
	pos   float64
	state State
}

type harness struct {
	t      *testing.T
	clock  *fakeClock
	ticker *fakeTicker
	sink   *recordingSink
	ticks  chan tick
	s      *Scheduler
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:      t,
		clock:  &fakeClock{t: time.Unix(1000, 0)},
		ticker: &fakeTicker{ch: make(chan time.Time)},
		sink:   &recordingSink{},
		ticks:  make(chan tick, 16),
	}
	h.s = NewScheduler(h.sink,
		WithClock(h.clock.now),
		WithTicker(func(time.Duration) Ticker { return h.ticker }),
		OnTick(func(pos float64, st State) { h.ticks <- tick{pos, st} }),
		WithLogger(logging.Discard()),
	)
	return h
}

// step advances the clock and waits for the scheduler to process one tick
func (h *harness) step(d time.Duration) tick {
	h.t.Helper()
	h.clock.advance(d)
	select {
	case h.ticker.ch <- h.clock.now():
	case <-time.After(time.Second):
		h.t.Fatal("scheduler did not take the tick")
	}
	select {
	case tk := <-h.ticks:
		return tk
	case <-time.After(time.Second):
		h.t.Fatal("scheduler did not report the tick")
	}
	return tick{}
}

// idle asserts nothing consumes or reacts to a tick
func (h *harness) idle() {
	h.t.Helper()
	select {
	case h.ticker.ch <- h.clock.now():
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case tk := <-h.ticks:
		h.t.Fatalf("unexpected tick %+v", tk)
	case <-time.After(50 * time.Millisecond):
	}
}

func twoNotes() []notes.NoteEvent {
	return []notes.NoteEvent{
		{PitchMIDI: 60, StartTimeSeconds: 0.1, DurationSeconds: 0.9, Amplitude: 1},
		{PitchMIDI: 64, StartTimeSeconds: 0.5, DurationSeconds: 1.0, Amplitude: 0.5},
	}
}

func TestPlayToEnd(t *testing.T) {
	h := newHarness(t)
	h.s.Load(twoNotes())
	assert.InDelta(t, 1.5, h.s.Duration(), 1e-9)

	require.NoError(t, h.s.Play())
	assert.Equal(t, Playing, h.s.State())

	tk := h.step(250 * time.Millisecond)
	assert.InDelta(t, 0.25, tk.pos, 1e-9)
	assert.Equal(t, []string{"on 60"}, h.sink.take())

	h.step(500 * time.Millisecond)
	assert.Equal(t, []string{"on 64"}, h.sink.take())

	h.step(450 * time.Millisecond)
	assert.Equal(t, []string{"off 60"}, h.sink.take())

	tk = h.step(time.Second)
	assert.Equal(t, Stopped, tk.state)
	assert.Equal(t, []string{"off 64"}, h.sink.take())
	assert.Equal(t, Stopped, h.s.State())
	assert.Equal(t, 0.0, h.s.Position())
	h.idle()
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t)
	h.s.Load(twoNotes())
	require.NoError(t, h.s.Play())

	h.step(250 * time.Millisecond)
	assert.Equal(t, []string{"on 60"}, h.sink.take())

	h.clock.advance(50 * time.Millisecond)
	h.s.Pause()
	assert.Equal(t, Paused, h.s.State())
	assert.Equal(t, []string{"off 60"}, h.sink.take())
	assert.InDelta(t, 0.3, h.s.Position(), 1e-9)

	h.clock.advance(10 * time.Second)
	assert.InDelta(t, 0.3, h.s.Position(), 1e-9)
	h.idle()

	require.NoError(t, h.s.Play())
	assert.Equal(t, []string{"on 60"}, h.sink.take())

	tk := h.step(300 * time.Millisecond)
	assert.InDelta(t, 0.6, tk.pos, 1e-9)
	assert.Equal(t, []string{"on 64"}, h.sink.take())
}

func TestStopCancelsPendingEvents(t *testing.T) {
	h := newHarness(t)
	h.s.Load(twoNotes())
	require.NoError(t, h.s.Play())

	h.step(250 * time.Millisecond)
	h.sink.take()

	h.s.Stop()
	assert.Equal(t, []string{"off 60"}, h.sink.take())
	assert.Equal(t, Stopped, h.s.State())
	assert.Equal(t, 0.0, h.s.Position())

	h.clock.advance(time.Second)
	h.idle()
	assert.Empty(t, h.sink.take())
}

func TestLoadWhilePlayingStops(t *testing.T) {
	h := newHarness(t)
	h.s.Load(twoNotes())
	require.NoError(t, h.s.Play())
	h.step(250 * time.Millisecond)
	h.sink.take()

	h.s.Load([]notes.NoteEvent{{PitchMIDI: 70, DurationSeconds: 2, Amplitude: 1}})
	assert.Equal(t, Stopped, h.s.State())
	assert.Equal(t, []string{"off 60"}, h.sink.take())
	assert.InDelta(t, 2.0, h.s.Duration(), 1e-9)
}

func TestPitchBendsPlayed(t *testing.T) {
	h := newHarness(t)
	h.s.Load([]notes.NoteEvent{{PitchMIDI: 60, DurationSeconds: 1, Amplitude: 1, PitchBends: []float64{0.5, 1}}})
	require.NoError(t, h.s.Play())

	h.step(100 * time.Millisecond)
	assert.Equal(t, []string{"bend 0.50", "on 60"}, h.sink.take())

	h.step(500 * time.Millisecond)
	assert.Equal(t, []string{"bend 1.00"}, h.sink.take())

	tk := h.step(500 * time.Millisecond)
	assert.Equal(t, Stopped, tk.state)
	assert.Equal(t, []string{"off 60", "bend 0.00"}, h.sink.take())
}

func TestOverlappingBendsPlayedPerChannel(t *testing.T) {
	chord := []notes.NoteEvent{
		{PitchMIDI: 60, DurationSeconds: 1, Amplitude: 1, PitchBends: []float64{0.5}},
		{PitchMIDI: 64, DurationSeconds: 1, Amplitude: 1, PitchBends: []float64{-0.5}},
	}

	h := newHarness(t)
	h.s.Load(chord)
	require.NoError(t, h.s.Play())
	h.step(100 * time.Millisecond)
	assert.Equal(t, []string{"bend 0.50", "ch1 bend -0.50", "on 60", "ch1 on 64"}, h.sink.take())

	tk := h.step(time.Second)
	assert.Equal(t, Stopped, tk.state)
	assert.Equal(t, []string{"off 60", "ch1 off 64", "bend 0.00", "ch1 bend 0.00"}, h.sink.take())

	// Stopping mid-note resets every channel that was sounding
	require.NoError(t, h.s.Play())
	h.step(100 * time.Millisecond)
	h.sink.take()
	h.s.Stop()
	assert.Equal(t, []string{"off 60", "ch1 off 64", "bend 0.00", "ch1 bend 0.00"}, h.sink.take())
}

func TestPlayNothingLoaded(t *testing.T) {
	s := NewScheduler(nil)
	assert.ErrorIs(t, s.Play(), ErrNothingLoaded)
	assert.Equal(t, Stopped, s.State())
}

func TestMIDISink(t *testing.T) {
	var sent []midi.Message
	sink := NewMIDISink(func(m midi.Message) error {
		sent = append(sent, m)
		return nil
	})

	require.NoError(t, sink.NoteOn(2, 60, 100))
	require.NoError(t, sink.NoteOff(2, 60))
	require.NoError(t, sink.PitchBend(2, 1))

	require.Len(t, sent, 3)
	assert.Equal(t, midi.NoteOn(2, 60, 100), sent[0])
	assert.Equal(t, midi.NoteOff(2, 60), sent[1])
	assert.Equal(t, midi.Pitchbend(2, 4096), sent[2])
}
