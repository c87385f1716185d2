// Package playback replays decoded notes against a transport clock
package playback

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/james-see/audio2midi/pkg/converter"
	"github.com/james-see/audio2midi/pkg/logging"
	"github.com/james-see/audio2midi/pkg/notes"
)

// DefaultTickInterval is how often the transport advances while playing
const DefaultTickInterval = 50 * time.Millisecond

// ErrNothingLoaded is returned by Play when there are no notes
var ErrNothingLoaded = errors.New("no notes loaded")

// State of the transport
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Ticker drives the transport
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// TickFunc is called after every transport tick with the position in seconds
type TickFunc func(position float64, state State)

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTicker replaces the ticker factory
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(s *Scheduler) { s.newTicker = newTicker }
}

// WithTickInterval sets how often the transport advances
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// OnTick registers a callback for transport position updates
func OnTick(fn TickFunc) Option {
	return func(s *Scheduler) { s.onTick = fn }
}

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler plays a note sequence into a Sink. Every run carries a generation number and
// a stop channel; stopping or pausing bumps the generation, so a run that was cancelled can
// never fire another event.
type Scheduler struct {
	mu sync.Mutex

	sink      Sink
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	interval  time.Duration
	onTick    TickFunc
	logger    *log.Logger

	events   []converter.TimedEvent
	duration float64
	bends    bool

	state    State
	position float64   // transport position at anchor
	anchor   time.Time // wall clock when the current run started
	next     int       // next event to fire
	sounding map[voice]uint8
	gen      uint64
	stop     chan struct{}
}

// NewScheduler creates a stopped scheduler writing to sink
func NewScheduler(sink Sink, opts ...Option) *Scheduler {
	if sink == nil {
		sink = NopSink{}
	}
	s := &Scheduler{
		sink:      sink,
		now:       time.Now,
		newTicker: func(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} },
		interval:  DefaultTickInterval,
		sounding:  map[voice]uint8{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)
	return s
}

// Load replaces the note sequence. A playing sequence is stopped first.
func (s *Scheduler) Load(events []notes.NoteEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.events = converter.Timeline(events)
	s.duration = 0
	s.bends = false
	for _, ev := range s.events {
		s.duration = max(s.duration, ev.Seconds)
		s.bends = s.bends || ev.Kind == converter.EventPitchBend
	}
}

// Play starts from the beginning, or resumes from the paused position
func (s *Scheduler) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Playing:
		return nil
	case Stopped:
		if len(s.events) == 0 {
			return ErrNothingLoaded
		}
		s.position = 0
		s.next = 0
	case Paused:
		for _, v := range s.soundingVoices() {
			vel := s.sounding[v]
			s.emit(func() error { return s.sink.NoteOn(v.channel, v.pitch, vel) })
		}
	}

	s.gen++
	s.stop = make(chan struct{})
	s.anchor = s.now()
	s.state = Playing
	go s.run(s.gen, s.stop, s.newTicker(s.interval))
	return nil
}

// Pause holds the transport position and silences sounding notes until Play
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return
	}
	s.position = s.positionLocked()
	s.cancelRun()
	for _, v := range s.soundingVoices() {
		s.emit(func() error { return s.sink.NoteOff(v.channel, v.pitch) })
	}
	s.state = Paused
}

// Stop cancels all pending events and rewinds to zero
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// State returns the transport state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Position returns the transport position in seconds
func (s *Scheduler) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

// Duration returns the end of the last note in seconds
func (s *Scheduler) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Scheduler) positionLocked() float64 {
	if s.state != Playing {
		return s.position
	}
	return min(s.position+s.now().Sub(s.anchor).Seconds(), s.duration)
}

func (s *Scheduler) stopLocked() {
	if s.state == Playing {
		s.cancelRun()
	}
	var reset []uint8
	for _, v := range s.soundingVoices() {
		s.emit(func() error { return s.sink.NoteOff(v.channel, v.pitch) })
		if s.bends && !slices.Contains(reset, v.channel) {
			reset = append(reset, v.channel)
		}
	}
	clear(s.sounding)
	slices.Sort(reset)
	for _, ch := range reset {
		s.emit(func() error { return s.sink.PitchBend(ch, 0) })
	}
	s.state = Stopped
	s.position = 0
	s.next = 0
}

func (s *Scheduler) cancelRun() {
	s.gen++
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Scheduler) run(gen uint64, stop <-chan struct{}, ticker Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			pos, state, live := s.advance(gen)
			if !live {
				return
			}
			if s.onTick != nil {
				s.onTick(pos, state)
			}
			if state != Playing {
				return
			}
		}
	}
}

// advance fires every event due at the current position. It reports false when gen is no
// longer the current run.
func (s *Scheduler) advance(gen uint64) (float64, State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != Playing {
		return 0, s.state, false
	}

	pos := s.positionLocked()
	for s.next < len(s.events) && s.events[s.next].Seconds <= pos {
		ev := s.events[s.next]
		s.next++
		switch ev.Kind {
		case converter.EventNoteOn:
			s.sounding[voice{ev.Channel, ev.Pitch}] = ev.Velocity
			s.emit(func() error { return s.sink.NoteOn(ev.Channel, ev.Pitch, ev.Velocity) })
		case converter.EventNoteOff:
			delete(s.sounding, voice{ev.Channel, ev.Pitch})
			s.emit(func() error { return s.sink.NoteOff(ev.Channel, ev.Pitch) })
		case converter.EventPitchBend:
			s.emit(func() error { return s.sink.PitchBend(ev.Channel, ev.Bend) })
		case converter.EventBendReset:
			s.emit(func() error { return s.sink.PitchBend(ev.Channel, 0) })
		}
	}

	if pos >= s.duration && s.next >= len(s.events) {
		s.stopLocked()
		return pos, Stopped, true
	}
	return pos, Playing, true
}

type voice struct {
	channel, pitch uint8
}

// soundingVoices lists the sounding notes by channel, then pitch
func (s *Scheduler) soundingVoices() []voice {
	out := make([]voice, 0, len(s.sounding))
	for v := range s.sounding {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b voice) int {
		if a.channel != b.channel {
			return int(a.channel) - int(b.channel)
		}
		return int(a.pitch) - int(b.pitch)
	})
	return out
}

func (s *Scheduler) emit(send func() error) {
	if err := send(); err != nil {
		s.logger.Warn("playback output failed", "err", err)
	}
}
