// Package session ties one audio clip to its inference worker, recompute controller and
// playback scheduler
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/james-see/audio2midi/pkg/audio"
	"github.com/james-see/audio2midi/pkg/converter"
	"github.com/james-see/audio2midi/pkg/logging"
	"github.com/james-see/audio2midi/pkg/notes"
	"github.com/james-see/audio2midi/pkg/playback"
	"github.com/james-see/audio2midi/pkg/recompute"
)

// Status of the clip loaded into a session
type Status string

const (
	StatusIdle      Status = "idle"
	StatusDecoding  Status = "decoding"
	StatusInferring Status = "inferring"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
)

// Options configures a Session
type Options struct {
	Engine     converter.Engine
	Controller recompute.Options
	Sink       playback.Sink
	Playback   []playback.Option
	Logger     *log.Logger
}

// DefaultOptions returns options with the production controller and a silent sink
func DefaultOptions(engine converter.Engine) Options {
	return Options{
		Engine:     engine,
		Controller: recompute.DefaultOptions(),
		Sink:       playback.NopSink{},
	}
}

// Info is a point-in-time summary of a session
type Info struct {
	ID         string                   `json:"id"`
	Filename   string                   `json:"filename"`
	Status     Status                   `json:"status"`
	Progress   float64                  `json:"progress"`
	Error      string                   `json:"error,omitempty"`
	DecodeErr  string                   `json:"decodeError,omitempty"`
	Seq        uint64                   `json:"seq"`
	NotesSeq   uint64                   `json:"notesSeq"`
	NoteCount  int                      `json:"noteCount"`
	Decoding   bool                     `json:"decoding"`
	Duration   float64                  `json:"durationSeconds"`
	Parameters notes.DecodingParameters `json:"parameters"`
	Tempo      float64                  `json:"tempo"`
	CreatedAt  time.Time                `json:"createdAt"`
	UpdatedAt  time.Time                `json:"updatedAt"`
}

// ProgressFunc receives inference progress for the clip currently loaded
type ProgressFunc func(fraction float64)

type job struct {
	gen     uint64
	ctx     context.Context
	samples []float32
}

// Session owns the state of one clip. Inference runs on a dedicated worker goroutine;
// each Load starts a new generation and results from older generations are dropped.
type Session struct {
	ID string

	opts       Options
	logger     *log.Logger
	controller *recompute.Controller
	scheduler  *playback.Scheduler

	jobs    chan job
	updates chan recompute.Snapshot
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu         sync.RWMutex
	status     Status
	filename   string
	progress   float64
	err        error
	gen        uint64
	cancel     context.CancelFunc
	duration   float64
	onProgress ProgressFunc
	createdAt  time.Time
	updatedAt  time.Time
}

// New starts a session and its workers
func New(id string, opts Options) *Session {
	logger := logging.OrDefault(opts.Logger).With("session", id)
	opts.Controller.Logger = logger
	now := time.Now()
	s := &Session{
		ID:         id,
		opts:       opts,
		logger:     logger,
		controller: recompute.New(opts.Controller),
		scheduler:  playback.NewScheduler(opts.Sink, append([]playback.Option{playback.WithLogger(logger)}, opts.Playback...)...),
		jobs:       make(chan job, 1),
		updates:    make(chan recompute.Snapshot, 1),
		done:       make(chan struct{}),
		status:     StatusIdle,
		createdAt:  now,
		updatedAt:  now,
	}
	s.wg.Add(2)
	go s.inferenceWorker()
	go s.follow()
	return s
}

// OnProgress registers a callback for inference progress
func (s *Session) OnProgress(fn ProgressFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProgress = fn
}

// Load decodes raw audio and starts inference on it. Decoding blocks the caller and honours
// ctx; inference continues in the background. Anything still running for a previous clip
// becomes stale. Audio that cannot be decoded is reported to the caller and leaves the
// current clip as it was.
func (s *Session) Load(ctx context.Context, raw []byte, filename string) error {
	if s.opts.Engine == nil {
		return converter.ErrNoEngine
	}

	s.mu.Lock()
	gen, prevStatus, prevErr := s.gen, s.status, s.err
	s.status = StatusDecoding
	s.mu.Unlock()

	buf, err := audio.DecodeContext(ctx, raw)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen && s.status == StatusDecoding {
			s.status, s.err = prevStatus, prevErr
		}
		s.mu.Unlock()
		s.logger.Warn("audio decoding failed", "file", filename, "err", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
	}
	jobCtx, cancel := context.WithCancel(log.WithContext(context.Background(), s.logger))
	s.cancel = cancel
	s.filename = filename
	s.status = StatusInferring
	s.progress = 0
	s.err = nil
	s.duration = buf.DurationSeconds
	s.updatedAt = time.Now()

	s.controller.InvalidateSource()

	select {
	case <-s.jobs:
	default:
	}
	s.jobs <- job{gen: s.gen, ctx: jobCtx, samples: buf.ChannelData}
	s.logger.Info("clip loaded", "file", filename, "seconds", buf.DurationSeconds)
	return nil
}

// LoadTensors skips audio decoding and inference and uses saved model output
func (s *Session) LoadTensors(t *notes.Tensors, filename string) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.filename = filename
	s.status = StatusReady
	s.progress = 1
	s.err = nil
	s.duration = t.Duration()
	s.updatedAt = time.Now()
	s.controller.InvalidateSource()
	s.controller.InferenceComplete(t)
	return nil
}

func (s *Session) inferenceWorker() {
	defer s.wg.Done()
	for {
		select {
		case j := <-s.jobs:
			s.runJob(j)
		case <-s.done:
			return
		}
	}
}

func (s *Session) runJob(j job) {
	start := time.Now()
	tensors, err := s.opts.Engine.Run(j.ctx, j.samples, func(f float64) {
		s.mu.Lock()
		if j.gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.progress = f
		fn := s.onProgress
		s.mu.Unlock()
		if fn != nil {
			fn(f)
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if j.gen != s.gen {
		s.logger.Debug("dropping stale inference", "gen", j.gen, "latest", s.gen)
		return
	}
	s.cancel = nil
	s.updatedAt = time.Now()
	if err != nil {
		s.status = StatusFailed
		s.err = fmt.Errorf("%s: %w", s.opts.Engine.Name(), err)
		s.logger.Error("inference failed", "err", err)
		return
	}
	s.status = StatusReady
	s.progress = 1
	s.err = nil
	s.logger.Info("inference complete", "frames", tensors.Len(), "took", time.Since(start).Round(time.Millisecond))
	s.controller.InferenceComplete(tensors)
}

// follow feeds every newly accepted note sequence to the scheduler and republishes
// snapshots for the UI
func (s *Session) follow() {
	defer s.wg.Done()
	var loaded uint64
	for {
		select {
		case snap := <-s.controller.Updates():
			if snap.NotesSeq != loaded {
				s.scheduler.Load(snap.Notes)
				loaded = snap.NotesSeq
			}
			select {
			case <-s.updates:
			default:
			}
			s.updates <- snap
		case <-s.done:
			return
		}
	}
}

// SetParameters forwards new decoding parameters to the controller
func (s *Session) SetParameters(p notes.DecodingParameters) {
	s.controller.SetParameters(p)
}

// SetTempo forwards a new tempo to the controller
func (s *Session) SetTempo(bpm float64) {
	s.controller.SetTempo(bpm)
}

// Snapshot returns the controller's latest state
func (s *Session) Snapshot() recompute.Snapshot {
	return s.controller.Snapshot()
}

// Updates delivers controller snapshots after the scheduler has seen them
func (s *Session) Updates() <-chan recompute.Snapshot {
	return s.updates
}

// Scheduler returns the playback transport
func (s *Session) Scheduler() *playback.Scheduler {
	return s.scheduler
}

// Info summarises the session
func (s *Session) Info() Info {
	snap := s.controller.Snapshot()
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{
		ID:         s.ID,
		Filename:   s.filename,
		Status:     s.status,
		Progress:   s.progress,
		Seq:        snap.Seq,
		NotesSeq:   snap.NotesSeq,
		NoteCount:  len(snap.Notes),
		Decoding:   snap.Decoding,
		Duration:   s.duration,
		Parameters: snap.Parameters,
		Tempo:      snap.Tempo,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	if snap.Err != nil {
		info.DecodeErr = snap.Err.Error()
	}
	return info
}

// Err returns the last audio or inference error
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Status returns the clip status
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Close cancels inference and stops all workers
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		s.scheduler.Stop()
		close(s.done)
		s.wg.Wait()
		s.controller.Close()
	})
}
