// Package recompute re-decodes cached model output whenever decoding parameters change,
// without running the model again
package recompute

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/charmbracelet/log"

	"github.com/james-see/audio2midi/pkg/converter"
	"github.com/james-see/audio2midi/pkg/logging"
	"github.com/james-see/audio2midi/pkg/notes"
)

// DefaultDebounce is how long parameter changes must pause before a decode starts
const DefaultDebounce = time.Second

const mailboxSize = 256

// DecodeFunc turns tensors into notes
type DecodeFunc func(*notes.Tensors, notes.DecodingParameters) ([]notes.NoteEvent, error)

// EncodeFunc turns notes into MIDI bytes at a tempo
type EncodeFunc func([]notes.NoteEvent, float64) ([]byte, error)

// Options configures a Controller
type Options struct {
	Debounce   time.Duration
	Parameters notes.DecodingParameters
	Tempo      float64
	Decode     DecodeFunc
	Encode     EncodeFunc
	Logger     *log.Logger
}

// DefaultOptions returns the production configuration
func DefaultOptions() Options {
	return Options{
		Debounce:   DefaultDebounce,
		Parameters: notes.DefaultParameters(),
		Tempo:      converter.DefaultTempo,
		Decode:     notes.Decode,
		Encode:     converter.GenerateMIDI,
	}
}

// Snapshot is the state visible to the rest of the program. Snapshots are never modified
// after they are published.
type Snapshot struct {
	Seq        uint64 // latest request number issued
	NotesSeq   uint64 // request number the notes were decoded for, 0 if none yet
	Parameters notes.DecodingParameters
	Tempo      float64
	Notes      []notes.NoteEvent
	MIDI       []byte
	Err        error
	Decoding   bool
	HasTensors bool
}

// Ready reports whether a decode has succeeded since the source was loaded
func (s Snapshot) Ready() bool {
	return s.NotesSeq > 0
}

// Controller owns the cached tensors and the current parameters. All of its state is
// confined to one goroutine; the exported methods only post messages and never block on
// decoding.
type Controller struct {
	opts      Options
	logger    *log.Logger
	debounced func(func())

	mailbox  chan any
	requests chan Request
	results  chan Result
	updates  chan Snapshot
	snap     atomic.Pointer[Snapshot]

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// owned by loop
	tensors      *notes.Tensors
	params       notes.DecodingParameters
	tempo        float64
	seq          uint64
	requestedSeq uint64
	inFlight     bool
	pending      *Request
	notes        []notes.NoteEvent
	notesSeq     uint64
	midi         []byte
	lastErr      error
}

// New starts a controller and its decode worker
func New(opts Options) *Controller {
	def := DefaultOptions()
	if opts.Decode == nil {
		opts.Decode = def.Decode
	}
	if opts.Encode == nil {
		opts.Encode = def.Encode
	}
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	if opts.Parameters == (notes.DecodingParameters{}) {
		opts.Parameters = def.Parameters
	}
	if opts.Tempo <= 0 {
		opts.Tempo = def.Tempo
	}

	c := &Controller{
		opts:      opts,
		logger:    logging.OrDefault(opts.Logger),
		debounced: debounce.New(opts.Debounce),
		mailbox:   make(chan any, mailboxSize),
		requests:  make(chan Request, 1),
		results:   make(chan Result, 1),
		updates:   make(chan Snapshot, 1),
		done:      make(chan struct{}),
		params:    opts.Parameters,
		tempo:     opts.Tempo,
	}
	c.snap.Store(c.snapshot())

	c.wg.Add(2)
	go c.loop()
	go c.worker()
	return c
}

// InferenceComplete caches fresh tensors and decodes them right away
func (c *Controller) InferenceComplete(t *notes.Tensors) {
	c.post(inferenceComplete{tensors: t})
}

// SetParameters records new parameters; the decode starts once changes pause
func (c *Controller) SetParameters(p notes.DecodingParameters) {
	c.post(parametersChanged{params: p})
}

// SetTempo changes the MIDI tempo. Notes are re-encoded but not re-decoded.
func (c *Controller) SetTempo(bpm float64) {
	c.post(tempoChanged{bpm: bpm})
}

// InvalidateSource drops cached tensors and notes. Results still in flight become stale.
func (c *Controller) InvalidateSource() {
	c.post(invalidateSource{})
}

// Snapshot returns the latest published state
func (c *Controller) Snapshot() Snapshot {
	return *c.snap.Load()
}

// Updates delivers published snapshots. Only the latest undelivered one is kept.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// Close stops the controller and waits for its goroutines
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

func (c *Controller) post(msg any) {
	select {
	case c.mailbox <- msg:
	case <-c.done:
	}
}

func (c *Controller) loop() {
	defer c.wg.Done()
	defer close(c.requests)
	for {
		select {
		case msg := <-c.mailbox:
			c.handle(msg)
		case res := <-c.results:
			c.onResult(res)
		case <-c.done:
			return
		}
	}
}

func (c *Controller) handle(msg any) {
	switch m := msg.(type) {
	case inferenceComplete:
		c.tensors = m.tensors
		c.seq++
		c.logger.Debug("inference complete", "frames", m.tensors.Len(), "seq", c.seq)
		c.dispatch()
	case parametersChanged:
		c.params = m.params
		c.seq++
		c.debounced(func() { c.post(debounceFired{}) })
	case debounceFired:
		if c.tensors == nil || c.requestedSeq == c.seq {
			return
		}
		c.dispatch()
	case tempoChanged:
		if m.bpm <= 0 {
			return
		}
		c.tempo = m.bpm
		if c.notesSeq > 0 {
			c.encode()
		}
	case invalidateSource:
		c.tensors = nil
		c.notes = nil
		c.notesSeq = 0
		c.midi = nil
		c.lastErr = nil
		c.pending = nil
		c.seq++
		c.logger.Debug("source invalidated", "seq", c.seq)
	}
	c.publish()
}

// dispatch requests a decode of the current state. A request made while another is in
// flight replaces whatever was waiting.
func (c *Controller) dispatch() {
	req := Request{Seq: c.seq, Tensors: c.tensors, Params: c.params}
	c.requestedSeq = req.Seq
	if c.inFlight {
		c.pending = &req
		return
	}
	c.send(req)
}

func (c *Controller) send(req Request) {
	c.inFlight = true
	c.requests <- req
}

func (c *Controller) onResult(res Result) {
	c.inFlight = false
	switch {
	case res.Seq < c.seq:
		c.logger.Debug("dropping stale decode", "seq", res.Seq, "latest", c.seq)
	case res.Err != nil:
		c.logger.Warn("decode failed", "seq", res.Seq, "err", res.Err)
		c.lastErr = res.Err
	default:
		c.notes = res.Notes
		c.notesSeq = res.Seq
		c.lastErr = nil
		c.encode()
		c.logger.Debug("decode accepted", "seq", res.Seq, "notes", len(res.Notes))
	}

	if p := c.pending; p != nil {
		c.pending = nil
		if p.Seq == c.seq {
			c.send(*p)
		}
	}
	c.publish()
}

func (c *Controller) encode() {
	data, err := c.opts.Encode(c.notes, c.tempo)
	if err != nil {
		c.logger.Warn("MIDI encoding failed", "err", err)
		c.lastErr = err
		c.midi = nil
		return
	}
	c.midi = data
}

func (c *Controller) snapshot() *Snapshot {
	return &Snapshot{
		Seq:        c.seq,
		NotesSeq:   c.notesSeq,
		Parameters: c.params,
		Tempo:      c.tempo,
		Notes:      c.notes,
		MIDI:       c.midi,
		Err:        c.lastErr,
		Decoding:   c.inFlight || c.pending != nil,
		HasTensors: c.tensors != nil,
	}
}

func (c *Controller) publish() {
	s := c.snapshot()
	c.snap.Store(s)
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- *s:
	default:
	}
}
