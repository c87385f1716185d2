// Package tui provides a terminal user interface for audio2midi
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/james-see/audio2midi/pkg/converter"
	"github.com/james-see/audio2midi/pkg/logging"
	"github.com/james-see/audio2midi/pkg/playback"
	"github.com/james-see/audio2midi/pkg/recompute"
	"github.com/james-see/audio2midi/pkg/session"
)

const (
	tickInterval = 100 * time.Millisecond
	notesShown   = 8
)

// State represents the current TUI state
type State int

const (
	StateFilePicker State = iota
	StateInferring
	StateTuning
)

// Config configures the TUI
type Config struct {
	Engine   converter.Engine
	Sink     playback.Sink
	Debounce time.Duration
	Dir      string
	Logger   *log.Logger
}

// Model represents the TUI model
type Model struct {
	state      State
	filePicker filepicker.Model
	spinner    spinner.Model
	inferBar   progress.Model
	playBar    progress.Model

	session  *session.Session
	progress chan float64

	selectedFile string
	selected     Slider
	tuning       tuning
	snap         recompute.Snapshot
	inferred     float64
	status       string
	err          error
	width        int
	height       int
	logger       *log.Logger
}

type loadedMsg struct {
	path string
	err  error
}

type progressMsg float64

type snapshotMsg recompute.Snapshot

type tickMsg time.Time

type writtenMsg struct {
	path string
	err  error
}

// New creates a new TUI model with its own session
func New(cfg Config) Model {
	logger := logging.OrDefault(cfg.Logger)

	fp := filepicker.New()
	fp.AllowedTypes = []string{".wav", ".wave", ".mp3", ".json"}
	fp.CurrentDirectory = cfg.Dir
	if fp.CurrentDirectory == "" {
		fp.CurrentDirectory, _ = os.Getwd()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(acidGreen)

	opts := session.DefaultOptions(cfg.Engine)
	if cfg.Sink != nil {
		opts.Sink = cfg.Sink
	}
	if cfg.Debounce > 0 {
		opts.Controller.Debounce = cfg.Debounce
	}
	opts.Logger = logger
	sess := session.New("tui", opts)

	ch := make(chan float64, 1)
	sess.OnProgress(func(f float64) {
		select {
		case ch <- f:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- f:
			default:
			}
		}
	})

	snap := sess.Snapshot()
	return Model{
		state:      StateFilePicker,
		filePicker: fp,
		spinner:    s,
		inferBar:   progress.New(progress.WithGradient("#333333", "#39FF14"), progress.WithWidth(40)),
		playBar:    progress.New(progress.WithSolidFill("#FFFF00"), progress.WithWidth(40)),
		session:    sess,
		progress:   ch,
		tuning:     tuning{params: snap.Parameters, tempo: snap.Tempo},
		snap:       snap,
		logger:     logger,
	}
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.filePicker.Init(), m.spinner.Tick, m.waitForSnapshot(), m.waitForProgress(), tick())
}

// Close stops the session
func (m Model) Close() {
	m.session.Close()
}

func (m Model) waitForSnapshot() tea.Cmd {
	updates := m.session.Updates()
	return func() tea.Msg {
		return snapshotMsg(<-updates)
	}
}

func (m Model) waitForProgress() tea.Cmd {
	ch := m.progress
	return func() tea.Msg {
		return progressMsg(<-ch)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// open loads a clip into the session. Audio decodes here; inference continues in the
// background.
func (m Model) open(path string) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		if converter.DetectFormat(path) == converter.FormatTensors {
			t, err := converter.LoadTensors(path)
			if err == nil {
				err = sess.LoadTensors(t, filepath.Base(path))
			}
			return loadedMsg{path: path, err: err}
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return loadedMsg{path: path, err: err}
		}
		return loadedMsg{path: path, err: sess.Load(context.Background(), raw, filepath.Base(path))}
	}
}

func (m Model) writeMIDI() tea.Cmd {
	data := m.snap.MIDI
	base := strings.TrimSuffix(m.selectedFile, filepath.Ext(m.selectedFile))
	return func() tea.Msg {
		if data == nil {
			return writtenMsg{err: errors.New("no MIDI yet")}
		}
		out := base + ".mid"
		return writtenMsg{path: out, err: os.WriteFile(out, data, 0644)}
	}
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Messages from background work are handled in every state
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filePicker.SetHeight(max(msg.Height-10, 5))
		return m, nil

	case snapshotMsg:
		m.snap = recompute.Snapshot(msg)
		if m.state == StateInferring && m.snap.Ready() && m.session.Status() == session.StatusReady {
			m.state = StateTuning
		}
		return m, m.waitForSnapshot()

	case progressMsg:
		m.inferred = float64(msg)
		return m, m.waitForProgress()

	case tickMsg:
		if m.state == StateInferring && m.session.Status() == session.StatusFailed {
			m.err = m.session.Err()
			m.state = StateFilePicker
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.state = StateFilePicker
			return m, nil
		}
		m.err = nil
		m.status = ""
		if m.snap.Ready() && m.session.Status() == session.StatusReady {
			m.state = StateTuning
		}
		return m, nil

	case writtenMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(fmt.Sprintf("✗ %s", msg.err))
		} else {
			m.status = successStyle.Render(fmt.Sprintf("✓ Wrote %s", filepath.Base(msg.path)))
		}
		return m, nil
	}

	switch m.state {
	case StateFilePicker:
		return m.updateFilePicker(msg)
	case StateInferring:
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "esc":
				m.state = StateFilePicker
			case "q", "ctrl+c":
				return m, tea.Quit
			}
		}
	case StateTuning:
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			return m.updateTuning(keyMsg)
		}
	}
	return m, nil
}

func (m Model) updateFilePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Check for quit keys first
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "esc":
			if m.selectedFile != "" && m.err == nil {
				m.state = StateTuning
			}
			return m, nil
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}

	// Pass all other messages to the file picker
	var cmd tea.Cmd
	m.filePicker, cmd = m.filePicker.Update(msg)

	if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
		m.selectedFile = path
		m.state = StateInferring
		m.inferred = 0
		m.err = nil
		m.session.Scheduler().Stop()
		m.logger.Info("opening", "file", path)
		return m, tea.Batch(m.spinner.Tick, m.open(path))
	}
	return m, cmd
}

func (m Model) updateTuning(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sched := m.session.Scheduler()
	switch msg.String() {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < numSliders-1 {
			m.selected++
		}
	case "left", "h":
		m.nudge(-1)
	case "right", "l":
		m.nudge(1)
	case " ":
		if sched.State() == playback.Playing {
			sched.Pause()
			break
		}
		if err := sched.Play(); err != nil {
			m.status = errorStyle.Render(fmt.Sprintf("✗ %s", err))
		}
	case "s":
		sched.Stop()
	case "w":
		return m, m.writeMIDI()
	case "esc":
		sched.Stop()
		m.state = StateFilePicker
		return m, m.filePicker.Init()
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

// nudge moves the selected slider and hands the result to the session without waiting
func (m *Model) nudge(dir int) {
	next, changed := m.tuning.adjust(m.selected, dir)
	if !changed {
		return
	}
	if m.selected == SliderTempo {
		m.session.SetTempo(next.tempo)
	} else {
		m.session.SetParameters(next.params)
	}
	m.tuning = next
	m.status = ""
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(asciiLogo())
	s.WriteString("\n")

	switch m.state {
	case StateFilePicker:
		s.WriteString(m.viewFilePicker())
	case StateInferring:
		s.WriteString(m.viewInferring())
	case StateTuning:
		s.WriteString(m.viewTuning())
	}

	s.WriteString("\n")
	return s.String()
}

func (m Model) viewFilePicker() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SELECT AUDIO OR TENSOR FILE "))
	s.WriteString("\n\n")
	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s", m.err)))
		s.WriteString("\n\n")
	}
	s.WriteString(m.filePicker.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("enter: open • esc: back • q: quit"))

	return s.String()
}

func (m Model) viewInferring() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" TRANSCRIBING "))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%s Running the pitch model on %s...\n\n", m.spinner.View(), filepath.Base(m.selectedFile)))
	s.WriteString(m.inferBar.ViewAs(m.inferred))
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc: back • q: quit"))

	return boxStyle.Render(s.String())
}

func (m Model) viewTuning() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf(" %s ", strings.ToUpper(filepath.Base(m.selectedFile)))))
	s.WriteString("\n\n")

	for i := range numSliders {
		row := fmt.Sprintf("%-16s %s", sliderLabels[i], m.tuning.value(i))
		if i == m.selected {
			s.WriteString(selectedStyle.Render("▸ " + row))
		} else {
			s.WriteString(menuStyle.Render("  " + row))
		}
		s.WriteString("\n")
	}

	s.WriteString(statusStyle.Render(m.viewDecodeStatus()))
	s.WriteString("\n\n")
	s.WriteString(m.viewNotes())

	sched := m.session.Scheduler()
	var frac float64
	if d := sched.Duration(); d > 0 {
		frac = sched.Position() / d
	}
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("%-8s %s %5.1fs", sched.State(), m.playBar.ViewAs(frac), sched.Position()))

	if m.status != "" {
		s.WriteString("\n\n")
		s.WriteString(m.status)
	}
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("↑/↓: select • ←/→: adjust • space: play/pause • s: stop • w: write MIDI • esc: files • q: quit"))

	return boxStyle.Render(s.String())
}

func (m Model) viewDecodeStatus() string {
	switch {
	case m.snap.Decoding:
		return fmt.Sprintf("%s decoding…", m.spinner.View())
	case m.snap.NotesSeq < m.snap.Seq:
		return "waiting for changes to settle…"
	case m.snap.Err != nil:
		return errorStyle.Render(fmt.Sprintf("✗ decode failed: %s", m.snap.Err))
	default:
		return fmt.Sprintf("%d notes", len(m.snap.Notes))
	}
}

func (m Model) viewNotes() string {
	var s strings.Builder
	for i, n := range m.snap.Notes {
		if i == notesShown {
			s.WriteString(menuStyle.Render(fmt.Sprintf("  … %d more", len(m.snap.Notes)-notesShown)))
			s.WriteString("\n")
			break
		}
		bend := ""
		if len(n.PitchBends) > 0 {
			bend = " ~"
		}
		s.WriteString(menuStyle.Render(fmt.Sprintf("  %-4s %6.2fs %5.2fs  amp %.2f%s", n.Name(), n.StartTimeSeconds, n.DurationSeconds, n.Amplitude, bend)))
		s.WriteString("\n")
	}
	return s.String()
}

// Run starts the TUI application
func Run(cfg Config) error {
	m := New(cfg)
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
