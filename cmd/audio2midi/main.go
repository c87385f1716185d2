// Package main is the entry point for the audio2midi CLI
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/audio2midi/pkg/api"
	"github.com/james-see/audio2midi/pkg/converter"
	"github.com/james-see/audio2midi/pkg/converter/engines"
	"github.com/james-see/audio2midi/pkg/logging"
	"github.com/james-see/audio2midi/pkg/notes"
	"github.com/james-see/audio2midi/pkg/playback"
	"github.com/james-see/audio2midi/pkg/recompute"
	"github.com/james-see/audio2midi/pkg/session"
	"github.com/james-see/audio2midi/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	outputFile  string
	saveTensors string
	tempo       float64
	params      = notes.DefaultParameters()

	logLevel string
	logFile  string
	logger   *log.Logger

	pythonPath    string
	scriptsDir    string
	modelPath     string
	tensorsEngine string

	midiOut   string
	debounce  time.Duration
	asJSON    bool
	serverCfg = api.DefaultConfig()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "audio2midi",
	Short: "Transcribe audio clips to MIDI",
	Long: `audio2midi runs a pitch detection model over an audio clip and decodes its
output into MIDI notes. Decoding parameters can be tuned interactively without
running the model again.

Examples:
  audio2midi transcribe take.wav -o take.mid
  audio2midi transcribe take.mp3 --save-tensors take.json
  audio2midi decode take.json -o take.mid --onset-threshold 0.6
  audio2midi inspect take.mid
  audio2midi tui
  audio2midi serve --port 8080`,
	Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio>",
	Short: "Transcribe a WAV or MP3 file to MIDI",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

var decodeCmd = &cobra.Command{
	Use:   "decode <tensors.json>",
	Short: "Decode saved model output to MIDI without running the model",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.mid>",
	Short: "List the notes of a MIDI file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI output ports",
	RunE:  runPorts,
}

func init() {
	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	pf.StringVar(&pythonPath, "python", "", "Python interpreter for the model script (default: scripts/.venv or python3)")
	pf.StringVar(&scriptsDir, "scripts", "scripts", "Directory holding the model script")
	pf.StringVar(&modelPath, "model", "", "Model path passed to the script")
	pf.StringVar(&tensorsEngine, "tensors", "", "Use this tensor file instead of running the model")

	// transcribe command
	transcribeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")
	transcribeCmd.Flags().StringVar(&saveTensors, "save-tensors", "", "Also save the model output to this file")
	addDecodeFlags(transcribeCmd.Flags())

	// decode command
	decodeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")
	addDecodeFlags(decodeCmd.Flags())

	// inspect command
	inspectCmd.Flags().BoolVar(&asJSON, "json", false, "Print notes as JSON")

	// tui command
	tuiCmd.Flags().StringVar(&midiOut, "midi-out", "", "Play through the MIDI output port matching this name")
	tuiCmd.Flags().DurationVar(&debounce, "debounce", recompute.DefaultDebounce, "Delay before re-decoding after a change")

	// serve command
	serveCmd.Flags().IntVarP(&serverCfg.Port, "port", "p", serverCfg.Port, "Server port")
	serveCmd.Flags().DurationVar(&serverCfg.Debounce, "debounce", serverCfg.Debounce, "Delay before re-decoding after a change")
	serveCmd.Flags().DurationVar(&serverCfg.SessionTTL, "session-ttl", session.DefaultTTL, "Close sessions idle for this long")
	serveCmd.Flags().Int64Var(&serverCfg.MaxUploadBytes, "max-upload", serverCfg.MaxUploadBytes, "Largest accepted upload in bytes")
	serveCmd.Flags().StringSliceVar(&serverCfg.AllowedOrigins, "cors-origin", serverCfg.AllowedOrigins, "Allowed CORS origins")

	// Add commands
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(portsCmd)
}

func addDecodeFlags(fs *pflag.FlagSet) {
	fs.Float64Var(&params.OnsetThreshold, "onset-threshold", params.OnsetThreshold, "Minimum onset activation that starts a note (0-1)")
	fs.Float64Var(&params.FrameThreshold, "frame-threshold", params.FrameThreshold, "Minimum frame activation that sustains a note (0-1)")
	fs.IntVar(&params.MinNoteLengthFrames, "min-note-length", params.MinNoteLengthFrames, "Shortest note kept, in frames")
	fs.Float64Var(&params.MinPitchHz, "min-pitch", params.MinPitchHz, "Lowest pitch kept, in Hz")
	fs.Float64Var(&params.MaxPitchHz, "max-pitch", params.MaxPitchHz, "Highest pitch kept, in Hz")
	fs.BoolVar(&params.UseMelodiaTrick, "melodia", params.UseMelodiaTrick, "Recover notes missed by onset detection")
	fs.BoolVar(&params.InferOnsets, "infer-onsets", params.InferOnsets, "Add onsets from jumps in frame activation")
	fs.Float64Var(&tempo, "tempo", converter.DefaultTempo, "Tempo written to the MIDI file, in BPM")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	if logFile == "" && cmd.Name() == "tui" {
		logFile = filepath.Join(os.TempDir(), "audio2midi.log")
	}
	if logFile == "" {
		logger = logging.New(os.Stderr, logLevel)
	} else {
		l, closeFn, err := logging.NewFile(logFile, logLevel)
		if err != nil {
			return err
		}
		cobra.OnFinalize(func() { _ = closeFn() })
		logger = l
	}
	log.SetDefault(logger)
	return nil
}

// engine builds the inference engine selected by the global flags
func engine() converter.Engine {
	if tensorsEngine != "" {
		return engines.NewTensorFileEngine(tensorsEngine)
	}
	runner := engines.NewRunner(pythonPath, scriptsDir)
	opts := []engines.ScriptOption{engines.WithLogger(logger)}
	if modelPath != "" {
		opts = append(opts, engines.WithModel(modelPath))
	}
	return engines.NewScriptEngine(runner, opts...)
}

func getOutputPath(input string) string {
	if outputFile != "" {
		return outputFile
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + ".mid"
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := getOutputPath(input)

	ctx, cancel := signalContext()
	defer cancel()

	conv := converter.New(engine())
	conv.SetLogger(logger)

	var last int
	result, err := conv.ConvertFile(ctx, input, output, params, tempo, func(f float64) {
		if pct := int(f * 100); pct/10 != last/10 {
			last = pct
			logger.Info("inference", "progress", fmt.Sprintf("%d%%", pct))
		}
	})
	if err != nil {
		return err
	}

	if saveTensors != "" {
		if err := converter.SaveTensors(saveTensors, result.Tensors); err != nil {
			return err
		}
		fmt.Printf("Saved model output to %s\n", saveTensors)
	}
	fmt.Printf("Transcribed %s -> %s (%d notes)\n", input, output, len(result.Notes))
	return nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := getOutputPath(input)

	conv := converter.New(nil)
	conv.SetLogger(logger)
	result, err := conv.ConvertFile(cmd.Context(), input, output, params, tempo, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Decoded %s -> %s (%d notes)\n", input, output, len(result.Notes))
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	mf, err := converter.NewMIDIConverter().ParseMIDIFile(args[0])
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(mf)
	}

	fmt.Printf("Track: %s\nTempo: %.2f BPM\nResolution: %d ticks/quarter\nNotes: %d\n\n", mf.TrackName, mf.Tempo, mf.TicksPerQuarter, len(mf.Notes))
	for _, n := range mf.Notes {
		bends := ""
		if len(n.PitchBends) > 0 {
			bends = fmt.Sprintf("  %d bends", len(n.PitchBends))
		}
		fmt.Printf("%-4s %3d  %8.3fs  %7.3fs  amp %.2f%s\n", n.Name(), n.PitchMIDI, n.StartTimeSeconds, n.DurationSeconds, n.Amplitude, bends)
	}
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg := tui.Config{
		Engine:   engine(),
		Debounce: debounce,
		Logger:   logger,
	}
	if midiOut != "" {
		sink, closeFn, err := playback.OpenMIDIOut(midiOut)
		if err != nil {
			return err
		}
		defer func() { _ = closeFn() }()
		cfg.Sink = sink
	}
	return tui.Run(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	serverCfg.Engine = engine()
	serverCfg.Logger = logger
	logger.Info("starting API server", "port", serverCfg.Port, "engine", serverCfg.Engine.Name())
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", serverCfg.Port)
	return api.StartServer(ctx, serverCfg)
}

func runPorts(cmd *cobra.Command, args []string) error {
	outs := midi.GetOutPorts()
	if len(outs) == 0 {
		fmt.Println("No MIDI output ports (build with -tags rtmidi for hardware output)")
		return nil
	}
	for _, out := range outs {
		fmt.Printf("%d: %s\n", out.Number(), out.String())
	}
	return nil
}
