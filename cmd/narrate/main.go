// Command narrate turns one document into an audio file.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/document"
	"github.com/loqalabs/loqa-narrator/internal/eventstore"
	"github.com/loqalabs/loqa-narrator/internal/logging"
	"github.com/loqalabs/loqa-narrator/internal/pipeline"
	"github.com/loqalabs/loqa-narrator/internal/runtime"
	"github.com/loqalabs/loqa-narrator/internal/transcode"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/loqalabs/loqa-narrator/internal/voice"
)

var version = "0.1.0-dev"

const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitCancelled = 130
)

const defaultConfigPath = "narrator.yaml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "history" {
		return history(args[1:], stdout, stderr)
	}

	fs := flag.NewFlagSet("narrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath string
		envFile    string
		voiceID    string
		workers    int
		listVoices bool
		showVer    bool
	)
	fs.StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	fs.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the configuration")
	fs.StringVar(&voiceID, "voice", "", "Voice to narrate with (see -list-voices)")
	fs.IntVar(&workers, "workers", 0, "Concurrent synthesis workers (0 keeps the configured value)")
	fs.BoolVar(&listVoices, "list-voices", false, "Print the available voices and exit")
	fs.BoolVar(&showVer, "version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: narrate [flags] <document>")
		fmt.Fprintln(stderr, "       narrate history [-n N]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	switch {
	case showVer:
		fmt.Fprintln(stdout, version)
		return exitOK
	case listVoices:
		for _, p := range voice.All() {
			marker := " "
			if p.ID == voice.Default {
				marker = "*"
			}
			fmt.Fprintf(stdout, "%s %s\n", marker, p)
		}
		return exitOK
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	if workers < 0 {
		fmt.Fprintln(stderr, "-workers must be >= 0")
		return exitUsage
	}

	cfg, err := loadConfig(configPath, envFile, isSet(fs, "config"))
	if err != nil {
		fmt.Fprintf(stderr, "narrate: %v\n", err)
		return exitError
	}
	if voiceID != "" {
		cfg.Synthesis.Voice = voiceID
	}
	if workers > 0 {
		cfg.Synthesis.Workers = workers
	}

	logger, closeLog := logging.New(cfg.Telemetry, stderr)
	defer closeLog.Close()

	return narrate(cfg, fs.Arg(0), stdin, stdout, stderr, logger)
}

func narrate(cfg config.Config, path string, stdin io.Reader, stdout, stderr io.Writer, logger *slog.Logger) int {
	if cfg.Telemetry.OTLPEndpoint != "" || cfg.Telemetry.TraceStdout {
		shutdown, _, err := runtime.SetupTelemetry(cfg, logger)
		if err != nil {
			logger.Warn("telemetry disabled", slog.String("error", err.Error()))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
		}
	}

	ctx, abort := context.WithCancel(context.Background())
	defer abort()

	ffmpeg := transcode.NewFFmpeg(cfg.Transcoder, logger)
	if _, err := ffmpeg.Locate(ctx); err != nil {
		logger.Error("transcoder unavailable", slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "\n%s\n", runtime.TranscoderRemedy)
		acknowledge(stdin, stderr)
		return exitError
	}

	provider, closer, err := tts.New(cfg.Model, logger)
	if err != nil {
		fmt.Fprintf(stderr, "narrate: %v\n", err)
		return exitError
	}
	defer closer.Close()

	reader, err := document.NewReader(cfg.Reader, logger)
	if err != nil {
		fmt.Fprintf(stderr, "narrate: %v\n", err)
		return exitError
	}

	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		logger.Warn("run history unavailable", slog.String("error", err.Error()))
		store, _ = eventstore.Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, logger)
	}
	defer store.Close()

	bar := newProgressBar(stderr, isTerminal(stderr))
	download := newProgressBar(stderr, isTerminal(stderr))
	ctrl := pipeline.New(pipeline.Deps{
		Reader:     reader,
		Provider:   tts.NewLazy(provider),
		Transcoder: ffmpeg,
		Logger:     logger,
		ModelProgress: func(done, total int64) {
			if total > 0 {
				download.Update("model", int(done*100/total), "")
			}
		},
	}, pipeline.OptionsFromConfig(cfg))

	req := pipeline.Request{Path: absPath(path), Voice: cfg.Synthesis.Voice}
	r := ctrl.Start(ctx, req)

	recorder := eventstore.NewRecorder(store, eventstore.Run{
		ID:     r.ID,
		NodeID: "cli",
		Source: req.Path,
		Voice:  req.Voice,
	}, logger)
	recorder.Begin(ctx)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	var interrupted bool
	go func() {
		for range signals {
			if !interrupted {
				interrupted = true
				r.Cancel()
				logger.Info("cancellation requested, stopping after the current unit")
				continue
			}
			logger.Warn("second interrupt, aborting")
			abort()
			return
		}
	}()

	for ev := range r.Events() {
		recorder.Observe(context.WithoutCancel(ctx), ev)
		if ev.Kind == pipeline.EventProgress {
			download.Done()
			bar.Update("narrating", ev.Percent, fmt.Sprintf("%d/%d", ev.Completed, ev.Total))
		}
	}
	bar.Done()

	res, runErr := r.Wait()
	recorder.Finish(context.WithoutCancel(ctx), res, runErr)

	switch {
	case runErr != nil:
		fmt.Fprintf(stderr, "narrate: %s\n", pipeline.Describe(runErr))
		if errors.Is(runErr, context.Canceled) {
			return exitCancelled
		}
		return exitError
	case res.Cancelled:
		fmt.Fprintln(stderr, "narrate: cancelled, no audio file written")
		return exitCancelled
	}
	fmt.Fprintln(stdout, res.Artifact)
	return exitOK
}

func history(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("narrate history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath string
		envFile    string
		limit      int
	)
	fs.StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	fs.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the configuration")
	fs.IntVar(&limit, "n", 20, "Number of runs to show")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if limit <= 0 || fs.NArg() != 0 {
		fs.Usage()
		return exitUsage
	}

	cfg, err := loadConfig(configPath, envFile, isSet(fs, "config"))
	if err != nil {
		fmt.Fprintf(stderr, "narrate: %v\n", err)
		return exitError
	}
	ctx := context.Background()
	store, err := eventstore.Open(ctx, cfg.EventStore, logging.Discard())
	if err != nil {
		fmt.Fprintf(stderr, "narrate: open history: %v\n", err)
		return exitError
	}
	defer store.Close()
	if !store.Persistent() {
		fmt.Fprintln(stderr, "narrate: history is disabled (event_store.retention_mode=ephemeral)")
		return exitOK
	}

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		fmt.Fprintf(stderr, "narrate: list history: %v\n", err)
		return exitError
	}
	printHistory(stdout, runs)
	return exitOK
}

func printHistory(w io.Writer, runs []eventstore.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tVOICE\tSTATE\tUNITS\tDURATION\tSOURCE\tRESULT")
	for _, run := range runs {
		result := run.Artifact
		switch {
		case run.Cancelled:
			result = "cancelled"
		case run.Error != "":
			result = run.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			run.CreatedAt.Local().Format(time.DateTime),
			run.Voice,
			run.State,
			run.Units,
			run.Duration.Round(time.Second),
			filepath.Base(run.Source),
			result,
		)
	}
	_ = tw.Flush()
}

// loadConfig reads envFile, then the configuration. The default config
// path is optional; an explicit one must exist.
func loadConfig(path, envFile string, explicit bool) (config.Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// acknowledge holds the remediation text on screen until the user
// presses Enter. Non-interactive input returns immediately.
func acknowledge(stdin io.Reader, stderr io.Writer) {
	f, ok := stdin.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return
	}
	fmt.Fprint(stderr, "Press Enter to exit...")
	_, _ = bufio.NewReader(stdin).ReadString('\n')
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
