// Package cli implements the posekit command line: flag parsing, config
// loading and the split, build, embed and serve subcommands.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/ayusman/posekit/internal/config"
	"github.com/ayusman/posekit/internal/ctxlog"
	"github.com/ayusman/posekit/internal/detector"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

const usage = `
posekit - pose landmark dataset pipeline.

Usage:
  posekit <command> [options]

Commands:
  split   Copy a class-per-folder image tree into train and test subsets.
  build   Extract pose landmarks from an image tree into a CSV table.
  embed   Normalize a landmark table into pose embeddings.
  serve   Serve the build catalog and the embedding API over HTTP.

Run 'posekit <command> -h' for command options.
`

// App runs posekit commands.
type App struct {
	Stdout io.Writer
	Stderr io.Writer

	// NewDetector creates the landmark detector used by build.
	NewDetector func(detector.Config) (detector.Detector, error)
}

// New creates an App that uses the MediaPipe detector.
func New(stdout, stderr io.Writer) *App {
	return &App{
		Stdout: stdout,
		Stderr: stderr,
		NewDetector: func(cfg detector.Config) (detector.Detector, error) {
			return detector.NewMediaPipeDetector(cfg)
		},
	}
}

// Run dispatches args[0] to a subcommand.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.Stdout, usage)
		return usageError("no command given")
	}

	switch args[0] {
	case "split":
		return a.runSplit(ctx, args[1:])
	case "build":
		return a.runBuild(ctx, args[1:])
	case "embed":
		return a.runEmbed(ctx, args[1:])
	case "serve":
		return a.runServe(ctx, args[1:])
	case "help", "-h", "-help", "--help":
		fmt.Fprint(a.Stdout, usage)
		return nil
	default:
		fmt.Fprint(a.Stdout, usage)
		return usageError("unknown command %q", args[0])
	}
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (a *App) newFlagSet(name, synopsis string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.Stdout)
	fs.Usage = func() {
		fmt.Fprintf(a.Stdout, "\nUsage:\n  posekit %s [options]\n\n%s\n\nOptions:\n", name, synopsis)
		fs.PrintDefaults()
	}

	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "Path to an HCL config file.")
	fs.StringVar(&c.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.StringVar(&c.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	return fs, c
}

// errHelp signals that -h was requested and usage has been printed.
var errHelp = errors.New("help requested")

// parse parses args, loads the config file and installs the logger in ctx.
// The returned set holds the names of flags given on the command line.
func (a *App) parse(ctx context.Context, fs *flag.FlagSet, c *commonFlags, args []string) (context.Context, config.Config, map[string]bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ctx, config.Config{}, nil, errHelp
		}
		return ctx, config.Config{}, nil, usageError("%v", err)
	}
	if fs.NArg() > 0 {
		return ctx, config.Config{}, nil, usageError("unexpected arguments: %v", fs.Args())
	}

	logger, err := ctxlog.New(a.Stderr, c.logFormat, c.logLevel)
	if err != nil {
		return ctx, config.Config{}, nil, usageError("%v", err)
	}
	slog.SetDefault(logger)
	ctx = ctxlog.WithLogger(ctx, logger)

	cfg := config.Default()
	if c.configPath != "" {
		cfg, err = config.Load(c.configPath)
		if err != nil {
			return ctx, config.Config{}, nil, usageError("%v", err)
		}
		logger.Debug("Config loaded.", "path", c.configPath)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return ctx, cfg, set, nil
}

// handleHelp turns errHelp into a clean exit.
func handleHelp(err error) error {
	if errors.Is(err, errHelp) {
		return nil
	}
	return err
}
