package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

// version may be overridden at build time through -ldflags.
var version = "0.1.0"

const usage = `trim a seccomp allow-list down to the syscalls a service actually uses

seccomptrim takes a permissive seccomp profile, relaunches the target service
under candidate profiles with one syscall removed at a time, and verifies the
service still starts and answers its functionality probe. Syscalls whose
removal breaks the service stay in the profile; all others are dropped. The
result is a minimized profile that still runs the workload.`

func main() {
	app := cli.NewApp()
	app.Name = "seccomptrim"
	app.Usage = usage
	app.Version = version
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: `log format ("text" or "json")`,
		},
		cli.BoolFlag{
			Name:  "no-color",
			Usage: "disable colored output",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to a YAML configuration file",
		},
		cli.StringFlag{
			Name:  "workdir, w",
			Usage: "directory holding profile artifacts (overrides the config file)",
		},
	}
	app.Commands = []cli.Command{
		minimizeCommand,
		catalogCommand,
		checkCommand,
		sweepCommand,
	}
	app.Before = func(c *cli.Context) error {
		switch format := c.GlobalString("log-format"); format {
		case "text", "json":
		default:
			return fmt.Errorf("unknown log format %q", format)
		}
		if c.GlobalBool("no-color") || !term.IsTerminal(int(os.Stdout.Fd())) {
			color.NoColor = true
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// setupContext builds the logging context and effective configuration shared
// by every command.
func setupContext(c *cli.Context) (context.Context, *Config, error) {
	logger := initLogger(c.GlobalBool("debug"), c.GlobalString("log-format"))
	ctx := WithLogger(context.Background(), logger)

	cfg := DefaultConfig()
	if path := c.GlobalString("config"); path != "" {
		loaded, err := LoadConfigFile(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	if workdir := c.GlobalString("workdir"); workdir != "" {
		cfg.Artifacts.Workdir = workdir
	}

	if err := validateConfig(cfg); err != nil {
		return nil, nil, err
	}

	return ctx, cfg, nil
}

func initLogger(debug bool, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug || os.Getenv("DEBUG") != "" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func Logger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// fatal prints the error and exits non-zero. Only errors that escape the cli
// framework reach it.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, "seccomptrim:", err)
	os.Exit(1)
}
