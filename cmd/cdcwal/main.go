package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/cdcwal/internal/cdcwal"
	"github.com/julianstephens/cdcwal/internal/cli"
	"github.com/julianstephens/cdcwal/internal/logger"
)

var (
	version = "cdcwal v0.1.0"
)

type LogOpts struct {
	Level  string `help:"Logging level (debug, info, warn, error)" default:"${log_level}" envvar:"CDCWAL_LOG_LEVEL"`
	Debug  bool   `help:"Enable debug logging (overrides --level)"                envvar:"CDCWAL_DEBUG"`
	Stream bool   `help:"Log to stdout/stderr only, without a log file"           envvar:"CDCWAL_LOG_STREAM"`
	Dir    string `help:"Directory for log files (default ~/.cdcwal/logs)"         envvar:"CDCWAL_LOG_DIR"`
}

type CLI struct {
	Init   cli.InitCmd   `cmd:"" help:"Initialize a new log directory"`
	Dump   cli.DumpCmd   `cmd:"" help:"Print committed transactions and their changes"`
	Verify cli.VerifyCmd `cmd:"" help:"Check the log and optionally repair its tail"`
	Export cli.ExportCmd `cmd:"" help:"Copy committed enrichments into a pebble store"`
	Scan   cli.ScanCmd   `cmd:"" help:"Print the transactions held in an exported store"`

	LogOpts LogOpts          `embed:"" prefix:"log-" help:"Logging options"`
	Version kong.VersionFlag `help:"Show version information" short:"V"`
}

func createLogger(opts LogOpts) (logger.Logger, error) {
	level := opts.Level
	if opts.Debug {
		level = "debug"
	}
	if _, err := logger.ParseLevel(level); err != nil {
		return nil, err
	}

	// Console output stays quiet below warn unless streaming was asked for.
	consoleLevel := "warn"
	if opts.Stream || opts.Debug {
		consoleLevel = level
	}
	consoleLogger := logger.NewConsoleLogger(consoleLevel)
	if opts.Stream {
		return consoleLogger, nil
	}

	logDir := opts.Dir
	if logDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		logDir = filepath.Join(homeDir, cdcwal.DefaultAppDir, cdcwal.DefaultLogDir)
	}
	fileLogger, err := logger.NewFileLoggerWithOpts(logger.FileLoggerOpts{
		Dir:           logDir,
		FileName:      cdcwal.DefaultLogFileName,
		MaxFileSizeMB: cdcwal.DefaultLogMaxSize,
		MaxBackups:    cdcwal.DefaultLogMaxBackups,
		Level:         level,
	})
	if err != nil {
		return nil, err
	}

	return logger.NewMultiLogger(fileLogger, consoleLogger), nil
}

func main() {
	cliApp := &CLI{}
	ctx := kong.Parse(cliApp,
		kong.Name("cdcwal"),
		kong.Description("A change-data-capture write-ahead log"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version":   version,
			"log_level": cdcwal.DefaultLogLevel,
		},
	)

	lg, err := createLogger(cliApp.LogOpts)
	if err != nil {
		ctx.FatalIfErrorf(err)
	}
	defer func() {
		if c, ok := lg.(logger.Closeable); ok {
			_ = c.Close()
		}
	}()

	ctx.BindTo(lg, (*logger.Logger)(nil))
	ctx.BindTo(os.Stdout, (*io.Writer)(nil))

	err = ctx.Run()
	if err != nil {
		if errors.Is(err, cli.ErrVerifyFailed) {
			os.Exit(2)
		}
		ctx.FatalIfErrorf(err)
	}
}
