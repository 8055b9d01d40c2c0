package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/config"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/logging"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/redact"
)

// usageError marks bad configuration; like invocation errors it exits with status 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

type rootOptions struct {
	configFile string
	logOutput  io.Writer

	// invoked is set once a command starts running, after cobra has accepted
	// the arguments and flag groups.
	invoked bool
}

func newRootCmd(ro *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "translator",
		Short: "Bulk text translation with bounded concurrency and retries",
		Long: `translator sends many short texts to a remote translation service with
at most --concurrent-requests calls in flight, retries failures with
exponential backoff, and keeps the source text when every attempt fails.

Commands:
  local     Translate game data exports (.json/.txt) into a report file
  foundry   Translate a Foundry input dataset into an output dataset
  serve     Serve POST /v1/translations over HTTP
  jobs      Answer Foundry compute module jobs
  version   Print the version

Configuration is read from --config (YAML), TRANSLATOR_* environment
variables and flags, in increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.PersistentFlags().StringVar(&ro.configFile, "config", "", "YAML config file")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")
	root.PersistentFlags().String("log-format", "", "Log format: json|text")

	root.AddCommand(
		newLocalCmd(ro),
		newFoundryCmd(ro),
		newServeCmd(ro),
		newJobsCmd(ro),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration with the command's flags bound and installs the logger.
func (ro *rootOptions) setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	ro.invoked = true
	cfg, err := config.Load(config.LoadOptions{ConfigFile: ro.configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, nil, &usageError{err: err}
	}
	logger, err := logging.Setup(ro.logOutput, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, &usageError{err: err}
	}
	return cfg, logger, nil
}

func exitCode(err error, invoked bool) int {
	if err == nil {
		return 0
	}
	var ue *usageError
	if errors.As(err, &ue) || !invoked {
		return 2
	}
	return 1
}

// execute runs the command line and returns the process exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ro := &rootOptions{logOutput: stderr}
	root := newRootCmd(ro)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "translator: %s\n", redact.Secrets(err.Error()))
	}
	return exitCode(err, ro.invoked)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
