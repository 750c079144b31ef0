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

	"github.com/shpitdev/sdmx-dataflow-sync/internal/app"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/config"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/logging"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/redact"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

// configError marks failures that happen before any stage runs.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintf(stderr, "error: %s\n", redact.Secrets(err.Error()))
	var ce *configError
	if errors.As(err, &ce) {
		return exitConfig
	}
	return exitFailure
}

type globalFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var gf globalFlags
	root := &cobra.Command{
		Use:           "dataflow-sync",
		Short:         "Track an SDMX dataflow catalog and download finalized new dataflows.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &configError{err: err}
	})
	root.PersistentFlags().StringVarP(&gf.configPath, "config", "c", "", "Config file (env: "+config.EnvConfigPath+", default "+config.DefaultPath+")")
	root.PersistentFlags().BoolVarP(&gf.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(&gf),
		newFetchCmd(&gf),
		newDiffCmd(&gf),
		newPromoteCmd(&gf),
		newDownloadCmd(&gf),
		newShowCmd(&gf),
		newScheduleCmd(&gf),
		newVersionCmd(),
	)
	return root
}

// session is what every pipeline command needs: the loaded config, a logger and the
// stages built from them.
type session struct {
	cfg      config.Config
	log      *slog.Logger
	pipeline *app.Pipeline
	close    func()
}

func openSession(cmd *cobra.Command, gf *globalFlags) (*session, error) {
	cfg, err := config.Load(config.ResolvePath(gf.configPath))
	if err != nil {
		return nil, &configError{err: err}
	}
	log, closer, err := logging.New(logging.Options{
		Dir:     cfg.Paths.LogFolder,
		Verbose: gf.verbose,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, &configError{err: err}
	}
	p, err := app.New(cfg, log, nil)
	if err != nil {
		_ = closer.Close()
		return nil, &configError{err: err}
	}
	return &session{
		cfg:      cfg,
		log:      log,
		pipeline: p,
		close:    func() { _ = closer.Close() },
	}, nil
}
