package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kohaku-dig/image-broker/internal/artifact"
	"github.com/kohaku-dig/image-broker/internal/config"
	"github.com/kohaku-dig/image-broker/internal/logging"
	"github.com/kohaku-dig/image-broker/internal/metrics"
	"github.com/kohaku-dig/image-broker/internal/server"
	"github.com/kohaku-dig/image-broker/internal/store/sqlite"
)

// ServeOptions configures the `serve` command. Flags left unset fall back to
// the environment/defaults resolved by config.Load.
type ServeOptions struct {
	cfg config.Config

	Host           string
	Port           int
	DBPath         string
	ImagesDir      string
	LogLevel       string
	LogPretty      bool
	MaxUploadBytes int64
}

func NewServeOptions() *ServeOptions {
	return &ServeOptions{}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker's HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Complete(cmd)
			return o.Run()
		},
	}

	defaults := config.Defaults()
	flags := cmd.Flags()
	flags.StringVar(&o.Host, "host", defaults.Host, "Host to bind")
	flags.IntVarP(&o.Port, "port", "p", defaults.Port, "Port to listen on")
	flags.StringVar(&o.DBPath, "db-path", "", "SQLite database path (default: $DB_PATH or "+defaults.DBPath+")")
	flags.StringVar(&o.ImagesDir, "images-dir", "", "Artifact sidecar directory (default: $IMAGES_DIR or "+defaults.ImagesDir+")")
	flags.StringVar(&o.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default: $LOG_LEVEL or "+defaults.LogLevel+")")
	flags.BoolVar(&o.LogPretty, "log-pretty", false, "Write human-readable console logs instead of JSON")
	flags.Int64Var(&o.MaxUploadBytes, "max-upload-bytes", 0, "Maximum accepted /complete upload size in bytes")

	return cmd
}

// Complete merges explicit flags over the environment-resolved config. An
// unset flag (empty string / zero) defers to whatever config.Load already
// resolved.
func (o *ServeOptions) Complete(cmd *cobra.Command) {
	o.cfg = config.Load()

	if cmd.Flags().Changed("host") {
		o.cfg.Host = o.Host
	}
	if cmd.Flags().Changed("port") {
		o.cfg.Port = o.Port
	}
	if o.DBPath != "" {
		o.cfg.DBPath = o.DBPath
	}
	if o.ImagesDir != "" {
		o.cfg.ImagesDir = o.ImagesDir
	}
	if o.LogLevel != "" {
		o.cfg.LogLevel = o.LogLevel
	}
	if cmd.Flags().Changed("log-pretty") {
		o.cfg.LogPretty = o.LogPretty
	}
	if o.MaxUploadBytes > 0 {
		o.cfg.MaxUploadBytes = o.MaxUploadBytes
	}
}

func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.New(o.cfg.LogLevel, o.cfg.LogPretty)

	store, err := sqlite.Open(o.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	sink, err := artifact.NewDiskSink(o.cfg.ImagesDir)
	if err != nil {
		return fmt.Errorf("failed to initialise artifact sink: %w", err)
	}

	m := metrics.New()
	m.MustRegister()
	metrics.RegisterPendingGauge(func() float64 {
		n, err := store.CountPending(context.Background())
		if err != nil {
			return 0
		}
		return float64(n)
	})

	srv := server.New(store, sink, m, log, server.Config{MaxUploadBytes: o.cfg.MaxUploadBytes})

	addr := fmt.Sprintf("%s:%d", o.cfg.Host, o.cfg.Port)
	log.Info().Str("addr", addr).Str("db_path", o.cfg.DBPath).Str("images_dir", o.cfg.ImagesDir).Msg("starting broker")

	if err := srv.Serve(ctx, addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info().Msg("broker stopped")
	return nil
}
