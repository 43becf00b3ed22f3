package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"kbchat/internal/api"
	"kbchat/internal/auth"
	"kbchat/internal/chat"
	"kbchat/internal/config"
	"kbchat/internal/docs"
	"kbchat/internal/session"
)

var (
	// Global flags
	verbose    bool
	configPath string
	baseURL    string

	logger *zap.Logger
	kb     *app
)

// app wires the state engine together for the commands.
type app struct {
	cfg     *config.Config
	store   *auth.Store
	client  *api.Client
	session *session.Manager
	chat    *chat.Manager
	docs    *docs.Manager
}

var rootCmd = &cobra.Command{
	Use:   "kbchat",
	Short: "kbchat - chat with your document knowledge base",
	Long: `kbchat is a terminal client for a knowledge-assistant service.

Upload documents, wait for them to index, and ask questions answered with
citations back into your own files. Credentials are kept in ~/.kbchat and
refreshed transparently when they expire.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			if path, err = config.DefaultPath(); err != nil {
				return err
			}
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if baseURL != "" {
			cfg.Server.BaseURL = baseURL
		}

		if logger, err = buildLogger(cfg, verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		kb, err = newApp(cfg, logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if kb != nil {
			kb.docs.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := auth.NewStore()
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	timeout, err := cfg.RequestTimeout()
	if err != nil {
		return nil, err
	}
	interval, err := cfg.PollInterval()
	if err != nil {
		return nil, err
	}

	client := api.NewClient(cfg.Server.BaseURL, store,
		api.WithLogger(logger),
		api.WithHTTPClient(&http.Client{Timeout: timeout}))

	return &app{
		cfg:     cfg,
		store:   store,
		client:  client,
		session: session.New(client, store, logger),
		chat:    chat.NewManager(client, logger),
		docs:    docs.NewManager(client, logger, docs.WithPollInterval(interval)),
	}, nil
}

func buildLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	if cfg.Logging.File != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
		})
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			sink,
			level,
		)
		return zap.New(core), nil
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.kbchat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "override the service base URL")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(chatCmd, sessionsCmd)
	rootCmd.AddCommand(docsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
