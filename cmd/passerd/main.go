package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ehabkost/passerd/internal/db"
	"github.com/ehabkost/passerd/internal/identity"
	"github.com/ehabkost/passerd/internal/metrics"
	"github.com/ehabkost/passerd/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	listenAddr string
	httpAddr   string
	dbDriver   string
	dbDSN      string
	logLevel   string

	apiBaseURL string
	serverName string
	projectURL string

	consumerKey    string
	consumerSecret string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "passerd",
		Short: "Passerd is an IRC gateway to your Twitter timelines",
		Long: `Passerd exposes a Twitter-style microblogging service as an IRC server:
your home timeline and mentions become channels, direct messages become
private messages, and posting is as easy as talking.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newMigrateCmd(cfg))

	root.PersistentFlags().StringVar(&cfg.listenAddr, "listen-addr", envOrDefault("PASSERD_LISTEN_ADDR", ":6667"), "IRC listen address")
	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("PASSERD_HTTP_ADDR", ":8080"), "Admin HTTP listen address (health, metrics, WebSocket IRC)")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("PASSERD_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("PASSERD_DB_DSN", "./passerd.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("PASSERD_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.apiBaseURL, "api-base-url", envOrDefault("PASSERD_API_BASE_URL", "https://api.twitter.com/1"), "Base URL of the remote service's REST API")
	root.PersistentFlags().StringVar(&cfg.serverName, "server-name", envOrDefault("PASSERD_SERVER_NAME", "passerd.server"), "IRC server name shown to clients")
	root.PersistentFlags().StringVar(&cfg.projectURL, "project-url", envOrDefault("PASSERD_PROJECT_URL", ""), "Project page shown in the MOTD")
	root.PersistentFlags().StringVar(&cfg.consumerKey, "consumer-key", envOrDefault("PASSERD_CONSUMER_KEY", ""), "OAuth consumer key for the delegated-authorization handshake")
	root.PersistentFlags().StringVar(&cfg.consumerSecret, "consumer-secret", envOrDefault("PASSERD_CONSUMER_SECRET", ""), "OAuth consumer secret")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("passerd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newMigrateCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(cfg.logLevel)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			// Opening the database applies pending schema and data
			// migrations.
			if _, err := openDatabase(cfg, logger); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting passerd",
		zap.String("version", version),
		zap.String("listen_addr", cfg.listenAddr),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("api_base_url", cfg.apiBaseURL),
		zap.String("log_level", cfg.logLevel),
	)
	if cfg.consumerKey == "" {
		logger.Warn("no OAuth consumer credentials configured; new-user setup will be unavailable")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	store := db.NewStore(database, logger)
	idCache := identity.NewCache(store, logger)

	srv, err := server.New(server.Config{
		Addr:           cfg.listenAddr,
		HTTPAddr:       cfg.httpAddr,
		ServerName:     cfg.serverName,
		Version:        version,
		ProjectURL:     cfg.projectURL,
		APIBaseURL:     cfg.apiBaseURL,
		ConsumerKey:    cfg.consumerKey,
		ConsumerSecret: cfg.consumerSecret,
		Store:          store,
		Identity:       idCache,
		Metrics:        metrics.New(),
		Log:            logger,
	})
	if err != nil {
		return err
	}

	err = srv.Run(ctx)
	logger.Info("passerd stopped")
	return err
}

func openDatabase(cfg *config, logger *zap.Logger) (*gorm.DB, error) {
	return db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
}

func gormLogLevel(level string) gormlogger.LogLevel {
	if level == "debug" {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
