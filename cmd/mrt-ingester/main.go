package main

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/route-beacon/mrt-ingester/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app holds what every command shares: flags, config and logger.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "mrt-ingester",
		Short:        "Decode MRT routing dumps and archive them to PostgreSQL",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}
	cobra.EnableCommandSorting = false
	root.CompletionOptions.HiddenDefaultCmd = true
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration YAML file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddGroup(&cobra.Group{ID: "service", Title: "Service"})
	root.AddCommand(a.cmdServe())
	root.AddCommand(a.cmdMigrate())
	root.AddCommand(a.cmdMaintenance())

	root.AddGroup(&cobra.Group{ID: "files", Title: "Dump Files"})
	root.AddCommand(a.cmdLoad())
	root.AddCommand(a.cmdPublish())
	root.AddCommand(a.cmdDump())
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Service.LogLevel = a.logLevel
	}
	logger, err := initLogger(cfg.Service.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapCfg.Build()
}

var dsnPassword = regexp.MustCompile(`password\s*=\s*\S+`)

func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		// keyword=value format: redact the password=... portion
		return dsnPassword.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
