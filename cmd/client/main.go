package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/npezzotti/go-chatroom-client/internal/config"
	"github.com/npezzotti/go-chatroom-client/internal/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "gochat",
	Short:         "Terminal client for the gochat chat server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfig    string
	flagEnvFile   string
	flagServerURL string
	flagDataDir   string
	flagLogFile   string
	flagDebugAddr string
	flagRoom      int64
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "path to a YAML config file")
	flags.StringVar(&flagEnvFile, "env-file", ".env", "env file with GOCHAT_* variables")
	flags.StringVar(&flagServerURL, "server-url", "", "chat server base URL")
	flags.StringVar(&flagDataDir, "data-dir", "", "directory for the session store and log")
	flags.StringVar(&flagLogFile, "log-file", "", "log file (defaults to <data-dir>/gochat.log)")
	flags.StringVar(&flagDebugAddr, "debug-addr", "", "serve /debug/vars on this address")

	chatCmd.Flags().Int64Var(&flagRoom, "room", 0, "room to join")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gochat:", err)
		os.Exit(1)
	}
}

// loadConfig merges defaults, the config file, the environment and flags,
// in increasing precedence.
func loadConfig() (*config.Config, error) {
	file, err := config.LoadFile(flagConfig)
	if err != nil {
		return nil, err
	}
	env, err := config.LoadEnv(flagEnvFile)
	if err != nil {
		return nil, err
	}
	flags := config.Values{
		ServerURL: flagServerURL,
		DataDir:   flagDataDir,
		LogFile:   flagLogFile,
		DebugAddr: flagDebugAddr,
		RoomId:    flagRoom,
	}

	return config.Defaults().Merge(file).Merge(env).Merge(flags).Build()
}

// newLogger writes to the log file, since the terminal belongs to the UI.
func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	logger := zerolog.New(f).With().Timestamp().Str("app", "gochat").Logger()
	return logger, f, nil
}

// app holds what every subcommand needs.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	sess    *session.Store
	closers []io.Closer
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	sess, err := session.Open(cfg.SessionDir(), logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     logger,
		sess:    sess,
		closers: []io.Closer{sess, logFile},
	}, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Error().Err(err).Msg("close")
		}
	}
}
