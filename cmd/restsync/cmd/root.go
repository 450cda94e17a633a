package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	ConfigFileName      = ".restsync"
	ConfigFileExtension = ".yaml"
	EnvPrefix           = "RESTSYNC"
)

// Config keys. Flags use the same names with dashes.
const (
	keyBaseURL     = "base_url"
	keyResource    = "resource"
	keyKind        = "kind"
	keyToken       = "token"
	keyOutput      = "output"
	keyLogLevel    = "log_level"
	keyLogFormat   = "log_format"
	keyLatency     = "latency"
	keySettleDelay = "settle_delay"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	logger  *slog.Logger
}

// NewRootCmd builds the command tree with its own configuration state.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "restsync",
		Short: "Keep a local collection in sync with a json-server style REST API",
		Long: `restsync loads a REST resource into a local collection, applies creates,
updates, deletes and drag reorders optimistically, and rolls back when the
server rejects a change. serve runs a compatible backend for local use.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initConfig(); err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), a.v.GetString(keyLogLevel), a.v.GetString(keyLogFormat))
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.restsync.yaml)")
	flags.String("base-url", "http://localhost:3000", "server root URL")
	flags.String(keyResource, "todos", "resource name under the base URL")
	flags.String(keyKind, "todo", "record kind: todo, speaker or generic")
	flags.String(keyToken, "", "bearer token sent with every request")
	flags.StringP(keyOutput, "o", formatYAML, "output format: yaml or json")
	flags.String("log-level", "error", "debug, info, warn or error")
	flags.String("log-format", "text", "text or json")
	flags.Duration(keyLatency, 0, "simulated latency before every update")
	flags.Duration("settle-delay", 0, "delay before a drop is persisted (default 600ms)")
	for _, name := range []string{
		keyBaseURL, keyResource, keyKind, keyToken, keyOutput,
		keyLogLevel, keyLogFormat, keyLatency, keySettleDelay,
	} {
		_ = a.v.BindPFlag(name, flags.Lookup(strings.ReplaceAll(name, "_", "-")))
	}
	a.v.SetEnvPrefix(EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	rootCmd.AddCommand(
		newServeCmd(a),
		newListCmd(a),
		newCreateCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newMoveCmd(a),
		newTokenCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("error executing root command: %s", err)
	}
}

func (a *app) initConfig() error {
	a.v.SetConfigType("yaml")
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		return nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return fmt.Errorf("error finding home directory: %w", err)
	}
	a.v.AddConfigPath(home)
	a.v.SetConfigName(ConfigFileName)
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file %s: %w",
				filepath.Join(home, ConfigFileName+ConfigFileExtension), err)
		}
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error", "":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

const version = "v0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of restsync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "restsync %s\n", version)
		},
	}
}

// localString reads a subcommand flag, falling back to the config key when
// the flag was not given. serve and token share auth_secret, so subcommand
// flags are not bound to viper.
func (a *app) localString(cmd *cobra.Command, flag, key string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return f.Value.String()
	}
	if a.v.IsSet(key) {
		return a.v.GetString(key)
	}
	if f := cmd.Flags().Lookup(flag); f != nil {
		return f.DefValue
	}
	return ""
}
