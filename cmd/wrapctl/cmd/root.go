// Package cmd implements the wrapctl commands.
package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultServer = "http://localhost:8080"

// options are shared by every subcommand of one root command
type options struct {
	cfgFile string
	server  string
	output  string
	verbose bool

	v *viper.Viper
}

// Execute runs the root command with os.Args
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the wrapctl command tree
func NewRootCommand() *cobra.Command {
	opts := &options{v: viper.New()}

	root := &cobra.Command{
		Use:           "wrapctl",
		Short:         "CLI for composite wraps",
		Long:          `wrapctl validates and runs wrap manifests locally and queries a running wrapd service.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initConfig()
		},
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.wrapctl/config.yaml)")
	root.PersistentFlags().StringVar(&opts.server, "server", "", "wrapd API URL (default from config or "+defaultServer+")")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "output format: table or json")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log load passes to stderr")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newValidateCommand(opts))
	root.AddCommand(newGetCommand(opts))

	return root
}

// initConfig reads the config file and environment. Flags win over both.
func (o *options) initConfig() error {
	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		o.v.AddConfigPath(filepath.Join(home, ".wrapctl"))
		o.v.SetConfigName("config")
		o.v.SetConfigType("yaml")
	}

	o.v.SetEnvPrefix("WRAPCTL")
	o.v.AutomaticEnv()
	_ = o.v.BindEnv("server", "WRAPCTL_SERVER")
	_ = o.v.BindEnv("llm_api_key", "LLM_API_KEY")
	_ = o.v.BindEnv("redis_addr", "REDIS_ADDR")

	if err := o.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if o.server == "" {
		o.server = o.v.GetString("server")
	}
	if o.server == "" {
		o.server = defaultServer
	}

	if o.output != "table" && o.output != "json" {
		return fmt.Errorf("unsupported output format: %s", o.output)
	}
	return nil
}

func (o *options) serverURL() string {
	return strings.TrimRight(o.server, "/")
}

func (o *options) jsonOutput() bool {
	return o.output == "json"
}

func (o *options) httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// logger writes to stderr when --verbose is set
func (o *options) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
