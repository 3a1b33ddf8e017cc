package cli

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"uploaddesk/internal/config"
)

const defaultConfigPath = "config.yml"

type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCmd builds the uploadctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "uploadctl",
		Short:         "Validate and upload files with the uploaddesk pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := zerolog.WarnLevel
			if opts.verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).Level(level)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to config file (default $"+config.EnvConfigPath+" or "+defaultConfigPath+")")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log transfer details to stderr")

	rootCmd.AddCommand(newCheckCmd(opts))
	rootCmd.AddCommand(newSendCmd(opts))
	return rootCmd
}

// Execute runs uploadctl with os.Args.
func Execute() error {
	_ = godotenv.Load()
	return NewRootCmd().Execute()
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	if path == "" {
		path = defaultConfigPath
	}
	return config.Load(path)
}
