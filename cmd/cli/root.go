package cli

import (
	"fmt"
	"os"

	"github.com/inboxpilot/provisioner/internal/config"
	"github.com/inboxpilot/provisioner/internal/initialization"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	debug      bool
}

// container loads the configuration named by the persistent flags.
func (o *rootOptions) container(skipValidation bool) (*initialization.Container, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile:     o.configFile,
		SkipValidation: skipValidation,
	})
	if err != nil {
		return nil, err
	}

	return initialization.NewContainer(cfg), nil
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "provisioner",
		Short: "InboxPilot workflow provisioner",
		Long: `The provisioner connects a user's Gmail account through Google OAuth and
installs ready-made n8n workflows on their behalf.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a provisioner config file")

	rootCmd.AddCommand(NewServeCommand(opts))
	rootCmd.AddCommand(NewCheckCommand(opts))
	rootCmd.AddCommand(NewTemplatesCommand())
	rootCmd.AddCommand(NewKeygenCommand())
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
