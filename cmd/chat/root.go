package main

import (
	"chat-sync/internal"
	"log/slog"

	"github.com/spf13/cobra"
)

// app is what every subcommand gets once the root has loaded the configuration.
type app struct {
	envFile string
	config  internal.Config
	log     *slog.Logger
	cleanup func() error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Follow a chat session from the terminal",
		Long:          "chat loads the history of a session, then keeps it in sync with the live channel.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config, err := internal.LoadConfig(a.envFile)
			if err != nil {
				return err
			}
			log, cleanup, err := internal.NewLogger(config.LogLevel, config.LogFile)
			if err != nil {
				return err
			}
			a.config, a.log, a.cleanup = config, log, cleanup
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.cleanup != nil {
				return a.cleanup()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file read at startup and on SIGHUP")
	root.AddCommand(newJoinCmd(a), newHistoryCmd(a))
	return root
}
