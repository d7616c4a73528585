package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "space-chat",
		Short:         "Real-time chat for spaces with roles, moderation and private rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default config/config.<CONFIG_ENV>.yaml)")

	root.AddCommand(newServeCommand(&configPath), newMigrateCommand(&configPath))
	return root
}
