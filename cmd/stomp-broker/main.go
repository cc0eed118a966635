package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
)

var (
	version = "dev"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "stomp-broker",
	Short: "STOMP publish/subscribe broker",
	Long: `A STOMP 1.2 subset broker over raw TCP sockets.

Clients authenticate with CONNECT, subscribe to destinations and publish
messages that are fanned out to every current subscriber.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the broker version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Configuration file (JSON)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.FatalF("Error: %v", err)
		os.Exit(1)
	}
}
