package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/docchat-sdk-go/docchat"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configFunc resolves the configuration for a command run.
type configFunc func() (docchat.Config, error)

func rootCmd() *cobra.Command {
	var socketURL, apiURL string

	cmd := &cobra.Command{
		Use:           "docchat",
		Short:         "Chat with your uploaded documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&socketURL, "socket-url", "", "chat websocket URL (default: $DOCCHAT_SOCKET_URL)")
	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "document store URL (default: $DOCCHAT_API_URL)")

	// config resolves .env and environment first, then flags
	var config configFunc = func() (docchat.Config, error) {
		cfg, err := docchat.LoadConfig()
		if err != nil {
			return cfg, err
		}
		if socketURL != "" {
			cfg.URL = socketURL
		}
		if apiURL != "" {
			cfg.APIURL = apiURL
		}
		return cfg, nil
	}

	cmd.AddCommand(chatCmd(config), filesCmd(config))
	return cmd
}
