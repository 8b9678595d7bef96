package main

import (
	"log"
	"os"

	"github.com/absmach/flround/cli"
	"github.com/absmach/flround/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	defCoordinatorURL     = "http://localhost:7070"
	defTLSVerification    = false
	coordinatorURLEnvName = "FLROUND_COORDINATOR_URL"
)

func main() {
	coordinatorURL := defCoordinatorURL
	if u := os.Getenv(coordinatorURLEnvName); u != "" {
		coordinatorURL = u
	}
	tlsVerification := defTLSVerification

	rootCmd := &cobra.Command{
		Use:   "flround-cli",
		Short: "Federated rounds CLI",
		Long:  `flround-cli inspects a running coordinator and manages parameter files.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			s := sdk.NewSDK(sdk.Config{
				CoordinatorURL:  coordinatorURL,
				TLSVerification: tlsVerification,
			})
			cli.SetSDK(s)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&coordinatorURL, "coordinator-url", "c", coordinatorURL, "Coordinator HTTP API URL")
	rootCmd.PersistentFlags().BoolVar(&tlsVerification, "tls-verification", tlsVerification, "Verify TLS certificates")

	rootCmd.AddCommand(cli.NewStatusCmd())
	rootCmd.AddCommand(cli.NewRoundsCmd())
	rootCmd.AddCommand(cli.NewModelCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
