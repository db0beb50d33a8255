package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "Authgate is the authentication service",
	Long: `Authentication service providing password and passkey (WebAuthn)
login, TOTP and backup-code MFA, and rate-limited account flows.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
