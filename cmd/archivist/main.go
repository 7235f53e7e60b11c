// Command archivist discovers and retrieves digitized historical works from
// configured digital-library providers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/archivist/internal/secrets"
)

var (
	cfgFile     string
	secretsDir  string
	loadedSecrets map[string]string
)

var rootCmd = &cobra.Command{
	Use:   "archivist",
	Short: "Discover and retrieve digitized historical works from digital-library providers",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the configuration document (default: ./archivist.yaml)")
	rootCmd.PersistentFlags().StringVar(&secretsDir, "secrets-dir", ".secrets", "directory of provider API key files")
	cobra.OnInitialize(initSecrets)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(quotaStatusCmd)
	rootCmd.AddCommand(cleanupDeferredCmd)
}

func initSecrets() {
	s, err := secrets.Load(secretsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: loading secrets: %v\n", err)
		s = map[string]string{}
	}
	loadedSecrets = s
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}
