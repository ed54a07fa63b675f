/**
 * @description
 * This is the main entry point for the ROSCA service. The `serve` command runs the HTTP
 * API together with the keeper scheduler; `migrate` applies the database schema and
 * exits.
 *
 * @dependencies
 * - github.com/spf13/cobra: command line parsing.
 * - github.com/joho/godotenv: loads a local .env before configuration is read.
 */

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "rosca",
		Short:         "Circlepot ROSCA ledger: savings circles, personal goals and reputation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory holding an optional .env file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
