// Package main is the vecpager CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hyperjump/vecpager/internal/cli"
	"github.com/hyperjump/vecpager/internal/config"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/vecpager/config.yaml"

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	serverURL  string
	output     string
	debug      bool
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

const rootLongDesc = `vecpager - chunked, paged vector store with per-chunk ANN indexes

Records live in fixed-capacity chunks, each with its own HNSW or flat index.
Only a bounded number of chunks stay in memory; the rest are paged in from
disk, badger, or S3 as searches need them.

Client commands talk to a running server (--server). Pass --server "" to open
the store directly when no server is running.`

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "vecpager",
		Short:         "Chunked, paged vector store",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is fine; it only supplies VECPAGER_* overrides.
			_ = godotenv.Load()
			if _, err := cli.ParseOutputFormat(flags.output); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "config file path")
	cmd.PersistentFlags().StringVar(&flags.serverURL, "server", cli.DefaultServerURL, `server URL (empty = open the store directly)`)
	cmd.PersistentFlags().StringVarP(&flags.output, "output", "o", string(cli.OutputText), "output format: text, compact, or json")
	cmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "enable debug logging")

	cmd.AddCommand(
		newServerCmd(flags),
		newPutCmd(flags),
		newGetCmd(flags),
		newDeleteCmd(flags),
		newSearchCmd(flags),
		newStreamCmd(flags),
		newStatusCmd(flags),
		newCompactCmd(flags),
		newFlushCmd(flags),
		newSpoolCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vecpager version %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
