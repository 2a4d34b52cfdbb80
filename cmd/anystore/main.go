package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sagarc03/anystore/config"
)

var (
	version = "dev"

	cfgFiles   []string
	jsonOutput bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "anystore",
	Short:   "Uniform access to object, file and key-value storage",
	Long: `anystore talks to many storage backends through one interface.

Pick a backend with --scheme and its options with --option key=value,
or describe both in a config file. The serve command exposes the backend
over HTTP; the remaining commands operate on it directly.

Schemes: fs, http, memory, postgres, s3, sqlite`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFiles, cmd.Flags())
		if err != nil {
			return err
		}
		config.SetupLogging(cfg.Log, os.Stderr)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVarP(&cfgFiles, "config", "c", nil, "config file(s), merged left to right (default: ./anystore.yaml)")
	flags.String("scheme", "", "storage scheme (default: fs, env: ANYSTORE_STORAGE_SCHEME)")
	flags.StringToString("option", nil, "storage option as key=value, repeatable")
	flags.Bool("check", true, "probe the storage before running the command")
	flags.Bool("read-only", false, "reject every write")
	flags.String("log-level", "", "log level: debug, info, warn, error (default: info)")
	flags.String("log-format", "", "log format: text, json (default: text)")
	flags.BoolVar(&jsonOutput, "json", false, "output as JSON")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
