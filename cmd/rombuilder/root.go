package main

import (
	"log/slog"
	"os"

	"rombuilder/internal/config"

	"github.com/spf13/cobra"
)

// Version will be set at build time
var Version = "dev"

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "rombuilder",
		Short: "ROM conversion job service",
		Long: `rombuilder converts Android ROM packages to super or hybrid layouts on an
external runner (GitHub Actions or a local Docker container), tracks each run
and notifies the requester when it finishes.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadFile(cfgFile); err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: config.ParseLevel(config.GetEnv("LOG_LEVEL", "info")),
			})))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CONFIG_FILE"), "YAML file of KEY: value defaults (environment variables win)")

	root.AddCommand(newServeCmd(), newDoctorCmd(), newExtractCmd())
	return root
}
