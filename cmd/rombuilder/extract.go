package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"rombuilder/internal/job"
	"rombuilder/internal/rommeta"

	"github.com/spf13/cobra"
)

type extractOutput struct {
	Metadata rommeta.Metadata `json:"metadata"`
	Filename string           `json:"filename"`
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <rom.zip> <super|hybrid>",
		Short: "Print ROM metadata and the output filename for a conversion",
		Long: `Reads build.prop from a ROM zip and prints its metadata together with the
file name the converted ROM is uploaded as. Values that cannot be found are
reported as "unknown".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			variant, err := job.ParseVariant(args[1])
			if err != nil {
				return err
			}

			meta, err := rommeta.Extract(args[0])
			if err != nil {
				// Still print the unknown placeholders so scripts get a filename.
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}

			ext := strings.TrimPrefix(filepath.Ext(args[0]), ".")
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(extractOutput{
				Metadata: meta,
				Filename: rommeta.Filename(meta, string(variant), ext),
			})
		},
	}
}
