package main

import (
	"context"
	"errors"

	"rombuilder/internal/config"
	"rombuilder/internal/doctor"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var errChecksFailed = errors.New("setup checks failed")

var conversionScripts = []string{
	"scripts/convert_to_super.sh",
	"scripts/convert_to_hybrid.sh",
	"scripts/upload_to_drive.sh",
}

func newDoctorCmd() *cobra.Command {
	var (
		dir     string
		noColor bool
		check   bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify the host and repository are set up for conversions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			env := func(key string) string { return config.GetEnv(key, "") }

			runnerKind := config.GetEnv("RUNNER", "github")
			checks := []doctor.Check{}
			if runnerKind == "github" {
				checks = append(checks, doctor.EnvCheck(env, "GITHUB_TOKEN", "GITHUB_REPO_OWNER", "GITHUB_REPO_NAME"))
			}
			checks = append(checks,
				doctor.OptionalEnvCheck(env, "Telegram notifications", "TELEGRAM_BOT_TOKEN"),
				doctor.OptionalEnvCheck(env, "Redis notifications", "REDIS_URL"),
				doctor.FileCheck("GitHub workflow", dir, ".github/workflows/"+config.GetEnv("GITHUB_WORKFLOW_FILE", "rom-converter.yml")),
				doctor.FileCheck("Conversion scripts", dir, conversionScripts...),
				doctor.RcloneCheck(doctor.ExecRunner, config.GetEnv("RCLONE_REMOTE_NAME", "gdrive")),
			)

			if check {
				runner, closer, err := newRunner(runnerKind)
				if err != nil {
					checks = append(checks, doctor.ReadyCheck("Runner ("+runnerKind+")", func(ctx context.Context) error { return err }))
				} else {
					if closer != nil {
						defer closer.Close()
					}
					checks = append(checks, doctor.ReadyCheck("Runner ("+runnerKind+")", runner.Ready))
				}
			}

			results := doctor.Run(cmd.Context(), checks...)
			if !doctor.Report(cmd.OutOrStdout(), results) {
				return errChecksFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "repository checkout holding the workflow and scripts")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.Flags().BoolVar(&check, "check-runner", true, "check that the runner backend answers")
	return cmd
}
