package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dativo-io/warden/internal/doctor"
)

var (
	doctorJSON         bool
	doctorSkipUpstream bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check Warden configuration and runtime health",
	Long: `Doctor runs configuration, storage, guardrail, and connectivity checks and
reports pass/warn/fail per check. Exit status is non-zero when any check
fails, so it can gate deployment scripts.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "output full report as JSON")
	doctorCmd.Flags().BoolVar(&doctorSkipUpstream, "skip-upstream", false, "skip connectivity checks")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	report := doctor.Run(cmd.Context(), doctor.Options{SkipUpstream: doctorSkipUpstream})

	if doctorJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		for _, c := range report.Checks {
			marker := map[string]string{"pass": "✓", "warn": "!", "fail": "✗"}[c.Status]
			fmt.Printf("%s %-20s %s\n", marker, c.Name, c.Message)
			if c.Fix != "" && c.Status != "pass" {
				fmt.Printf("    fix: %s\n", c.Fix)
			}
		}
		fmt.Printf("\n%d pass, %d warn, %d fail\n", report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
	}

	if report.Status == "fail" {
		return fmt.Errorf("doctor found failing checks")
	}
	return nil
}
