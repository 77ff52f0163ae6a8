package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dativo-io/warden/internal/config"
	"github.com/dativo-io/warden/internal/guardrail"
)

var classifyPayload string

var classifyCmd = &cobra.Command{
	Use:   "classify <kind>",
	Short: "Classify an action against the guardrail ruleset",
	Long: `Classify evaluates one (kind, payload) pair against the active guardrail
ruleset and prints the risk tier. Useful for testing deny/allow rules before
deploying them.

Examples:
  warden classify open_url --payload '{"url":"https://docs.github.com/x"}'
  warden classify type --payload '{"target_selector":"#password"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyPayload, "payload", "{}", "action payload as JSON")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	_, span := tracer.Start(cmd.Context(), "classify")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rules, err := loadRuleset(cfg)
	if err != nil {
		return err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(classifyPayload), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	decision := rules.Classify(args[0], payload)
	out, err := json.MarshalIndent(map[string]interface{}{
		"kind":            args[0],
		"risk_level":      string(decision.RiskLevel),
		"blocked_reason":  decision.BlockedReason,
		"ruleset_version": decision.RulesetVersion,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if decision.RiskLevel == guardrail.RiskBlocked {
		// Non-zero exit so scripts can gate on blocked classifications.
		return fmt.Errorf("action blocked: %s", decision.BlockedReason)
	}
	return nil
}
