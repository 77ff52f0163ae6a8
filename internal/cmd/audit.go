package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/warden/internal/audit"
	"github.com/dativo-io/warden/internal/config"
)

var (
	auditTenant   string
	auditEntityID string
	auditLimit    int
	auditSince    string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the signed audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE:  runAuditList,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <event_id>",
	Short: "Verify the HMAC signature of an audit event",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

func init() {
	auditListCmd.Flags().StringVar(&auditTenant, "tenant", "", "filter by tenant id")
	auditListCmd.Flags().StringVar(&auditEntityID, "entity", "", "filter by entity id (session, step, artifact)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum events to list")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "only events after this RFC3339 timestamp")
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAuditStore() (*audit.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	store, err := audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("opening audit store: %w", err)
	}
	return store, nil
}

func runAuditList(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "audit.list")
	defer span.End()

	store, err := openAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var from time.Time
	if auditSince != "" {
		from, err = time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}
	}

	events, err := store.List(ctx, auditTenant, auditEntityID, from, time.Time{}, auditLimit)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "audit.verify")
	defer span.End()

	store, err := openAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	valid, err := store.Verify(ctx, args[0])
	if err != nil {
		return err
	}
	if !valid {
		fmt.Printf("event %s: signature INVALID\n", args[0])
		return fmt.Errorf("signature verification failed")
	}
	fmt.Printf("event %s: signature valid\n", args[0])
	return nil
}
