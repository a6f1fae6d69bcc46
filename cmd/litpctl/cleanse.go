package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/litp/platform/pkg/cleanse/orchestrator"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/objectstore"
)

var cleanseCmd = &cobra.Command{
	Use:   "cleanse",
	Short: "Run and inspect cleanse analyses",
}

var cleanseRunCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a cleanse analysis and wait for it to reach a terminal status",
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		cfg, err := loadAppConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		op, err := a.cleanseOrch.StartAnalysis(ctx)
		if err != nil {
			return fmt.Errorf("starting cleanse analysis: %w", err)
		}
		if op == nil {
			fmt.Println("A cleanse analysis is already running; this invocation was a no-op.")
			return nil
		}

		fmt.Printf("Cleanse analysis started: %s\n", op.ID)
		if !wait {
			return nil
		}

		final, err := waitForAnalysis(ctx, a, op.ID)
		if err != nil {
			return err
		}
		printAnalysisOperation(final)
		if final.Status == domain.StatusFailed {
			return fmt.Errorf("cleanse analysis %s failed: %s", final.ID, final.Error)
		}
		return nil
	},
}

var cleanseStatusCmd = &cobra.Command{
	Use:   "status OPERATION_ID",
	Short: "Show a cleanse analysis's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		doc, err := a.store.FindOne(ctx, orchestrator.OperationsCollection, docstore.Filter{"_id": args[0]})
		if err != nil {
			return err
		}
		printAnalysisOperation(analysisFromDoc(doc))
		return nil
	},
}

var cleanseRegenerateURLCmd = &cobra.Command{
	Use:   "regenerate-url OPERATION_ID",
	Short: "Re-presign a completed cleanse analysis's report URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		op, err := a.cleanseOrch.RegenerateReportUrl(ctx, args[0], func(key string) (string, error) {
			return a.reportStore.Presign(key, objectstore.DefaultPresignTTL)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Report URL: %s\n", op.ReportURL)
		return nil
	},
}

var cleanseTestNotificationCmd = &cobra.Command{
	Use:   "test-notification ADDRESS",
	Short: "Send a connectivity-check notification to addr",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		if err := a.cleanseOrch.SendTestNotification(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Test notification sent to %s\n", args[0])
		return nil
	},
}

func init() {
	cleanseCmd.AddCommand(cleanseRunCmd, cleanseStatusCmd, cleanseRegenerateURLCmd, cleanseTestNotificationCmd)
	cleanseRunCmd.Flags().Bool("wait", true, "Block until the analysis reaches a terminal status")
}

// waitForAnalysis polls the operations collection directly, mirroring
// waitForImport, since StartAnalysis also hands off to a detached
// goroutine and the orchestrator exposes no blocking variant.
func waitForAnalysis(ctx context.Context, a *app, operationID string) (domain.CleanseAnalysisOperation, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return domain.CleanseAnalysisOperation{}, ctx.Err()
		case <-ticker.C:
			doc, err := a.store.FindOne(ctx, orchestrator.OperationsCollection, docstore.Filter{"_id": operationID})
			if err != nil {
				return domain.CleanseAnalysisOperation{}, err
			}
			op := analysisFromDoc(doc)
			if op.Status != domain.StatusRunning {
				return op, nil
			}
		}
	}
}

// analysisFromDoc reads back the fields toDoc in
// pkg/cleanse/orchestrator writes; kept in sync with that format
// since the orchestrator's own decoder is unexported.
func analysisFromDoc(d map[string]any) domain.CleanseAnalysisOperation {
	op := domain.CleanseAnalysisOperation{
		ID:              str(d["_id"]),
		Status:          domain.RunStatus(str(d["status"])),
		RecordsAnalyzed: toInt(d["records_analyzed"]),
		TotalRecords:    toInt(d["total_records"]),
		IssuesFound:     toInt(d["issues_found"]),
		IssuesResolved:  toInt(d["issues_resolved"]),
		Error:           str(d["error"]),
		ReportObjectKey: str(d["report_object_key"]),
		ReportURL:       str(d["report_url"]),
	}
	if t, ok := d["started_at"].(time.Time); ok {
		op.StartedAt = t
	}
	if t, ok := d["completed_at"].(time.Time); ok {
		op.CompletedAt = &t
	}
	return op
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func printAnalysisOperation(op domain.CleanseAnalysisOperation) {
	fmt.Printf("Cleanse analysis %s\n", op.ID)
	fmt.Printf("  Status:      %s\n", op.Status)
	fmt.Printf("  Started:     %s\n", op.StartedAt.Format(time.RFC3339))
	if op.CompletedAt != nil {
		fmt.Printf("  Completed:   %s\n", op.CompletedAt.Format(time.RFC3339))
	}
	if op.Error != "" {
		fmt.Printf("  Error:       %s\n", op.Error)
	}
	fmt.Printf("  Analyzed:    %d\n", op.RecordsAnalyzed)
	fmt.Printf("  Found:       %d\n", op.IssuesFound)
	fmt.Printf("  Resolved:    %d\n", op.IssuesResolved)
	if op.ReportURL != "" {
		fmt.Printf("  Report URL:  %s\n", op.ReportURL)
	}
}
