package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check readiness of the document store, object stores, and recent operations",
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

		report := a.health.Run(ctx)

		names := make([]string, 0, len(report.Results))
		for name := range report.Results {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			result := report.Results[name]
			status := "ok"
			if !result.Healthy {
				status = "FAIL"
			}
			fmt.Printf("%-16s %-4s %s\n", name, status, result.Message)
		}

		if !report.Ready {
			fmt.Fprintln(os.Stderr, "not ready")
			os.Exit(1)
		}
		fmt.Println("ready")
		return nil
	},
}
