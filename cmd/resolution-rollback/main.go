// resolution-rollback undoes the linkage one resolution run wrote and
// immediately re-resolves the business. Entities created by the run stay.
//
// Usage:
//   go run ./cmd/resolution-rollback -run-id=<uuid>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/workflow"
)

func main() {
	runID := flag.String("run-id", "", "Resolution run to roll back (uuid string). Required.")
	flag.Parse()

	if strings.TrimSpace(*runID) == "" {
		fmt.Fprintln(os.Stderr, "-run-id is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	logger := config.GetLogger()

	report, err := workflow.RollbackAndRerun(ctx, db, logger, strings.TrimSpace(*runID), "cli")
	if err != nil {
		fmt.Fprintf(os.Stderr, "rollback failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("rolled back run=%s, re-run=%s resolved=%d review=%d errors=%d\n",
		strings.TrimSpace(*runID), report.RunId, report.SuccessCount, report.ReviewCount, report.ErrorCount)
}
