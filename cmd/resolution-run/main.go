// resolution-run executes one identity-resolution batch for a business.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//     go run ./cmd/resolution-run -business-id=<uuid>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/workflow"
)

func main() {
	businessID := flag.String("business-id", "", "Business to resolve (uuid string). If empty, resolves all businesses.")
	triggeredBy := flag.String("triggered-by", "cli", "Recorded on the run row as the trigger source.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()
	logger := config.GetLogger()

	var businesses []models.Business
	bizQuery := db.WithContext(ctx).Model(&models.Business{})
	if strings.TrimSpace(*businessID) != "" {
		bizQuery = bizQuery.Where("id = ?", strings.TrimSpace(*businessID))
	}
	if err := bizQuery.Find(&businesses).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list businesses: %v\n", err)
		os.Exit(1)
	}
	if len(businesses) == 0 {
		fmt.Fprintln(os.Stderr, "no businesses found")
		os.Exit(2)
	}

	exitCode := 0
	for _, b := range businesses {
		bid := b.ID.String()
		report, err := workflow.RunResolution(ctx, db, logger, bid, *triggeredBy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "business %s: resolution failed: %v\n", bid, err)
			exitCode = 1
			continue
		}
		fmt.Printf("business=%s run=%s resolved=%d review=%d errors=%d\n",
			bid, report.RunId, report.SuccessCount, report.ReviewCount, report.ErrorCount)
	}
	os.Exit(exitCode)
}
