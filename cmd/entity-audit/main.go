// entity-audit validates the current deal/company/contact linkage for a
// business and reports every violation. Optionally exports the report to an
// xlsx workbook and uploads it to GCS.
//
// Usage:
//   go run ./cmd/entity-audit -business-id=<uuid> [-export=audit.xlsx] [-upload]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"bitbucket.org/mmdatafocus/crm_backend/workflow"
)

func main() {
	businessID := flag.String("business-id", "", "Business to audit (uuid string). Required.")
	exportPath := flag.String("export", "", "Optional: write the report to this xlsx path.")
	upload := flag.Bool("upload", false, "Optional: upload the xlsx report to GCS_BUCKET.")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "-business-id is required")
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
	models.MigrateTable()

	bid := strings.TrimSpace(*businessID)

	var issues []models.EntityAuditIssue
	var err error
	switch {
	case *upload:
		var objectName string
		objectName, issues, err = workflow.UploadAuditReportToGCS(ctx, bid)
		if err == nil {
			fmt.Printf("uploaded report to gs://%s/%s\n", os.Getenv("GCS_BUCKET"), objectName)
		}
	case strings.TrimSpace(*exportPath) != "":
		issues, err = workflow.ExportAuditReportToFile(ctx, bid, strings.TrimSpace(*exportPath))
		if err == nil {
			fmt.Printf("wrote report to %s\n", strings.TrimSpace(*exportPath))
		}
	default:
		issues, err = models.ValidateAllEntities(ctx, bid)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit failed: %v\n", err)
		os.Exit(1)
	}

	for _, issue := range issues {
		fmt.Printf("deal=%d issue=%s company=%v contact=%v contact_company=%v\n",
			issue.DealId, issue.Issue,
			utils.DereferencePtr(issue.CompanyId),
			utils.DereferencePtr(issue.ContactId),
			utils.DereferencePtr(issue.ContactCompanyId))
	}
	fmt.Printf("audit complete: %d violations\n", len(issues))
	if len(issues) > 0 {
		os.Exit(3)
	}
}
