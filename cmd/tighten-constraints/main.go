// tighten-constraints alters deals.company_id and deals.contact_id to
// NOT NULL once the backfill is complete. Refuses to run while any deal is
// unresolved or any review case is pending.
//
// Usage:
//   go run ./cmd/tighten-constraints
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/workflow"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	if err := workflow.TightenDealConstraints(ctx, db, config.GetLogger()); err != nil {
		fmt.Fprintf(os.Stderr, "tighten failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("deal linkage columns are NOT NULL")
}
