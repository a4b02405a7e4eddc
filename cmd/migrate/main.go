// migrate runs AutoMigrate for every model. Use this as a separate job when
// the server starts with SKIP_MIGRATIONS=true.
package main

import (
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
)

func main() {
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()
	fmt.Println("migrations complete")
}
