package models

import (
	"log"

	"bitbucket.org/mmdatafocus/crm_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&Company{}, &Contact{}, &Deal{},
		&ReviewCase{}, &ResolutionRun{},
		&ResolutionEventRecord{},
		&EntityAuditReport{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
