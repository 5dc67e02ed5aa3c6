package main

import (
	"context"
	"log"
	"os"

	"eduquiz/internal/app"
	"eduquiz/internal/dataverse"
	"eduquiz/internal/db"
)

func main() {
	cfg := app.LoadConfig()

	dbConn, err := db.OpenPostgres(context.Background(), cfg.DBDSN)
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	syncer := dataverse.NewSyncer(dbConn, dataverse.Config{
		APIURL:          cfg.DataverseAPIURL,
		TenantID:        cfg.DataverseTenantID,
		ClientID:        cfg.DataverseClientID,
		ClientSecret:    cfg.DataverseClientSecret,
		QuizLinkBaseURL: cfg.QuizLinkBaseURL,
		DryRun:          cfg.DataverseDryRun,
	})

	report, err := syncer.Run(context.Background())
	if err != nil {
		log.Printf("dataverse sync failed: %v", err)
		os.Exit(1)
	}
	log.Printf("dataverse sync done: %d pairs, %d synced, %d skipped, %d failed",
		report.Pairs, report.Synced, report.Skipped, report.Failed)
}
