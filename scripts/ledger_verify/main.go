package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/repository"
	"github.com/noah-isme/revision-engine/internal/revision"
	"github.com/noah-isme/revision-engine/internal/service"
	"github.com/noah-isme/revision-engine/pkg/config"
	"github.com/noah-isme/revision-engine/pkg/database"
)

func main() {
	var (
		entityType string
		entityID   string
		asJSON     bool
		timeout    time.Duration
	)

	flag.StringVar(&entityType, "type", "", "Only verify entities of this type")
	flag.StringVar(&entityID, "id", "", "Verify a single entity (requires -type)")
	flag.BoolVar(&asJSON, "json", false, "Print the report as JSON")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Overall timeout")
	flag.Parse()

	if entityID != "" && entityType == "" {
		log.Fatal("-id requires -type")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ledger := repository.NewRevisionRepository(db)
	refs := []revision.EntityRef{revision.Ref(entityType, entityID)}
	if entityID == "" {
		refs, err = ledger.Entities(ctx, entityType)
		if err != nil {
			log.Fatalf("failed to list entities: %v", err)
		}
	}

	var (
		reports []*models.RevisionVerification
		broken  int
	)
	for _, ref := range refs {
		chain, err := ledger.Chain(ctx, ref)
		if err != nil {
			log.Fatalf("failed to load chain of %s: %v", ref, err)
		}
		report := service.VerifyChain(ref, chain, time.Now().UTC())
		if !report.Valid {
			broken++
		}
		reports = append(reports, report)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			log.Fatalf("failed to encode report: %v", err)
		}
	} else {
		printReport(reports)
	}

	fmt.Printf("Entities: %d, Broken chains: %d\n", len(reports), broken)
	if broken > 0 {
		os.Exit(1)
	}
}

func printReport(results []*models.RevisionVerification) {
	fmt.Println("Ledger Verify Report")
	fmt.Println("====================")
	for _, res := range results {
		status := "OK"
		if !res.Valid {
			status = "BROKEN"
		} else if len(res.Gaps) > 0 {
			status = "GAPS"
		}
		fmt.Printf("[%s] %s#%s (%d revisions)\n", status, res.EntityType, res.EntityID, res.Revisions)
		if len(res.Gaps) > 0 {
			fmt.Printf("  Missing versions: %v\n", res.Gaps)
		}
		for _, issue := range res.Issues {
			fmt.Printf("  v%d %s: %s\n", issue.Version, issue.Kind, issue.Detail)
		}
	}
}
