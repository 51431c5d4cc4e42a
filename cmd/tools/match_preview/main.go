package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/cheryl9/grantdeck/internal/db"
	"github.com/cheryl9/grantdeck/internal/match"
	"github.com/cheryl9/grantdeck/internal/models"
)

// Scores the stored grants against a profile described on the command line.
// Useful for tuning match weights without signing up through the API.
func main() {
	issueAreas := flag.String("issue-areas", "", "comma-separated issue areas (e.g. youth,education)")
	projectTypes := flag.String("project-types", "", "comma-separated project types")
	fundingMin := flag.Float64("funding-min", 0, "minimum funding sought (SGD)")
	fundingMax := flag.Float64("funding-max", 0, "maximum funding sought (SGD)")
	urgency := flag.String("urgency", "", "funding urgency: immediate, soon or exploratory")
	years := flag.Float64("years", 0, "years operating")
	staff := flag.Int("staff", 0, "staff size")
	mission := flag.String("mission", "", "mission statement for keyword matching")
	limit := flag.Int("limit", 15, "rows to show")
	flag.Parse()

	profile := models.NPOProfile{
		IssueAreas:     splitCSV(*issueAreas),
		ProjectTypes:   splitCSV(*projectTypes),
		FundingMin:     *fundingMin,
		FundingMax:     *fundingMax,
		FundingUrgency: *urgency,
		YearsOperating: *years,
		StaffSize:      *staff,
		Mission:        *mission,
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)
	result, err := store.ListGrants(ctx, db.ListParams{Limit: 500})
	if err != nil {
		log.Fatalf("list grants failed: %v", err)
	}
	if len(result.Grants) == 0 {
		fmt.Println("No grants in database. Run an ingestion first.")
		return
	}

	ranked := match.Rank(profile, result.Grants, time.Now(), *limit)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Score", "Conf", "Title", "Agency", "Max S$", "Deadline"})

	for _, r := range ranked {
		g := r.Grant
		deadline := g.Deadline
		if g.OpenAllYear {
			deadline = "open all year"
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("%.0f", r.Result.Score),
			r.Result.Confidence,
			truncate(g.Title, 48),
			truncate(g.Agency, 28),
			fmt.Sprintf("%.0f", g.FundingMax),
			truncate(deadline, 24),
		})
	}
	t.Render()

	if len(ranked) > 0 {
		best := ranked[0]
		fmt.Printf("\nTop match: %s\n%s\n", best.Grant.Title, best.Result.Reasoning)
	}
}

func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
