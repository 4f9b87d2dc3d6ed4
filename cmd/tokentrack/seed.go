package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/alecgard/tokentrack/internal/metering"
	"github.com/alecgard/tokentrack/internal/user"
)

var (
	seedRecords int
	seedDays    int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo user with a history of usage records",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedRecords, "records", 200, "number of usage records to generate")
	seedCmd.Flags().IntVar(&seedDays, "days", 30, "spread records over this many past days")
	rootCmd.AddCommand(seedCmd)
}

const (
	demoName     = "Demo User"
	demoEmail    = "demo@tokentrack.local"
	demoPassword = "demo-password"

	seedBatchSize = 1000
)

var demoPrompts = []string{
	"Summarize the key points of the attached quarterly report.",
	"Write a haiku about distributed systems.",
	"Explain the difference between a mutex and a semaphore.",
	"Draft a polite reply declining a meeting invitation.",
	"Translate 'good morning, how are you?' into French and Spanish.",
	"Suggest five names for a coffee shop that also sells books.",
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedRecords < 1 || seedDays < 1 {
		return errors.New("--records and --days must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	userStore := user.NewStore(pool)
	logStore := metering.NewStore(pool)

	if _, err := userStore.GetByEmail(ctx, demoEmail); err == nil {
		slog.Info("demo data already exists, skipping seed", "email", demoEmail)
		return nil
	} else if !errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("checking demo user: %w", err)
	}

	u, err := userStore.Create(ctx, user.CreateUserInput{Name: demoName, Email: demoEmail, Password: demoPassword})
	if err != nil {
		return fmt.Errorf("creating demo user: %w", err)
	}
	slog.Info("created demo user", "id", u.ID, "email", u.Email)

	processor, _, _, err := newProcessor(cfg)
	if err != nil {
		return err
	}

	models := cfg.Catalog()
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x70ce))
	now := time.Now().UTC()
	window := time.Duration(seedDays) * 24 * time.Hour

	recs := make([]metering.Record, seedRecords)
	for i := range recs {
		rec := metering.Record{
			OwnerID:          u.ID,
			Prompt:           demoPrompts[rng.IntN(len(demoPrompts))],
			Response:         "This is a seeded response for demonstration purposes.",
			Model:            models[rng.IntN(len(models))].ID,
			PromptTokens:     10 + rng.IntN(400),
			CompletionTokens: 20 + rng.IntN(800),
			ResponseTime:     int64(300 + rng.IntN(4000)),
			APIEndpoint:      "/api/ai/process",
			CreatedAt:        now.Add(-time.Duration(rng.Int64N(int64(window)))),
		}
		// Roughly one in twenty calls fails.
		if rng.IntN(20) == 0 {
			rec.Status = metering.StatusError
			rec.ErrorMessage = "Model is currently loading"
		}
		processor.Normalize(&rec)
		recs[i] = rec
	}

	// Postgres caps a statement at 65535 bind parameters.
	for start := 0; start < len(recs); start += seedBatchSize {
		end := min(start+seedBatchSize, len(recs))
		if err := logStore.BatchInsert(ctx, recs[start:end]); err != nil {
			return fmt.Errorf("inserting demo records: %w", err)
		}
	}

	stats := metering.SummaryStats(recs, u.ID)
	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("User:      %s (%s)\n", u.Email, u.ID)
	fmt.Printf("Password:  %s\n", demoPassword)
	fmt.Printf("Records:   %d over %d days\n", len(recs), seedDays)
	fmt.Printf("Tokens:    %d\n", stats.TotalTokens)
	fmt.Printf("Cost:      $%s\n", stats.TotalCost.StringFixed(4))
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST http://%s/api/auth/login -H 'Content-Type: application/json' -d '{\"email\":\"%s\",\"password\":\"%s\"}'\n",
		cfg.Addr(), demoEmail, demoPassword)

	return nil
}
