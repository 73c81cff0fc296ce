// Command seed loads a gift catalog and fixture accounts into the datastore.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"livego/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		seedPath    string
		migrate     bool
		grant       string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&seedPath, "file", "configs/seed.yaml", "Seed document to apply")
	flag.BoolVar(&migrate, "migrate", true, "Apply the Postgres schema before seeding")
	flag.StringVar(&grant, "grant", "", "Grant inventory as account:gift:quantity after seeding")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repo, err := openRepository(ctx, jsonPath, postgresDSN, migrate)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	if strings.TrimSpace(seedPath) != "" {
		seed, err := storage.LoadSeed(seedPath)
		if err != nil {
			fatalf("%v", err)
		}
		result, err := storage.ApplySeed(ctx, repo, seed)
		if err != nil {
			fatalf("apply seed: %v", err)
		}
		fmt.Printf("Seeded %d gifts, %d accounts and %d streams from %s.\n", result.Gifts, result.Accounts, result.Streams, seedPath)
	}

	if grant != "" {
		accountID, giftID, quantity, err := parseGrant(grant)
		if err != nil {
			fatalf("%v", err)
		}
		account, err := repo.GrantInventory(ctx, accountID, giftID, quantity)
		if err != nil {
			fatalf("grant inventory: %v", err)
		}
		fmt.Printf("Granted %d x %s to %s (%d inventory entries).\n", quantity, giftID, account.ID, len(account.Inventory))
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(ctx context.Context, jsonPath, postgresDSN string, migrate bool) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(ctx, postgresDSN, storage.WithPostgresMigrations(migrate))
}

func closeRepository(repo storage.Repository) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = repo.Close(ctx)
}

func parseGrant(value string) (string, string, int64, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("invalid grant %q, expected account:gift:quantity", value)
	}
	accountID := strings.TrimSpace(parts[0])
	giftID := strings.TrimSpace(parts[1])
	if accountID == "" || giftID == "" {
		return "", "", 0, fmt.Errorf("invalid grant %q, account and gift are required", value)
	}
	var quantity int64
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[2]), "%d", &quantity); err != nil || quantity <= 0 {
		return "", "", 0, fmt.Errorf("invalid grant quantity %q", parts[2])
	}
	return accountID, giftID, quantity, nil
}
