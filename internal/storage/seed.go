package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"livego/internal/models"
)

// Seed is the YAML document accepted by LoadSeed: the gift catalog plus
// optional fixture accounts and streams.
type Seed struct {
	Gifts    []models.Gift `yaml:"gifts"`
	Accounts []SeedAccount `yaml:"accounts"`
	Streams  []SeedStream  `yaml:"streams"`
}

type SeedAccount struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	AvatarURL string          `yaml:"avatar"`
	Diamonds  int64           `yaml:"diamonds"`
	Earnings  int64           `yaml:"earnings"`
	Inventory []SeedInventory `yaml:"inventory"`
}

type SeedInventory struct {
	GiftID   string `yaml:"gift"`
	Quantity int64  `yaml:"quantity"`
}

type SeedStream struct {
	ID     string `yaml:"id"`
	HostID string `yaml:"host"`
	Title  string `yaml:"title"`
}

// LoadSeed parses a seed document from path.
func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return seed, nil
}

// SeedResult counts the records written by ApplySeed.
type SeedResult struct {
	Gifts    int
	Accounts int
	Streams  int
}

// ApplySeed writes the seed into repo. Gifts are upserted; accounts and
// streams that already exist are left untouched so the seed can be replayed
// on every start.
func ApplySeed(ctx context.Context, repo Repository, seed Seed) (SeedResult, error) {
	var result SeedResult
	for _, gift := range seed.Gifts {
		if _, err := repo.UpsertGift(ctx, gift); err != nil {
			return result, fmt.Errorf("seed gift %s: %w", gift.ID, err)
		}
		result.Gifts++
	}
	for _, account := range seed.Accounts {
		_, err := repo.CreateAccount(ctx, CreateAccountParams{
			ID:          account.ID,
			DisplayName: account.Name,
			AvatarURL:   account.AvatarURL,
			Diamonds:    account.Diamonds,
			Earnings:    account.Earnings,
		})
		if errors.Is(err, ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return result, fmt.Errorf("seed account %s: %w", account.ID, err)
		}
		for _, item := range account.Inventory {
			if _, err := repo.GrantInventory(ctx, account.ID, item.GiftID, item.Quantity); err != nil {
				return result, fmt.Errorf("seed inventory %s/%s: %w", account.ID, item.GiftID, err)
			}
		}
		result.Accounts++
	}
	for _, stream := range seed.Streams {
		_, err := repo.CreateStream(ctx, CreateStreamParams{ID: stream.ID, HostID: stream.HostID, Title: stream.Title})
		if errors.Is(err, ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return result, fmt.Errorf("seed stream %s: %w", stream.ID, err)
		}
		result.Streams++
	}
	return result, nil
}
