package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"livego/internal/models"
)

type dataset struct {
	Accounts     map[string]models.Account `json:"accounts"`
	Gifts        map[string]models.Gift    `json:"gifts"`
	Streams      map[string]models.Stream  `json:"streams"`
	Transactions []models.Transaction      `json:"transactions"`
}

// Storage is the JSON file backed repository. Every mutation runs under a
// single writer lock, is persisted with an atomic rename and is rolled back
// in memory when persisting fails. An empty path keeps the data in memory.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	txIndex  map[string]int
	now      func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Accounts: make(map[string]models.Account),
		Gifts:    make(map[string]models.Gift),
		Streams:  make(map[string]models.Stream),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Accounts == nil {
		s.data.Accounts = make(map[string]models.Account)
	}
	if s.data.Gifts == nil {
		s.data.Gifts = make(map[string]models.Gift)
	}
	if s.data.Streams == nil {
		s.data.Streams = make(map[string]models.Stream)
	}
	s.txIndex = make(map[string]int, len(s.data.Transactions))
	for i, tx := range s.data.Transactions {
		s.txIndex[tx.ID] = i
	}
}

// NewStorage opens (or creates) the JSON datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: strings.TrimSpace(path),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if o := collectOptions(opts); o.clock != nil {
		store.now = o.clock
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = newDataset()
	if s.filePath == "" {
		s.ensureDatasetInitializedLocked()
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.ensureDatasetInitializedLocked()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode store file: %w", err)
	}
	s.ensureDatasetInitializedLocked()
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		if err := s.persistOverride(s.data); err != nil {
			return err
		}
	}
	if s.filePath == "" {
		return nil
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// undoLog collects compensating actions for in-memory changes made before a
// persist attempt.
type undoLog []func()

func (u *undoLog) push(fn func()) {
	*u = append(*u, fn)
}

func (u undoLog) rollback() {
	for i := len(u) - 1; i >= 0; i-- {
		u[i]()
	}
}

func (s *Storage) putAccountLocked(undo *undoLog, account models.Account) {
	previous, existed := s.data.Accounts[account.ID]
	s.data.Accounts[account.ID] = account
	undo.push(func() {
		if existed {
			s.data.Accounts[account.ID] = previous
		} else {
			delete(s.data.Accounts, account.ID)
		}
	})
}

func (s *Storage) putStreamLocked(undo *undoLog, stream models.Stream) {
	previous, existed := s.data.Streams[stream.ID]
	s.data.Streams[stream.ID] = stream
	undo.push(func() {
		if existed {
			s.data.Streams[stream.ID] = previous
		} else {
			delete(s.data.Streams, stream.ID)
		}
	})
}

// commitLocked persists the dataset, reverting every change recorded in undo
// when persisting fails or ctx has expired.
func (s *Storage) commitLocked(ctx context.Context, undo undoLog) error {
	if err := ctx.Err(); err != nil {
		undo.rollback()
		return err
	}
	if err := s.persist(); err != nil {
		undo.rollback()
		return err
	}
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) Close(context.Context) error {
	return nil
}

func cloneAccount(account models.Account) models.Account {
	if len(account.Inventory) > 0 {
		account.Inventory = append([]models.InventoryItem(nil), account.Inventory...)
	}
	return account
}

func (s *Storage) CreateAccount(ctx context.Context, params CreateAccountParams) (models.Account, error) {
	if params.Diamonds < 0 || params.Earnings < 0 {
		return models.Account{}, fmt.Errorf("opening balances cannot be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return models.Account{}, err
		}
		id = generated
	}
	if _, exists := s.data.Accounts[id]; exists {
		return models.Account{}, fmt.Errorf("account %s: %w", id, ErrAlreadyExists)
	}
	now := s.now()
	account := models.Account{
		ID:          id,
		DisplayName: strings.TrimSpace(params.DisplayName),
		AvatarURL:   strings.TrimSpace(params.AvatarURL),
		Diamonds:    params.Diamonds,
		Earnings:    params.Earnings,
		Level:       1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var undo undoLog
	s.putAccountLocked(&undo, account)
	if err := s.commitLocked(ctx, undo); err != nil {
		return models.Account{}, err
	}
	return cloneAccount(account), nil
}

func (s *Storage) GetAccount(ctx context.Context, id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.data.Accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	return cloneAccount(account), nil
}

// GrantInventory adds quantity units of a gift to an account's backpack.
func (s *Storage) GrantInventory(ctx context.Context, accountID, giftID string, quantity int64) (models.Account, error) {
	if quantity <= 0 {
		return models.Account{}, fmt.Errorf("quantity must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.data.Accounts[accountID]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	if _, ok := s.data.Gifts[giftID]; !ok {
		return models.Account{}, fmt.Errorf("gift %s: %w", giftID, ErrGiftNotFound)
	}
	account = cloneAccount(account)
	found := false
	for i := range account.Inventory {
		if account.Inventory[i].GiftID == giftID {
			next, err := addBalance(account.Inventory[i].Quantity, quantity)
			if err != nil {
				return models.Account{}, fmt.Errorf("inventory %s/%s: %w", accountID, giftID, err)
			}
			account.Inventory[i].Quantity = next
			found = true
			break
		}
	}
	if !found {
		account.Inventory = append(account.Inventory, models.InventoryItem{GiftID: giftID, Quantity: quantity})
	}
	account.UpdatedAt = s.now()

	var undo undoLog
	s.putAccountLocked(&undo, account)
	if err := s.commitLocked(ctx, undo); err != nil {
		return models.Account{}, err
	}
	return cloneAccount(account), nil
}

func (s *Storage) UpsertGift(ctx context.Context, gift models.Gift) (models.Gift, error) {
	gift.ID = strings.TrimSpace(gift.ID)
	gift.Name = strings.TrimSpace(gift.Name)
	if gift.ID == "" || gift.Name == "" {
		return models.Gift{}, fmt.Errorf("gift id and name are required")
	}
	if gift.Price <= 0 {
		return models.Gift{}, fmt.Errorf("gift price must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.data.Gifts[gift.ID]
	s.data.Gifts[gift.ID] = gift
	undo := undoLog{func() {
		if existed {
			s.data.Gifts[gift.ID] = previous
		} else {
			delete(s.data.Gifts, gift.ID)
		}
	}}
	if err := s.commitLocked(ctx, undo); err != nil {
		return models.Gift{}, err
	}
	return gift, nil
}

func (s *Storage) GetGift(ctx context.Context, id string) (models.Gift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gift, ok := s.data.Gifts[id]
	if !ok {
		return models.Gift{}, fmt.Errorf("gift %s: %w", id, ErrGiftNotFound)
	}
	return gift, nil
}

func (s *Storage) FindGiftByName(ctx context.Context, name string) (models.Gift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, gift := range s.data.Gifts {
		if gift.Name == name {
			return gift, nil
		}
	}
	return models.Gift{}, fmt.Errorf("gift %q: %w", name, ErrGiftNotFound)
}

// ListGifts returns catalog entries ordered by ascending price.
func (s *Storage) ListGifts(ctx context.Context, category string) ([]models.Gift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gifts := make([]models.Gift, 0, len(s.data.Gifts))
	for _, gift := range s.data.Gifts {
		if category != "" && !strings.EqualFold(gift.Category, category) {
			continue
		}
		gifts = append(gifts, gift)
	}
	sort.Slice(gifts, func(i, j int) bool {
		if gifts[i].Price == gifts[j].Price {
			return gifts[i].ID < gifts[j].ID
		}
		return gifts[i].Price < gifts[j].Price
	})
	return gifts, nil
}

func (s *Storage) CreateStream(ctx context.Context, params CreateStreamParams) (models.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Accounts[params.HostID]; !ok {
		return models.Stream{}, fmt.Errorf("host %s: %w", params.HostID, ErrAccountNotFound)
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return models.Stream{}, err
		}
		id = generated
	}
	if _, exists := s.data.Streams[id]; exists {
		return models.Stream{}, fmt.Errorf("stream %s: %w", id, ErrAlreadyExists)
	}
	now := s.now()
	stream := models.Stream{
		ID:        id,
		HostID:    params.HostID,
		Title:     strings.TrimSpace(params.Title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	var undo undoLog
	s.putStreamLocked(&undo, stream)
	if err := s.commitLocked(ctx, undo); err != nil {
		return models.Stream{}, err
	}
	return stream, nil
}

func (s *Storage) GetStream(ctx context.Context, id string) (models.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream, ok := s.data.Streams[id]
	if !ok {
		return models.Stream{}, fmt.Errorf("stream %s: %w", id, ErrStreamNotFound)
	}
	return stream, nil
}

// ListLiveStreams returns live streams, most recently started first.
func (s *Storage) ListLiveStreams(ctx context.Context) ([]models.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	streams := make([]models.Stream, 0)
	for _, stream := range s.data.Streams {
		if stream.IsLive {
			streams = append(streams, stream)
		}
	}
	sort.Slice(streams, func(i, j int) bool {
		a, b := streams[i].StartedAt, streams[j].StartedAt
		if a == nil || b == nil || a.Equal(*b) {
			return streams[i].ID < streams[j].ID
		}
		return a.After(*b)
	})
	return streams, nil
}

func (s *Storage) SetStreamLive(ctx context.Context, id string, live bool, at time.Time) (models.Stream, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.data.Streams[id]
	if !ok {
		return models.Stream{}, false, fmt.Errorf("stream %s: %w", id, ErrStreamNotFound)
	}
	if stream.IsLive == live {
		return stream, false, nil
	}
	stream.IsLive = live
	if live {
		started := at.UTC()
		stream.StartedAt = &started
	}
	stream.UpdatedAt = s.now()

	var undo undoLog
	s.putStreamLocked(&undo, stream)
	if err := s.commitLocked(ctx, undo); err != nil {
		return models.Stream{}, false, err
	}
	return stream, true, nil
}
