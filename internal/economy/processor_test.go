package economy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"livego/internal/apperr"
	"livego/internal/models"
	"livego/internal/observability/metrics"
	"livego/internal/rooms"
	"livego/internal/storage"
)

type published struct {
	roomID  string
	event   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, roomID, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{roomID: roomID, event: event, payload: payload})
	return r.err
}

func (r *recordingPublisher) snapshot() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

type fixture struct {
	store     *storage.Storage
	publisher *recordingPublisher
	processor *Processor
}

func newFixture(t *testing.T, opts ...func(*Config)) fixture {
	t.Helper()
	store, err := storage.NewStorage("")
	require.NoError(t, err)
	publisher := &recordingPublisher{}
	cfg := Config{
		Store:   store,
		Rooms:   publisher,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	processor, err := NewProcessor(cfg)
	require.NoError(t, err)
	return fixture{store: store, publisher: publisher, processor: processor}
}

func (f fixture) account(t *testing.T, id string, diamonds, earnings int64) {
	t.Helper()
	_, err := f.store.CreateAccount(context.Background(), storage.CreateAccountParams{ID: id, DisplayName: id, Diamonds: diamonds, Earnings: earnings})
	require.NoError(t, err)
}

func (f fixture) gift(t *testing.T, id, name string, price int64) models.Gift {
	t.Helper()
	gift, err := f.store.UpsertGift(context.Background(), models.Gift{ID: id, Name: name, Price: price})
	require.NoError(t, err)
	return gift
}

func (f fixture) balance(t *testing.T, id string) models.Account {
	t.Helper()
	account, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "unexpected error: %v", err)
}

func TestNewProcessorRequiresStore(t *testing.T) {
	_, err := NewProcessor(Config{})
	require.Error(t, err)
}

func TestParsePurchaseMode(t *testing.T) {
	cases := map[string]PurchaseMode{"": PurchaseDirect, "direct": PurchaseDirect, "TWO_PHASE": PurchaseTwoPhase, "two-phase": PurchaseTwoPhase}
	for input, want := range cases {
		got, err := ParsePurchaseMode(input)
		require.NoError(t, err)
		require.Equal(t, want, got, "input %q", input)
	}
	_, err := ParsePurchaseMode("escrow")
	require.Error(t, err)
}

func TestKeyedMutexForgetsReleasedKeys(t *testing.T) {
	locks := newKeyedMutex()
	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	require.Equal(t, 2, locks.size())
	unlockA()
	unlockB()
	require.Equal(t, 0, locks.size())
}

type slowStore struct {
	storage.Repository
}

func (s slowStore) ApplyGiftTransfer(ctx context.Context, transfer storage.GiftTransfer) (storage.GiftReceipt, error) {
	<-ctx.Done()
	return s.Repository.ApplyGiftTransfer(ctx, transfer)
}

func TestOperationBudgetExpiryLeavesNoMutation(t *testing.T) {
	base := newFixture(t)
	base.account(t, "viewer", 100, 0)
	base.gift(t, "rose", "Rose", 10)

	f := newFixture(t, func(cfg *Config) {
		cfg.Store = slowStore{Repository: base.store}
		cfg.Timeout = 20 * time.Millisecond
	})

	_, err := f.processor.SendGift(context.Background(), SendGiftRequest{FromID: "viewer", GiftName: "Rose", Quantity: 1, StreamID: "s1"})
	requireKind(t, err, apperr.KindInternal)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	require.EqualValues(t, 100, base.balance(t, "viewer").Diamonds)
	entries, err := base.store.ListTransactions(context.Background(), storage.TransactionFilter{})
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Empty(t, f.publisher.snapshot())
}

func TestBalanceAndCatalog(t *testing.T) {
	f := newFixture(t)
	f.account(t, "host", 0, 1000)
	f.gift(t, "car", "Car", 500)
	f.gift(t, "rose", "Rose", 1)

	summary, err := f.processor.Balance(context.Background(), "host")
	require.NoError(t, err)
	require.EqualValues(t, 1000, summary.Earnings)
	require.Equal(t, "40", summary.Quote.Net.DecimalString())

	_, err = f.processor.Balance(context.Background(), "ghost")
	requireKind(t, err, apperr.KindNotFound)

	gifts, err := f.processor.Catalog(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, gifts, 2)
	require.Equal(t, "rose", gifts[0].ID)
}

var _ Publisher = (*rooms.Hub)(nil)
