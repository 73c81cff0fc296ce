package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"livego/internal/apperr"
	"livego/internal/models"
	"livego/internal/observability/metrics"
	"livego/internal/storage"
)

const DefaultTimeout = 5 * time.Second

// PurchaseMode selects how a purchase request credits diamonds.
type PurchaseMode string

const (
	// PurchaseDirect credits diamonds as soon as the purchase is requested.
	PurchaseDirect PurchaseMode = "direct"
	// PurchaseTwoPhase records a pending recharge that is credited only
	// when the payment is confirmed.
	PurchaseTwoPhase PurchaseMode = "two_phase"
)

// ParsePurchaseMode accepts "direct", "two_phase" or "two-phase". An empty
// value selects PurchaseDirect.
func ParsePurchaseMode(value string) (PurchaseMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(PurchaseDirect):
		return PurchaseDirect, nil
	case string(PurchaseTwoPhase), "two-phase":
		return PurchaseTwoPhase, nil
	default:
		return "", fmt.Errorf("unknown purchase mode %q", value)
	}
}

// Publisher delivers an event to the members of a room.
type Publisher interface {
	Publish(ctx context.Context, roomID, event string, payload any) error
}

type Config struct {
	Store        storage.Repository
	Rooms        Publisher
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	Timeout      time.Duration
	PurchaseMode PurchaseMode
}

type Processor struct {
	store        storage.Repository
	rooms        Publisher
	logger       *slog.Logger
	metrics      *metrics.Recorder
	timeout      time.Duration
	purchaseMode PurchaseMode

	roomLocks    *keyedMutex
	accountLocks *keyedMutex
}

func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Store == nil {
		return nil, errors.New("economy: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	mode := cfg.PurchaseMode
	if mode == "" {
		mode = PurchaseDirect
	}
	return &Processor{
		store:        cfg.Store,
		rooms:        cfg.Rooms,
		logger:       logger.With("component", "economy"),
		metrics:      recorder,
		timeout:      timeout,
		purchaseMode: mode,
		roomLocks:    newKeyedMutex(),
		accountLocks: newKeyedMutex(),
	}, nil
}

func (p *Processor) PurchaseMode() PurchaseMode {
	return p.purchaseMode
}

func (p *Processor) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// fail records the rejection and converts storage errors into the apperr
// taxonomy.
func (p *Processor) fail(ctx context.Context, operation string, err error) error {
	translated := translate(err)
	kind := apperr.KindOf(translated)
	p.metrics.EconomyRejected(operation, string(kind))
	if kind == apperr.KindInternal {
		p.logger.ErrorContext(ctx, "economy operation failed", "operation", operation, "error", err)
	} else {
		p.logger.DebugContext(ctx, "economy operation rejected", "operation", operation, "kind", kind, "error", err)
	}
	return translated
}

func translate(err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, storage.ErrAccountNotFound),
		errors.Is(err, storage.ErrGiftNotFound),
		errors.Is(err, storage.ErrStreamNotFound),
		errors.Is(err, storage.ErrTransactionNotFound):
		return apperr.Wrap(apperr.KindNotFound, err, err.Error())
	case errors.Is(err, storage.ErrInsufficientFunds):
		return apperr.Wrap(apperr.KindInsufficientFunds, err, "insufficient diamond balance")
	case errors.Is(err, storage.ErrInsufficientInventory):
		return apperr.Wrap(apperr.KindInsufficientInventory, err, "insufficient gift inventory")
	case errors.Is(err, storage.ErrBalanceOverflow):
		return apperr.Wrap(apperr.KindInvalidInput, err, "amount exceeds the maximum balance")
	case errors.Is(err, storage.ErrInvalidTransition):
		return apperr.Wrap(apperr.KindInvalidInput, err, "transaction is not pending")
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindInternal, err, "operation timed out")
	default:
		return apperr.Internal(err)
	}
}

// Balance returns the account's balances together with the quote for
// withdrawing all current earnings.
func (p *Processor) Balance(ctx context.Context, accountID string) (BalanceSummary, error) {
	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	account, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		return BalanceSummary{}, p.fail(ctx, "balance", err)
	}
	quote, err := CalculateWithdrawal(account.Earnings)
	if err != nil {
		return BalanceSummary{}, p.fail(ctx, "balance", err)
	}
	return BalanceSummary{Diamonds: account.Diamonds, Earnings: account.Earnings, Quote: quote, Account: account}, nil
}

// Catalog lists gifts, optionally filtered by category, cheapest first.
func (p *Processor) Catalog(ctx context.Context, category string) ([]models.Gift, error) {
	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	gifts, err := p.store.ListGifts(ctx, strings.TrimSpace(category))
	if err != nil {
		return nil, p.fail(ctx, "catalog", err)
	}
	return gifts, nil
}

type BalanceSummary struct {
	Diamonds int64                  `json:"diamonds"`
	Earnings int64                  `json:"earnings"`
	Quote    models.WithdrawalQuote `json:"withdrawal"`
	Account  models.Account         `json:"user"`
}
