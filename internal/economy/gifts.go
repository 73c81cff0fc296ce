package economy

import (
	"context"
	"math"
	"strings"

	"livego/internal/apperr"
	"livego/internal/models"
	"livego/internal/rooms"
	"livego/internal/storage"
)

// receiverShare is the fraction of a gift's diamond cost credited to the
// receiver's earnings, rounded down.
const (
	receiverShareNumerator   = 1
	receiverShareDenominator = 2
)

const fallbackReceiverName = "Streamer"

// SendGiftRequest spends diamonds on a catalog gift. The gift is looked up
// by GiftID when set, otherwise by GiftName.
type SendGiftRequest struct {
	FromID   string
	GiftID   string
	GiftName string
	Quantity int64
	ToID     string
	StreamID string
}

// SendInventoryRequest spends gifts the sender already owns.
type SendInventoryRequest struct {
	FromID   string
	GiftID   string
	Quantity int64
	ToID     string
	StreamID string
}

// GiftResult is the committed outcome of a send.
type GiftResult struct {
	Sender      models.Account      `json:"updatedSender"`
	Receiver    *models.Account     `json:"-"`
	Gift        models.Gift         `json:"gift"`
	Quantity    int64               `json:"quantity"`
	Cost        int64               `json:"cost"`
	Transaction models.Transaction  `json:"transaction"`
	Credit      *models.Transaction `json:"-"`
}

// GiftEvent is published to the stream's room after a send commits.
type GiftEvent struct {
	FromUser models.Account `json:"fromUser"`
	ToUser   ReceiverRef    `json:"toUser"`
	Gift     models.Gift    `json:"gift"`
	Quantity int64          `json:"quantity"`
	RoomID   string         `json:"roomId"`
}

type ReceiverRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (p *Processor) SendGift(ctx context.Context, req SendGiftRequest) (GiftResult, error) {
	const op = "send_gift"
	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	req.GiftID = strings.TrimSpace(req.GiftID)
	req.GiftName = strings.TrimSpace(req.GiftName)
	if err := validateSend(req.FromID, req.ToID, req.Quantity, false); err != nil {
		return GiftResult{}, p.fail(ctx, op, err)
	}
	if req.GiftID == "" && req.GiftName == "" {
		return GiftResult{}, p.fail(ctx, op, apperr.InvalidInput("gift is required"))
	}

	var (
		gift models.Gift
		err  error
	)
	if req.GiftID != "" {
		gift, err = p.store.GetGift(ctx, req.GiftID)
	} else {
		gift, err = p.store.FindGiftByName(ctx, req.GiftName)
	}
	if err != nil {
		return GiftResult{}, p.fail(ctx, op, err)
	}

	return p.transfer(ctx, op, storage.GiftSourceDiamonds, req.FromID, req.ToID, req.StreamID, gift, req.Quantity)
}

func (p *Processor) SendFromInventory(ctx context.Context, req SendInventoryRequest) (GiftResult, error) {
	const op = "send_inventory"
	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	if err := validateSend(req.FromID, req.ToID, req.Quantity, true); err != nil {
		return GiftResult{}, p.fail(ctx, op, err)
	}
	giftID := strings.TrimSpace(req.GiftID)
	if giftID == "" {
		return GiftResult{}, p.fail(ctx, op, apperr.InvalidInput("giftId is required"))
	}
	gift, err := p.store.GetGift(ctx, giftID)
	if err != nil {
		return GiftResult{}, p.fail(ctx, op, err)
	}

	return p.transfer(ctx, op, storage.GiftSourceInventory, req.FromID, req.ToID, req.StreamID, gift, req.Quantity)
}

func validateSend(fromID, toID string, quantity int64, receiverRequired bool) error {
	if strings.TrimSpace(fromID) == "" {
		return apperr.Unauthorized("sender is required")
	}
	if quantity <= 0 {
		return apperr.InvalidInput("amount must be positive")
	}
	if receiverRequired && strings.TrimSpace(toID) == "" {
		return apperr.InvalidInput("toUserId is required")
	}
	if toID != "" && toID == fromID {
		return apperr.InvalidInput("cannot send a gift to yourself")
	}
	return nil
}

// giftCost returns price × quantity, rejecting overflow.
func giftCost(price, quantity int64) (int64, error) {
	if price <= 0 {
		return 0, apperr.Internal(errInvalidPrice)
	}
	if quantity > math.MaxInt64/price {
		return 0, apperr.InvalidInput("amount is too large")
	}
	return price * quantity, nil
}

func receiverCredit(cost int64) int64 {
	return cost * receiverShareNumerator / receiverShareDenominator
}

func (p *Processor) transfer(ctx context.Context, op string, source storage.GiftSource, fromID, toID, streamID string, gift models.Gift, quantity int64) (GiftResult, error) {
	cost, err := giftCost(gift.Price, quantity)
	if err != nil {
		return GiftResult{}, p.fail(ctx, op, err)
	}
	credit := int64(0)
	if toID != "" {
		credit = receiverCredit(cost)
	}

	streamID = strings.TrimSpace(streamID)
	if streamID != "" {
		unlock := p.roomLocks.Lock(streamID)
		defer unlock()
	}

	receipt, err := p.store.ApplyGiftTransfer(ctx, storage.GiftTransfer{
		SenderID:       fromID,
		ReceiverID:     toID,
		Gift:           gift,
		Quantity:       quantity,
		Cost:           cost,
		ReceiverCredit: credit,
		Source:         source,
		StreamID:       streamID,
	})
	if err != nil {
		return GiftResult{}, p.fail(ctx, op, err)
	}

	p.metrics.GiftSent(string(source), quantity, cost)
	p.logger.InfoContext(ctx, "gift sent",
		"sender_id", fromID,
		"receiver_id", toID,
		"gift_id", gift.ID,
		"quantity", quantity,
		"cost", cost,
		"source", source,
		"stream_id", streamID,
		"transaction_id", receipt.Debit.ID)

	if streamID != "" {
		p.announceGift(ctx, streamID, receipt, gift, quantity)
	}

	return GiftResult{
		Sender:      receipt.Sender,
		Receiver:    receipt.Receiver,
		Gift:        gift,
		Quantity:    quantity,
		Cost:        cost,
		Transaction: receipt.Debit,
		Credit:      receipt.Credit,
	}, nil
}

// announceGift runs with the room lock held. A failed publish does not undo
// the committed transfer.
func (p *Processor) announceGift(ctx context.Context, streamID string, receipt storage.GiftReceipt, gift models.Gift, quantity int64) {
	if p.rooms == nil {
		return
	}
	to := ReceiverRef{Name: fallbackReceiverName}
	if receipt.Receiver != nil {
		to = ReceiverRef{ID: receipt.Receiver.ID, Name: receipt.Receiver.DisplayName}
		if to.Name == "" {
			to.Name = fallbackReceiverName
		}
	}
	event := GiftEvent{
		FromUser: receipt.Sender,
		ToUser:   to,
		Gift:     gift,
		Quantity: quantity,
		RoomID:   streamID,
	}
	if err := p.rooms.Publish(context.WithoutCancel(ctx), streamID, rooms.EventGift, event); err != nil {
		p.logger.WarnContext(ctx, "gift committed but room publish failed", "stream_id", streamID, "error", err)
	}
}
