package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/services"
)

const (
	// SaleCompletedEvent is the eventType attribute of published messages.
	SaleCompletedEvent = "sale.completed"

	defaultPublishTimeout = 10 * time.Second
)

// SaleCompletedMessage is the JSON body of a sale.completed event.
type SaleCompletedMessage struct {
	SaleID            string                `json:"saleId"`
	Number            int64                 `json:"number"`
	Date              time.Time             `json:"date"`
	CustomerReference string                `json:"customerReference"`
	Total             string                `json:"total"`
	Discount          string                `json:"discount"`
	ChangeDue         string                `json:"changeDue"`
	Lines             []SaleCompletedLine   `json:"lines"`
	Payments          []SaleCompletedTender `json:"payments"`
	OperatorID        string                `json:"operatorId,omitempty"`
	TerminalID        string                `json:"terminalId,omitempty"`
	IdempotencyKey    string                `json:"idempotencyKey,omitempty"`
}

// SaleCompletedLine is one sold line.
type SaleCompletedLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// SaleCompletedTender is one payment.
type SaleCompletedTender struct {
	Method string `json:"method"`
	Amount string `json:"amount"`
}

// SalePublisherDeps wires a SalePublisher.
type SalePublisherDeps struct {
	Topic      *pubsub.Topic
	OperatorID string
	TerminalID string
	Timeout    time.Duration
	Logger     func(context.Context, string, map[string]any)
}

// SalePublisher announces finalized sales on a Pub/Sub topic.
type SalePublisher struct {
	topic      *pubsub.Topic
	operatorID string
	terminalID string
	timeout    time.Duration
	marshal    func(any) ([]byte, error)
	logger     func(context.Context, string, map[string]any)
}

// NewSalePublisher constructs a Pub/Sub backed sale publisher.
func NewSalePublisher(deps SalePublisherDeps) (*SalePublisher, error) {
	if deps.Topic == nil {
		return nil, errors.New("sale publisher: topic is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SalePublisher{
		topic:      deps.Topic,
		operatorID: strings.TrimSpace(deps.OperatorID),
		terminalID: strings.TrimSpace(deps.TerminalID),
		timeout:    timeout,
		marshal:    json.Marshal,
		logger:     logger,
	}, nil
}

// Publish sends the sale.completed event and waits for the server-assigned message id.
func (p *SalePublisher) Publish(ctx context.Context, sale domain.Sale) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("sale publisher: not initialised")
	}

	data, err := p.marshal(p.message(sale))
	if err != nil {
		return "", fmt.Errorf("marshal sale completed: %w", err)
	}

	attrs := map[string]string{"eventType": SaleCompletedEvent}
	setAttr(attrs, "saleId", sale.ID)
	setAttr(attrs, "operatorId", p.operatorID)
	setAttr(attrs, "terminalId", p.terminalID)
	setAttr(attrs, "idempotencyKey", sale.IdempotencyKey)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish sale completed: %w", err)
	}
	return id, nil
}

// OnSaleCompleted returns a register callback. Failures are logged and never reach the caller; the
// publish outlives the request that completed the sale.
func (p *SalePublisher) OnSaleCompleted() services.SaleCompletedFunc {
	return func(ctx context.Context, sale domain.Sale) {
		publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()

		id, err := p.Publish(publishCtx, sale)
		if err != nil {
			p.logger(ctx, "sale.publish_failed", map[string]any{"saleId": sale.ID, "error": err.Error()})
			return
		}
		p.logger(ctx, "sale.published", map[string]any{"saleId": sale.ID, "messageId": id})
	}
}

func (p *SalePublisher) message(sale domain.Sale) SaleCompletedMessage {
	msg := SaleCompletedMessage{
		SaleID:            sale.ID,
		Number:            sale.Number,
		Date:              sale.Date.UTC(),
		CustomerReference: sale.CustomerReference,
		Total:             sale.Total.StringFixed(2),
		Discount:          sale.Discount.StringFixed(2),
		ChangeDue:         sale.ChangeDue.StringFixed(2),
		Lines:             make([]SaleCompletedLine, 0, len(sale.Lines)),
		Payments:          make([]SaleCompletedTender, 0, len(sale.Payments)),
		OperatorID:        p.operatorID,
		TerminalID:        p.terminalID,
		IdempotencyKey:    sale.IdempotencyKey,
	}
	for _, line := range sale.Lines {
		msg.Lines = append(msg.Lines, SaleCompletedLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
		})
	}
	for _, payment := range sale.Payments {
		msg.Payments = append(msg.Payments, SaleCompletedTender{
			Method: string(payment.Method),
			Amount: payment.Amount.StringFixed(2),
		})
	}
	return msg
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
