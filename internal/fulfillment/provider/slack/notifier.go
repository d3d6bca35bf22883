package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	orderdomain "github.com/railzwaylabs/storepay/internal/order/domain"
	"go.uber.org/zap"
)

// Notifier posts new paid orders to a Slack incoming webhook. With no URL
// configured it only logs.
type Notifier struct {
	client     *http.Client
	webhookURL string
	log        *zap.Logger
}

func NewNotifier(webhookURL string, log *zap.Logger) *Notifier {
	return &Notifier{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		webhookURL: webhookURL,
		log:        log.Named("fulfillment.slack"),
	}
}

func (n *Notifier) NotifyOrderPlaced(ctx context.Context, order *orderdomain.Order) error {
	if n.webhookURL == "" {
		n.log.Info("merchant notification skipped, no webhook configured",
			zap.String("order_id", order.ID.String()),
			zap.String("store_id", order.StoreID.String()))
		return nil
	}

	label := order.Number
	if label == "" {
		label = order.ID.String()
	}
	msg := map[string]any{
		"text": fmt.Sprintf("*New paid order %s*\nStore: %s\nTotal: %s %s\nMethod: %s",
			label, order.StoreID, order.Total.StringFixed(2), order.Currency, order.PaymentMethod),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack_api_error: status=%d", resp.StatusCode)
	}
	return nil
}
