// Package notification delivers trading alerts to external channels
// (log, generic webhook, Telegram).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"marketscope/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel           `json:"level"`
	Title   string               `json:"title"`
	Message string               `json:"message"`
	Signal  *model.TradingSignal `json:"signal,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// SignalAlert builds an alert for strong_buy and strong_sell signals.
// Other signals report false.
func SignalAlert(sig model.TradingSignal) (Alert, bool) {
	if sig.Signal != model.StrongBuy && sig.Signal != model.StrongSell {
		return Alert{}, false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s confidence %.0f%%", sig.Symbol, sig.Timeframe, sig.Confidence)
	if sig.EntryPrice != nil {
		fmt.Fprintf(&b, ", entry %.2f", *sig.EntryPrice)
	}
	if sig.StopLoss != nil {
		fmt.Fprintf(&b, ", stop %.2f", *sig.StopLoss)
	}
	if sig.TakeProfit != nil {
		fmt.Fprintf(&b, ", target %.2f", *sig.TakeProfit)
	}
	if len(sig.Reasons) > 0 {
		b.WriteString(". ")
		b.WriteString(strings.Join(sig.Reasons, "; "))
	}

	return Alert{
		Level:   AlertWarning,
		Title:   fmt.Sprintf("%s %s", strings.ToUpper(strings.ReplaceAll(string(sig.Signal), "_", " ")), sig.Symbol),
		Message: b.String(),
		Signal:  &sig,
	}, true
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all of its notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Retrying retries a failed Send with exponential backoff starting at Backoff.
type Retrying struct {
	Next       Notifier
	MaxRetries int
	Backoff    time.Duration
}

func (r Retrying) Send(ctx context.Context, alert Alert) error {
	backoff := r.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for i := 0; i <= r.MaxRetries; i++ {
		if lastErr = r.Next.Send(ctx, alert); lastErr == nil {
			return nil
		}
		if i == r.MaxRetries {
			break
		}
		log.Printf("[notify] send failed (attempt %d/%d): %v, retrying in %v", i+1, r.MaxRetries+1, lastErr, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("all %d attempts failed: %w", r.MaxRetries+1, lastErr)
}
