package notification

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	// KindTransferSent is emitted to the owner of the source wallet of a transfer.
	KindTransferSent = "transfer_sent"
	// KindTransferReceived is emitted to the owner of the target wallet of a transfer.
	KindTransferReceived = "transfer_received"
	// KindTransactionReversed is emitted to every wallet owner touched by a reversal.
	KindTransactionReversed = "transaction_reversed"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// CustomerDestination addresses a message to a customer of the wallet service.
func CustomerDestination(customerID int64) string {
	return fmt.Sprintf("customer:%d", customerID)
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	)
	return nil
}

// Multi fans a message out to several notifiers and returns the first error.
type Multi []Notifier

// Send delivers message to every notifier even if one fails.
func (m Multi) Send(ctx context.Context, message Message) error {
	var first error
	for _, n := range m {
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
