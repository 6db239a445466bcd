package notify

import (
	"context"

	"barberbook/internal/logging"
	"barberbook/internal/models"

	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the log. Used when no bot token is configured.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.Component(logger, "log_notifier")}
}

func (n *LogNotifier) Send(_ context.Context, customerID string, notification models.Notification) (models.Delivery, error) {
	n.logger.Info().
		Str("customer_id", customerID).
		Str("title", notification.Title).
		Str("body", notification.Body).
		Interface("data", notification.Data).
		Msg("notification")
	return models.Delivery{Delivered: true}, nil
}
