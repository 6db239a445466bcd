package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"barberbook/internal/domain"
	"barberbook/internal/logging"
	"barberbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Callback data prefixes for the offer keyboard.
const (
	CallbackAccept  = "waitlist_accept:"
	CallbackDecline = "waitlist_decline:"
)

// TelegramSender is the part of tgbotapi.BotAPI the notifier uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotAPI connects to Telegram with the given token.
func NewBotAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

// TelegramNotifier pushes notifications to the customer's Telegram chat.
type TelegramNotifier struct {
	sender TelegramSender
	chats  domain.ChatResolver
	logger *zerolog.Logger
}

func NewTelegramNotifier(sender TelegramSender, chats domain.ChatResolver, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender: sender,
		chats:  chats,
		logger: logging.Component(logger, "telegram_notifier"),
	}
}

func (n *TelegramNotifier) Send(ctx context.Context, customerID string, notification models.Notification) (models.Delivery, error) {
	chatID, err := n.chats.ChatID(ctx, customerID)
	if err != nil {
		return models.Delivery{}, fmt.Errorf("resolve chat for %s: %w", customerID, err)
	}

	msg := tgbotapi.NewMessage(chatID, formatMessage(notification))
	msg.ParseMode = tgbotapi.ModeHTML
	if entryID := notification.Data["entry_id"]; entryID != "" {
		msg.ReplyMarkup = offerKeyboard(entryID)
	}

	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Error().Err(err).Int64("chat_id", chatID).Str("customer_id", customerID).Msg("telegram send failed")
		return models.Delivery{}, fmt.Errorf("telegram send: %w", err)
	}

	n.logger.Debug().Int64("chat_id", chatID).Str("customer_id", customerID).Msg("notification sent")
	return models.Delivery{Delivered: true}, nil
}

func formatMessage(n models.Notification) string {
	var sb strings.Builder
	if n.Title != "" {
		sb.WriteString("<b>")
		sb.WriteString(escapeHTML(n.Title))
		sb.WriteString("</b>\n")
	}
	sb.WriteString(escapeHTML(n.Body))
	return sb.String()
}

func offerKeyboard(entryID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Book it", CallbackAccept+entryID),
			tgbotapi.NewInlineKeyboardButtonData("No, thanks", CallbackDecline+entryID),
		),
	)
}

// ParseCallback splits offer keyboard callback data into the response and entry id.
func ParseCallback(data string) (models.Response, string, bool) {
	switch {
	case strings.HasPrefix(data, CallbackAccept):
		return models.ResponseAccept, strings.TrimPrefix(data, CallbackAccept), true
	case strings.HasPrefix(data, CallbackDecline):
		return models.ResponseDecline, strings.TrimPrefix(data, CallbackDecline), true
	}
	return "", "", false
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
