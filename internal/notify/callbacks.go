package notify

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"barberbook/internal/domain"
	"barberbook/internal/logging"
	"barberbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// BotClient is the part of tgbotapi.BotAPI the callback listener uses.
type BotClient interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	StopReceivingUpdates()
}

// RespondFunc applies a customer's answer to an offer.
type RespondFunc func(ctx context.Context, entryID string, response models.Response) error

// CustomerRegistry stores the chat a customer talks to the bot from.
type CustomerRegistry interface {
	SaveCustomer(ctx context.Context, c *models.Customer) error
}

// EntryLookup finds the waitlist entry a keyboard button refers to.
type EntryLookup interface {
	GetWaitlistEntry(ctx context.Context, id string) (*models.WaitlistEntry, error)
}

// CallbackListener turns presses on the offer keyboard into waitlist responses
// and registers customers that send /start.
type CallbackListener struct {
	bot       BotClient
	respond   RespondFunc
	customers CustomerRegistry
	entries   EntryLookup
	logger    *zerolog.Logger
}

func NewCallbackListener(bot BotClient, respond RespondFunc, customers CustomerRegistry, entries EntryLookup, logger *zerolog.Logger) *CallbackListener {
	return &CallbackListener{
		bot:       bot,
		respond:   respond,
		customers: customers,
		entries:   entries,
		logger:    logging.Component(logger, "telegram_callbacks"),
	}
}

// Start consumes updates until ctx is done or the channel closes.
func (l *CallbackListener) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := l.bot.GetUpdatesChan(u)

	l.logger.Info().Msg("telegram callback listener started")
	for {
		select {
		case <-ctx.Done():
			l.bot.StopReceivingUpdates()
			l.logger.Info().Msg("telegram callback listener stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			switch {
			case update.CallbackQuery != nil:
				l.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil && update.Message.IsCommand():
				l.handleCommand(ctx, update.Message)
			}
		}
	}
}

func (l *CallbackListener) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	response, entryID, ok := ParseCallback(cb.Data)
	if !ok || entryID == "" {
		return
	}

	text, err := l.checkOwner(ctx, cb, entryID)
	if err == nil {
		err = l.respond(ctx, entryID, response)
		text = callbackText(response, err)
	}
	if err != nil {
		l.logger.Warn().Err(err).Str("entry_id", entryID).Str("response", string(response)).Msg("offer response rejected")
	}
	if _, err := l.bot.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		l.logger.Error().Err(err).Str("callback_id", cb.ID).Msg("answer callback")
	}
}

// checkOwner only lets the customer the offer was sent to press its buttons.
// A forwarded keyboard must not book for somebody else.
func (l *CallbackListener) checkOwner(ctx context.Context, cb *tgbotapi.CallbackQuery, entryID string) (string, error) {
	if l.entries == nil {
		return "", nil
	}
	entry, err := l.entries.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "This offer is no longer valid", err
		}
		return "Something went wrong, please try again", err
	}
	if cb.From == nil || strconv.FormatInt(cb.From.ID, 10) != entry.CustomerID {
		return "This offer was sent to someone else", errForeignOffer
	}
	return "", nil
}

// handleCommand binds the sender's Telegram id to the chat. The id doubles as customer id.
func (l *CallbackListener) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Command() != "start" || msg.From == nil || l.customers == nil {
		return
	}
	customer := &models.Customer{
		ID:     strconv.FormatInt(msg.From.ID, 10),
		Name:   strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		ChatID: msg.Chat.ID,
	}
	text := "You will get a message here when a slot opens up. Your customer id: " + customer.ID
	if err := l.customers.SaveCustomer(ctx, customer); err != nil {
		l.logger.Error().Err(err).Str("customer_id", customer.ID).Msg("register customer")
		text = "Something went wrong, please try again"
	} else {
		l.logger.Info().Str("customer_id", customer.ID).Int64("chat_id", customer.ChatID).Msg("customer registered")
	}
	if _, err := l.bot.Request(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
		l.logger.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("reply to /start")
	}
}

var errForeignOffer = errors.New("offer belongs to another customer")

func callbackText(response models.Response, err error) string {
	switch {
	case err == nil && response == models.ResponseAccept:
		return "Booked, see you soon!"
	case err == nil:
		return "Offer declined"
	case errors.Is(err, domain.ErrSlotTaken):
		return "Sorry, the slot was just taken. You keep your place in line."
	case errors.Is(err, domain.ErrOfferExpired):
		return "This offer is no longer valid"
	default:
		return "Something went wrong, please try again"
	}
}
