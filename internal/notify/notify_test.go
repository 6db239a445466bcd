package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"barberbook/internal/domain"
	"barberbook/internal/models"
	"barberbook/internal/repository"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

type fakeBot struct {
	mu       sync.Mutex
	updates  chan tgbotapi.Update
	answers  []tgbotapi.CallbackConfig
	stopped  bool
	answered chan struct{}
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 4), answered: make(chan struct{}, 4)}
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return b.updates }

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		b.answers = append(b.answers, cb)
	}
	b.mu.Unlock()
	b.answered <- struct{}{}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) StopReceivingUpdates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

var offer = models.Notification{
	Title: "A slot opened up",
	Body:  "2025-12-05 at 10:00 is free. Reply before 2025-12-06 10:00 to take it.",
	Data:  map[string]string{"entry_id": "e1"},
}

func TestTelegramNotifierSend(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveCustomer(ctx, &models.Customer{ID: "c1", ChatID: 4242}))

	t.Run("Delivered", func(t *testing.T) {
		sender := &mockSender{}
		sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			msg, ok := c.(tgbotapi.MessageConfig)
			if !ok || msg.ChatID != 4242 || msg.ParseMode != tgbotapi.ModeHTML {
				return false
			}
			kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
			return ok && len(kb.InlineKeyboard) == 1 && len(kb.InlineKeyboard[0]) == 2 &&
				*kb.InlineKeyboard[0][0].CallbackData == CallbackAccept+"e1"
		})).Return(nil).Once()

		n := NewTelegramNotifier(sender, store, nil)
		delivery, err := n.Send(ctx, "c1", offer)
		require.NoError(t, err)
		assert.True(t, delivery.Delivered)
		sender.AssertExpectations(t)
	})

	t.Run("UnknownCustomer", func(t *testing.T) {
		sender := &mockSender{}
		n := NewTelegramNotifier(sender, store, nil)

		_, err := n.Send(ctx, "ghost", offer)
		assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
		sender.AssertNotCalled(t, "Send", mock.Anything)
	})

	t.Run("TransportError", func(t *testing.T) {
		sender := &mockSender{}
		sender.On("Send", mock.Anything).Return(errors.New("Forbidden: bot was blocked by the user"))
		n := NewTelegramNotifier(sender, store, nil)

		delivery, err := n.Send(ctx, "c1", offer)
		assert.Error(t, err)
		assert.False(t, delivery.Delivered)
	})
}

func TestFormatMessageEscapesHTML(t *testing.T) {
	got := formatMessage(models.Notification{Title: "Tom & Jerry", Body: "<b>free</b>"})
	assert.Equal(t, "<b>Tom &amp; Jerry</b>\n&lt;b&gt;free&lt;/b&gt;", got)
}

func TestParseCallback(t *testing.T) {
	resp, id, ok := ParseCallback(CallbackAccept + "e1")
	assert.True(t, ok)
	assert.Equal(t, models.ResponseAccept, resp)
	assert.Equal(t, "e1", id)

	resp, id, ok = ParseCallback(CallbackDecline + "e2")
	assert.True(t, ok)
	assert.Equal(t, models.ResponseDecline, resp)
	assert.Equal(t, "e2", id)

	_, _, ok = ParseCallback("select_item:3")
	assert.False(t, ok)
}

func TestCallbackListener(t *testing.T) {
	bot := newFakeBot()
	var (
		mu    sync.Mutex
		calls []string
	)

	ctx, cancel := context.WithCancel(context.Background())
	store := repository.NewMemoryStore()
	entry := func(customerID, date string) string {
		d, err := models.ParseDate(date)
		require.NoError(t, err)
		e := &models.WaitlistEntry{BarberID: "michele", Date: d, CustomerID: customerID}
		require.NoError(t, store.CreateWaitlistEntry(ctx, e))
		return e.ID
	}
	mine := entry("777", "2025-12-05")
	stale := entry("777", "2025-12-06")
	theirs := entry("888", "2025-12-05")

	respond := func(_ context.Context, entryID string, response models.Response) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, string(response)+":"+entryID)
		if entryID == stale {
			return domain.ErrOfferExpired
		}
		return nil
	}

	l := NewCallbackListener(bot, respond, store, store, nil)
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()

	sender := &tgbotapi.User{ID: 777, FirstName: "Anna"}
	bot.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "q1", From: sender, Data: CallbackAccept + mine}}
	bot.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "q2", From: sender, Data: CallbackDecline + stale}}
	bot.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "q3", From: sender, Data: CallbackAccept + theirs}}
	bot.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "q4", From: sender, Data: CallbackAccept + "missing"}}
	for i := 0; i < 4; i++ {
		select {
		case <-bot.answered:
		case <-time.After(2 * time.Second):
			t.Fatal("callback not answered")
		}
	}
	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/start",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
		From:     sender,
		Chat:     &tgbotapi.Chat{ID: 4242},
	}}
	select {
	case <-bot.answered:
	case <-time.After(2 * time.Second):
		t.Fatal("/start not answered")
	}

	cancel()
	<-done

	mu.Lock()
	assert.Equal(t, []string{"accept:" + mine, "decline:" + stale}, calls, "foreign and unknown offers never reach the engine")
	mu.Unlock()

	bot.mu.Lock()
	defer bot.mu.Unlock()
	require.Len(t, bot.answers, 4)
	assert.Equal(t, "Booked, see you soon!", bot.answers[0].Text)
	assert.Equal(t, "This offer is no longer valid", bot.answers[1].Text)
	assert.Equal(t, "This offer was sent to someone else", bot.answers[2].Text)
	assert.Equal(t, "This offer is no longer valid", bot.answers[3].Text)
	assert.True(t, bot.stopped)

	chatID, err := store.ChatID(context.Background(), "777")
	require.NoError(t, err)
	assert.Equal(t, int64(4242), chatID)
}

func TestLogNotifier(t *testing.T) {
	delivery, err := NewLogNotifier(nil).Send(context.Background(), "c1", offer)
	require.NoError(t, err)
	assert.True(t, delivery.Delivered)
}
