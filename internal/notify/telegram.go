package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// TelegramSender is the part of the bot API used to deliver messages.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts to the staff chats configured per tenant.
type TelegramNotifier struct {
	sender  TelegramSender
	chats   map[string][]int64
	limiter *rate.Limiter
}

// NewTelegramNotifier limits outgoing messages to perSecond with the given burst.
func NewTelegramNotifier(sender TelegramSender, chats map[string][]int64, perSecond float64, burst int) *TelegramNotifier {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TelegramNotifier{
		sender:  sender,
		chats:   chats,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, alert Alert) error {
	chats := n.chats[alert.TenantID]
	if len(chats) == 0 {
		return nil
	}

	text := fmt.Sprintf("⚠️ %s\nBooking: %s\nStudent: %s", alert.Message, alert.BookingID, alert.StudentID)

	var errs []error
	for _, chatID := range chats {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.sender.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("send to chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}
