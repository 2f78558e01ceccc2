package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramConfig struct {
	Token         string
	APIEndpoint   string
	PollTimeout   int
	UploadTimeout time.Duration
}

// Telegram implements Messenger over the Bot API. The underlying client does
// not take a context; ctx is only checked before each call.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	pollTimeout int
}

var _ Messenger = (*Telegram)(nil)

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	httpClient := &http.Client{Timeout: cfg.UploadTimeout}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}

	if err := tgbotapi.SetLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug)); err != nil {
		slog.Warn("could not route telegram client logs to slog", "error", err)
	}

	return &Telegram{bot: bot, pollTimeout: cfg.PollTimeout}, nil
}

// Self returns the bot's own account.
func (t *Telegram) Self() User {
	return User{ID: t.bot.Self.ID, FirstName: t.bot.Self.FirstName, Username: t.bot.Self.UserName}
}

func (t *Telegram) Send(ctx context.Context, chatID int64, msg Text) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cfg := tgbotapi.NewMessage(chatID, msg.Body)
	if msg.Markdown {
		cfg.ParseMode = tgbotapi.ModeMarkdownV2
	}
	cfg.DisableWebPagePreview = msg.NoPreview
	if msg.Keyboard != nil {
		cfg.ReplyMarkup = inlineKeyboard(msg.Keyboard)
	}

	sent, err := t.bot.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("sending message: %w", err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) Edit(ctx context.Context, chatID int64, messageID int, msg Text) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := tgbotapi.NewEditMessageText(chatID, messageID, msg.Body)
	if msg.Markdown {
		cfg.ParseMode = tgbotapi.ModeMarkdownV2
	}
	cfg.DisableWebPagePreview = msg.NoPreview
	if msg.Keyboard != nil {
		kb := inlineKeyboard(msg.Keyboard)
		cfg.ReplyMarkup = &kb
	}

	if _, err := t.bot.Request(cfg); err != nil {
		// Editing to identical content is not a failure for our purposes.
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("editing message: %w", err)
	}
	return nil
}

func (t *Telegram) Answer(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := t.bot.Request(cfg); err != nil {
		return fmt.Errorf("answering callback: %w", err)
	}
	return nil
}

func (t *Telegram) SendDocument(ctx context.Context, chatID int64, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: doc.Name, Reader: doc.Reader})
	if _, err := t.bot.Send(cfg); err != nil {
		return fmt.Errorf("sending document: %w", err)
	}
	return nil
}

// Updates long-polls for inbound updates until ctx is cancelled.
func (t *Telegram) Updates(ctx context.Context) <-chan Update {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	u.AllowedUpdates = []string{"message", "callback_query"}

	raw := t.bot.GetUpdatesChan(u)
	out := make(chan Update)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				t.bot.StopReceivingUpdates()
				return
			case upd, ok := <-raw:
				if !ok {
					return
				}
				converted, ok := convertUpdate(upd)
				if !ok {
					continue
				}
				select {
				case out <- converted:
				case <-ctx.Done():
					t.bot.StopReceivingUpdates()
					return
				}
			}
		}
	}()

	return out
}

func convertUpdate(upd tgbotapi.Update) (Update, bool) {
	switch {
	case upd.CallbackQuery != nil:
		cq := upd.CallbackQuery
		if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
			return Update{}, false
		}
		return Update{
			ChatID:    cq.Message.Chat.ID,
			ChatType:  ChatType(cq.Message.Chat.Type),
			ChatTitle: cq.Message.Chat.Title,
			MessageID: cq.Message.MessageID,
			From:      convertUser(cq.From),
			Callback: &Callback{
				ID:        cq.ID,
				Data:      cq.Data,
				MessageID: cq.Message.MessageID,
			},
		}, true

	case upd.Message != nil:
		m := upd.Message
		if m.Chat == nil || m.From == nil {
			return Update{}, false
		}
		out := Update{
			ChatID:    m.Chat.ID,
			ChatType:  ChatType(m.Chat.Type),
			ChatTitle: m.Chat.Title,
			MessageID: m.MessageID,
			From:      convertUser(m.From),
			Text:      m.Text,
		}
		if m.IsCommand() {
			out.Command = m.Command()
			out.CommandArgs = m.CommandArguments()
		}
		return out, true
	}
	return Update{}, false
}

func convertUser(u *tgbotapi.User) User {
	return User{ID: u.ID, FirstName: u.FirstName, Username: u.UserName}
}

func inlineKeyboard(kb Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
