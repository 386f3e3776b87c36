// Package telegram bridges Telegram chats to the agent orchestrator.
// Conversations are threaded through replies: replying to one of the
// bot's messages continues that thread's session.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/halcyonlabs/halcyon/internal/agent"
	"github.com/halcyonlabs/halcyon/internal/session"
)

const placeholderText = "Thinking..."

// Config configures the Telegram adapter.
type Config struct {
	// Token is the bot API token.
	Token string

	// AllowedChats restricts the bot to these chat IDs. Empty means
	// any chat may talk to the bot.
	AllowedChats []int64

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter runs the Telegram long-polling loop and feeds incoming
// messages through the orchestrator.
type Adapter struct {
	config  Config
	orch    *agent.Orchestrator
	logger  *slog.Logger
	bot     *bot.Bot
	selfID  int64
	allowed map[int64]bool
}

// NewAdapter creates a Telegram adapter in front of the orchestrator.
func NewAdapter(config Config, orch *agent.Orchestrator) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		config: config,
		orch:   orch,
		logger: config.Logger.With("component", "telegram"),
	}
	if len(config.AllowedChats) > 0 {
		a.allowed = make(map[int64]bool, len(config.AllowedChats))
		for _, id := range config.AllowedChats {
			a.allowed[id] = true
		}
	}
	return a, nil
}

// Start connects to the bot API and blocks long-polling until the
// context is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	b, err := bot.New(a.config.Token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	a.bot = b

	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get me: %w", err)
	}
	a.selfID = me.ID

	a.logger.Info("starting telegram adapter", "username", me.Username)
	b.Start(ctx)
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" || (msg.From != nil && msg.From.IsBot) {
		return
	}
	if a.allowed != nil && !a.allowed[msg.Chat.ID] {
		a.logger.Debug("ignoring message from disallowed chat", "chat_id", msg.Chat.ID)
		return
	}

	logger := a.logger.With("chat_id", msg.Chat.ID, "message_id", msg.ID)
	logger.Debug("received message", "length", len(msg.Text))

	key := a.threadKey(msg)

	// Post the placeholder first so the reply thread has a concrete
	// anchor before the model answers.
	placeholder, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          msg.Chat.ID,
		Text:            placeholderText,
		ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
	})
	if err != nil {
		logger.Error("failed to send placeholder", "error", err)
		return
	}

	resp, err := a.orch.Run(ctx, agent.Turn{Key: key, Text: msg.Text})
	if err != nil {
		logger.Error("turn failed", "error", err)
		a.edit(ctx, msg.Chat.ID, placeholder.ID, "Something went wrong, please try again later.")
		return
	}

	a.edit(ctx, msg.Chat.ID, placeholder.ID, resp.Content)

	// Re-anchor the thread on the bot's reply so the next reply to
	// that message finds the accumulated history.
	a.orch.Sessions().Rebind(ctx, key, session.ThreadKey{
		AnchorMessageID: int64(placeholder.ID),
		ChatID:          msg.Chat.ID,
	})
}

// threadKey resolves which session a message belongs to. Replying to
// one of the bot's messages continues that thread; anything else
// starts a fresh one anchored at the incoming message.
func (a *Adapter) threadKey(msg *models.Message) session.ThreadKey {
	reply := msg.ReplyToMessage
	if reply != nil && reply.From != nil && reply.From.ID == a.selfID {
		return session.ThreadKey{AnchorMessageID: int64(reply.ID), ChatID: msg.Chat.ID}
	}
	return session.ThreadKey{AnchorMessageID: int64(msg.ID), ChatID: msg.Chat.ID}
}

func (a *Adapter) edit(ctx context.Context, chatID int64, messageID int, text string) {
	_, err := a.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		a.logger.Error("failed to edit message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}
