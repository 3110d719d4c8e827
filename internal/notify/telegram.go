// Package notify posts committed audit entries to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"lending/internal/audit"
	"lending/internal/models"
)

// sender is the part of tgbotapi.BotAPI the notifier uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var actionLabels = map[string]string{
	audit.ActionLoanCreated:   "📚 Loan issued",
	audit.ActionLoanReturned:  "✅ Loan returned",
	audit.ActionLoanCancelled: "🚫 Loan cancelled",
	audit.ActionBookCreated:   "➕ Book added",
	audit.ActionBookUpdated:   "✏️ Book updated",
	audit.ActionBookDeleted:   "🗑 Book deleted",
	audit.ActionMemberCreated: "👤 Account created",
	audit.ActionMemberUpdated: "👤 Account updated",
	audit.ActionMemberDeleted: "👤 Account deleted",
}

// TelegramNotifier is an audit.Sink that messages a chat
type TelegramNotifier struct {
	api     sender
	chatID  int64
	actions map[string]bool
	logger  *zap.Logger
}

// NewTelegramNotifier connects to the Bot API. Only entries whose action is in
// actions are sent; an empty list sends everything.
func NewTelegramNotifier(token string, chatID int64, actions []string, logger *zap.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Audit notifier created", zap.String("bot_username", api.Self.UserName), zap.Int64("chat_id", chatID))
	return newTelegramNotifier(api, chatID, actions, logger), nil
}

func newTelegramNotifier(api sender, chatID int64, actions []string, logger *zap.Logger) *TelegramNotifier {
	set := make(map[string]bool, len(actions))
	for _, a := range actions {
		if a = strings.TrimSpace(a); a != "" {
			set[a] = true
		}
	}
	return &TelegramNotifier{api: api, chatID: chatID, actions: set, logger: logger}
}

// Name identifies the sink in logs
func (n *TelegramNotifier) Name() string {
	return "telegram"
}

// Publish sends entry to the chat
func (n *TelegramNotifier) Publish(ctx context.Context, entry models.AuditEntry) error {
	if len(n.actions) > 0 && !n.actions[entry.Action] {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, formatEntry(entry))
	msg.DisableNotification = entry.Action != audit.ActionLoanCancelled
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send audit message: %w", err)
	}

	n.logger.Debug("Audit entry sent", zap.String("audit_id", entry.ID), zap.String("action", entry.Action))
	return nil
}

func formatEntry(e models.AuditEntry) string {
	label, ok := actionLabels[e.Action]
	if !ok {
		label = e.Action
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", label)
	fmt.Fprintf(&b, "%s #%d by member #%d\n", e.Entity, e.EntityID, e.ActorID)
	if e.Detail != "" {
		fmt.Fprintf(&b, "%s\n", e.Detail)
	}
	b.WriteString(e.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
	return b.String()
}
