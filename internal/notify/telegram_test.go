package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lending/internal/audit"
	"lending/internal/models"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func sampleEntry(action string) models.AuditEntry {
	return models.AuditEntry{
		ID:        "0190f9a0-0000-7000-8000-000000000001",
		ActorID:   7,
		Action:    action,
		Entity:    audit.EntityLoan,
		EntityID:  42,
		Detail:    "book=3 borrower=7 days_late=5 multa=50.00",
		CreatedAt: time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifier_Publish(t *testing.T) {
	api := &fakeSender{}
	n := newTelegramNotifier(api, -100123, nil, zap.NewNop())

	require.NoError(t, n.Publish(context.Background(), sampleEntry(audit.ActionLoanReturned)))
	require.Len(t, api.sent, 1)

	msg := api.sent[0]
	assert.Equal(t, int64(-100123), msg.ChatID)
	assert.Contains(t, msg.Text, "Loan returned")
	assert.Contains(t, msg.Text, "loan #42 by member #7")
	assert.Contains(t, msg.Text, "multa=50.00")
	assert.Contains(t, msg.Text, "2024-05-20 10:00 UTC")
	assert.True(t, msg.DisableNotification)
}

func TestTelegramNotifier_FiltersActions(t *testing.T) {
	api := &fakeSender{}
	n := newTelegramNotifier(api, 1, []string{audit.ActionLoanCancelled, " "}, zap.NewNop())

	require.NoError(t, n.Publish(context.Background(), sampleEntry(audit.ActionLoanCreated)))
	assert.Empty(t, api.sent)

	require.NoError(t, n.Publish(context.Background(), sampleEntry(audit.ActionLoanCancelled)))
	require.Len(t, api.sent, 1)
	assert.False(t, api.sent[0].DisableNotification)
}

func TestTelegramNotifier_SendError(t *testing.T) {
	api := &fakeSender{err: errors.New("forbidden: bot was kicked")}
	n := newTelegramNotifier(api, 1, nil, zap.NewNop())

	err := n.Publish(context.Background(), sampleEntry(audit.ActionBookCreated))
	assert.ErrorContains(t, err, "bot was kicked")
}

func TestTelegramNotifier_CancelledContext(t *testing.T) {
	api := &fakeSender{}
	n := newTelegramNotifier(api, 1, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Publish(ctx, sampleEntry(audit.ActionBookCreated)), context.Canceled)
	assert.Empty(t, api.sent)
}
