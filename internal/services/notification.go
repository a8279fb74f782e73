package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/models"
)

// TelegramSender is the slice of the bot API the notifier uses.
type TelegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramNotifier pushes signals at or above a minimum severity to a
// Telegram chat. It is wired into the pipeline as a signal subscriber, so
// a Telegram outage never stalls ingestion.
type TelegramNotifier struct {
	bot         TelegramSender
	chatID      string
	minSeverity models.Severity
	logger      *logrus.Logger
}

// NewTelegramNotifier creates a notifier. Returns an error when the token
// is invalid; an empty token should be handled by the caller by not
// wiring the notifier at all.
func NewTelegramNotifier(token, chatID string, minSeverity models.Severity, logger *logrus.Logger) (*TelegramNotifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newTelegramNotifier(b, chatID, minSeverity, logger), nil
}

func newTelegramNotifier(sender TelegramSender, chatID string, minSeverity models.Severity, logger *logrus.Logger) *TelegramNotifier {
	if minSeverity == "" {
		minSeverity = models.SeverityMedium
	}
	return &TelegramNotifier{
		bot:         sender,
		chatID:      chatID,
		minSeverity: minSeverity,
		logger:      logger,
	}
}

// HandleSignal is the Subscriber entry point. Delivery failures are logged
// only.
func (n *TelegramNotifier) HandleSignal(ctx context.Context, sig *models.Signal) {
	if severityRank(sig.Severity) < severityRank(n.minSeverity) {
		return
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      formatSignalMessage(sig),
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"signal_id": sig.ID,
			"chat_id":   n.chatID,
		}).WithError(err).Warn("Failed to deliver telegram notification")
		return
	}
	n.logger.WithField("signal_id", sig.ID).Debug("Telegram notification sent")
}

func formatSignalMessage(sig *models.Signal) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s *%s* [%s]\n", severityEmoji(sig.Severity), sig.Title, strings.ToUpper(string(sig.Severity))))
	sb.WriteString(sig.Summary)
	sb.WriteString("\n")
	if sig.Token != "" {
		sb.WriteString(fmt.Sprintf("\nToken: `%s`", sig.Token))
	}
	if sig.Chain != "" {
		sb.WriteString(fmt.Sprintf("\nChain: %s", sig.Chain))
	}
	if sig.Wallet != "" {
		sb.WriteString(fmt.Sprintf("\nWallet: `%s`", sig.Wallet))
	}
	if sig.RecommendedAction != "" {
		sb.WriteString(fmt.Sprintf("\nAction: _%s_", sig.RecommendedAction))
	}
	return sb.String()
}

func severityEmoji(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "🚨"
	case models.SeverityHigh:
		return "⚠️"
	case models.SeverityMedium:
		return "🔶"
	default:
		return "ℹ️"
	}
}
