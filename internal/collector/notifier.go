package collector

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// OfflineNotifier is told about every rig the staleness sweep demotes.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, rigID string, rec StatusRecord) error
}

// DiscordSender is the subset of *discordgo.Session the notifier uses.
type DiscordSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts offline alerts to a Discord channel.
type DiscordNotifier struct {
	session   DiscordSender
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier creates a notifier backed by a bot-token REST session.
// No gateway connection is opened; only channel messages are sent.
func NewDiscordNotifier(token, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return NewDiscordNotifierWithSession(dg, channelID, logger), nil
}

// NewDiscordNotifierWithSession creates a notifier with an injected sender (for testing).
func NewDiscordNotifierWithSession(session DiscordSender, channelID string, logger *zap.Logger) *DiscordNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscordNotifier{session: session, channelID: channelID, logger: logger}
}

func (n *DiscordNotifier) NotifyOffline(ctx context.Context, rigID string, rec StatusRecord) error {
	content := formatOfflineMessage(rigID, rec)
	if _, err := n.session.ChannelMessageSend(n.channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send offline alert for %s: %w", rigID, err)
	}
	n.logger.Debug("offline alert sent", zap.String("rig_id", rigID))
	return nil
}

func formatOfflineMessage(rigID string, rec StatusRecord) string {
	msg := fmt.Sprintf(":red_circle: Sim rig **%s** went offline", rigID)
	if !rec.LastUpdate.IsZero() {
		msg += fmt.Sprintf(" (last seen <t:%d:R>)", rec.LastUpdate.Unix())
	}
	if rec.Branch != nil {
		msg += fmt.Sprintf("\nBranch: `%s`", *rec.Branch)
	}
	if rec.Version != nil {
		msg += fmt.Sprintf("\nVersion: `%s`", *rec.Version)
	}
	if rec.IsInUse {
		msg += "\nThe rig was in use when it stopped reporting."
	}
	return msg
}
