package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Discord delivers squad notifications to a Discord channel.
type Discord struct {
	session *discordgo.Session
	// channels maps squad IDs to Discord channel IDs.
	channels map[string]string
	// defaultChannel receives events for squads without a mapping.
	defaultChannel string
}

// NewDiscord creates a Discord sink. channels maps squad IDs to channel IDs;
// defaultChannel is used for unmapped squads and may be empty.
func NewDiscord(token string, channels map[string]string, defaultChannel string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open discord session: %w", err)
	}
	return &Discord{
		session:        session,
		channels:       channels,
		defaultChannel: defaultChannel,
	}, nil
}

// Notify posts the formatted notification to the squad's channel.
func (d *Discord) Notify(_ context.Context, squadID string, n Notification) error {
	channelID := d.channels[squadID]
	if channelID == "" {
		channelID = d.defaultChannel
	}
	if channelID == "" {
		return fmt.Errorf("no discord channel configured for squad %q", squadID)
	}
	if _, err := d.session.ChannelMessageSend(channelID, Format(squadID, n)); err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (d *Discord) Close() error {
	return d.session.Close()
}
