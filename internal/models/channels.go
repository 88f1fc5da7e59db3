package models

// Channel is a named broadcast topic a connection may subscribe to
type Channel string

const (
	ChannelQuotes   Channel = "quotes"
	ChannelClients  Channel = "clients"
	ChannelSystem   Channel = "system"
	ChannelAlerts   Channel = "alerts"
	ChannelWebhooks Channel = "webhooks"
	ChannelML       Channel = "ml"
	ChannelServices Channel = "services"
)

// ConnectionType distinguishes the two connection classes
type ConnectionType string

const (
	ConnectionClient ConnectionType = "client"
	ConnectionAdmin  ConnectionType = "admin"
)

var clientChannels = map[Channel]bool{
	ChannelQuotes: true,
}

var adminChannels = map[Channel]bool{
	ChannelQuotes:   true,
	ChannelClients:  true,
	ChannelSystem:   true,
	ChannelAlerts:   true,
	ChannelWebhooks: true,
	ChannelML:       true,
	ChannelServices: true,
}

// ChannelAllowed reports whether a connection of the given type may
// subscribe to the channel.
func ChannelAllowed(ch Channel, t ConnectionType) bool {
	if t == ConnectionAdmin {
		return adminChannels[ch]
	}
	return clientChannels[ch]
}

// DefaultSubscriptions returns the channels a new connection is
// subscribed to at handshake time.
func DefaultSubscriptions(t ConnectionType) []Channel {
	if t == ConnectionAdmin {
		return []Channel{ChannelQuotes, ChannelSystem, ChannelAlerts}
	}
	return nil
}
