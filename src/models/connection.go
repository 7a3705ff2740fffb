package models

import "time"

// MConnectionInfo is a point-in-time copy of a registered client connection.
type MConnectionInfo struct {
	ID             string    `json:"id"`
	Subscriptions  []string  `json:"subscriptions"`
	CreatedAt      time.Time `json:"created_at"`
	LastLivenessAt time.Time `json:"last_liveness_at"`
	SentCount      uint64    `json:"sent_count"`
	ErrorCount     uint64    `json:"error_count"`
	Suspect        bool      `json:"suspect"`
}

// MConnectionStats summarises the connection manager.
type MConnectionStats struct {
	Connections int    `json:"connections"`
	MaxConns    int    `json:"max_connections"`
	QueueDepth  int    `json:"queue_depth"`
	QueueSize   int    `json:"queue_size"`
	Enqueued    uint64 `json:"enqueued"`
	Dropped     uint64 `json:"dropped"`
	Delivered   uint64 `json:"delivered"`
	SendErrors  uint64 `json:"send_errors"`
	Evicted     uint64 `json:"evicted"`
	Rejected    uint64 `json:"rejected"`
}

// -----------------------------------------------------------------------------
// Wire messages
// -----------------------------------------------------------------------------

// MWelcomeMessage is sent once right after a connection is registered.
type MWelcomeMessage struct {
	Type              string `json:"type"`
	ClientID          string `json:"client_id"`
	ServerTime        int64  `json:"server_time"`
	UpdateFrequencyHz int    `json:"update_frequency_hz"`
}

// MBroadcastMessage wraps every fanned-out payload. Seq is assigned when the
// frame is offered to the queue, so frames dropped under load leave gaps.
type MBroadcastMessage struct {
	Type       string      `json:"type"`
	Topic      string      `json:"topic"`
	Seq        uint64      `json:"seq"`
	ServerTime int64       `json:"server_time"`
	Data       interface{} `json:"data"`
}

// MSubscriptionAck answers subscribe:/unsubscribe: commands.
type MSubscriptionAck struct {
	Type          string   `json:"type"`
	Topic         string   `json:"topic"`
	Subscriptions []string `json:"subscriptions"`
}
