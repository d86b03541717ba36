package models

import "sync/atomic"

// Stats holds per-connector counters. Only the owning connector writes them;
// other goroutines take eventually-consistent snapshots without locking.
type Stats struct {
	MessagesReceived   atomic.Int64
	BytesReceived      atomic.Int64
	ParseErrors        atomic.Int64
	ConnectionErrors   atomic.Int64
	SubscriptionErrors atomic.Int64
	ReconnectAttempts  atomic.Int64
	// LastMessageUnixNano is the ingestion stamp of the latest raw message.
	LastMessageUnixNano atomic.Int64
}

// StatsSnapshot is a plain-value copy of Stats safe to pass around.
type StatsSnapshot struct {
	MessagesReceived    int64 `json:"messages_received"`
	BytesReceived       int64 `json:"bytes_received"`
	ParseErrors         int64 `json:"parse_errors"`
	ConnectionErrors    int64 `json:"connection_errors"`
	SubscriptionErrors  int64 `json:"subscription_errors"`
	ReconnectAttempts   int64 `json:"reconnect_attempts"`
	LastMessageUnixNano int64 `json:"last_message_unix_nano"`
}

// Snapshot copies the counters. Values may be mutually inconsistent under
// concurrent updates; the counters are advisory.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		MessagesReceived:    s.MessagesReceived.Load(),
		BytesReceived:       s.BytesReceived.Load(),
		ParseErrors:         s.ParseErrors.Load(),
		ConnectionErrors:    s.ConnectionErrors.Load(),
		SubscriptionErrors:  s.SubscriptionErrors.Load(),
		ReconnectAttempts:   s.ReconnectAttempts.Load(),
		LastMessageUnixNano: s.LastMessageUnixNano.Load(),
	}
}
