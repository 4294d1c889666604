package diag

import "worldstream.ai/internal/stream/metrics"

const Version = 1

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeStats     = "STATS"
)

// SubscribeMsg opens a diagnostics session. It is the first message a client
// must send.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
}

// StatsMsg carries one coordinator snapshot.
type StatsMsg struct {
	Type  string           `json:"type"`
	Tick  uint64           `json:"tick"`
	Stats metrics.Snapshot `json:"stats"`
}
