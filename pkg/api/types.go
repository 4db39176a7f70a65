package api

import (
	"github.com/uhyunpark/duelengine/pkg/app/duel"
	"github.com/uhyunpark/duelengine/pkg/storage"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// SelectAssetRequest is the payload for POST /api/v1/assets/select
type SelectAssetRequest struct {
	Index int `json:"index"`
}

// PracticeRequest is the payload for POST /api/v1/match/practice
type PracticeRequest struct {
	DurationSeconds int `json:"durationSeconds"`
}

// EndMatchRequest is the payload for POST /api/v1/match/end
type EndMatchRequest struct {
	IsForfeit bool `json:"isForfeit"`
}

// LimitOrderRequest is the payload for POST /api/v1/orders
type LimitOrderRequest struct {
	duel.OpenParams
	LimitPrice float64 `json:"limitPrice"`
}

// CloseRequest is the payload for POST /api/v1/positions/{id}/close.
// A missing fraction closes the whole position.
type CloseRequest struct {
	Fraction *float64 `json:"fraction,omitempty"`
}

// StopsRequest is the payload for PATCH /api/v1/positions/{id}/stops
type StopsRequest struct {
	StopLoss        *float64 `json:"stopLoss,omitempty"`
	TakeProfit      *float64 `json:"takeProfit,omitempty"`
	ClearStopLoss   bool     `json:"clearStopLoss,omitempty"`
	ClearTakeProfit bool     `json:"clearTakeProfit,omitempty"`
}

// ==============================
// REST Response Types
// ==============================

// SettlementResponse is returned by POST /api/v1/settlement
type SettlementResponse struct {
	Applied  bool          `json:"applied"` // false for a replay of an already applied result
	Snapshot duel.Snapshot `json:"snapshot"`
}

// ProfileResponse is a stored profile plus derived figures
type ProfileResponse struct {
	storage.Profile
	WinRate float64 `json:"winRate"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// Channels a client can subscribe to. New clients start subscribed to both.
const (
	ChannelSnapshot = "snapshot"
	ChannelEvents   = "events"
)

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string `json:"type"` // "snapshot" or an event type such as "position_opened"
	Data any    `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["snapshot", "events"]
}
