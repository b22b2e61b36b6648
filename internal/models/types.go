package models

import (
	"encoding/json"
	"time"
)

// Platform identifies the webhook front end a user reached us through.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
)

// Location is a pair of WGS84 coordinates attached to an inbound message.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Message is the canonical, platform-independent representation of one
// inbound user event. Immutable once constructed; ID doubles as the
// deduplication key.
type Message struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Platform   Platform  `json:"platform"`
	Text       string    `json:"text,omitempty"`
	ImageRef   string    `json:"image_ref,omitempty"`
	Location   *Location `json:"location,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ResponseKind distinguishes the user-visible template a Response was built
// from, so degraded and emergency paths are never mistaken for ordinary
// answers downstream.
type ResponseKind string

const (
	ResponseAnswer        ResponseKind = "answer"
	ResponseClarification ResponseKind = "clarification"
	ResponseEmergency     ResponseKind = "emergency"
	ResponseDegraded      ResponseKind = "degraded"
	ResponseReset         ResponseKind = "reset"
	ResponseWelcome       ResponseKind = "welcome"
	ResponseHistory       ResponseKind = "history"
	ResponseFollowUp      ResponseKind = "follow_up"
)

// Response is the canonical outbound payload handed to the dispatcher.
type Response struct {
	UserID   string       `json:"user_id"`
	Platform Platform     `json:"platform"`
	Kind     ResponseKind `json:"kind"`
	Text     string       `json:"text"`
}

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a request to invoke a registered tool. Produced only by the
// reasoning adapter, consumed only by the tool registry.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult is always produced for a ToolCall, including on failure. A
// failed tool yields OK=false and a non-empty Error, never a panic or an
// omitted entry.
type ToolResult struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	OK     bool            `json:"ok"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Payload renders the result as the JSON text appended to the conversation
// window for the reasoning adapter to read.
func (r ToolResult) Payload() string {
	if r.OK {
		return string(r.Data)
	}
	b, _ := json.Marshal(map[string]string{"error": r.Error})
	return string(b)
}

// ConversationTurn is one entry in a session's bounded window.
type ConversationTurn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// PendingState tracks an in-flight clarification the next user message is
// expected to answer.
type PendingState string

const (
	PendingNone   PendingState = "none"
	PendingAge    PendingState = "awaiting-age"
	PendingGender PendingState = "awaiting-gender"
)

// Profile holds the optional demographic data supplied during setup.
// Zero values mean "not provided yet".
type Profile struct {
	Age      int      `json:"age,omitempty"`
	Gender   string   `json:"gender,omitempty"`
	Platform Platform `json:"platform,omitempty"`
}

// Complete reports whether the setup flow has run to the end for this user.
func (p Profile) Complete() bool {
	return p.Age != 0 && p.Gender != ""
}

// Session is the per-user conversational state. It is mutated only by the
// orchestration loop while holding that user's lock in the session store.
type Session struct {
	UserID         string             `json:"user_id"`
	Profile        Profile            `json:"profile"`
	Window         []ConversationTurn `json:"window"`
	Pending        PendingState       `json:"pending"`
	EmergencyFlag  bool               `json:"emergency_flag"`
	LastActiveAt   time.Time          `json:"last_active_at"`
}

// Append adds a turn to the conversation window.
func (s *Session) Append(turn ConversationTurn) {
	s.Window = append(s.Window, turn)
}
