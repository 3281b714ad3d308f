package hub

import model "github.com/atendolive/atendo/backend/internal/model/chat"

// RoomObservers is the reserved room every consultant joins to follow
// session-list level updates, independent of which session they view.
const RoomObservers = "consultants"

// Server-to-client event names. The spelling matches the frontend
// contract this service replaces.
const (
	EventChatHistory        = "chatHistory"
	EventAllChats           = "allChats"
	EventNewMessage         = "newMessage"
	EventChatUpdate         = "chatUpdate"
	EventClientUpdated      = "clientUpdated"
	EventChatClosed         = "chatClosed"
	EventChatClosingWarning = "chatClosingWarning"
	EventMessageSent        = "messageSent"
)

// ChatUpdatePayload notifies observers that a session they may not be
// viewing received a message.
type ChatUpdatePayload struct {
	SessionID string        `json:"chatId"`
	Message   model.Message `json:"message"`
}

// ClosingWarningPayload is the pre-expiry notice for a session.
type ClosingWarningPayload struct {
	SessionID        string `json:"chatId"`
	MinutesRemaining int    `json:"minutesRemaining"`
	Message          string `json:"message"`
}
