package chat

import "time"

// Sender identifies which side of the conversation wrote a message.
type Sender string

const (
	SenderClient     Sender = "client"
	SenderConsultant Sender = "consultant"
)

// Valid reports whether s is one of the known sender kinds.
func (s Sender) Valid() bool {
	return s == SenderClient || s == SenderConsultant
}

// Message is a single turn in a session. Immutable once stored;
// history is append-only and never reordered.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"chatId"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}
