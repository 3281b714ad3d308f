package chat

import "time"

// Status is the lifecycle state of a session. The only legal
// transition is StatusActive -> StatusClosed, exactly once.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Client holds the optional metadata an anonymous visitor fills in
// during a conversation. Empty fields are simply unknown.
type Client struct {
	Name      string `json:"name,omitempty"`
	BirthDate string `json:"birthDate,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Merge overlays the non-empty fields of other onto c.
func (c Client) Merge(other Client) Client {
	if other.Name != "" {
		c.Name = other.Name
	}
	if other.BirthDate != "" {
		c.BirthDate = other.BirthDate
	}
	if other.Location != "" {
		c.Location = other.Location
	}
	return c
}

// Session captures one anonymous support conversation. UpdatedAt is
// bumped on every mutation and is what the idle-expiry monitor reads.
type Session struct {
	ID        string    `json:"id"`
	Client    Client    `json:"client"`
	Messages  []Message `json:"messages"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Active reports whether the session still accepts messages.
func (s Session) Active() bool {
	return s.Status == StatusActive
}
