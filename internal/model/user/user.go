package user

import "time"

// Role separates administrators from regular consultants.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleConsultant Role = "consultant"
)

// User is a consultant account as exposed over the API.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WithPassword is the storage-side record. The password never leaves
// the storage layer except through the auth service's comparison.
type WithPassword struct {
	User
	Password string `json:"password"`
}

// Settings is the runtime configuration persisted alongside the data
// it governs. The monitor re-reads it on every sweep, so updates made
// over the API take effect without a restart.
type Settings struct {
	ChatTTLMinutes    int       `json:"chatTTL"`
	WarnBeforeMinutes int       `json:"warnBefore"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// DefaultSettings mirrors the defaults the store seeds on first run.
func DefaultSettings(now time.Time) Settings {
	return Settings{
		ChatTTLMinutes:    30,
		WarnBeforeMinutes: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
