package contracts

import "time"

// SessionArmState is the per-session switch gating whether write proposals
// may become executable. A session unknown to the store reads as disarmed;
// records are created on first mutation and never deleted.
type SessionArmState struct {
	SessionID string `json:"session_id"`
	Armed     bool   `json:"armed"`

	ArmedAt *time.Time `json:"armed_at,omitempty"`
	ArmedBy string     `json:"armed_by,omitempty"`

	DisarmedAt *time.Time `json:"disarmed_at,omitempty"`
	DisarmedBy string     `json:"disarmed_by,omitempty"`
}
