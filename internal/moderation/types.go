package moderation

// Violation is published to moderation.violation whenever the relay rejects
// content at the boundary.
type Violation struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Room      string `json:"room,omitempty"` // empty for private messages and names
	Reason    string `json:"reason"`
	Term      string `json:"term"`
	Strikes   int    `json:"strikes"`
	Ts        int64  `json:"ts"` // unix millis
}

// NewViolation builds a Violation from a blocking FilterResult.
func NewViolation(sessionID, username, room string, result FilterResult, strikes int, ts int64) Violation {
	return Violation{
		SessionID: sessionID,
		Username:  username,
		Room:      room,
		Reason:    result.Reason,
		Term:      result.Term,
		Strikes:   strikes,
		Ts:        ts,
	}
}

// ReportReason maps a filter reason onto the report store's reason set.
func ReportReason(result FilterResult) string {
	if result.Reason == "spam_pattern" {
		return "spam"
	}
	return "other"
}
