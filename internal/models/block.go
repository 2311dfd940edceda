package models

import "time"

// BlockRelation is a directed block: BlockerID does not receive messages
// from BlockedID, and BlockedID cannot send to BlockerID.
type BlockRelation struct {
	BlockerID string    `json:"blocker_id" db:"blocker_id"`
	BlockedID string    `json:"blocked_id" db:"blocked_id"`
	BlockedAt time.Time `json:"blocked_at" db:"blocked_at"`
}

// BlockedUser is an entry of a user's block list.
type BlockedUser struct {
	User
	BlockedAt time.Time `json:"blocked_at" db:"blocked_at"`
}

// Direction tells which side of a pair initiated a block.
type Direction string

const (
	NotBlocked     Direction = ""
	YouBlockedThem Direction = "you_blocked_them"
	TheyBlockedYou Direction = "they_blocked_you"
)

// Banner returns the user-facing text for a blocked direction.
func (d Direction) Banner() string {
	switch d {
	case YouBlockedThem:
		return "You blocked this user. Unblock them to send messages."
	case TheyBlockedYou:
		return "This user blocked you. You can't send them messages."
	}
	return ""
}

// BlockDirection resolves the direction of any block between me and other
// from a set of relations. A block by me takes precedence over a block by
// the other user so the caller is always offered the unblock action.
func BlockDirection(relations []BlockRelation, me, other string) Direction {
	theyBlocked := false
	for _, r := range relations {
		if r.BlockerID == me && r.BlockedID == other {
			return YouBlockedThem
		}
		if r.BlockerID == other && r.BlockedID == me {
			theyBlocked = true
		}
	}
	if theyBlocked {
		return TheyBlockedYou
	}
	return NotBlocked
}
