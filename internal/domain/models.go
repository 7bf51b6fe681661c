// Package domain defines the persistence models for users, pairings, and
// invitations. These types are mapped with GORM and form the core data layer
// of the helpline backend.
package domain

import (
	"time"
)

// User represents a person known to the helpline, keyed by the opaque
// messenger chat id. Users are created on first contact and never deleted
// during normal operation.
//
// Fields:
//   - ChatID: messenger identifier, primary key (assigned by the messenger,
//     never auto-generated).
//   - LocalID: small sequential integer used for anonymized display
//     ("User #7"); unique and monotonically assigned.
//   - IsOperator: whether the user may serve clients. Set through
//     administration; treated as immutable while the process runs.
//   - IsAdmin: whether the user receives out-of-band fault notifications.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ChatID     int64     `json:"chat_id"     gorm:"primaryKey;autoIncrement:false"`
	LocalID    int64     `json:"local_id"    gorm:"not null;uniqueIndex:ux_users_local_id"`
	IsOperator bool      `json:"is_operator" gorm:"not null;default:false;index"`
	IsAdmin    bool      `json:"is_admin"    gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Pairing is the row representing either a pending conversation request
// (OperatorChatID null) or an active conversation (OperatorChatID set) for
// one client. Ending or cancelling deletes the row; there is no retained
// "finished" state.
//
// Constraints:
//   - One row per client (primary key on ClientChatID).
//   - An operator serves at most one client at a time (unique index on
//     OperatorChatID; NULLs don't collide).
//   - A row never pairs a user with themself (check constraint). The
//     cross-row rule that a user cannot be client in one row and operator in
//     another is enforced by the store's locking protocol, not by schema.
type Pairing struct {
	ClientChatID   int64     `json:"client_chat_id"   gorm:"primaryKey;autoIncrement:false"`
	OperatorChatID *int64    `json:"operator_chat_id" gorm:"uniqueIndex:ux_pairings_operator;check:chk_pairings_not_self,operator_chat_id <> client_chat_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for Pairing.
func (Pairing) TableName() string { return "pairings" }

// Requesting reports whether the pairing is still a pending request
// (no operator assigned yet).
func (p Pairing) Requesting() bool { return p.OperatorChatID == nil }

// Invitation is one outstanding notice delivered to an operator inviting
// them to join a specific waiting client. The row exists exactly as long as
// the delivered notice does: issuing and retracting keep the two in lockstep
// (see the invitation ledger service).
//
// Fields:
//   - OperatorChatID / ClientChatID: the addressee and the subject; together
//     unique (an operator holds at most one live notice per client).
//   - NoticeHandle: opaque transport-level reference needed to retract the
//     delivered notice later.
type Invitation struct {
	ID             uint      `json:"-"                gorm:"primaryKey"`
	OperatorChatID int64     `json:"operator_chat_id" gorm:"not null;uniqueIndex:ux_invitations_operator_client,priority:1;index"`
	ClientChatID   int64     `json:"client_chat_id"   gorm:"not null;uniqueIndex:ux_invitations_operator_client,priority:2;index"`
	NoticeHandle   string    `json:"notice_handle"    gorm:"type:varchar(128);not null"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for Invitation.
func (Invitation) TableName() string { return "invitations" }

// PairingView is the read model returned by pairing snapshots: the pairing
// touching a given user, with local ids resolved for anonymized display.
// A nil *PairingView means the user is in no pairing at all.
type PairingView struct {
	ClientChatID    int64  `json:"client_chat_id"`
	ClientLocalID   int64  `json:"client_local_id"`
	OperatorChatID  *int64 `json:"operator_chat_id,omitempty"`
	OperatorLocalID *int64 `json:"operator_local_id,omitempty"`
}

// Requesting reports whether the viewed pairing is still awaiting an operator.
func (v PairingView) Requesting() bool { return v.OperatorChatID == nil }
