// Package repo – invitation ledger rows.
//
// This file provides the row-level operations backing the invitation ledger:
// the ledger-wide lock, the free-operator query, upsert-ignore insertion,
// and delete-returning retraction. The delivery/retraction of the underlying
// transport notices — and the leak protection tying rows to notices — lives
// in the service layer; here is only persistence.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/helpline/go-helpline-backend/internal/domain"
)

// LockInvitations takes a relation-level lock on the invitations table,
// blocking concurrent issuance and retraction until the transaction ends.
// Required because a parallel transaction might try to retract invitations
// for a user we are about to invite but have not recorded yet.
//
// No-op outside postgres (see LockPairings).
func LockInvitations(ctx context.Context, tx *gorm.DB) error {
	if !isPostgres(tx) {
		return nil
	}
	return tx.WithContext(ctx).Exec("LOCK TABLE invitations IN SHARE ROW EXCLUSIVE MODE").Error
}

// FreeOperatorsFor returns the chat ids of every operator that should
// receive an invitation to the given client: designated operators, excluding
// the client themself, excluding anyone occupied in a pairing (either role),
// excluding anyone already holding a live invitation for this client.
func FreeOperatorsFor(ctx context.Context, tx *gorm.DB, clientChatID int64) ([]int64, error) {
	var ids []int64
	err := tx.WithContext(ctx).Raw(
		"SELECT users.chat_id "+
			"FROM users "+
			"   LEFT OUTER JOIN pairings ON users.chat_id = pairings.operator_chat_id "+
			"                               OR users.chat_id = pairings.client_chat_id "+
			"   LEFT OUTER JOIN invitations ON users.chat_id = invitations.operator_chat_id "+
			"                                  AND invitations.client_chat_id = ? "+
			"WHERE users.is_operator = ? "+
			"  AND users.chat_id <> ? "+
			"  AND pairings.client_chat_id IS NULL "+
			"  AND invitations.client_chat_id IS NULL "+
			"ORDER BY users.chat_id",
		clientChatID, true, clientChatID,
	).Scan(&ids).Error
	return ids, err
}

// InsertInvitation records a delivered notice. The insert ignores conflicts
// on the (operator, client) uniqueness instead of aborting the enclosing
// transaction; the returned bool tells the caller whether a row was actually
// written. A false return means a racing duplicate won and the caller must
// retract the notice it just delivered (invitation-leak protection).
func InsertInvitation(ctx context.Context, tx *gorm.DB, operatorChatID, clientChatID int64, noticeHandle string) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		"INSERT INTO invitations (operator_chat_id, client_chat_id, notice_handle, created_at) "+
			"VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (operator_chat_id, client_chat_id) DO NOTHING",
		operatorChatID, clientChatID, noticeHandle, time.Now().UTC(),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteInvitationsForClient removes every invitation naming the client and
// returns the deleted rows so the caller can retract the delivered notices.
func DeleteInvitationsForClient(ctx context.Context, tx *gorm.DB, clientChatID int64) ([]domain.Invitation, error) {
	return deleteInvitations(ctx, tx, "client_chat_id", clientChatID)
}

// DeleteInvitationsForOperator removes every invitation sitting in the
// operator's inbox and returns the deleted rows.
func DeleteInvitationsForOperator(ctx context.Context, tx *gorm.DB, operatorChatID int64) ([]domain.Invitation, error) {
	return deleteInvitations(ctx, tx, "operator_chat_id", operatorChatID)
}

func deleteInvitations(ctx context.Context, tx *gorm.DB, column string, chatID int64) ([]domain.Invitation, error) {
	var rows []domain.Invitation
	err := tx.WithContext(ctx).Raw(
		"DELETE FROM invitations WHERE "+column+" = ? RETURNING id, operator_chat_id, client_chat_id, notice_handle, created_at",
		chatID,
	).Scan(&rows).Error
	return rows, err
}

// ListInvitations returns all live invitation rows, ordered for stable
// comparison in tests and on the ops surface.
func ListInvitations(ctx context.Context, db *gorm.DB) ([]domain.Invitation, error) {
	var rows []domain.Invitation
	err := db.WithContext(ctx).
		Order("operator_chat_id, client_chat_id").
		Find(&rows).Error
	return rows, err
}
