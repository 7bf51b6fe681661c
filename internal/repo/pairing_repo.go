// Package repo – pairing store.
//
// This file owns the pairing state machine and its locking protocol. A
// pairing row keyed by client chat id means "requesting" while the operator
// column is null and "in conversation" once it is set; ending deletes the
// row. Correctness under concurrent callers rests entirely on the shared
// store:
//
//   - LockPairings takes a relation-level lock that excludes all other
//     writers. It is required whenever a decision depends on the *absence*
//     of a row (absence cannot be pinned by a row lock), i.e. before
//     RequestPairing's and BeginPairing's check-then-write sequences.
//   - SnapshotPairingForShare and WaitingRequesters pin the rows they return
//     with FOR SHARE, freezing them until the caller's transaction ends.
//   - BeginPairing's conditional upsert (`ON CONFLICT ... DO UPDATE ...
//     WHERE operator_chat_id IS NULL`) is the compare-and-swap that keeps
//     two operators from winning the same pending request.
//
// Outcomes (RequestOutcome, BeginOutcome, EndOutcome) are business results,
// not faults; storage errors propagate as raw gorm errors.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/helpline/go-helpline-backend/internal/domain"
)

// RequestOutcome is the result of RequestPairing.
type RequestOutcome int

const (
	// RequestCreated means a new pending request row was inserted.
	RequestCreated RequestOutcome = iota
	// RequestAlreadyRequesting means the client already has a pending request.
	RequestAlreadyRequesting
	// RequestAlreadyPaired means the client is already in a conversation
	// (in either role).
	RequestAlreadyPaired
)

// String implements fmt.Stringer.
func (o RequestOutcome) String() string {
	switch o {
	case RequestCreated:
		return "created"
	case RequestAlreadyRequesting:
		return "already_requesting"
	case RequestAlreadyPaired:
		return "already_paired"
	default:
		return "unknown"
	}
}

// BeginOutcome is the result of BeginPairing.
type BeginOutcome int

const (
	// BeginOK means the conversation was started (or a pending request was won).
	BeginOK BeginOutcome = iota
	// BeginClientIsOperating means the client currently serves someone else.
	BeginClientIsOperating
	// BeginOperatorRequesting means the operator is themself waiting to be served.
	BeginOperatorRequesting
	// BeginOperatorIsClient means the operator is currently a client in an
	// active conversation.
	BeginOperatorIsClient
	// BeginOperatorOperating means the operator already serves another client.
	BeginOperatorOperating
	// BeginClientAlreadyPaired means a concurrent transaction paired the
	// client first (the conditional upsert affected zero rows).
	BeginClientAlreadyPaired
)

// String implements fmt.Stringer.
func (o BeginOutcome) String() string {
	switch o {
	case BeginOK:
		return "ok"
	case BeginClientIsOperating:
		return "client_is_operating"
	case BeginOperatorRequesting:
		return "operator_requesting"
	case BeginOperatorIsClient:
		return "operator_is_client"
	case BeginOperatorOperating:
		return "operator_operating"
	case BeginClientAlreadyPaired:
		return "client_already_paired"
	default:
		return "unknown"
	}
}

// EndOutcome is the result of EndPairing.
type EndOutcome int

const (
	// EndNoPairing means the client had no pairing row at all.
	EndNoPairing EndOutcome = iota
	// EndCancelled means a pending request (no operator yet) was withdrawn.
	EndCancelled
	// EndEnded means an active conversation was terminated; the freed
	// operator accompanies this outcome.
	EndEnded
)

// String implements fmt.Stringer.
func (o EndOutcome) String() string {
	switch o {
	case EndNoPairing:
		return "no_pairing"
	case EndCancelled:
		return "cancelled"
	case EndEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// LockPairings takes a relation-level lock on the pairings table that blocks
// every other writer until the transaction ends. SHARE ROW EXCLUSIVE is
// self-conflicting, so concurrent lockers serialize instead of deadlocking
// on a later lock upgrade.
//
// On non-postgres dialects this is a no-op: SQLite has a single writer and
// serializes mutating transactions on its own.
func LockPairings(ctx context.Context, tx *gorm.DB) error {
	if !isPostgres(tx) {
		return nil
	}
	return tx.WithContext(ctx).Exec("LOCK TABLE pairings IN SHARE ROW EXCLUSIVE MODE").Error
}

// pairingRow is the scan target for the snapshot queries.
type pairingRow struct {
	ClientChatID    int64
	ClientLocalID   int64
	OperatorChatID  *int64
	OperatorLocalID *int64
}

func (r pairingRow) view() *domain.PairingView {
	return &domain.PairingView{
		ClientChatID:    r.ClientChatID,
		ClientLocalID:   r.ClientLocalID,
		OperatorChatID:  r.OperatorChatID,
		OperatorLocalID: r.OperatorLocalID,
	}
}

const snapshotQuery = "SELECT p.client_chat_id, " +
	"       COALESCE((SELECT local_id FROM users WHERE chat_id = p.client_chat_id), 0) AS client_local_id, " +
	"       p.operator_chat_id, " +
	"       (SELECT local_id FROM users WHERE chat_id = p.operator_chat_id) AS operator_local_id " +
	"FROM pairings p " +
	"WHERE p.client_chat_id = ? OR p.operator_chat_id = ?"

// SnapshotPairing returns the pairing touching chatID (as client or as
// operator), or nil if there is none. Plain read: the state may change the
// instant after it returns. Decisions that depend on the result must instead
// use SnapshotPairingForShare inside a transaction, or LockPairings when the
// decision depends on the row's absence.
func SnapshotPairing(ctx context.Context, db *gorm.DB, chatID int64) (*domain.PairingView, error) {
	return snapshotPairing(ctx, db, chatID, false)
}

// SnapshotPairingForShare is SnapshotPairing with row pinning: if a pairing
// exists, its row is locked FOR SHARE for the remainder of the caller's
// transaction, so it cannot be mutated or deleted until the caller finishes.
// It does NOT prevent a new pairing from being created for a user who
// currently has none.
func SnapshotPairingForShare(ctx context.Context, tx *gorm.DB, chatID int64) (*domain.PairingView, error) {
	return snapshotPairing(ctx, tx, chatID, true)
}

func snapshotPairing(ctx context.Context, db *gorm.DB, chatID int64, pin bool) (*domain.PairingView, error) {
	q := snapshotQuery
	if pin && isPostgres(db) {
		q += " FOR SHARE OF p"
	}
	var row pairingRow
	res := db.WithContext(ctx).Raw(q, chatID, chatID).Scan(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return row.view(), nil
}

// RequestPairing records that the client asks for a conversation. Under the
// table-wide lock it inspects the client's current pairing: if none exists a
// pending request row is inserted; an existing pending request or any active
// involvement is reported without touching the store.
//
// Must run inside a transaction.
func RequestPairing(ctx context.Context, tx *gorm.DB, clientChatID int64) (RequestOutcome, error) {
	if err := LockPairings(ctx, tx); err != nil {
		return 0, err
	}

	current, err := SnapshotPairing(ctx, tx, clientChatID)
	if err != nil {
		return 0, err
	}
	switch {
	case current == nil:
		p := domain.Pairing{ClientChatID: clientChatID, CreatedAt: time.Now().UTC()}
		if err := tx.WithContext(ctx).Create(&p).Error; err != nil {
			return 0, err
		}
		return RequestCreated, nil
	case current.Requesting() && current.ClientChatID == clientChatID:
		return RequestAlreadyRequesting, nil
	default:
		return RequestAlreadyPaired, nil
	}
}

// BeginPairing starts a conversation between a client and an operator, or
// promotes the client's pending request. The checks run in a fixed order
// under the table-wide lock, and the final conditional upsert is the atomic
// compare-and-swap that decides races on the client's row:
//
//  1. A client who is currently operating cannot simultaneously be served.
//  2. The operator must be genuinely free: not requesting, not a client in
//     an active conversation, not serving anyone.
//  3. Insert (client, operator); on conflict on the client's row, set the
//     operator only if none is set yet. Zero affected rows means a
//     concurrent transaction paired the client first.
//
// Must run inside a transaction.
func BeginPairing(ctx context.Context, tx *gorm.DB, clientChatID, operatorChatID int64) (BeginOutcome, error) {
	if err := LockPairings(ctx, tx); err != nil {
		return 0, err
	}

	var operating int64
	err := tx.WithContext(ctx).
		Model(&domain.Pairing{}).
		Where("operator_chat_id = ?", clientChatID).
		Count(&operating).Error
	if err != nil {
		return 0, err
	}
	if operating > 0 {
		return BeginClientIsOperating, nil
	}

	operatorSide, err := SnapshotPairing(ctx, tx, operatorChatID)
	if err != nil {
		return 0, err
	}
	if operatorSide != nil {
		switch {
		case operatorSide.Requesting():
			return BeginOperatorRequesting, nil
		case operatorSide.ClientChatID == operatorChatID:
			return BeginOperatorIsClient, nil
		default:
			return BeginOperatorOperating, nil
		}
	}

	res := tx.WithContext(ctx).Exec(
		"INSERT INTO pairings (client_chat_id, operator_chat_id, created_at) VALUES (?, ?, ?) "+
			"ON CONFLICT (client_chat_id) DO "+
			"    UPDATE SET operator_chat_id = excluded.operator_chat_id "+
			"           WHERE pairings.operator_chat_id IS NULL",
		clientChatID, operatorChatID, time.Now().UTC(),
	)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return BeginClientAlreadyPaired, nil
	}
	return BeginOK, nil
}

// EndPairing deletes the pairing keyed by the client, reporting which
// operator (if any) was attached before deletion. The delete-returning
// statement is the synchronization point; no table lock and no prior
// snapshot are needed.
func EndPairing(ctx context.Context, tx *gorm.DB, clientChatID int64) (EndOutcome, *int64, error) {
	var row struct {
		OperatorChatID *int64
	}
	res := tx.WithContext(ctx).Raw(
		"DELETE FROM pairings WHERE client_chat_id = ? RETURNING operator_chat_id",
		clientChatID,
	).Scan(&row)
	if res.Error != nil {
		return 0, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return EndNoPairing, nil, nil
	}
	if row.OperatorChatID == nil {
		return EndCancelled, nil, nil
	}
	return EndEnded, row.OperatorChatID, nil
}

// WaitingRequesters returns the clients currently awaiting an operator,
// oldest first, with each returned row pinned FOR SHARE so the set's
// membership is frozen for the duration of the caller's transaction.
//
// Must run inside a transaction.
func WaitingRequesters(ctx context.Context, tx *gorm.DB) ([]int64, error) {
	q := "SELECT client_chat_id FROM pairings WHERE operator_chat_id IS NULL ORDER BY created_at, client_chat_id"
	if isPostgres(tx) {
		q += " FOR SHARE"
	}
	var ids []int64
	err := tx.WithContext(ctx).Raw(q).Scan(&ids).Error
	return ids, err
}

// CountWaiting returns the number of pending requests. Plain read, used for
// pagination metadata on the ops surface.
func CountWaiting(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Pairing{}).
		Where("operator_chat_id IS NULL").
		Count(&total).Error
	return total, err
}

// WaitingRequestersPage returns a page of pending requests with local ids
// resolved, oldest first. Plain read for the ops surface; not pinned.
func WaitingRequestersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.PairingView, error) {
	var rows []pairingRow
	err := db.WithContext(ctx).Raw(
		"SELECT p.client_chat_id, "+
			"       COALESCE((SELECT local_id FROM users WHERE chat_id = p.client_chat_id), 0) AS client_local_id, "+
			"       NULL AS operator_chat_id, NULL AS operator_local_id "+
			"FROM pairings p WHERE p.operator_chat_id IS NULL "+
			"ORDER BY p.created_at, p.client_chat_id LIMIT ? OFFSET ?",
		limit, offset,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.PairingView, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.view())
	}
	return out, nil
}
