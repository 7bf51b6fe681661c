// Package repo – user repository.
//
// This file provides repository functions for the User model: registration
// on first contact, local id resolution, and operator/admin flag lookups.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/helpline/go-helpline-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// EnsureUser registers a user on first contact. The local id is assigned
// monotonically from the current maximum; re-registering an existing chat id
// is a no-op (upsert-ignore on the primary key).
//
// Callers must run inside a transaction. Two concurrent registrations of
// different chat ids would otherwise read the same MAX(local_id) under read
// committed and collide on the local_id unique index, so first-contact
// inserts take the users relation lock before computing the next id. The
// existence check in front keeps the common re-registration path lock-free.
func EnsureUser(ctx context.Context, db *gorm.DB, chatID int64) error {
	var n int64
	if err := db.WithContext(ctx).Model(&domain.User{}).
		Where("chat_id = ?", chatID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if isPostgres(db) {
		if err := db.WithContext(ctx).Exec("LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE").Error; err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	// The WHERE true is required: SQLite refuses to parse an upsert whose
	// source is a SELECT without a WHERE clause. The ON CONFLICT clause
	// covers the same-chat-id race: the loser waits on the relation lock
	// and then sees the winner's committed row.
	return db.WithContext(ctx).Exec(
		"INSERT INTO users (chat_id, local_id, is_operator, is_admin, created_at, updated_at) "+
			"SELECT ?, COALESCE(MAX(local_id), 0) + 1, ?, ?, ?, ? FROM users WHERE true "+
			"ON CONFLICT (chat_id) DO NOTHING",
		chatID, false, false, now, now,
	).Error
}

// GetUser fetches a user by chat id, or ErrNotFound if missing.
func GetUser(ctx context.Context, db *gorm.DB, chatID int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "chat_id = ?", chatID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// LocalID resolves the anonymized display id of a user.
func LocalID(ctx context.Context, db *gorm.DB, chatID int64) (int64, error) {
	var localID int64
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("chat_id = ?", chatID).
		Select("local_id").
		Take(&localID).Error
	return localID, err
}

// IsOperator reports whether the user is a designated operator.
// Unknown users are not operators (no error).
func IsOperator(ctx context.Context, db *gorm.DB, chatID int64) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("chat_id = ? AND is_operator = ?", chatID, true).
		Count(&count).Error
	return count > 0, err
}

// AdminChatIDs returns the chat ids of all designated admins.
func AdminChatIDs(ctx context.Context, db *gorm.DB) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("is_admin = ?", true).
		Order("chat_id").
		Pluck("chat_id", &ids).Error
	return ids, err
}

// SetOperator flips the operator flag of an existing user. Returns
// ErrNotFound if the user does not exist.
func SetOperator(ctx context.Context, db *gorm.DB, chatID int64, operator bool) error {
	return setFlag(ctx, db, chatID, "is_operator", operator)
}

// SetAdmin flips the admin flag of an existing user. Returns ErrNotFound if
// the user does not exist.
func SetAdmin(ctx context.Context, db *gorm.DB, chatID int64, admin bool) error {
	return setFlag(ctx, db, chatID, "is_admin", admin)
}

func setFlag(ctx context.Context, db *gorm.DB, chatID int64, column string, value bool) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("chat_id = ?", chatID).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
