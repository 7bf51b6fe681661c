// Package services – UserDirectory
//
// The user directory resolves messenger chat ids to stable local ids (used
// for anonymized display) and answers operator/admin flag queries. Users are
// registered on first contact; flags are set through administration at
// startup and treated as immutable while the process runs.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/helpline/go-helpline-backend/internal/repo"
)

// UserDirectory provides user identity operations backed by the users table.
type UserDirectory struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	log zerolog.Logger
}

// NewUserDirectory constructs a UserDirectory.
func NewUserDirectory(db *gorm.DB, log zerolog.Logger) *UserDirectory {
	return &UserDirectory{
		DB:  db,
		log: log.With().Str("component", "user-directory").Logger(),
	}
}

// Ensure registers the chat id on first contact; repeated calls are no-ops.
// Runs in its own transaction: registration takes the users relation lock,
// which is only valid inside one.
func (s *UserDirectory) Ensure(ctx context.Context, chatID int64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return repo.EnsureUser(ctx, tx, chatID)
	})
}

// LocalID resolves the anonymized display id of a user. Returns
// ErrUserNotFound for unregistered chat ids.
func (s *UserDirectory) LocalID(ctx context.Context, chatID int64) (int64, error) {
	id, err := repo.LocalID(ctx, s.DB, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrUserNotFound
	}
	return id, err
}

// IsOperator reports whether the user is a designated operator. Unknown
// users are not operators.
func (s *UserDirectory) IsOperator(ctx context.Context, chatID int64) (bool, error) {
	return repo.IsOperator(ctx, s.DB, chatID)
}

// AdminIDs returns the chat ids that should receive out-of-band fault
// notifications.
func (s *UserDirectory) AdminIDs(ctx context.Context) ([]int64, error) {
	return repo.AdminChatIDs(ctx, s.DB)
}

// Bootstrap registers the configured operator and admin chat ids and sets
// their flags. Called once at startup.
func (s *UserDirectory) Bootstrap(ctx context.Context, operatorIDs, adminIDs []int64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chatID := range operatorIDs {
			if err := repo.EnsureUser(ctx, tx, chatID); err != nil {
				return fmt.Errorf("ensure operator %d: %w", chatID, err)
			}
			if err := repo.SetOperator(ctx, tx, chatID, true); err != nil {
				return fmt.Errorf("set operator %d: %w", chatID, err)
			}
		}
		for _, chatID := range adminIDs {
			if err := repo.EnsureUser(ctx, tx, chatID); err != nil {
				return fmt.Errorf("ensure admin %d: %w", chatID, err)
			}
			if err := repo.SetAdmin(ctx, tx, chatID, true); err != nil {
				return fmt.Errorf("set admin %d: %w", chatID, err)
			}
		}
		s.log.Info().
			Int("operators", len(operatorIDs)).
			Int("admins", len(adminIDs)).
			Msg("user directory bootstrapped")
		return nil
	})
}
