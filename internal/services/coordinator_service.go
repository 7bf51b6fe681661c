// Package services – Coordinator
//
// The coordinator is the public face of the engine: it sequences pairing
// store transitions together with the matching invitation ledger updates so
// the two stay consistent as seen by any external observer. Each operation
// runs inside a single store transaction; GORM commits on a nil return and
// rolls back on error, releasing every lock on all exit paths.
//
// The coordinator exposes exactly the three transition operations plus the
// read accessors it owns. It forwards nothing else.
package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/helpline/go-helpline-backend/internal/domain"
	"github.com/helpline/go-helpline-backend/internal/repo"
)

// Ledger is the invitation ledger contract required by the Coordinator.
// Implementations must run their statements on the supplied transaction.
type Ledger interface {
	// InviteToClient fans an invitation about the client out to every free
	// operator.
	InviteToClient(ctx context.Context, tx *gorm.DB, clientChatID int64) error

	// InviteForOperator invites the freed operator to every waiting client.
	InviteForOperator(ctx context.Context, tx *gorm.DB, operatorChatID int64) error

	// RetractForClient removes all invitations naming the client.
	RetractForClient(ctx context.Context, tx *gorm.DB, clientChatID int64) (bool, error)

	// RetractForOperator removes all invitations held by the operator.
	RetractForOperator(ctx context.Context, tx *gorm.DB, operatorChatID int64) (bool, error)
}

// Coordinator sequences pairing transitions with invitation updates.
type Coordinator struct {
	// DB is the GORM handle that owns transaction boundaries.
	DB *gorm.DB
	// Ledger is the invitation ledger.
	Ledger Ledger

	log zerolog.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(db *gorm.DB, ledger Ledger, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		DB:     db,
		Ledger: ledger,
		log:    log.With().Str("component", "coordinator").Logger(),
	}
}

// RequestConversation records that the user asks for a conversation and, if
// a new request was created, invites every free operator. The user is
// registered on first contact.
func (s *Coordinator) RequestConversation(ctx context.Context, clientChatID int64) (repo.RequestOutcome, error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "RequestConversation",
		trace.WithAttributes(attribute.Int64("client.chat_id", clientChatID)),
	)
	defer span.End()

	var outcome repo.RequestOutcome
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.EnsureUser(ctx, tx, clientChatID); err != nil {
			return fmt.Errorf("ensure user %d: %w", clientChatID, err)
		}
		var err error
		outcome, err = repo.RequestPairing(ctx, tx, clientChatID)
		if err != nil {
			return fmt.Errorf("request pairing: %w", err)
		}
		if outcome == repo.RequestCreated {
			if err := s.Ledger.InviteToClient(ctx, tx, clientChatID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Int64("client_chat_id", clientChatID).Msg("request_conversation failed")
		return 0, err
	}
	pairingRequests.WithLabelValues(outcome.String()).Inc()
	return outcome, nil
}

// BeginConversation pairs the client with the operator. On success all
// invitations made stale by the new pairing are retracted before returning:
// those naming the client, those in the operator's inbox, and those in the
// client's inbox (the client may themself be an operator). Invitations
// naming the operator cannot exist here: had the operator been a requester,
// the transition would have failed with BeginOperatorRequesting.
func (s *Coordinator) BeginConversation(ctx context.Context, clientChatID, operatorChatID int64) (repo.BeginOutcome, error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "BeginConversation",
		trace.WithAttributes(
			attribute.Int64("client.chat_id", clientChatID),
			attribute.Int64("operator.chat_id", operatorChatID),
		),
	)
	defer span.End()

	var outcome repo.BeginOutcome
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chatID := range []int64{clientChatID, operatorChatID} {
			if err := repo.EnsureUser(ctx, tx, chatID); err != nil {
				return fmt.Errorf("ensure user %d: %w", chatID, err)
			}
		}
		var err error
		outcome, err = repo.BeginPairing(ctx, tx, clientChatID, operatorChatID)
		if err != nil {
			return fmt.Errorf("begin pairing: %w", err)
		}
		if outcome != repo.BeginOK {
			return nil
		}
		if _, err := s.Ledger.RetractForClient(ctx, tx, clientChatID); err != nil {
			return err
		}
		if _, err := s.Ledger.RetractForOperator(ctx, tx, operatorChatID); err != nil {
			return err
		}
		if _, err := s.Ledger.RetractForOperator(ctx, tx, clientChatID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).
			Int64("client_chat_id", clientChatID).
			Int64("operator_chat_id", operatorChatID).
			Msg("begin_conversation failed")
		return 0, err
	}
	pairingBegins.WithLabelValues(outcome.String()).Inc()
	return outcome, nil
}

// EndOrCancel removes the client's pairing. A withdrawn request retracts the
// invitations naming the client; an ended conversation re-invites the freed
// operator to every still-waiting client, and likewise the freed client when
// they are themself an operator.
//
// The returned operator chat id is non-nil exactly when the outcome is
// EndEnded.
func (s *Coordinator) EndOrCancel(ctx context.Context, clientChatID int64) (repo.EndOutcome, *int64, error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "EndOrCancel",
		trace.WithAttributes(attribute.Int64("client.chat_id", clientChatID)),
	)
	defer span.End()

	var (
		outcome  repo.EndOutcome
		operator *int64
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		outcome, operator, err = repo.EndPairing(ctx, tx, clientChatID)
		if err != nil {
			return fmt.Errorf("end pairing: %w", err)
		}
		switch outcome {
		case repo.EndCancelled:
			if _, err := s.Ledger.RetractForClient(ctx, tx, clientChatID); err != nil {
				return err
			}
		case repo.EndEnded:
			if err := s.Ledger.InviteForOperator(ctx, tx, *operator); err != nil {
				return err
			}
			isOp, err := repo.IsOperator(ctx, tx, clientChatID)
			if err != nil {
				return fmt.Errorf("check operator flag of %d: %w", clientChatID, err)
			}
			if isOp {
				if err := s.Ledger.InviteForOperator(ctx, tx, clientChatID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Int64("client_chat_id", clientChatID).Msg("end_or_cancel failed")
		return 0, nil, err
	}
	pairingEnds.WithLabelValues(outcome.String()).Inc()
	return outcome, operator, nil
}

// Snapshot returns the pairing touching the user, or nil if none. Plain
// read: the state may change the instant after it returns.
func (s *Coordinator) Snapshot(ctx context.Context, chatID int64) (*domain.PairingView, error) {
	return repo.SnapshotPairing(ctx, s.DB, chatID)
}

// WaitingPage returns a page of pending requests plus the total, oldest
// first.
func (s *Coordinator) WaitingPage(ctx context.Context, offset, limit int) ([]domain.PairingView, int64, error) {
	total, err := repo.CountWaiting(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.PairingView{}, 0, nil
	}
	items, err := repo.WaitingRequestersPage(ctx, s.DB, offset, limit)
	return items, total, err
}
