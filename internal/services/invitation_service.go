// Package services – InvitationLedger
//
// The invitation ledger keeps one row per outstanding notice and keeps rows
// and delivered notices in lockstep: never a delivered notice without a row,
// never a row without a delivered notice (invitation-leak protection).
//
// All mutating methods take the caller's transaction: the coordinator runs
// them inside the same transaction as the pairing transition they depend on,
// so a concurrent observer never sees the post-pairing state with stale
// invitations still present.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/helpline/go-helpline-backend/internal/domain"
	"github.com/helpline/go-helpline-backend/internal/notify"
	"github.com/helpline/go-helpline-backend/internal/repo"
)

// InvitationLedger issues and retracts invitation notices.
type InvitationLedger struct {
	// Notifier is the messaging-transport collaborator.
	Notifier notify.Notifier
	// Copy renders notice texts.
	Copy *notify.Copy

	log zerolog.Logger
}

// NewInvitationLedger constructs an InvitationLedger.
func NewInvitationLedger(n notify.Notifier, c *notify.Copy, log zerolog.Logger) *InvitationLedger {
	return &InvitationLedger{
		Notifier: n,
		Copy:     c,
		log:      log.With().Str("component", "invitation-ledger").Logger(),
	}
}

// InviteToClient sends an invitation about the client to every free
// operator: designated operators who are not the client, not occupied in any
// pairing, and not already holding a live invitation for this client.
//
// Per-operator delivery failures are logged and skipped; a partial fan-out
// is acceptable.
func (s *InvitationLedger) InviteToClient(ctx context.Context, tx *gorm.DB, clientChatID int64) error {
	// Prevent parallel transactions from issuing or retracting invitations
	// until this one completes; they might otherwise clear invitations for
	// a user we are about to invite but have not recorded yet.
	if err := repo.LockInvitations(ctx, tx); err != nil {
		return fmt.Errorf("lock invitations: %w", err)
	}

	operators, err := repo.FreeOperatorsFor(ctx, tx, clientChatID)
	if err != nil {
		return fmt.Errorf("select free operators: %w", err)
	}
	if len(operators) == 0 {
		return nil
	}

	text, err := s.noticeText(ctx, tx, clientChatID)
	if err != nil {
		return err
	}
	for _, operatorChatID := range operators {
		if err := s.inviteOne(ctx, tx, operatorChatID, clientChatID, text); err != nil {
			return err
		}
	}
	return nil
}

// InviteForOperator sends the freed operator an invitation for every client
// still waiting. The waiting set is pinned for the duration of the
// transaction, so none of those requests can be cancelled mid-fan-out.
func (s *InvitationLedger) InviteForOperator(ctx context.Context, tx *gorm.DB, operatorChatID int64) error {
	waiting, err := repo.WaitingRequesters(ctx, tx)
	if err != nil {
		return fmt.Errorf("pin waiting requesters: %w", err)
	}
	if err := repo.LockInvitations(ctx, tx); err != nil {
		return fmt.Errorf("lock invitations: %w", err)
	}

	for _, clientChatID := range waiting {
		if clientChatID == operatorChatID {
			continue
		}
		text, err := s.noticeText(ctx, tx, clientChatID)
		if err != nil {
			return err
		}
		if err := s.inviteOne(ctx, tx, operatorChatID, clientChatID, text); err != nil {
			return err
		}
	}
	return nil
}

// RetractForClient removes every invitation naming the client, retracting
// the delivered notices. Reports whether any existed.
func (s *InvitationLedger) RetractForClient(ctx context.Context, tx *gorm.DB, clientChatID int64) (bool, error) {
	rows, err := repo.DeleteInvitationsForClient(ctx, tx, clientChatID)
	if err != nil {
		return false, fmt.Errorf("delete invitations for client %d: %w", clientChatID, err)
	}
	s.retractRows(ctx, rows)
	return len(rows) > 0, nil
}

// RetractForOperator removes every invitation sitting in the operator's
// inbox, retracting the delivered notices. Reports whether any existed.
func (s *InvitationLedger) RetractForOperator(ctx context.Context, tx *gorm.DB, operatorChatID int64) (bool, error) {
	rows, err := repo.DeleteInvitationsForOperator(ctx, tx, operatorChatID)
	if err != nil {
		return false, fmt.Errorf("delete invitations for operator %d: %w", operatorChatID, err)
	}
	s.retractRows(ctx, rows)
	return len(rows) > 0, nil
}

// inviteOne delivers one notice and records it, upholding leak protection:
//   - transport failure: skip the recipient, nothing recorded;
//   - duplicate row (racing insert won): retract the notice just delivered;
//   - storage fault: retract the notice, then propagate the fault.
func (s *InvitationLedger) inviteOne(ctx context.Context, tx *gorm.DB, operatorChatID, clientChatID int64, text string) error {
	handle, err := s.Notifier.Deliver(ctx, operatorChatID, clientChatID, text)
	if err != nil {
		if errors.Is(err, notify.ErrDelivery) {
			deliveryFailures.Inc()
			s.log.Warn().Err(err).
				Int64("operator_chat_id", operatorChatID).
				Int64("client_chat_id", clientChatID).
				Msg("notice delivery failed, skipping recipient")
			return nil
		}
		return fmt.Errorf("deliver notice to %d: %w", operatorChatID, err)
	}

	inserted, err := repo.InsertInvitation(ctx, tx, operatorChatID, clientChatID, handle)
	if err != nil {
		// The notice is delivered but the ledger doesn't know about it.
		// Retract before propagating, or the notice leaks.
		s.log.Error().Err(err).
			Int64("operator_chat_id", operatorChatID).
			Str("handle", handle).
			Msg("recording invitation failed, retracting delivered notice")
		if rerr := s.Notifier.Retract(ctx, operatorChatID, handle); rerr != nil {
			s.log.Error().Err(rerr).Str("handle", handle).Msg("retracting leaked notice failed")
		}
		return fmt.Errorf("record invitation for %d: %w", operatorChatID, err)
	}
	if !inserted {
		invitationLeaksAverted.Inc()
		s.log.Warn().
			Int64("operator_chat_id", operatorChatID).
			Int64("client_chat_id", clientChatID).
			Msg("invitation already recorded, dropping duplicate notice")
		if rerr := s.Notifier.Retract(ctx, operatorChatID, handle); rerr != nil {
			s.log.Error().Err(rerr).Str("handle", handle).Msg("retracting duplicate notice failed")
		}
		return nil
	}

	invitationsSent.Inc()
	return nil
}

func (s *InvitationLedger) retractRows(ctx context.Context, rows []domain.Invitation) {
	for _, inv := range rows {
		invitationsRetracted.Inc()
		if err := s.Notifier.Retract(ctx, inv.OperatorChatID, inv.NoticeHandle); err != nil {
			s.log.Warn().Err(err).
				Int64("operator_chat_id", inv.OperatorChatID).
				Str("handle", inv.NoticeHandle).
				Msg("notice retraction failed")
		}
	}
}

func (s *InvitationLedger) noticeText(ctx context.Context, tx *gorm.DB, clientChatID int64) (string, error) {
	localID, err := repo.LocalID(ctx, tx, clientChatID)
	if err != nil {
		return "", fmt.Errorf("resolve local id of %d: %w", clientChatID, err)
	}
	return s.Copy.Invitation(localID), nil
}
