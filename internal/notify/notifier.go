// Package notify defines the messaging-transport collaborator used by the
// invitation ledger: delivering a retractable notice to an operator and
// retracting it later through an opaque handle.
//
// The package ships two implementations: Gateway (an HTTP client for a
// messenger-gateway service) and Memory (an in-process notifier that tracks
// outstanding notices; used in tests and as the dev fallback when no gateway
// is configured).
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrDelivery is returned by Deliver on ordinary transport-level failure.
// Callers skip the recipient and continue; it never aborts an enclosing
// transaction.
var ErrDelivery = errors.New("notice delivery failed")

// Notifier delivers and retracts invitation notices.
type Notifier interface {
	// Deliver attempts to deliver a notice about clientChatID to
	// operatorChatID and returns the transport handle needed to retract the
	// notice later. A returned error wraps ErrDelivery for ordinary
	// transport failures.
	Deliver(ctx context.Context, operatorChatID, clientChatID int64, text string) (string, error)

	// Retract removes a previously delivered notice. Best effort: the
	// ledger logs failures and moves on.
	Retract(ctx context.Context, operatorChatID int64, handle string) error
}

// Memory is an in-process Notifier that records outstanding notices. Its
// bookkeeping lets tests assert invitation-leak freedom: the set of handles
// it holds must equal the set of handles the ledger recorded.
//
// FailDeliverTo simulates per-operator transport failures; FailAll forces
// every delivery to fail.
type Memory struct {
	mu            sync.Mutex
	outstanding   map[string]memoryNotice
	FailDeliverTo map[int64]bool
	FailAll       bool
}

type memoryNotice struct {
	OperatorChatID int64
	ClientChatID   int64
	Text           string
}

// NewMemory returns an empty in-process notifier.
func NewMemory() *Memory {
	return &Memory{
		outstanding:   make(map[string]memoryNotice),
		FailDeliverTo: make(map[int64]bool),
	}
}

// Deliver records the notice under a fresh handle, or fails with ErrDelivery
// when configured to.
func (m *Memory) Deliver(_ context.Context, operatorChatID, clientChatID int64, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll || m.FailDeliverTo[operatorChatID] {
		return "", fmt.Errorf("%w: operator %d unreachable", ErrDelivery, operatorChatID)
	}
	handle := uuid.NewString()
	m.outstanding[handle] = memoryNotice{
		OperatorChatID: operatorChatID,
		ClientChatID:   clientChatID,
		Text:           text,
	}
	return handle, nil
}

// Retract forgets the notice with the given handle. Unknown handles are
// ignored, matching the best-effort contract.
func (m *Memory) Retract(_ context.Context, _ int64, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outstanding, handle)
	return nil
}

// OutstandingHandles returns the handles of every notice still delivered,
// sorted order not guaranteed.
func (m *Memory) OutstandingHandles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	handles := make([]string, 0, len(m.outstanding))
	for h := range m.outstanding {
		handles = append(handles, h)
	}
	return handles
}

// TextOf returns the text of the outstanding notice with the given handle,
// or "" if no such notice is delivered.
func (m *Memory) TextOf(handle string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outstanding[handle].Text
}

// OutstandingFor returns how many notices are currently held by the given
// operator.
func (m *Memory) OutstandingFor(operatorChatID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, notice := range m.outstanding {
		if notice.OperatorChatID == operatorChatID {
			n++
		}
	}
	return n
}
