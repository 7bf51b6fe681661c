package services

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/helpline/go-helpline-backend/internal/notify"
	"github.com/helpline/go-helpline-backend/internal/repo"
)

// assertNoLeaks verifies that delivered notices and ledger rows are in
// lockstep: every outstanding handle has a row and vice versa.
func assertNoLeaks(t *testing.T, db *gorm.DB, notifier *notify.Memory) {
	t.Helper()

	rows, err := repo.ListInvitations(context.Background(), db)
	if err != nil {
		t.Fatalf("ListInvitations: %v", err)
	}
	recorded := make([]string, 0, len(rows))
	for _, inv := range rows {
		recorded = append(recorded, inv.NoticeHandle)
	}
	delivered := notifier.OutstandingHandles()

	sort.Strings(recorded)
	sort.Strings(delivered)
	if fmt.Sprint(recorded) != fmt.Sprint(delivered) {
		t.Fatalf("notices and ledger diverged:\n delivered: %v\n recorded:  %v", delivered, recorded)
	}
}

func newTestLedger(notifier *notify.Memory) *InvitationLedger {
	return NewInvitationLedger(notifier, notify.NewCopy("en"), zerolog.Nop())
}

// seedDirectory registers the client and the operators on a bare database.
func seedDirectory(t *testing.T, db *gorm.DB, clientChatID int64, operatorIDs ...int64) {
	t.Helper()
	ctx := context.Background()
	if err := repo.EnsureUser(ctx, db, clientChatID); err != nil {
		t.Fatalf("ensure client: %v", err)
	}
	for _, chatID := range operatorIDs {
		if err := repo.EnsureUser(ctx, db, chatID); err != nil {
			t.Fatalf("ensure operator %d: %v", chatID, err)
		}
		if err := repo.SetOperator(ctx, db, chatID, true); err != nil {
			t.Fatalf("set operator %d: %v", chatID, err)
		}
	}
}

func TestInviteToClient_FansOutToFreeOperators(t *testing.T) {
	db := newServiceDB(t)
	notifier := notify.NewMemory()
	ledger := newTestLedger(notifier)
	ctx := context.Background()

	seedDirectory(t, db, 100, 1, 2, 3)

	if err := ledger.InviteToClient(ctx, db, 100); err != nil {
		t.Fatalf("InviteToClient: %v", err)
	}

	rows, err := repo.ListInvitations(ctx, db)
	if err != nil {
		t.Fatalf("ListInvitations: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 invitations, got %+v", rows)
	}
	for i, operatorChatID := range []int64{1, 2, 3} {
		if rows[i].OperatorChatID != operatorChatID || rows[i].ClientChatID != 100 {
			t.Fatalf("unexpected invitation row: %+v", rows[i])
		}
		if notifier.OutstandingFor(operatorChatID) != 1 {
			t.Fatalf("operator %d holds %d notices; want 1", operatorChatID, notifier.OutstandingFor(operatorChatID))
		}
	}
	assertNoLeaks(t, db, notifier)
}

func TestInviteToClient_NoticeTextUsesLocalID(t *testing.T) {
	db := newServiceDB(t)
	notifier := notify.NewMemory()
	ledger := newTestLedger(notifier)
	ctx := context.Background()

	seedDirectory(t, db, 100, 1) // client registers first: local id 1

	if err := ledger.InviteToClient(ctx, db, 100); err != nil {
		t.Fatalf("InviteToClient: %v", err)
	}

	want := "User #1 wants to talk. Press the button below to become their operator."
	handles := notifier.OutstandingHandles()
	if len(handles) != 1 {
		t.Fatalf("expected one notice, got %v", handles)
	}
	if got := notifier.TextOf(handles[0]); got != want {
		t.Fatalf("notice text = %q; want %q", got, want)
	}
}

func TestInviteToClient_NoFreeOperators(t *testing.T) {
	db := newServiceDB(t)
	notifier := notify.NewMemory()
	ledger := newTestLedger(notifier)
	ctx := context.Background()

	if err := repo.EnsureUser(ctx, db, 100); err != nil {
		t.Fatalf("ensure client: %v", err)
	}

	if err := ledger.InviteToClient(ctx, db, 100); err != nil {
		t.Fatalf("InviteToClient: %v", err)
	}
	if n := len(notifier.OutstandingHandles()); n != 0 {
		t.Fatalf("expected no notices, got %d", n)
	}
}

func TestInviteToClient_DeliveryFailureSkipsRecipient(t *testing.T) {
	db := newServiceDB(t)
	notifier := notify.NewMemory()
	ledger := newTestLedger(notifier)
	ctx := context.Background()

	seedDirectory(t, db, 100, 1, 2, 3)
	notifier.FailDeliverTo[2] = true

	if err := ledger.InviteToClient(ctx, db, 100); err != nil {
		t.Fatalf("InviteToClient with failing recipient: %v", err)
	}

	rows, err := repo.ListInvitations(ctx, db)
	if err != nil {
		t.Fatalf("ListInvitations: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 invitations, got %+v", rows)
	}
	if notifier.OutstandingFor(2) != 0 {
		t.Fatalf("failing operator should hold no notice")
	}
	assertNoLeaks(t, db, notifier)
}

func TestInviteOne_DuplicateRowRetractsNotice(t *testing.T) {
	db := newServiceDB(t)
	notifier := notify.NewMemory()
	ledger := newTestLedger(notifier)
	ctx := context.Background()

	seedDirectory(t, db, 100, 1)

	// A racing transaction already recorded an invitation for (1, 100).
	if inserted, err := repo.InsertInvitation(ctx, db, 1, 100, "h-race-winner"); err != nil || !inserted {
		t.Fatalf("seed invitation: inserted=%v err=%v", inserted, err)
	}

	if err := ledger.inviteOne(ctx, db, 1, 100, "text"); err != nil {
		t.Fatalf("inviteOne: %v", err)
	}

	// The fresh notice was retracted; the winning row kept its handle.
	if notifier.OutstandingFor(1) != 0 {
		t.Fatalf("duplicate notice leaked")
	}
	rows, err := repo.ListInvitations(ctx, db)
	if err != nil || len(rows) != 1 || rows[0].NoticeHandle != "h-race-winner" {
		t.Fatalf("ledger rows = %+v, %v; want the race winner only", rows, err)
	}
}

func TestInviteOne_StorageFaultRetractsDeliveredNotice(t *testing.T) {
	db := newServiceDB(t)
	notifier := notify.NewMemory()
	ledger := newTestLedger(notifier)
	ctx := context.Background()

	seedDirectory(t, db, 100, 1)

	// Break the ledger after delivery becomes possible: the insert now
	// fails with a storage fault rather than a duplicate.
	if err := db.Migrator().DropTable("invitations"); err != nil {
		t.Fatalf("drop invitations: %v", err)
	}

	err := ledger.inviteOne(ctx, db, 1, 100, "text")
	if err == nil {
		t.Fatalf("expected the storage fault to propagate")
	}

	// The delivered notice was retracted before the fault surfaced.
	if handles := notifier.OutstandingHandles(); len(handles) != 0 {
		t.Fatalf("notice leaked after storage fault: %v", handles)
	}
}

func TestInviteForOperator_InvitesAllWaitingExceptSelf(t *testing.T) {
	db := newServiceDB(t)
	notifier := notify.NewMemory()
	ledger := newTestLedger(notifier)
	ctx := context.Background()

	seedDirectory(t, db, 10, 1)
	if err := repo.EnsureUser(ctx, db, 20); err != nil {
		t.Fatalf("ensure client 20: %v", err)
	}
	// Waiting requests from client 10 and 20, plus one from the operator
	// themself, which must be skipped.
	for _, clientChatID := range []int64{10, 20, 1} {
		if _, err := repo.RequestPairing(ctx, db, clientChatID); err != nil {
			t.Fatalf("request pairing %d: %v", clientChatID, err)
		}
	}

	if err := ledger.InviteForOperator(ctx, db, 1); err != nil {
		t.Fatalf("InviteForOperator: %v", err)
	}

	if notifier.OutstandingFor(1) != 2 {
		t.Fatalf("operator holds %d notices; want 2", notifier.OutstandingFor(1))
	}
	assertNoLeaks(t, db, notifier)
}

func TestRetractForClient_RemovesRowsAndNotices(t *testing.T) {
	db := newServiceDB(t)
	notifier := notify.NewMemory()
	ledger := newTestLedger(notifier)
	ctx := context.Background()

	seedDirectory(t, db, 100, 1, 2)
	if err := ledger.InviteToClient(ctx, db, 100); err != nil {
		t.Fatalf("InviteToClient: %v", err)
	}

	any, err := ledger.RetractForClient(ctx, db, 100)
	if err != nil {
		t.Fatalf("RetractForClient: %v", err)
	}
	if !any {
		t.Fatalf("expected retraction to report existing invitations")
	}
	if n := len(notifier.OutstandingHandles()); n != 0 {
		t.Fatalf("notices left after retraction: %d", n)
	}
	assertNoLeaks(t, db, notifier)

	// Second retraction finds nothing.
	any, err = ledger.RetractForClient(ctx, db, 100)
	if err != nil || any {
		t.Fatalf("second RetractForClient = %v, %v; want false, nil", any, err)
	}
}

func TestRetractForOperator_OnlyTouchesTheirInbox(t *testing.T) {
	db := newServiceDB(t)
	notifier := notify.NewMemory()
	ledger := newTestLedger(notifier)
	ctx := context.Background()

	seedDirectory(t, db, 100, 1, 2)
	if err := ledger.InviteToClient(ctx, db, 100); err != nil {
		t.Fatalf("InviteToClient: %v", err)
	}

	any, err := ledger.RetractForOperator(ctx, db, 1)
	if err != nil || !any {
		t.Fatalf("RetractForOperator = %v, %v; want true, nil", any, err)
	}
	if notifier.OutstandingFor(1) != 0 {
		t.Fatalf("operator 1 still holds notices")
	}
	if notifier.OutstandingFor(2) != 1 {
		t.Fatalf("operator 2's notice must survive")
	}
	assertNoLeaks(t, db, notifier)
}
