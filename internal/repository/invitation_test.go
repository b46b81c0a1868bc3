package repository

import (
	"context"
	"errors"
	"testing"
)

func TestInvitationLifecycle(t *testing.T) {
	store := setupStore(t)
	slot := NewErrorSlot()
	r := NewInvitationRepository(store, slot, discardLogger())
	t.Cleanup(r.StopListening)
	ctx := context.Background()

	if err := r.StartListeningForInvitations(ctx, "u2"); err != nil {
		t.Fatalf("start listening: %v", err)
	}

	inv, err := r.CreateInvitation(ctx, household("h1", "Flat 3", "u1"), "u2", "u1")
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if _, err := r.CreateInvitation(ctx, household("h1", "Flat 3", "u1"), "u3", "u1"); err != nil {
		t.Fatalf("create invitation for u3: %v", err)
	}
	if inv.InvitationID == "" || inv.HouseholdName != "Flat 3" || inv.Timestamp.IsZero() {
		t.Errorf("invitation = %+v", inv)
	}

	waitFor(t, "invitation for u2", func() bool {
		items := r.Invitations().Items()
		return len(items) == 1 && items[0].InvitationID == inv.InvitationID
	})

	got, err := r.GetInvitation(ctx, inv.InvitationID)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if got.InvitedUserID != "u2" || got.InviterUserID != "u1" {
		t.Errorf("got = %+v", got)
	}
	if n := len(r.GetInvitationsForUser(ctx, "u3")); n != 1 {
		t.Errorf("u3 invitations = %d, want 1", n)
	}

	if err := r.DeleteInvitation(ctx, inv.InvitationID); err != nil {
		t.Fatalf("delete invitation: %v", err)
	}
	if err := r.DeleteInvitation(ctx, inv.InvitationID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	waitFor(t, "invitation removed", func() bool { return len(r.Invitations().Items()) == 0 })

	if _, err := r.GetInvitation(ctx, inv.InvitationID); !errors.Is(err, ErrInvitationNotFound) {
		t.Errorf("err = %v, want ErrInvitationNotFound", err)
	}
	if slot.Message() != "" {
		t.Errorf("error slot = %q, want empty", slot.Message())
	}
}
