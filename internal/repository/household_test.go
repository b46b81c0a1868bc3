package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/model"
)

func setupHouseholds(t *testing.T, store docstore.Store) (*HouseholdRepository, *ErrorSlot) {
	t.Helper()
	slot := NewErrorSlot()
	r := NewHouseholdRepository(store, slot, discardLogger())
	t.Cleanup(r.StopListeningForHouseholds)
	return r, slot
}

func household(uid, name string, members ...string) model.Household {
	return model.Household{UID: uid, Name: name, Members: model.MemberSet(members...)}
}

func TestAddHouseholdWithoutListenerIsOptimistic(t *testing.T) {
	r, slot := setupHouseholds(t, setupStore(t))

	if err := r.AddHousehold(context.Background(), household("h1", "Flat 3", "u1")); err != nil {
		t.Fatalf("add household: %v", err)
	}
	got, ok := r.Cached("h1")
	if !ok {
		t.Fatal("household should be cached")
	}
	if got.Name != "Flat 3" {
		t.Errorf("name = %q, want %q", got.Name, "Flat 3")
	}
	if slot.Message() != "" {
		t.Errorf("error slot = %q, want empty", slot.Message())
	}
}

func TestAddHouseholdFailure(t *testing.T) {
	store := &failingStore{Store: setupStore(t)}
	r, slot := setupHouseholds(t, store)
	store.setFail(true)

	err := r.AddHousehold(context.Background(), household("h1", "Flat 3", "u1"))
	if !errors.Is(err, errUnavailable) {
		t.Fatalf("err = %v, want errUnavailable", err)
	}
	if len(r.Households().Items()) != 0 {
		t.Error("cache should be untouched on failure")
	}
	if slot.Message() == "" {
		t.Error("error slot should hold a message")
	}
	slot.Clear()
	if slot.Message() != "" {
		t.Errorf("error slot = %q after clear", slot.Message())
	}
}

func TestListeningForHouseholds(t *testing.T) {
	store := setupStore(t)
	r, _ := setupHouseholds(t, store)
	ctx := context.Background()

	for _, h := range []model.Household{household("h1", "One", "u1"), household("h2", "Two", "u1"), household("h3", "Three", "u2")} {
		if err := r.AddHousehold(ctx, h); err != nil {
			t.Fatalf("add household: %v", err)
		}
	}

	if err := r.StartListeningForHouseholds(ctx, []string{"h2", "h1"}); err != nil {
		t.Fatalf("start listening: %v", err)
	}
	waitFor(t, "two households", func() bool {
		items := r.Households().Items()
		return len(items) == 2 && items[0].UID == "h1" && items[1].UID == "h2"
	})

	if err := r.Rename(ctx, "h1", "Renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitFor(t, "renamed household", func() bool {
		h, ok := r.Cached("h1")
		return ok && h.Name == "Renamed"
	})

	if err := r.StartListeningForHouseholds(ctx, nil); err != nil {
		t.Fatalf("stop via empty ids: %v", err)
	}
	if _, active := r.listener.Active(); active {
		t.Error("listener should be stopped for an empty id set")
	}
	if len(r.Households().Items()) != 0 {
		t.Error("cache should be empty for an empty id set")
	}
}

func TestSelectionFollowsSnapshots(t *testing.T) {
	store := setupStore(t)
	r, _ := setupHouseholds(t, store)
	ctx := context.Background()

	h := household("h1", "One", "u1")
	if err := r.AddHousehold(ctx, h); err != nil {
		t.Fatalf("add household: %v", err)
	}
	r.SelectHousehold(&h)
	if err := r.StartListeningForHouseholds(ctx, []string{"h1"}); err != nil {
		t.Fatalf("start listening: %v", err)
	}

	if err := store.Update(ctx, docstore.Doc("households", "h1"), map[string]any{"name": "Elsewhere"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitFor(t, "selection refresh", func() bool {
		sel, ok := r.SelectedHousehold()
		return ok && sel.Name == "Elsewhere"
	})

	if err := store.Delete(ctx, docstore.Doc("households", "h1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, "selection cleared", func() bool {
		_, ok := r.SelectedHousehold()
		return !ok
	})
}

func TestSelectionOutsideScopeSurvivesSnapshots(t *testing.T) {
	store := setupStore(t)
	r, _ := setupHouseholds(t, store)
	ctx := context.Background()

	for _, h := range []model.Household{household("h1", "One", "u1"), household("h2", "Two", "u1")} {
		if err := r.AddHousehold(ctx, h); err != nil {
			t.Fatalf("add household: %v", err)
		}
	}
	if err := r.StartListeningForHouseholds(ctx, []string{"h1"}); err != nil {
		t.Fatalf("start listening: %v", err)
	}
	waitFor(t, "h1 snapshot", func() bool { return len(r.Households().Items()) == 1 })

	// h2 was just created and the listener has not been re-scoped yet.
	h2 := household("h2", "Two", "u1")
	r.SelectHousehold(&h2)
	if err := store.Update(ctx, docstore.Doc("households", "h1"), map[string]any{"name": "Renamed"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitFor(t, "h1 rename", func() bool {
		h, ok := r.Cached("h1")
		return ok && h.Name == "Renamed"
	})
	if sel, ok := r.SelectedHousehold(); !ok || sel.UID != "h2" {
		t.Fatalf("selected = %+v/%v, want h2", sel, ok)
	}

	if err := r.StartListeningForHouseholds(ctx, []string{"h1", "h2"}); err != nil {
		t.Fatalf("re-scope: %v", err)
	}
	waitFor(t, "both households", func() bool { return len(r.Households().Items()) == 2 })
	if err := store.Delete(ctx, docstore.Doc("households", "h2")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, "selection cleared", func() bool {
		_, ok := r.SelectedHousehold()
		return !ok
	})
}

func TestSelectHouseholdNil(t *testing.T) {
	r, _ := setupHouseholds(t, setupStore(t))
	h := household("h1", "One", "u1")
	r.SelectHousehold(&h)
	h.Name = "mutated"

	sel, ok := r.SelectedHousehold()
	if !ok || sel.Name != "One" {
		t.Fatalf("selected = %+v, %v", sel, ok)
	}
	r.SelectHousehold(nil)
	if _, ok := r.SelectedHousehold(); ok {
		t.Error("selection should be absent")
	}
}

func TestGetHouseholdsBatches(t *testing.T) {
	store := setupStore(t)
	r, _ := setupHouseholds(t, store)
	ctx := context.Background()

	var ids []string
	for i := range 25 {
		id := fmt.Sprintf("h%02d", i)
		ids = append(ids, id)
		if err := r.AddHousehold(ctx, household(id, "House "+id, "u1")); err != nil {
			t.Fatalf("add household: %v", err)
		}
	}

	got := r.GetHouseholds(ctx, append(ids, "missing"))
	if len(got) != 25 {
		t.Fatalf("got %d households, want 25", len(got))
	}
	if got[0].UID != "h00" || got[24].UID != "h24" {
		t.Errorf("order = %s..%s, want h00..h24", got[0].UID, got[24].UID)
	}
	if got := r.GetHouseholds(ctx, nil); len(got) != 0 {
		t.Errorf("empty ids returned %d households", len(got))
	}
}

func TestGetHouseholdsErrorReturnsEmpty(t *testing.T) {
	store := &failingStore{Store: setupStore(t)}
	r, slot := setupHouseholds(t, store)
	store.setFail(true)

	if got := r.GetHouseholds(context.Background(), []string{"h1"}); len(got) != 0 {
		t.Errorf("got %d households, want 0", len(got))
	}
	if slot.Message() != "" {
		t.Errorf("one-shot fetch should not use the error slot, got %q", slot.Message())
	}
}

func TestCheckIfHouseholdNameExists(t *testing.T) {
	r, _ := setupHouseholds(t, setupStore(t))
	if err := r.AddHousehold(context.Background(), household("h1", "Flat 3", "u1")); err != nil {
		t.Fatalf("add household: %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"Flat 3", true},
		{"flat 3", false},
		{"Flat", false},
	}
	for _, tt := range tests {
		if got := r.CheckIfHouseholdNameExists(tt.name); got != tt.want {
			t.Errorf("CheckIfHouseholdNameExists(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMembership(t *testing.T) {
	r, _ := setupHouseholds(t, setupStore(t))
	ctx := context.Background()
	if err := r.AddHousehold(ctx, household("h1", "One", "u1")); err != nil {
		t.Fatalf("add household: %v", err)
	}

	for range 2 {
		if _, err := r.AddMember(ctx, "h1", "u2"); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	h, err := r.GetHousehold(ctx, "h1")
	if err != nil {
		t.Fatalf("get household: %v", err)
	}
	if len(h.Members) != 2 || !h.HasMember("u2") {
		t.Fatalf("members = %v, want [u1 u2]", h.Members)
	}

	if err := r.AddRatPoints(ctx, "h1", "u2", 3); err != nil {
		t.Fatalf("add rat points: %v", err)
	}
	if err := r.AddStinkyPoints(ctx, "h1", "u2", 1); err != nil {
		t.Fatalf("add stinky points: %v", err)
	}
	if err := r.AddRatPoints(ctx, "h1", "stranger", 5); err != nil {
		t.Fatalf("add points to non-member: %v", err)
	}
	h, _ = r.GetHousehold(ctx, "h1")
	if h.RatPoints["u2"] != 3 || h.StinkyPoints["u2"] != 1 {
		t.Errorf("points = %v/%v", h.RatPoints, h.StinkyPoints)
	}
	if _, ok := h.RatPoints["stranger"]; ok {
		t.Error("non-members must not receive points")
	}

	h, err = r.RemoveMember(ctx, "h1", "u2")
	if err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if h.HasMember("u2") {
		t.Error("u2 should be removed")
	}
	if _, ok := h.RatPoints["u2"]; ok {
		t.Error("points of removed member should be dropped")
	}

	if _, err := r.AddMember(ctx, "gone", "u2"); !errors.Is(err, ErrHouseholdNotFound) {
		t.Errorf("err = %v, want ErrHouseholdNotFound", err)
	}
}

func TestSharedRecipes(t *testing.T) {
	r, _ := setupHouseholds(t, setupStore(t))
	ctx := context.Background()
	if err := r.AddHousehold(ctx, household("h1", "One", "u1")); err != nil {
		t.Fatalf("add household: %v", err)
	}

	for _, id := range []string{"r2", "r1", "r2"} {
		if err := r.ShareRecipe(ctx, "h1", id); err != nil {
			t.Fatalf("share recipe: %v", err)
		}
	}
	if err := r.UnshareRecipe(ctx, "h1", "r2"); err != nil {
		t.Fatalf("unshare recipe: %v", err)
	}
	h, _ := r.GetHousehold(ctx, "h1")
	if len(h.SharedRecipeIDs) != 1 || h.SharedRecipeIDs[0] != "r1" {
		t.Errorf("shared = %v, want [r1]", h.SharedRecipeIDs)
	}
	cached, _ := r.Cached("h1")
	if len(cached.SharedRecipeIDs) != 1 {
		t.Errorf("cached shared = %v, want [r1]", cached.SharedRecipeIDs)
	}
}

func TestDeleteHouseholdByID(t *testing.T) {
	r, slot := setupHouseholds(t, setupStore(t))
	ctx := context.Background()
	h := household("h1", "One", "u1")
	if err := r.AddHousehold(ctx, h); err != nil {
		t.Fatalf("add household: %v", err)
	}
	r.SelectHousehold(&h)

	if err := r.DeleteHouseholdByID(ctx, "h1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteHouseholdByID(ctx, "h1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, ok := r.Cached("h1"); ok {
		t.Error("household should be removed from the cache")
	}
	if _, ok := r.SelectedHousehold(); ok {
		t.Error("selection should be cleared")
	}
	if slot.Message() != "" {
		t.Errorf("error slot = %q, want empty", slot.Message())
	}
}
