package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/model"
)

func TestDecodeHousehold(t *testing.T) {
	doc := docstore.Document{ID: "h1", Data: map[string]any{
		"name":          "Flat 3",
		"members":       []any{"u2", "u1", "u2"},
		"sharedRecipes": []any{"r1"},
		"ratPoints":     map[string]any{"u1": float64(3)},
	}}

	h, err := DecodeHousehold(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.UID != "h1" {
		t.Errorf("uid = %q, want %q", h.UID, "h1")
	}
	if len(h.Members) != 2 || h.Members[0] != "u1" || h.Members[1] != "u2" {
		t.Errorf("members = %v, want [u1 u2]", h.Members)
	}
	if h.RatPoints["u1"] != 3 {
		t.Errorf("rat points = %d, want 3", h.RatPoints["u1"])
	}
	if h.StinkyPoints == nil {
		t.Error("stinky points should default to an empty map")
	}
}

func TestDecodeRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name   string
		decode func(docstore.Document) error
		data   map[string]any
	}{
		{"household without name", func(d docstore.Document) error { _, err := DecodeHousehold(d); return err },
			map[string]any{"members": []any{"u1"}}},
		{"household with numeric name", func(d docstore.Document) error { _, err := DecodeHousehold(d); return err },
			map[string]any{"name": 12}},
		{"item without food name", func(d docstore.Document) error { _, err := DecodeFoodItem(d); return err },
			map[string]any{"location": "FRIDGE", "status": "OPENED", "owner": "u1", "buyDate": "2026-01-02T00:00:00Z"}},
		{"item with unknown location", func(d docstore.Document) error { _, err := DecodeFoodItem(d); return err },
			map[string]any{"foodFacts": map[string]any{"name": "Milk"}, "location": "CELLAR", "status": "OPENED", "owner": "u1", "buyDate": "2026-01-02T00:00:00Z"}},
		{"item without buy date", func(d docstore.Document) error { _, err := DecodeFoodItem(d); return err },
			map[string]any{"foodFacts": map[string]any{"name": "Milk"}, "location": "FRIDGE", "status": "OPENED", "owner": "u1"}},
		{"invitation without household", func(d docstore.Document) error { _, err := DecodeInvitation(d); return err },
			map[string]any{"invitedUserId": "u2", "inviterUserId": "u1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode(docstore.Document{ID: "x", Data: tt.data})
			if !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("err = %v, want ErrInvalidDocument", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) || de.ID != "x" {
				t.Errorf("err = %#v, want *DecodeError for id x", err)
			}
		})
	}
}

func TestFoodItemRoundTripThroughStoreShape(t *testing.T) {
	expires := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	item := model.FoodItem{
		UID: "i1",
		FoodFacts: model.FoodFacts{
			Name:     "Milk",
			Quantity: model.Quantity{Amount: 1, Unit: model.UnitML},
			Category: model.CategoryDairy,
		},
		Location:   model.LocationFridge,
		BuyDate:    time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		ExpiryDate: &expires,
		Status:     model.StatusUnopened,
		Owner:      "u1",
	}

	data, err := EncodeFoodItem(item)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, ok := data["uid"]; ok {
		t.Error("uid must not be stored in the document body")
	}
	if data["location"] != "FRIDGE" {
		t.Errorf("location = %v, want FRIDGE", data["location"])
	}

	got, err := DecodeFoodItem(docstore.Document{ID: "i1", Data: data})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UID != "i1" || got.FoodFacts.Name != "Milk" || !got.ExpiryDate.Equal(expires) {
		t.Errorf("decoded = %+v", got)
	}
	if got.OpenDate != nil {
		t.Errorf("open date = %v, want nil", got.OpenDate)
	}
}

func TestEncodeUserDefaultsEmptyLists(t *testing.T) {
	data, err := EncodeUser(model.User{UID: "u1", Username: "sam"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, field := range []string{"householdUIDs", "recipeUIDs", "invitationUIDs"} {
		list, ok := data[field].([]any)
		if !ok || len(list) != 0 {
			t.Errorf("%s = %#v, want empty list", field, data[field])
		}
	}
}
