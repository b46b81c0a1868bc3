package repository

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/model"
)

// DecodeError reports a document that could not be turned into an entity.
type DecodeError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %q: %s", e.Kind, e.ID, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrInvalidDocument
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("enum", validateEnum)
}

// validateEnum accepts fields whose type knows its own valid values.
func validateEnum(fl validator.FieldLevel) bool {
	v, ok := fl.Field().Interface().(interface{ Valid() bool })
	return ok && v.Valid()
}

// decodeInto maps doc onto out. idField names the JSON field that carries the
// document id, which is never stored in the document body.
func decodeInto(kind, idField string, doc docstore.Document, out any) error {
	data := maps.Clone(doc.Data)
	if data == nil {
		data = map[string]any{}
	}
	data[idField] = doc.ID

	raw, err := json.Marshal(data)
	if err != nil {
		return &DecodeError{Kind: kind, ID: doc.ID, Reason: err.Error()}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{Kind: kind, ID: doc.ID, Reason: err.Error()}
	}
	if err := validate.Struct(out); err != nil {
		return &DecodeError{Kind: kind, ID: doc.ID, Reason: err.Error()}
	}
	return nil
}

func encode(idField string, v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	delete(data, idField)
	return data, nil
}

func DecodeHousehold(doc docstore.Document) (model.Household, error) {
	var h model.Household
	if err := decodeInto("household", "uid", doc, &h); err != nil {
		return model.Household{}, err
	}
	h.Members = model.MemberSet(h.Members...)
	if h.RatPoints == nil {
		h.RatPoints = map[string]int{}
	}
	if h.StinkyPoints == nil {
		h.StinkyPoints = map[string]int{}
	}
	return h, nil
}

func EncodeHousehold(h model.Household) (map[string]any, error) {
	h.Members = model.MemberSet(h.Members...)
	if h.Members == nil {
		h.Members = []string{}
	}
	if h.SharedRecipeIDs == nil {
		h.SharedRecipeIDs = []string{}
	}
	if h.RatPoints == nil {
		h.RatPoints = map[string]int{}
	}
	if h.StinkyPoints == nil {
		h.StinkyPoints = map[string]int{}
	}
	return encode("uid", h)
}

func DecodeFoodItem(doc docstore.Document) (model.FoodItem, error) {
	var item model.FoodItem
	if err := decodeInto("food item", "uid", doc, &item); err != nil {
		return model.FoodItem{}, err
	}
	return item, nil
}

func EncodeFoodItem(item model.FoodItem) (map[string]any, error) {
	return encode("uid", item)
}

func DecodeUser(doc docstore.Document) (model.User, error) {
	var u model.User
	if err := decodeInto("user", "uid", doc, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func EncodeUser(u model.User) (map[string]any, error) {
	for _, list := range []*[]string{&u.HouseholdUIDs, &u.RecipeUIDs, &u.InvitationUIDs} {
		if *list == nil {
			*list = []string{}
		}
	}
	return encode("uid", u)
}

func DecodeInvitation(doc docstore.Document) (model.Invitation, error) {
	var inv model.Invitation
	if err := decodeInto("invitation", "invitationId", doc, &inv); err != nil {
		return model.Invitation{}, err
	}
	return inv, nil
}

func EncodeInvitation(inv model.Invitation) (map[string]any, error) {
	return encode("invitationId", inv)
}
