package model

import (
	"maps"
	"slices"
)

// Household is a shared inventory group. Members is kept sorted and free of
// duplicates so membership behaves as a set.
type Household struct {
	UID             string         `json:"uid" validate:"required"`
	Name            string         `json:"name" validate:"required"`
	Members         []string       `json:"members"`
	SharedRecipeIDs []string       `json:"sharedRecipes"`
	RatPoints       map[string]int `json:"ratPoints"`
	StinkyPoints    map[string]int `json:"stinkyPoints"`
}

// HasMember reports whether userID is in the member set.
func (h Household) HasMember(userID string) bool {
	_, found := slices.BinarySearch(h.Members, userID)
	return found
}

// Clone returns a deep copy so callers can mutate without touching cached values.
func (h Household) Clone() Household {
	cp := h
	cp.Members = slices.Clone(h.Members)
	cp.SharedRecipeIDs = slices.Clone(h.SharedRecipeIDs)
	cp.RatPoints = maps.Clone(h.RatPoints)
	cp.StinkyPoints = maps.Clone(h.StinkyPoints)
	return cp
}

// MemberSet normalizes ids into a sorted, de-duplicated member list.
func MemberSet(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
