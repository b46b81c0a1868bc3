package model

import "slices"

// AppendUnique appends id to an ordered id list unless it is already present.
// The second return value reports whether the list changed.
func AppendUnique(ids []string, id string) ([]string, bool) {
	if slices.Contains(ids, id) {
		return ids, false
	}
	return append(slices.Clone(ids), id), true
}

// Without removes every occurrence of id, preserving order.
func Without(ids []string, id string) ([]string, bool) {
	if !slices.Contains(ids, id) {
		return ids, false
	}
	out := make([]string, 0, len(ids)-1)
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out, true
}
