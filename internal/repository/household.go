package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dukerupert/pantry/internal/cache"
	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/listener"
	"github.com/dukerupert/pantry/internal/model"
)

const householdsCollection = "households"

// HouseholdRepository owns the cache of the signed-in user's households and
// the currently viewed household.
type HouseholdRepository struct {
	store      docstore.Store
	households *cache.List[model.Household]
	selected   *cache.Value[*model.Household]
	listener   *listener.Manager[model.Household]
	report     reporter
	logger     *slog.Logger
}

func NewHouseholdRepository(store docstore.Store, slot *ErrorSlot, logger *slog.Logger) *HouseholdRepository {
	logger = logger.With("component", "households")
	r := &HouseholdRepository{
		store:      store,
		households: cache.NewList[model.Household](),
		selected:   cache.NewValue[*model.Household](nil),
		report:     reporter{name: "households", slot: slot, logger: logger},
		logger:     logger,
	}
	r.listener = listener.New("households", store, DecodeHousehold, r.apply, logger)
	return r
}

// Households is the observable household cache. Readers must not mutate it.
func (r *HouseholdRepository) Households() *cache.List[model.Household] {
	return r.households
}

// Selected is the observable currently viewed household; nil means none.
func (r *HouseholdRepository) Selected() *cache.Value[*model.Household] {
	return r.selected
}

// NewUID returns a fresh household id.
func (r *HouseholdRepository) NewUID() string {
	return uuid.NewString()
}

// apply replaces the cache with a snapshot of the households in key. The
// selection is refreshed from the snapshot, and cleared only when the
// snapshot's scope covers the selected household and it is gone. A household
// outside the scope, such as one just created, keeps its selection until the
// listener is re-scoped to include it.
func (r *HouseholdRepository) apply(key string, households []model.Household) {
	r.households.Replace(households)
	r.selected.Swap(func(cur *model.Household) *model.Household {
		if cur == nil {
			return nil
		}
		i := slices.IndexFunc(households, func(h model.Household) bool { return h.UID == cur.UID })
		if i >= 0 {
			h := households[i].Clone()
			return &h
		}
		if slices.Contains(scopeIDs(key), cur.UID) {
			return nil
		}
		return cur
	})
}

func scopeKey(ids []string) string {
	return strings.Join(ids, ",")
}

func scopeIDs(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ",")
}

func householdRef(id string) docstore.Ref {
	return docstore.Doc(householdsCollection, id)
}

func byHouseholdUID(id string) func(model.Household) bool {
	return func(h model.Household) bool { return h.UID == id }
}

// listening reports whether a live listener is authoritative for the cache.
func (r *HouseholdRepository) listening() bool {
	_, active := r.listener.Active()
	return active
}

func (r *HouseholdRepository) AddHousehold(ctx context.Context, h model.Household) error {
	if h.UID == "" {
		h.UID = r.NewUID()
	}
	if err := r.write(ctx, h); err != nil {
		return r.report.fail("add household", err, "household_id", h.UID)
	}
	if !r.listening() {
		r.households.Upsert(byHouseholdUID(h.UID), h.Clone())
	}
	return nil
}

// UpdateHousehold overwrites the whole household document.
func (r *HouseholdRepository) UpdateHousehold(ctx context.Context, h model.Household) error {
	if err := r.write(ctx, h); err != nil {
		return r.report.fail("update household", err, "household_id", h.UID)
	}
	r.applyLocal(h)
	return nil
}

func (r *HouseholdRepository) write(ctx context.Context, h model.Household) error {
	data, err := EncodeHousehold(h)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, householdRef(h.UID), data)
}

// applyLocal mirrors a successful write into the cache when no listener will
// deliver it, and into the selection when it points at the same household.
func (r *HouseholdRepository) applyLocal(h model.Household) {
	if !r.listening() {
		r.households.Update(byHouseholdUID(h.UID), func(model.Household) model.Household { return h.Clone() })
	}
	r.selected.Swap(func(cur *model.Household) *model.Household {
		if cur == nil || cur.UID != h.UID {
			return cur
		}
		cp := h.Clone()
		return &cp
	})
}

// DeleteHouseholdByID removes the household document. Its food items are
// deleted by the caller.
func (r *HouseholdRepository) DeleteHouseholdByID(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, householdRef(id)); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return r.report.fail("delete household", err, "household_id", id)
	}
	if !r.listening() {
		r.households.Remove(byHouseholdUID(id))
	}
	r.selected.Swap(func(cur *model.Household) *model.Household {
		if cur != nil && cur.UID == id {
			return nil
		}
		return cur
	})
	return nil
}

// GetHousehold fetches one household, returning ErrHouseholdNotFound when it
// does not exist.
func (r *HouseholdRepository) GetHousehold(ctx context.Context, id string) (model.Household, error) {
	doc, err := r.store.Get(ctx, householdRef(id))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Household{}, ErrHouseholdNotFound
	}
	if err != nil {
		return model.Household{}, fmt.Errorf("get household %s: %w", id, err)
	}
	return DecodeHousehold(doc)
}

// GetHouseholds fetches the households with the given ids. Any remote error
// yields an empty result.
func (r *HouseholdRepository) GetHouseholds(ctx context.Context, ids []string) []model.Household {
	var failed atomic.Bool
	docs := queryBatches(ctx, r.store, ids, func(chunk []string) docstore.Query {
		return docstore.Query{Collection: householdsCollection, IDs: chunk}
	}, func(err error) {
		failed.Store(true)
		r.logger.Error("get households", "error", err)
	})
	if failed.Load() {
		return nil
	}
	out := make([]model.Household, 0, len(docs))
	for _, doc := range docs {
		h, err := DecodeHousehold(doc)
		if err != nil {
			r.logger.Warn("rejected document", "household_id", doc.ID, "error", err)
			continue
		}
		out = append(out, h)
	}
	return out
}

// StartListeningForHouseholds observes exactly the households in ids. An
// empty id set stops listening and empties the cache.
func (r *HouseholdRepository) StartListeningForHouseholds(ctx context.Context, ids []string) error {
	ids = uniqueNonEmpty(ids)
	if len(ids) == 0 {
		r.clear()
		return nil
	}
	slices.Sort(ids)
	scope := listener.Scope{
		Key:   scopeKey(ids),
		Query: docstore.Query{Collection: householdsCollection, IDs: ids},
	}
	if err := r.listener.StartListening(ctx, scope); err != nil {
		return r.report.fail("load households", err)
	}
	return nil
}

func (r *HouseholdRepository) StopListeningForHouseholds() {
	r.listener.StopListening()
}

// Reset stops listening, empties the cache and clears the selection.
func (r *HouseholdRepository) Reset() {
	r.clear()
}

func (r *HouseholdRepository) clear() {
	r.listener.StopListening()
	r.households.Replace(nil)
	r.selected.Store(nil)
}

// SelectHousehold sets the currently viewed household. nil clears it.
func (r *HouseholdRepository) SelectHousehold(h *model.Household) {
	if h == nil {
		r.selected.Store(nil)
		return
	}
	cp := h.Clone()
	r.selected.Store(&cp)
}

// SelectedHousehold returns a copy of the currently viewed household.
func (r *HouseholdRepository) SelectedHousehold() (model.Household, bool) {
	h := r.selected.Get()
	if h == nil {
		return model.Household{}, false
	}
	return h.Clone(), true
}

// Cached returns the cached household with id.
func (r *HouseholdRepository) Cached(id string) (model.Household, bool) {
	h, ok := r.households.Find(byHouseholdUID(id))
	if !ok {
		return model.Household{}, false
	}
	return h.Clone(), true
}

// CheckIfHouseholdNameExists reports whether a cached household is named
// exactly name.
func (r *HouseholdRepository) CheckIfHouseholdNameExists(name string) bool {
	_, ok := r.households.Find(func(h model.Household) bool { return h.Name == name })
	return ok
}

// modify reads the household, applies fn to a copy and writes the fields fn
// returns. fn reports false when nothing needs writing. A household deleted
// between the read and the write counts as done.
func (r *HouseholdRepository) modify(ctx context.Context, op, id string, fn func(h *model.Household) (map[string]any, bool)) (model.Household, error) {
	h, err := r.GetHousehold(ctx, id)
	if errors.Is(err, ErrHouseholdNotFound) {
		return model.Household{}, err
	}
	if err != nil {
		return model.Household{}, r.report.fail(op, err, "household_id", id)
	}
	h = h.Clone()
	fields, changed := fn(&h)
	if !changed {
		return h, nil
	}
	if err := r.store.Update(ctx, householdRef(id), fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return h, nil
		}
		return model.Household{}, r.report.fail(op, err, "household_id", id)
	}
	r.applyLocal(h)
	return h, nil
}

func (r *HouseholdRepository) Rename(ctx context.Context, id, name string) error {
	_, err := r.modify(ctx, "rename household", id, func(h *model.Household) (map[string]any, bool) {
		if h.Name == name {
			return nil, false
		}
		h.Name = name
		return map[string]any{"name": name}, true
	})
	return err
}

// AddMember adds userID to the member set. Adding an existing member is a no-op.
func (r *HouseholdRepository) AddMember(ctx context.Context, id, userID string) (model.Household, error) {
	return r.modify(ctx, "add member", id, func(h *model.Household) (map[string]any, bool) {
		if h.HasMember(userID) {
			return nil, false
		}
		h.Members = model.MemberSet(append(h.Members, userID)...)
		return map[string]any{"members": h.Members}, true
	})
}

// RemoveMember removes userID and returns the household as written.
func (r *HouseholdRepository) RemoveMember(ctx context.Context, id, userID string) (model.Household, error) {
	return r.modify(ctx, "remove member", id, func(h *model.Household) (map[string]any, bool) {
		members, changed := model.Without(h.Members, userID)
		if !changed {
			return nil, false
		}
		h.Members = members
		delete(h.RatPoints, userID)
		delete(h.StinkyPoints, userID)
		return map[string]any{
			"members":      h.Members,
			"ratPoints":    h.RatPoints,
			"stinkyPoints": h.StinkyPoints,
		}, true
	})
}

func (r *HouseholdRepository) AddRatPoints(ctx context.Context, id, userID string, delta int) error {
	return r.addPoints(ctx, id, userID, delta, "ratPoints", func(h *model.Household) map[string]int { return h.RatPoints })
}

func (r *HouseholdRepository) AddStinkyPoints(ctx context.Context, id, userID string, delta int) error {
	return r.addPoints(ctx, id, userID, delta, "stinkyPoints", func(h *model.Household) map[string]int { return h.StinkyPoints })
}

func (r *HouseholdRepository) addPoints(ctx context.Context, id, userID string, delta int, field string, points func(*model.Household) map[string]int) error {
	_, err := r.modify(ctx, "update points", id, func(h *model.Household) (map[string]any, bool) {
		if delta == 0 || !h.HasMember(userID) {
			return nil, false
		}
		m := points(h)
		m[userID] += delta
		return map[string]any{field: m}, true
	})
	return err
}

// ShareRecipe appends recipeID to the household's shared recipes.
func (r *HouseholdRepository) ShareRecipe(ctx context.Context, id, recipeID string) error {
	_, err := r.modify(ctx, "share recipe", id, func(h *model.Household) (map[string]any, bool) {
		shared, changed := model.AppendUnique(h.SharedRecipeIDs, recipeID)
		h.SharedRecipeIDs = shared
		return map[string]any{"sharedRecipes": shared}, changed
	})
	return err
}

func (r *HouseholdRepository) UnshareRecipe(ctx context.Context, id, recipeID string) error {
	_, err := r.modify(ctx, "unshare recipe", id, func(h *model.Household) (map[string]any, bool) {
		shared, changed := model.Without(h.SharedRecipeIDs, recipeID)
		h.SharedRecipeIDs = shared
		return map[string]any{"sharedRecipes": shared}, changed
	})
	return err
}
