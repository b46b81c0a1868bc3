package repository

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/pantry/internal/cache"
	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/expiry"
	"github.com/dukerupert/pantry/internal/listener"
	"github.com/dukerupert/pantry/internal/model"
)

// FoodItemRepository owns the cache of one household's food items and the
// item selected for detail views.
type FoodItemRepository struct {
	store    docstore.Store
	items    *cache.List[model.FoodItem]
	selected *cache.Value[*model.FoodItem]
	listener *listener.Manager[model.FoodItem]
	report   reporter
	logger   *slog.Logger
	nowFn    func() time.Time

	// switching serialises scope changes. Lock order: switching, then the
	// listener's lock, then mu.
	switching sync.Mutex

	// mu guards scope and epoch, and every replacement of items, so that
	// readers see a scope with its own household's items.
	mu sync.Mutex
	// scope is the household whose items the cache holds.
	scope string
	// epoch advances whenever scope changes.
	epoch uint64
	// repairing marks items whose EXPIRED rewrite has been issued and not
	// yet observed back.
	repairing map[string]struct{}
}

func NewFoodItemRepository(store docstore.Store, slot *ErrorSlot, logger *slog.Logger) *FoodItemRepository {
	logger = logger.With("component", "food_items")
	r := &FoodItemRepository{
		store:     store,
		items:     cache.NewList[model.FoodItem](),
		selected:  cache.NewValue[*model.FoodItem](nil),
		report:    reporter{name: "food_items", slot: slot, logger: logger},
		logger:    logger,
		nowFn:     time.Now,
		repairing: make(map[string]struct{}),
	}
	r.listener = listener.New("food_items", store, DecodeFoodItem, r.apply, logger)
	return r
}

func itemsCollection(householdID string) string {
	return docstore.Path(householdsCollection, householdID, "items")
}

func itemRef(householdID, uid string) docstore.Ref {
	return docstore.Doc(itemsCollection(householdID), uid)
}

func byItemUID(uid string) func(model.FoodItem) bool {
	return func(item model.FoodItem) bool { return item.UID == uid }
}

// Items is the observable item cache. It holds stored values; use ReadItems
// for the repaired view.
func (r *FoodItemRepository) Items() *cache.List[model.FoodItem] {
	return r.items
}

// Selected is the observable item open in a detail view; nil means none.
func (r *FoodItemRepository) Selected() *cache.Value[*model.FoodItem] {
	return r.selected
}

// Scope returns the household whose items the cache holds.
func (r *FoodItemRepository) Scope() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope
}

func (r *FoodItemRepository) apply(householdID string, items []model.FoodItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if householdID != r.scope {
		return
	}
	for uid := range r.repairing {
		i := indexOfItem(items, uid)
		if i < 0 || items[i].Status == model.StatusExpired {
			delete(r.repairing, uid)
		}
	}
	r.items.Replace(items)
}

// setScopeLocked points the cache at householdID and empties it.
func (r *FoodItemRepository) setScopeLocked(householdID string) {
	r.scope = householdID
	r.epoch++
	clear(r.repairing)
	r.items.Replace(nil)
}

// view returns the cached items with the household they belong to.
func (r *FoodItemRepository) view() (string, uint64, []model.FoodItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope, r.epoch, r.items.Items()
}

func indexOfItem(items []model.FoodItem, uid string) int {
	for i, item := range items {
		if item.UID == uid {
			return i
		}
	}
	return -1
}

// optimistic applies fn to the cache when no listener is authoritative and
// the cache holds householdID's items, or holds nothing yet.
func (r *FoodItemRepository) optimistic(householdID string, fn func(*cache.List[model.FoodItem])) {
	if _, active := r.listener.Active(); active {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scope != householdID {
		if r.scope != "" {
			return
		}
		r.scope = householdID
		r.epoch++
	}
	fn(r.items)
}

// AddFoodItem stores item under householdID and returns it with its uid set.
func (r *FoodItemRepository) AddFoodItem(ctx context.Context, householdID string, item model.FoodItem) (model.FoodItem, error) {
	if item.UID == "" {
		item.UID = uuid.NewString()
	}
	if err := r.write(ctx, householdID, item); err != nil {
		return model.FoodItem{}, r.report.fail("add food item", err, "household_id", householdID, "item_id", item.UID)
	}
	r.optimistic(householdID, func(l *cache.List[model.FoodItem]) {
		l.Upsert(byItemUID(item.UID), item)
	})
	return item, nil
}

// UpdateFoodItem overwrites the whole item document.
func (r *FoodItemRepository) UpdateFoodItem(ctx context.Context, householdID string, item model.FoodItem) error {
	if err := r.write(ctx, householdID, item); err != nil {
		return r.report.fail("update food item", err, "household_id", householdID, "item_id", item.UID)
	}
	r.optimistic(householdID, func(l *cache.List[model.FoodItem]) {
		l.Upsert(byItemUID(item.UID), item)
	})
	return nil
}

func (r *FoodItemRepository) write(ctx context.Context, householdID string, item model.FoodItem) error {
	data, err := EncodeFoodItem(item)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, itemRef(householdID, item.UID), data)
}

// DeleteFoodItem removes an item. Deleting a missing item succeeds.
func (r *FoodItemRepository) DeleteFoodItem(ctx context.Context, householdID, uid string) error {
	if err := r.store.Delete(ctx, itemRef(householdID, uid)); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return r.report.fail("delete food item", err, "household_id", householdID, "item_id", uid)
	}
	r.optimistic(householdID, func(l *cache.List[model.FoodItem]) {
		l.Remove(byItemUID(uid))
	})
	r.selected.Swap(func(cur *model.FoodItem) *model.FoodItem {
		if cur != nil && cur.UID == uid {
			return nil
		}
		return cur
	})
	return nil
}

// DeleteAllFoodItems removes every item of a household.
func (r *FoodItemRepository) DeleteAllFoodItems(ctx context.Context, householdID string) error {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: itemsCollection(householdID)})
	if err != nil {
		return r.report.fail("delete food items", err, "household_id", householdID)
	}
	var errs []error
	for _, doc := range docs {
		if err := r.DeleteFoodItem(ctx, householdID, doc.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetFoodItems fetches a household's items once. A remote error yields an
// empty result and leaves the cache alone.
func (r *FoodItemRepository) GetFoodItems(ctx context.Context, householdID string) []model.FoodItem {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: itemsCollection(householdID)})
	if err != nil {
		r.logger.Error("get food items", "household_id", householdID, "error", err)
		return nil
	}
	items := make([]model.FoodItem, 0, len(docs))
	for _, doc := range docs {
		item, err := DecodeFoodItem(doc)
		if err != nil {
			r.logger.Warn("rejected document", "household_id", householdID, "item_id", doc.ID, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items
}

// StartListeningForFoodItems observes householdID's items. Switching to a
// different household empties the cache until the first snapshot arrives.
// The old subscription is cancelled before the new scope is published, so no
// reader ever pairs one household's items with another household's id.
func (r *FoodItemRepository) StartListeningForFoodItems(ctx context.Context, householdID string) error {
	r.switching.Lock()
	defer r.switching.Unlock()

	if r.Scope() != householdID {
		r.listener.StopListening()
		r.mu.Lock()
		r.setScopeLocked(householdID)
		r.mu.Unlock()
	}

	scope := listener.Scope{
		Key:   householdID,
		Query: docstore.Query{Collection: itemsCollection(householdID)},
	}
	if err := r.listener.StartListening(ctx, scope); err != nil {
		return r.report.fail("load food items", err, "household_id", householdID)
	}
	return nil
}

func (r *FoodItemRepository) StopListeningForFoodItems() {
	r.listener.StopListening()
}

// Reset stops listening and forgets the cached household.
func (r *FoodItemRepository) Reset() {
	r.switching.Lock()
	defer r.switching.Unlock()
	r.listener.StopListening()
	r.mu.Lock()
	r.setScopeLocked("")
	r.mu.Unlock()
	r.selected.Store(nil)
}

func (r *FoodItemRepository) SelectFoodItem(item model.FoodItem) {
	r.selected.Store(&item)
}

func (r *FoodItemRepository) UnselectFoodItem() {
	r.selected.Store(nil)
}

// ReadItems returns the cached items with expired statuses repaired.
func (r *FoodItemRepository) ReadItems(ctx context.Context) []model.FoodItem {
	householdID, epoch, items := r.view()
	out := make([]model.FoodItem, len(items))
	for i, item := range items {
		out[i], _ = r.repair(ctx, householdID, epoch, item)
	}
	return out
}

// ReadItem returns item as it should be displayed, repairing its status when
// the expiry date has passed.
func (r *FoodItemRepository) ReadItem(ctx context.Context, householdID string, item model.FoodItem) model.FoodItem {
	r.mu.Lock()
	epoch := r.epoch
	r.mu.Unlock()
	item, _ = r.repair(ctx, householdID, epoch, item)
	return item
}

// RepairExpired runs the repairing read over the cache and reports how many
// rewrites it issued.
func (r *FoodItemRepository) RepairExpired(ctx context.Context) int {
	householdID, epoch, items := r.view()
	n := 0
	for _, item := range items {
		if _, issued := r.repair(ctx, householdID, epoch, item); issued {
			n++
		}
	}
	return n
}

// repair rewrites an item whose expiry date has passed as EXPIRED. Each item
// is rewritten at most once until the store reflects the change. Nothing is
// written when the cache has changed household since epoch was read.
func (r *FoodItemRepository) repair(ctx context.Context, householdID string, epoch uint64, item model.FoodItem) (model.FoodItem, bool) {
	if householdID == "" || !expiry.NeedsRepair(item, r.nowFn()) {
		return item, false
	}
	fixed := item
	fixed.Status = model.StatusExpired

	r.mu.Lock()
	if epoch != r.epoch {
		r.mu.Unlock()
		return fixed, false
	}
	if _, busy := r.repairing[item.UID]; busy {
		r.mu.Unlock()
		return fixed, false
	}
	r.repairing[item.UID] = struct{}{}
	r.mu.Unlock()

	r.logger.Info("repairing expired item", "household_id", householdID, "item_id", item.UID)
	if err := r.UpdateFoodItem(ctx, householdID, fixed); err != nil {
		r.mu.Lock()
		delete(r.repairing, item.UID)
		r.mu.Unlock()
		return fixed, true
	}
	r.selected.Swap(func(cur *model.FoodItem) *model.FoodItem {
		if cur == nil || cur.UID != item.UID {
			return cur
		}
		return &fixed
	})
	return fixed, true
}
