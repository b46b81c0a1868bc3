package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukerupert/pantry/internal/auth"
	"github.com/dukerupert/pantry/internal/cache"
	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/listener"
	"github.com/dukerupert/pantry/internal/model"
)

const usersCollection = "users"

// ErrNotInHouseholdList is returned when selecting a household the user does
// not belong to.
var ErrNotInHouseholdList = errors.New("household is not in the user's household list")

// UserRepository owns the signed-in user's document.
type UserRepository struct {
	store    docstore.Store
	identity auth.Provider
	current  *cache.Value[*model.User]
	listener *listener.Manager[model.User]
	report   reporter
	logger   *slog.Logger
}

func NewUserRepository(store docstore.Store, identity auth.Provider, slot *ErrorSlot, logger *slog.Logger) *UserRepository {
	logger = logger.With("component", "users")
	r := &UserRepository{
		store:    store,
		identity: identity,
		current:  cache.NewValue[*model.User](nil),
		report:   reporter{name: "users", slot: slot, logger: logger},
		logger:   logger,
	}
	r.listener = listener.New("users", store, DecodeUser, r.apply, logger)
	return r
}

// Current is the observable signed-in user; nil before initialization.
func (r *UserRepository) Current() *cache.Value[*model.User] {
	return r.current
}

// CurrentUser returns a copy of the cached signed-in user.
func (r *UserRepository) CurrentUser() (model.User, bool) {
	u := r.current.Get()
	if u == nil {
		return model.User{}, false
	}
	return cloneUser(*u), true
}

func (r *UserRepository) apply(_ string, users []model.User) {
	if len(users) == 0 {
		return
	}
	u := users[0]
	r.current.Store(&u)
}

func userRef(id string) docstore.Ref {
	return docstore.Doc(usersCollection, id)
}

func cloneUser(u model.User) model.User {
	u.HouseholdUIDs = slices.Clone(u.HouseholdUIDs)
	u.RecipeUIDs = slices.Clone(u.RecipeUIDs)
	u.InvitationUIDs = slices.Clone(u.InvitationUIDs)
	return u
}

// InitializeUserData loads the signed-in user's document, creating it from the
// identity profile on first sign-in. It fails with auth.ErrNoIdentity when
// nobody is signed in.
func (r *UserRepository) InitializeUserData(ctx context.Context) (model.User, error) {
	id, err := auth.Require(r.identity)
	if err != nil {
		return model.User{}, err
	}

	doc, err := r.store.Get(ctx, userRef(id.UserID))
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		u := model.User{
			UID:            id.UserID,
			Username:       id.DisplayName,
			Email:          id.Email,
			PhotoURL:       id.PhotoURL,
			HouseholdUIDs:  []string{},
			RecipeUIDs:     []string{},
			InvitationUIDs: []string{},
		}
		data, err := EncodeUser(u)
		if err == nil {
			err = r.store.Set(ctx, userRef(u.UID), data)
		}
		if err != nil {
			return model.User{}, r.report.fail("create user", err, "user_id", u.UID)
		}
		r.logger.Info("created user", "user_id", u.UID)
		r.current.Store(&u)
		return cloneUser(u), nil
	case err != nil:
		return model.User{}, r.report.fail("load user", err, "user_id", id.UserID)
	}

	u, err := DecodeUser(doc)
	if err != nil {
		return model.User{}, r.report.fail("load user", err, "user_id", id.UserID)
	}
	r.current.Store(&u)
	return cloneUser(u), nil
}

// StartListeningForUser follows the signed-in user's document.
func (r *UserRepository) StartListeningForUser(ctx context.Context) error {
	id, err := auth.Require(r.identity)
	if err != nil {
		return err
	}
	scope := listener.Scope{
		Key:   id.UserID,
		Query: docstore.Query{Collection: usersCollection, IDs: []string{id.UserID}},
	}
	if err := r.listener.StartListening(ctx, scope); err != nil {
		return r.report.fail("load user", err, "user_id", id.UserID)
	}
	return nil
}

func (r *UserRepository) StopListening() {
	r.listener.StopListening()
}

// Reset stops listening and forgets the cached user.
func (r *UserRepository) Reset() {
	r.listener.StopListening()
	r.current.Store(nil)
}

// GetUser fetches a user document.
func (r *UserRepository) GetUser(ctx context.Context, userID string) (model.User, error) {
	doc, err := r.store.Get(ctx, userRef(userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	return DecodeUser(doc)
}

// modify is a read-modify-write of one user document. fn mutates the user and
// returns the fields to write, or false when nothing changed. A missing user
// is an error only when mustExist is set.
func (r *UserRepository) modify(ctx context.Context, op, userID string, mustExist bool, fn func(u *model.User) (map[string]any, bool)) error {
	if _, err := auth.Require(r.identity); err != nil {
		return err
	}
	u, err := r.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		if mustExist {
			return r.report.fail(op, err, "user_id", userID)
		}
		return nil
	}
	if err != nil {
		return r.report.fail(op, err, "user_id", userID)
	}
	fields, changed := fn(&u)
	if !changed {
		return nil
	}
	if err := r.store.Update(ctx, userRef(userID), fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		return r.report.fail(op, err, "user_id", userID)
	}
	if _, active := r.listener.Active(); !active {
		r.current.Swap(func(cur *model.User) *model.User {
			if cur == nil || cur.UID != userID {
				return cur
			}
			next := cloneUser(u)
			return &next
		})
	}
	return nil
}

// listEdit adds or removes id in one of the user's id lists.
func (r *UserRepository) listEdit(ctx context.Context, op, userID, field string, list func(*model.User) *[]string, id string, add bool) error {
	return r.modify(ctx, op, userID, add, func(u *model.User) (map[string]any, bool) {
		ids := list(u)
		var (
			next    []string
			changed bool
		)
		if add {
			next, changed = model.AppendUnique(*ids, id)
		} else {
			next, changed = model.Without(*ids, id)
		}
		if !changed {
			return nil, false
		}
		*ids = next
		fields := map[string]any{field: next}
		if field == "householdUIDs" && !add && u.SelectedHouseholdUID == id {
			u.SelectedHouseholdUID = ""
			fields["selectedHouseholdUID"] = ""
		}
		return fields, true
	})
}

func householdUIDs(u *model.User) *[]string  { return &u.HouseholdUIDs }
func recipeUIDs(u *model.User) *[]string     { return &u.RecipeUIDs }
func invitationUIDs(u *model.User) *[]string { return &u.InvitationUIDs }

func (r *UserRepository) AddHouseholdUID(ctx context.Context, userID, householdID string) error {
	return r.listEdit(ctx, "join household", userID, "householdUIDs", householdUIDs, householdID, true)
}

// DeleteHouseholdUID removes householdID from the user's list and clears the
// selection if it pointed there.
func (r *UserRepository) DeleteHouseholdUID(ctx context.Context, userID, householdID string) error {
	return r.listEdit(ctx, "leave household", userID, "householdUIDs", householdUIDs, householdID, false)
}

func (r *UserRepository) AddRecipeUID(ctx context.Context, userID, recipeID string) error {
	return r.listEdit(ctx, "save recipe", userID, "recipeUIDs", recipeUIDs, recipeID, true)
}

func (r *UserRepository) DeleteRecipeUID(ctx context.Context, userID, recipeID string) error {
	return r.listEdit(ctx, "remove recipe", userID, "recipeUIDs", recipeUIDs, recipeID, false)
}

func (r *UserRepository) AddInvitationUID(ctx context.Context, userID, invitationID string) error {
	return r.listEdit(ctx, "record invitation", userID, "invitationUIDs", invitationUIDs, invitationID, true)
}

func (r *UserRepository) DeleteInvitationUID(ctx context.Context, userID, invitationID string) error {
	return r.listEdit(ctx, "remove invitation", userID, "invitationUIDs", invitationUIDs, invitationID, false)
}

// UpdateSelectedHouseholdUID records the user's selected household. An empty
// householdID clears the selection.
func (r *UserRepository) UpdateSelectedHouseholdUID(ctx context.Context, userID, householdID string) error {
	var notMember bool
	err := r.modify(ctx, "select household", userID, true, func(u *model.User) (map[string]any, bool) {
		if householdID != "" && !slices.Contains(u.HouseholdUIDs, householdID) {
			notMember = true
			return nil, false
		}
		if u.SelectedHouseholdUID == householdID {
			return nil, false
		}
		u.SelectedHouseholdUID = householdID
		return map[string]any{"selectedHouseholdUID": householdID}, true
	})
	if err != nil {
		return err
	}
	if notMember {
		return fmt.Errorf("select household %s: %w", householdID, ErrNotInHouseholdList)
	}
	return nil
}

// SelectHousehold records householdID as the signed-in user's selection. A nil
// id is a no-op.
func (r *UserRepository) SelectHousehold(ctx context.Context, householdID *string) error {
	if householdID == nil {
		return nil
	}
	id, err := auth.Require(r.identity)
	if err != nil {
		return err
	}
	return r.UpdateSelectedHouseholdUID(ctx, id.UserID, *householdID)
}

// UpdateProfile changes the signed-in user's display name and photo.
func (r *UserRepository) UpdateProfile(ctx context.Context, username, photoURL string) error {
	id, err := auth.Require(r.identity)
	if err != nil {
		return err
	}
	return r.modify(ctx, "update profile", id.UserID, true, func(u *model.User) (map[string]any, bool) {
		if u.Username == username && u.PhotoURL == photoURL {
			return nil, false
		}
		u.Username, u.PhotoURL = username, photoURL
		return map[string]any{"username": username, "photoUrl": photoURL}, true
	})
}

// lookup runs batched queries and collects key → value pairs from every user
// found. Failed batches are logged and skipped.
func (r *UserRepository) lookup(ctx context.Context, values []string, build func([]string) docstore.Query, pair func(model.User) (string, string)) map[string]string {
	docs := queryBatches(ctx, r.store, values, build, func(err error) {
		r.logger.Error("user lookup", "error", err)
	})
	out := make(map[string]string, len(docs))
	for _, doc := range docs {
		u, err := DecodeUser(doc)
		if err != nil {
			r.logger.Warn("rejected document", "user_id", doc.ID, "error", err)
			continue
		}
		k, v := pair(u)
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// GetUserIDs maps each known email to its user id. Unknown emails are absent.
func (r *UserRepository) GetUserIDs(ctx context.Context, emails []string) map[string]string {
	return r.lookup(ctx, emails, func(chunk []string) docstore.Query {
		return docstore.Query{Collection: usersCollection}.Where("email", docstore.OpIn, chunk)
	}, func(u model.User) (string, string) { return u.Email, u.UID })
}

// GetUserEmails maps each known user id to its email.
func (r *UserRepository) GetUserEmails(ctx context.Context, ids []string) map[string]string {
	return r.lookup(ctx, ids, func(chunk []string) docstore.Query {
		return docstore.Query{Collection: usersCollection, IDs: chunk}
	}, func(u model.User) (string, string) { return u.UID, u.Email })
}

// GetUserNames maps each known user id to its username.
func (r *UserRepository) GetUserNames(ctx context.Context, ids []string) map[string]string {
	return r.lookup(ctx, ids, func(chunk []string) docstore.Query {
		return docstore.Query{Collection: usersCollection, IDs: chunk}
	}, func(u model.User) (string, string) { return u.UID, u.Username })
}
