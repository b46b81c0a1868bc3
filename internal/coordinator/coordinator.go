// Package coordinator sequences operations that span several repositories.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukerupert/pantry/internal/auth"
	"github.com/dukerupert/pantry/internal/email"
	"github.com/dukerupert/pantry/internal/model"
	"github.com/dukerupert/pantry/internal/repository"
)

// Coordinator owns no cache. It only calls repository methods in an order
// that keeps the entities consistent if a sequence stops part way.
type Coordinator struct {
	identity    auth.Provider
	users       *repository.UserRepository
	households  *repository.HouseholdRepository
	items       *repository.FoodItemRepository
	invitations *repository.InvitationRepository
	notifier    Notifier
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Notifier tells an invited user about a new invitation.
type Notifier interface {
	SendInvitation(ctx context.Context, inv email.Invitation) error
}

type Option func(*Coordinator)

// WithNotifier sends a notice for every invitation created by SendInvitation.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

func New(identity auth.Provider, users *repository.UserRepository, households *repository.HouseholdRepository, items *repository.FoodItemRepository, invitations *repository.InvitationRepository, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		identity:    identity,
		users:       users,
		households:  households,
		items:       items,
		invitations: invitations,
		logger:      logger.With("component", "coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignIn loads the signed-in user and starts every listener the user needs:
// the user document, invitations, the user's households and the items of
// the selected household. The household listener follows later changes to
// the user's household list until SignOut.
func (c *Coordinator) SignIn(ctx context.Context) (model.User, error) {
	u, err := c.users.InitializeUserData(ctx)
	if err != nil {
		return model.User{}, fmt.Errorf("initialize user: %w", err)
	}
	if err := c.users.StartListeningForUser(ctx); err != nil {
		return model.User{}, err
	}
	if err := c.invitations.StartListeningForInvitations(ctx, u.UID); err != nil {
		c.logger.Warn("invitations unavailable", "user_id", u.UID, "error", err)
	}
	if err := c.households.StartListeningForHouseholds(ctx, u.HouseholdUIDs); err != nil {
		c.logger.Warn("households unavailable", "user_id", u.UID, "error", err)
	}

	selected := u.SelectedHouseholdUID
	if selected == "" && len(u.HouseholdUIDs) > 0 {
		selected = u.HouseholdUIDs[0]
	}
	if selected != "" {
		if err := c.SelectHousehold(ctx, selected); err != nil {
			c.logger.Warn("restore selected household", "household_id", selected, "error", err)
		}
	} else {
		c.households.SelectHousehold(nil)
	}

	c.follow(ctx, u.HouseholdUIDs)
	return u, nil
}

// follow re-scopes the household listener whenever the cached user's
// household list changes, and moves the selection off any household that
// leaves the list. known is the list the listeners were started with.
func (c *Coordinator) follow(ctx context.Context, known []string) {
	c.stopFollowing()

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	w := c.users.Current().Watch()
	go func() {
		defer close(done)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-w.C():
				if snap.Value == nil {
					continue
				}
				u := *snap.Value
				if err := c.households.StartListeningForHouseholds(ctx, u.HouseholdUIDs); err != nil {
					c.logger.Warn("households unavailable", "user_id", u.UID, "error", err)
				}
				c.dropRemoved(ctx, known, u)
				known = slices.Clone(u.HouseholdUIDs)
			}
		}
	}()
}

// dropRemoved deselects households in before that are no longer in the
// user's list. When the viewed household was one of them, the user's recorded
// selection or else the first remaining household is selected instead.
func (c *Coordinator) dropRemoved(ctx context.Context, before []string, u model.User) {
	lost := false
	for _, id := range before {
		if slices.Contains(u.HouseholdUIDs, id) {
			continue
		}
		if c.viewing(id) {
			lost = true
			c.logger.Info("viewed household removed", "household_id", id)
		}
		c.deselect(id)
	}
	if !lost {
		return
	}

	next := u.SelectedHouseholdUID
	if !slices.Contains(u.HouseholdUIDs, next) {
		next = ""
		if len(u.HouseholdUIDs) > 0 {
			next = u.HouseholdUIDs[0]
		}
	}
	if next == "" {
		return
	}
	if err := c.SelectHousehold(ctx, next); err != nil {
		c.logger.Warn("select remaining household", "household_id", next, "error", err)
	}
}

// viewing reports whether householdID is the selected household or the one
// whose items are cached.
func (c *Coordinator) viewing(householdID string) bool {
	if h, ok := c.households.SelectedHousehold(); ok && h.UID == householdID {
		return true
	}
	return c.items.Scope() == householdID
}

func (c *Coordinator) stopFollowing() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// SignOut stops every listener and clears all cached state.
func (c *Coordinator) SignOut() {
	c.stopFollowing()
	c.items.Reset()
	c.households.Reset()
	c.invitations.Reset()
	c.users.Reset()
}

// SelectHousehold makes householdID the viewed household, records it on the
// user and switches the item listener to it.
func (c *Coordinator) SelectHousehold(ctx context.Context, householdID string) error {
	h, ok := c.households.Cached(householdID)
	if !ok {
		var err error
		if h, err = c.households.GetHousehold(ctx, householdID); err != nil {
			return fmt.Errorf("select household: %w", err)
		}
	}
	if err := c.users.SelectHousehold(ctx, &householdID); err != nil {
		return err
	}
	c.households.SelectHousehold(&h)
	return c.items.StartListeningForFoodItems(ctx, householdID)
}

// ClearSelection leaves every household unselected.
func (c *Coordinator) ClearSelection(ctx context.Context) error {
	c.households.SelectHousehold(nil)
	c.items.Reset()
	id, err := auth.Require(c.identity)
	if err != nil {
		return err
	}
	return c.users.UpdateSelectedHouseholdUID(ctx, id.UserID, "")
}

// CreateHousehold creates a household with the signed-in user as its only
// member and selects it.
func (c *Coordinator) CreateHousehold(ctx context.Context, name string) (model.Household, error) {
	id, err := auth.Require(c.identity)
	if err != nil {
		return model.Household{}, err
	}
	h := model.Household{
		UID:             c.households.NewUID(),
		Name:            name,
		Members:         model.MemberSet(id.UserID),
		SharedRecipeIDs: []string{},
		RatPoints:       map[string]int{},
		StinkyPoints:    map[string]int{},
	}
	if err := c.households.AddHousehold(ctx, h); err != nil {
		return model.Household{}, err
	}
	if err := c.users.AddHouseholdUID(ctx, id.UserID, h.UID); err != nil {
		return model.Household{}, err
	}
	if err := c.SelectHousehold(ctx, h.UID); err != nil {
		return model.Household{}, err
	}
	c.logger.Info("created household", "household_id", h.UID)
	return h, nil
}

// LeaveHousehold removes the signed-in user from a household. The last member
// leaving deletes the household and its items.
func (c *Coordinator) LeaveHousehold(ctx context.Context, householdID string) error {
	id, err := auth.Require(c.identity)
	if err != nil {
		return err
	}
	h, err := c.households.RemoveMember(ctx, householdID, id.UserID)
	gone := errors.Is(err, repository.ErrHouseholdNotFound)
	if err != nil && !gone {
		return err
	}
	if err := c.users.DeleteHouseholdUID(ctx, id.UserID, householdID); err != nil {
		return err
	}
	c.deselect(householdID)

	if !gone && len(h.Members) == 0 {
		if err := c.items.DeleteAllFoodItems(ctx, householdID); err != nil {
			return err
		}
		return c.households.DeleteHouseholdByID(ctx, householdID)
	}
	return nil
}

// DeleteHousehold deletes a household, its items and every member's link to it.
func (c *Coordinator) DeleteHousehold(ctx context.Context, householdID string) error {
	if _, err := auth.Require(c.identity); err != nil {
		return err
	}
	h, err := c.households.GetHousehold(ctx, householdID)
	if errors.Is(err, repository.ErrHouseholdNotFound) {
		c.deselect(householdID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete household: %w", err)
	}

	if err := c.items.DeleteAllFoodItems(ctx, householdID); err != nil {
		return err
	}
	var errs []error
	for _, member := range h.Members {
		if err := c.users.DeleteHouseholdUID(ctx, member, householdID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if err := c.households.DeleteHouseholdByID(ctx, householdID); err != nil {
		return err
	}
	c.deselect(householdID)
	c.logger.Info("deleted household", "household_id", householdID)
	return nil
}

// deselect drops local selection state that points at householdID.
func (c *Coordinator) deselect(householdID string) {
	if h, ok := c.households.SelectedHousehold(); ok && h.UID == householdID {
		c.households.SelectHousehold(nil)
	}
	if c.items.Scope() == householdID {
		c.items.Reset()
	}
}

// SendInvitation invites invitedUserID to household. The invitation is
// recorded on the invited user afterwards; if that fails the invitation still
// exists and is found by query. Notice delivery failures are only logged.
func (c *Coordinator) SendInvitation(ctx context.Context, household model.Household, invitedUserID string) (model.Invitation, error) {
	id, err := auth.Require(c.identity)
	if err != nil {
		return model.Invitation{}, err
	}
	inv, err := c.invitations.CreateInvitation(ctx, household, invitedUserID, id.UserID)
	if err != nil {
		return model.Invitation{}, err
	}
	if err := c.users.AddInvitationUID(ctx, invitedUserID, inv.InvitationID); err != nil {
		c.logger.Warn("record invitation on user", "invitation_id", inv.InvitationID, "user_id", invitedUserID, "error", err)
	}
	c.notify(ctx, inv, id)
	return inv, nil
}

func (c *Coordinator) notify(ctx context.Context, inv model.Invitation, sender auth.Identity) {
	if c.notifier == nil {
		return
	}
	to := c.users.GetUserEmails(ctx, []string{inv.InvitedUserID})[inv.InvitedUserID]
	if to == "" {
		c.logger.Warn("invitation notice skipped: no email", "invitation_id", inv.InvitationID, "user_id", inv.InvitedUserID)
		return
	}
	inviter := sender.DisplayName
	if u, ok := c.users.CurrentUser(); ok && u.UID == sender.UserID && u.Username != "" {
		inviter = u.Username
	}
	err := c.notifier.SendInvitation(ctx, email.Invitation{
		ToEmail:       to,
		HouseholdName: inv.HouseholdName,
		InviterName:   inviter,
	})
	if err != nil {
		c.logger.Warn("send invitation notice", "invitation_id", inv.InvitationID, "error", err)
	}
}

// AcceptInvitation grants membership, links the household to the user, then
// deletes the invitation. Every step is idempotent so a retry after a partial
// run completes it. An invitation to a household that no longer exists is
// discarded and reported as ErrHouseholdNotFound.
func (c *Coordinator) AcceptInvitation(ctx context.Context, inv model.Invitation) error {
	if _, err := auth.Require(c.identity); err != nil {
		return err
	}
	if _, err := c.households.AddMember(ctx, inv.HouseholdID, inv.InvitedUserID); err != nil {
		if errors.Is(err, repository.ErrHouseholdNotFound) {
			if derr := c.discard(ctx, inv); derr != nil {
				return errors.Join(err, derr)
			}
		}
		return fmt.Errorf("accept invitation: %w", err)
	}
	if err := c.users.AddHouseholdUID(ctx, inv.InvitedUserID, inv.HouseholdID); err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	if err := c.discard(ctx, inv); err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	c.logger.Info("accepted invitation", "invitation_id", inv.InvitationID, "household_id", inv.HouseholdID)
	return nil
}

// DeclineInvitation deletes the invitation without touching membership.
func (c *Coordinator) DeclineInvitation(ctx context.Context, inv model.Invitation) error {
	if _, err := auth.Require(c.identity); err != nil {
		return err
	}
	return c.discard(ctx, inv)
}

func (c *Coordinator) discard(ctx context.Context, inv model.Invitation) error {
	if err := c.invitations.DeleteInvitation(ctx, inv.InvitationID); err != nil {
		return err
	}
	if err := c.users.DeleteInvitationUID(ctx, inv.InvitedUserID, inv.InvitationID); err != nil {
		c.logger.Warn("remove invitation from user", "invitation_id", inv.InvitationID, "error", err)
	}
	return nil
}
