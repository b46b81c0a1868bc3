package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/pantry/internal/cache"
	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/listener"
	"github.com/dukerupert/pantry/internal/model"
)

const invitationsCollection = "invitations"

var ErrInvitationNotFound = errors.New("invitation not found")

// InvitationRepository owns the cache of invitations addressed to the
// signed-in user.
type InvitationRepository struct {
	store       docstore.Store
	invitations *cache.List[model.Invitation]
	listener    *listener.Manager[model.Invitation]
	report      reporter
	logger      *slog.Logger
	nowFn       func() time.Time
}

func NewInvitationRepository(store docstore.Store, slot *ErrorSlot, logger *slog.Logger) *InvitationRepository {
	logger = logger.With("component", "invitations")
	r := &InvitationRepository{
		store:       store,
		invitations: cache.NewList[model.Invitation](),
		report:      reporter{name: "invitations", slot: slot, logger: logger},
		logger:      logger,
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
	r.listener = listener.New("invitations", store, DecodeInvitation, func(_ string, invs []model.Invitation) {
		r.invitations.Replace(invs)
	}, logger)
	return r
}

// Invitations is the observable list of pending invitations for the user.
func (r *InvitationRepository) Invitations() *cache.List[model.Invitation] {
	return r.invitations
}

func invitationRef(id string) docstore.Ref {
	return docstore.Doc(invitationsCollection, id)
}

// CreateInvitation stores a new invitation to household for invitedUserID.
func (r *InvitationRepository) CreateInvitation(ctx context.Context, household model.Household, invitedUserID, inviterUserID string) (model.Invitation, error) {
	inv := model.Invitation{
		InvitationID:  uuid.NewString(),
		HouseholdID:   household.UID,
		HouseholdName: household.Name,
		InvitedUserID: invitedUserID,
		InviterUserID: inviterUserID,
		Timestamp:     r.nowFn(),
	}
	data, err := EncodeInvitation(inv)
	if err == nil {
		err = r.store.Set(ctx, invitationRef(inv.InvitationID), data)
	}
	if err != nil {
		return model.Invitation{}, r.report.fail("send invitation", err, "household_id", household.UID, "invited_user_id", invitedUserID)
	}
	return inv, nil
}

func (r *InvitationRepository) GetInvitation(ctx context.Context, id string) (model.Invitation, error) {
	doc, err := r.store.Get(ctx, invitationRef(id))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Invitation{}, ErrInvitationNotFound
	}
	if err != nil {
		return model.Invitation{}, fmt.Errorf("get invitation %s: %w", id, err)
	}
	return DecodeInvitation(doc)
}

// DeleteInvitation removes an invitation. Deleting a missing invitation succeeds.
func (r *InvitationRepository) DeleteInvitation(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, invitationRef(id)); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return r.report.fail("remove invitation", err, "invitation_id", id)
	}
	if _, active := r.listener.Active(); !active {
		r.invitations.Remove(func(inv model.Invitation) bool { return inv.InvitationID == id })
	}
	return nil
}

func forUser(userID string) docstore.Query {
	return docstore.Query{Collection: invitationsCollection}.Where("invitedUserId", docstore.OpEqual, userID)
}

// GetInvitationsForUser fetches the invitations addressed to userID once. A
// remote error yields an empty result.
func (r *InvitationRepository) GetInvitationsForUser(ctx context.Context, userID string) []model.Invitation {
	docs, err := r.store.Query(ctx, forUser(userID))
	if err != nil {
		r.logger.Error("get invitations", "user_id", userID, "error", err)
		return nil
	}
	out := make([]model.Invitation, 0, len(docs))
	for _, doc := range docs {
		inv, err := DecodeInvitation(doc)
		if err != nil {
			r.logger.Warn("rejected document", "invitation_id", doc.ID, "error", err)
			continue
		}
		out = append(out, inv)
	}
	return out
}

// StartListeningForInvitations observes the invitations addressed to userID.
func (r *InvitationRepository) StartListeningForInvitations(ctx context.Context, userID string) error {
	if err := r.listener.StartListening(ctx, listener.Scope{Key: userID, Query: forUser(userID)}); err != nil {
		return r.report.fail("load invitations", err, "user_id", userID)
	}
	return nil
}

func (r *InvitationRepository) StopListening() {
	r.listener.StopListening()
}

// Reset stops listening and empties the cache.
func (r *InvitationRepository) Reset() {
	r.listener.StopListening()
	r.invitations.Replace(nil)
}
