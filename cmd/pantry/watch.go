package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/pantry/internal/auth"
	"github.com/dukerupert/pantry/internal/coordinator"
	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/email"
	"github.com/dukerupert/pantry/internal/expiry"
	"github.com/dukerupert/pantry/internal/model"
	"github.com/dukerupert/pantry/internal/repository"
)

type watchOptions struct {
	userID   string
	name     string
	email    string
	expiring time.Duration
}

func newWatchCmd(a *app) *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sign in against a remote store and follow the user's households and items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireRemote(); err != nil {
				return err
			}
			store := docstore.NewClient(a.cfg.Remote.URL, a.cfg.Remote.Token, a.logger.With("component", "remote"))
			return a.watch(cmd.Context(), store, opts)
		},
	}
	cmd.Flags().StringVar(&opts.userID, "user", "", "user id to sign in as")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name used when the user document is created")
	cmd.Flags().StringVar(&opts.email, "email", "", "email used when the user document is created")
	cmd.Flags().DurationVar(&opts.expiring, "expiring-within", 72*time.Hour, "report items expiring within this window")
	cmd.MarkFlagRequired("user")
	return cmd
}

// watch runs the full sync layer until ctx is cancelled.
func (a *app) watch(ctx context.Context, store docstore.Store, wo watchOptions) error {
	session := auth.NewSession()
	session.SignIn(auth.Identity{UserID: wo.userID, DisplayName: wo.name, Email: wo.email})

	slot := repository.NewErrorSlot()
	users := repository.NewUserRepository(store, session, slot, a.logger)
	households := repository.NewHouseholdRepository(store, slot, a.logger)
	items := repository.NewFoodItemRepository(store, slot, a.logger)
	invitations := repository.NewInvitationRepository(store, slot, a.logger)
	var opts []coordinator.Option
	if a.cfg.Email.ServerToken != "" {
		opts = append(opts, coordinator.WithNotifier(email.NewClient(a.cfg.Email)))
	}
	coord := coordinator.New(session, users, households, items, invitations, a.logger, opts...)

	user, err := coord.SignIn(ctx)
	if err != nil {
		return err
	}
	defer coord.SignOut()
	a.logger.Info("signed in", "user_id", user.UID, "households", len(user.HouseholdUIDs))

	sweeper := expiry.NewSweeper(items, a.cfg.Expiry.SweepInterval, a.logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	hw := households.Households().Watch()
	defer hw.Close()
	iw := items.Items().Watch()
	defer iw.Close()
	inw := invitations.Invitations().Watch()
	defer inw.Close()
	ew := slot.Watch()
	defer ew.Close()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case snap := <-hw.C():
			a.logger.Info("households changed", "count", len(snap.Value), "version", snap.Version)
		case snap := <-iw.C():
			a.reportItems(ctx, items, snap.Value, wo.expiring)
		case snap := <-inw.C():
			for _, inv := range snap.Value {
				a.logger.Info("pending invitation", "invitation_id", inv.InvitationID, "household", inv.HouseholdName, "from", inv.InviterUserID)
			}
		case snap := <-ew.C():
			if snap.Value != "" {
				a.logger.Warn("sync error", "message", snap.Value)
			}
		}
	}
}

func (a *app) reportItems(ctx context.Context, repo *repository.FoodItemRepository, stored []model.FoodItem, within time.Duration) {
	view := repo.ReadItems(ctx)
	soon := expiry.ExpiringSoon(view, time.Now(), within)
	a.logger.Info("items changed", "household_id", repo.Scope(), "count", len(stored), "expiring_soon", len(soon))
	for _, item := range soon {
		a.logger.Info("expiring soon", "item_id", item.UID, "name", item.FoodFacts.Name, "days", expiry.DaysUntil(*item.ExpiryDate, time.Now()))
	}
}
