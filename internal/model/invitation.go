package model

import "time"

// Invitation exists only until it is accepted or declined; resolving it
// deletes the document.
type Invitation struct {
	InvitationID  string    `json:"invitationId" validate:"required"`
	HouseholdID   string    `json:"householdId" validate:"required"`
	HouseholdName string    `json:"householdName"`
	InvitedUserID string    `json:"invitedUserId" validate:"required"`
	InviterUserID string    `json:"inviterUserId" validate:"required"`
	Timestamp     time.Time `json:"timestamp"`
}
