package model

type User struct {
	UID                  string   `json:"uid" validate:"required"`
	Username             string   `json:"username"`
	Email                string   `json:"email"`
	PhotoURL             string   `json:"photoUrl,omitempty"`
	HouseholdUIDs        []string `json:"householdUIDs"`
	SelectedHouseholdUID string   `json:"selectedHouseholdUID,omitempty"`
	RecipeUIDs           []string `json:"recipeUIDs"`
	InvitationUIDs       []string `json:"invitationUIDs"`
}
