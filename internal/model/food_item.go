package model

import "time"

type Location string

const (
	LocationPantry  Location = "PANTRY"
	LocationFridge  Location = "FRIDGE"
	LocationFreezer Location = "FREEZER"
)

// Valid reports whether l is one of the known storage locations.
func (l Location) Valid() bool {
	switch l {
	case LocationPantry, LocationFridge, LocationFreezer:
		return true
	}
	return false
}

type Status string

const (
	StatusUnopened Status = "UNOPENED"
	StatusOpened   Status = "OPENED"
	StatusExpired  Status = "EXPIRED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnopened, StatusOpened, StatusExpired:
		return true
	}
	return false
}

type Unit string

const (
	UnitGram  Unit = "GRAM"
	UnitML    Unit = "ML"
	UnitCount Unit = "COUNT"
)

type Category string

const (
	CategoryFruit     Category = "FRUIT"
	CategoryVegetable Category = "VEGETABLE"
	CategoryMeat      Category = "MEAT"
	CategoryFish      Category = "FISH"
	CategoryDairy     Category = "DAIRY"
	CategoryGrain     Category = "GRAIN"
	CategoryBeverage  Category = "BEVERAGE"
	CategoryFrozen    Category = "FROZEN"
	CategorySnack     Category = "SNACK"
	CategoryOther     Category = "OTHER"
)

type Quantity struct {
	Amount float64 `json:"amount"`
	Unit   Unit    `json:"unit"`
}

// NutritionFacts are per 100g (or 100ml) values as reported by the food-facts source.
type NutritionFacts struct {
	EnergyKcal    float64 `json:"energyKcal"`
	Fat           float64 `json:"fat"`
	SaturatedFat  float64 `json:"saturatedFat"`
	Carbohydrates float64 `json:"carbohydrates"`
	Sugars        float64 `json:"sugars"`
	Proteins      float64 `json:"proteins"`
	Salt          float64 `json:"salt"`
}

type FoodFacts struct {
	Name           string         `json:"name" validate:"required"`
	Barcode        string         `json:"barcode"`
	Quantity       Quantity       `json:"quantity"`
	Category       Category       `json:"category"`
	NutritionFacts NutritionFacts `json:"nutritionFacts"`
	ImageURL       string         `json:"imageUrl"`
}

// FoodItem is a tracked perishable unit. The household it belongs to is the
// collection it was read from, not a field.
type FoodItem struct {
	UID        string     `json:"uid" validate:"required"`
	FoodFacts  FoodFacts  `json:"foodFacts"`
	Location   Location   `json:"location" validate:"required,enum"`
	BuyDate    time.Time  `json:"buyDate" validate:"required"`
	OpenDate   *time.Time `json:"openDate,omitempty"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
	Status     Status     `json:"status" validate:"required,enum"`
	Owner      string     `json:"owner" validate:"required"`
}
