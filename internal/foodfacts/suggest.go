package foodfacts

import (
	"strings"

	"github.com/dukerupert/pantry/internal/model"
)

// Suggest returns the likely category and storage location for a food name.
// It matches case-insensitively, exact names first, then keywords.
func Suggest(name string) (model.Category, model.Location) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return model.CategoryOther, model.LocationPantry
	}

	category := model.CategoryOther
	if c, ok := exactMatch[n]; ok {
		category = c
	} else {
		for _, e := range keywordMatches {
			if strings.Contains(n, e.keyword) {
				category = e.category
				break
			}
		}
	}

	return category, LocationFor(category, n)
}

// LocationFor returns where an item of category named name is usually kept.
func LocationFor(category model.Category, name string) model.Location {
	if strings.Contains(strings.ToLower(name), "frozen") {
		return model.LocationFreezer
	}
	if loc, ok := defaultLocation[category]; ok {
		return loc
	}
	return model.LocationPantry
}

var defaultLocation = map[model.Category]model.Location{
	model.CategoryFruit:     model.LocationPantry,
	model.CategoryVegetable: model.LocationFridge,
	model.CategoryMeat:      model.LocationFridge,
	model.CategoryFish:      model.LocationFridge,
	model.CategoryDairy:     model.LocationFridge,
	model.CategoryGrain:     model.LocationPantry,
	model.CategoryBeverage:  model.LocationPantry,
	model.CategoryFrozen:    model.LocationFreezer,
	model.CategorySnack:     model.LocationPantry,
	model.CategoryOther:     model.LocationPantry,
}

var exactMatch = map[string]model.Category{
	"apple":       model.CategoryFruit,
	"apples":      model.CategoryFruit,
	"banana":      model.CategoryFruit,
	"bananas":     model.CategoryFruit,
	"orange":      model.CategoryFruit,
	"oranges":     model.CategoryFruit,
	"lemon":       model.CategoryFruit,
	"lime":        model.CategoryFruit,
	"grapes":      model.CategoryFruit,
	"pear":        model.CategoryFruit,
	"peach":       model.CategoryFruit,
	"mango":       model.CategoryFruit,
	"avocado":     model.CategoryFruit,
	"tomato":      model.CategoryVegetable,
	"tomatoes":    model.CategoryVegetable,
	"potato":      model.CategoryVegetable,
	"potatoes":    model.CategoryVegetable,
	"onion":       model.CategoryVegetable,
	"onions":      model.CategoryVegetable,
	"garlic":      model.CategoryVegetable,
	"lettuce":     model.CategoryVegetable,
	"spinach":     model.CategoryVegetable,
	"broccoli":    model.CategoryVegetable,
	"carrots":     model.CategoryVegetable,
	"cucumber":    model.CategoryVegetable,
	"zucchini":    model.CategoryVegetable,
	"milk":        model.CategoryDairy,
	"butter":      model.CategoryDairy,
	"eggs":        model.CategoryDairy,
	"yogurt":      model.CategoryDairy,
	"yoghurt":     model.CategoryDairy,
	"cream":       model.CategoryDairy,
	"bread":       model.CategoryGrain,
	"rice":        model.CategoryGrain,
	"pasta":       model.CategoryGrain,
	"flour":       model.CategoryGrain,
	"oats":        model.CategoryGrain,
	"cereal":      model.CategoryGrain,
	"chicken":     model.CategoryMeat,
	"beef":        model.CategoryMeat,
	"pork":        model.CategoryMeat,
	"bacon":       model.CategoryMeat,
	"ham":         model.CategoryMeat,
	"salmon":      model.CategoryFish,
	"tuna":        model.CategoryFish,
	"shrimp":      model.CategoryFish,
	"cod":         model.CategoryFish,
	"coffee":      model.CategoryBeverage,
	"tea":         model.CategoryBeverage,
	"juice":       model.CategoryBeverage,
	"water":       model.CategoryBeverage,
	"chips":       model.CategorySnack,
	"crackers":    model.CategorySnack,
	"cookies":     model.CategorySnack,
	"chocolate":   model.CategorySnack,
	"ice cream":   model.CategoryFrozen,
	"frozen peas": model.CategoryFrozen,
}

type keywordEntry struct {
	keyword  string
	category model.Category
}

// Longer, more specific keywords come first.
var keywordMatches = []keywordEntry{
	{"ice cream", model.CategoryFrozen},
	{"frozen", model.CategoryFrozen},
	{"cheese", model.CategoryDairy},
	{"yogurt", model.CategoryDairy},
	{"yoghurt", model.CategoryDairy},
	{"milk", model.CategoryDairy},
	{"sausage", model.CategoryMeat},
	{"chicken", model.CategoryMeat},
	{"beef", model.CategoryMeat},
	{"steak", model.CategoryMeat},
	{"mince", model.CategoryMeat},
	{"salmon", model.CategoryFish},
	{"fish", model.CategoryFish},
	{"prawn", model.CategoryFish},
	{"bread", model.CategoryGrain},
	{"noodle", model.CategoryGrain},
	{"pasta", model.CategoryGrain},
	{"rice", model.CategoryGrain},
	{"juice", model.CategoryBeverage},
	{"soda", model.CategoryBeverage},
	{"beer", model.CategoryBeverage},
	{"wine", model.CategoryBeverage},
	{"berries", model.CategoryFruit},
	{"berry", model.CategoryFruit},
	{"apple", model.CategoryFruit},
	{"salad", model.CategoryVegetable},
	{"pepper", model.CategoryVegetable},
	{"bean", model.CategoryVegetable},
	{"chip", model.CategorySnack},
	{"biscuit", model.CategorySnack},
	{"bar", model.CategorySnack},
}

// tagCategories maps Open Food Facts category tags onto categories.
var tagCategories = []keywordEntry{
	{"frozen", model.CategoryFrozen},
	{"dair", model.CategoryDairy},
	{"chees", model.CategoryDairy},
	{"yogurt", model.CategoryDairy},
	{"meat", model.CategoryMeat},
	{"seafood", model.CategoryFish},
	{"fish", model.CategoryFish},
	{"fruit", model.CategoryFruit},
	{"vegetable", model.CategoryVegetable},
	{"cereal", model.CategoryGrain},
	{"bread", model.CategoryGrain},
	{"pasta", model.CategoryGrain},
	{"beverage", model.CategoryBeverage},
	{"drink", model.CategoryBeverage},
	{"snack", model.CategorySnack},
	{"sweet", model.CategorySnack},
}

// categoryFromTags picks a category from tags like "en:dairies". The most
// specific tag is last, so tags are scanned from the end.
func categoryFromTags(tags []string) model.Category {
	for i := len(tags) - 1; i >= 0; i-- {
		tag := strings.ToLower(tags[i])
		for _, e := range tagCategories {
			if strings.Contains(tag, e.keyword) {
				return e.category
			}
		}
	}
	return model.CategoryOther
}
