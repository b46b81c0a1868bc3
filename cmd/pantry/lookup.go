package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/dukerupert/pantry/internal/foodfacts"
	"github.com/dukerupert/pantry/internal/model"
)

type lookupResult struct {
	Facts    model.FoodFacts `json:"foodFacts"`
	Location model.Location  `json:"suggestedLocation"`
}

func newLookupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <barcode>",
		Short: "Look up a product by barcode and suggest where to keep it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := foodfacts.NewClient(a.cfg.FoodFacts, a.logger)
			facts, err := client.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			location := foodfacts.LocationFor(facts.Category, facts.Name)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(lookupResult{Facts: facts, Location: location})
		},
	}
}
