// Package foodfacts looks up packaged food by barcode and suggests how to
// classify and store food by name.
package foodfacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/dukerupert/pantry/internal/model"
)

const (
	DefaultBaseURL = "https://world.openfoodfacts.org"
	cacheTTL       = 24 * time.Hour
)

var (
	ErrInvalidBarcode  = errors.New("invalid barcode")
	ErrProductNotFound = errors.New("product not found")
)

type Config struct {
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	UserAgent         string  `yaml:"user_agent"`
}

type entry struct {
	facts   model.FoodFacts
	fetched time.Time
}

// Client fetches products from an Open Food Facts compatible API. Results are
// cached; a failed refresh falls back to the cached product.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	group     singleflight.Group
	logger    *slog.Logger
	nowFn     func() time.Time

	mu    sync.RWMutex
	cache map[string]entry
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pantry/1.0"
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:    logger.With("component", "foodfacts"),
		nowFn:     time.Now,
		cache:     make(map[string]entry),
	}
}

// Lookup returns the product for barcode. Concurrent lookups of the same
// barcode share one request.
func (c *Client) Lookup(ctx context.Context, barcode string) (model.FoodFacts, error) {
	barcode = strings.TrimSpace(barcode)
	if !validBarcode(barcode) {
		return model.FoodFacts{}, fmt.Errorf("lookup %q: %w", barcode, ErrInvalidBarcode)
	}

	c.mu.RLock()
	cached, ok := c.cache[barcode]
	c.mu.RUnlock()
	if ok && c.nowFn().Sub(cached.fetched) < cacheTTL {
		return cached.facts, nil
	}

	v, err, _ := c.group.Do(barcode, func() (any, error) {
		return c.fetch(ctx, barcode)
	})
	if err != nil {
		if ok && !errors.Is(err, ErrProductNotFound) {
			c.logger.Warn("serving cached product after failed refresh", "barcode", barcode, "error", err)
			return cached.facts, nil
		}
		return model.FoodFacts{}, err
	}

	facts := v.(model.FoodFacts)
	c.mu.Lock()
	c.cache[barcode] = entry{facts: facts, fetched: c.nowFn()}
	c.mu.Unlock()
	return facts, nil
}

func validBarcode(s string) bool {
	if len(s) < 6 || len(s) > 14 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// flexFloat accepts numbers encoded either as JSON numbers or strings.
// Unparseable values read as zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	*f = flexFloat(v)
	return nil
}

type apiResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Product struct {
		ProductName         string    `json:"product_name"`
		ProductQuantity     flexFloat `json:"product_quantity"`
		ProductQuantityUnit string    `json:"product_quantity_unit"`
		CategoriesTags      []string  `json:"categories_tags"`
		ImageURL            string    `json:"image_url"`
		Nutriments          struct {
			EnergyKcal    flexFloat `json:"energy-kcal_100g"`
			Fat           flexFloat `json:"fat_100g"`
			SaturatedFat  flexFloat `json:"saturated-fat_100g"`
			Carbohydrates flexFloat `json:"carbohydrates_100g"`
			Sugars        flexFloat `json:"sugars_100g"`
			Proteins      flexFloat `json:"proteins_100g"`
			Salt          flexFloat `json:"salt_100g"`
		} `json:"nutriments"`
	} `json:"product"`
}

func (c *Client) fetch(ctx context.Context, barcode string) (model.FoodFacts, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.FoodFacts{}, fmt.Errorf("wait for rate limit: %w", err)
	}

	url := fmt.Sprintf("%s/api/v2/product/%s.json", c.baseURL, barcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.FoodFacts{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return model.FoodFacts{}, fmt.Errorf("food facts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.FoodFacts{}, fmt.Errorf("lookup %s: %w", barcode, ErrProductNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return model.FoodFacts{}, fmt.Errorf("food facts API returned status %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return model.FoodFacts{}, fmt.Errorf("decode food facts response: %w", err)
	}
	if apiResp.Status != 1 {
		return model.FoodFacts{}, fmt.Errorf("lookup %s: %w", barcode, ErrProductNotFound)
	}
	return toFoodFacts(barcode, apiResp), nil
}

func toFoodFacts(barcode string, r apiResponse) model.FoodFacts {
	p := r.Product
	name := strings.TrimSpace(p.ProductName)
	category := categoryFromTags(p.CategoriesTags)
	if category == model.CategoryOther {
		category, _ = Suggest(name)
	}
	return model.FoodFacts{
		Name:     name,
		Barcode:  barcode,
		Quantity: quantityFor(float64(p.ProductQuantity), p.ProductQuantityUnit),
		Category: category,
		NutritionFacts: model.NutritionFacts{
			EnergyKcal:    float64(p.Nutriments.EnergyKcal),
			Fat:           float64(p.Nutriments.Fat),
			SaturatedFat:  float64(p.Nutriments.SaturatedFat),
			Carbohydrates: float64(p.Nutriments.Carbohydrates),
			Sugars:        float64(p.Nutriments.Sugars),
			Proteins:      float64(p.Nutriments.Proteins),
			Salt:          float64(p.Nutriments.Salt),
		},
		ImageURL: p.ImageURL,
	}
}

// quantityFor converts a reported amount to grams, millilitres or a count.
func quantityFor(amount float64, unit string) model.Quantity {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "g":
		return model.Quantity{Amount: amount, Unit: model.UnitGram}
	case "kg":
		return model.Quantity{Amount: amount * 1000, Unit: model.UnitGram}
	case "ml":
		return model.Quantity{Amount: amount, Unit: model.UnitML}
	case "cl":
		return model.Quantity{Amount: amount * 10, Unit: model.UnitML}
	case "dl":
		return model.Quantity{Amount: amount * 100, Unit: model.UnitML}
	case "l":
		return model.Quantity{Amount: amount * 1000, Unit: model.UnitML}
	default:
		return model.Quantity{Amount: amount, Unit: model.UnitCount}
	}
}
