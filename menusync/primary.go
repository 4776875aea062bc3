package menusync

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/models"
	"github.com/boilerfuel/menu_backend/utils"
	"github.com/sirupsen/logrus"
)

type apiMenu struct {
	Location    string    `json:"Location"`
	Date        string    `json:"Date"`
	IsOpen      *bool     `json:"IsOpen"`
	IsPublished *bool     `json:"IsPublished"`
	Meals       []apiMeal `json:"Meals"`
}

type apiMeal struct {
	Name     string       `json:"Name"`
	Type     string       `json:"Type"`
	Status   string       `json:"Status"`
	Stations []apiStation `json:"Stations"`
}

type apiStation struct {
	Name  string        `json:"Name"`
	Items []apiMenuItem `json:"Items"`
}

type apiMenuItem struct {
	ID             string        `json:"ID"`
	Name           string        `json:"Name"`
	NutritionReady bool          `json:"NutritionReady"`
	IsVegetarian   bool          `json:"IsVegetarian"`
	Allergens      []apiAllergen `json:"Allergens"`
}

func (m apiMenu) closed() bool {
	return (m.IsOpen != nil && !*m.IsOpen) || (m.IsPublished != nil && !*m.IsPublished)
}

type PrimaryConfig struct {
	BaseURL  string
	ItemsURL string
	Client   ClientOptions
}

// PrimaryConfigFromEnv reads MENU_API_BASE_URL and MENU_API_ITEMS_URL.
func PrimaryConfigFromEnv() PrimaryConfig {
	return PrimaryConfig{
		BaseURL:  config.EnvString("MENU_API_BASE_URL", defaultMenuAPIBaseURL),
		ItemsURL: config.EnvString("MENU_API_ITEMS_URL", defaultMenuItemsBaseURL),
		Client:   ClientOptionsFromEnv(),
	}
}

// PrimarySource reads the structured menus API and resolves nutrition per item.
type PrimarySource struct {
	baseURL     string
	itemsURL    string
	client      *menuHTTPClient
	logger      logrus.FieldLogger
	cache       *NutritionCache
	detailCache DetailCache

	detailRequests *atomic.Int64
	memo           *sync.Map
}

func NewPrimarySource(cfg PrimaryConfig, logger logrus.FieldLogger) *PrimarySource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultMenuAPIBaseURL
	}
	if cfg.ItemsURL == "" {
		cfg.ItemsURL = defaultMenuItemsBaseURL
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &PrimarySource{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		itemsURL:       strings.TrimRight(cfg.ItemsURL, "/"),
		client:         newMenuHTTPClient(cfg.Client),
		logger:         logger,
		detailRequests: &atomic.Int64{},
		memo:           &sync.Map{},
	}
}

// WithDetailCache sets the cross-run item-detail cache.
func (s *PrimarySource) WithDetailCache(dc DetailCache) *PrimarySource {
	cp := *s
	cp.detailCache = dc
	return &cp
}

// ForRun returns a copy bound to one run's nutrition cache, with fresh counters and detail memo.
func (s *PrimarySource) ForRun(cache *NutritionCache) *PrimarySource {
	cp := *s
	cp.cache = cache
	cp.detailRequests = &atomic.Int64{}
	cp.memo = &sync.Map{}
	return &cp
}

func (s *PrimarySource) Name() string {
	return models.SnapshotSourceAPI
}

// DetailRequests counts item-detail HTTP calls made by this copy.
func (s *PrimarySource) DetailRequests() int {
	return int(s.detailRequests.Load())
}

func (s *PrimarySource) menuURL(facility models.FacilityRef, date time.Time) string {
	return s.baseURL + "/" + url.PathEscape(facility.APIName) + "/" + date.Format(utils.DateLayout)
}

func (s *PrimarySource) Fetch(ctx context.Context, facility models.FacilityRef, date time.Time) ([]MenuItemObservation, error) {
	var menu apiMenu
	if err := s.client.getJSON(ctx, s.menuURL(facility, date), &menu); err != nil {
		return nil, err
	}
	if menu.closed() {
		return nil, nil
	}

	menuDate := date.Format(utils.DateLayout)
	var out []MenuItemObservation
	for _, meal := range menu.Meals {
		label := meal.Name
		if strings.TrimSpace(label) == "" {
			label = meal.Type
		}
		mealTime := models.CanonicalMeal(label)
		for _, station := range meal.Stations {
			stationName := models.CanonicalStation(station.Name)
			for _, item := range station.Items {
				name := strings.TrimSpace(item.Name)
				if name == "" {
					continue
				}
				out = append(out, MenuItemObservation{
					Name:           name,
					ItemID:         strings.TrimSpace(item.ID),
					Nutrition:      s.resolveNutrition(ctx, facility, name, item),
					NutritionReady: item.NutritionReady,
					Facility:       facility,
					Station:        stationName,
					MealTime:       mealTime,
					MenuDate:       menuDate,
					Source:         models.SnapshotSourceAPI,
				})
			}
		}
	}
	return out, nil
}

func (s *PrimarySource) resolveNutrition(ctx context.Context, facility models.FacilityRef, name string, item apiMenuItem) models.Nutrition {
	if !item.NutritionReady || strings.TrimSpace(item.ID) == "" {
		var n models.Nutrition
		n.Macros.IsVegetarian = item.IsVegetarian
		n.Macros.Allergens = allergenNames(item.Allergens)
		return n
	}
	if cached, ok := s.cache.Get(name, facility.DisplayName); ok {
		return cached
	}
	if v, ok := s.memo.Load(item.ID); ok {
		return v.(models.Nutrition)
	}
	if s.detailCache != nil {
		if n, ok := s.detailCache.Get(ctx, item.ID); ok {
			s.memo.Store(item.ID, n)
			return n
		}
	}

	n, err := s.fetchDetail(ctx, item.ID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"facility": facility.Code,
			"item_id":  item.ID,
			"item":     name,
		}).Warn("item detail unavailable; using zero nutrition: " + err.Error())
		return models.Nutrition{}
	}
	if !n.Macros.IsVegetarian {
		n.Macros.IsVegetarian = item.IsVegetarian
	}
	if len(n.Macros.Allergens) == 0 {
		n.Macros.Allergens = allergenNames(item.Allergens)
	}
	s.memo.Store(item.ID, n)
	if s.detailCache != nil {
		s.detailCache.Set(ctx, item.ID, n)
	}
	return n
}

func (s *PrimarySource) fetchDetail(ctx context.Context, itemID string) (models.Nutrition, error) {
	s.detailRequests.Add(1)
	body, err := s.client.get(ctx, s.itemsURL+"/"+url.PathEscape(itemID), "application/json")
	if err != nil {
		return models.Nutrition{}, err
	}
	detail, err := decodeItemDetail(body)
	if err != nil {
		return models.Nutrition{}, err
	}
	n, parseErrs := parseNutrition(detail)
	for _, perr := range parseErrs {
		s.logger.WithFields(logrus.Fields{"item_id": itemID}).Debug(perr.Error())
	}
	return n, nil
}
