package menusync

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/models"
	"github.com/boilerfuel/menu_backend/utils"
	"golang.org/x/net/html"
)

type FallbackConfig struct {
	BaseURL string
	Client  ClientOptions
}

// FallbackConfigFromEnv reads MENU_FALLBACK_BASE_URL.
func FallbackConfigFromEnv() FallbackConfig {
	return FallbackConfig{
		BaseURL: config.EnvString("MENU_FALLBACK_BASE_URL", defaultFallbackBaseURL),
		Client:  ClientOptionsFromEnv(),
	}
}

// FallbackSource scrapes the public menu page. Best effort: anything it cannot
// recognise is skipped and a page without items is reported as empty.
//
// Recognised markup: a container with data-meal or a ".meal-name" heading opens a meal,
// data-station or ".station-name" opens a station, and each ".menu-item" is one item
// whose name is in ".item-name" (or the element text) with optional ".item-calories".
type FallbackSource struct {
	baseURL string
	client  *menuHTTPClient
}

func NewFallbackSource(cfg FallbackConfig) *FallbackSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultFallbackBaseURL
	}
	return &FallbackSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  newMenuHTTPClient(cfg.Client),
	}
}

func (s *FallbackSource) Name() string {
	return models.SnapshotSourceHTML
}

func (s *FallbackSource) pageURL(facility models.FacilityRef, date time.Time) string {
	return fmt.Sprintf("%s/%s/%d/%d/%d/", s.baseURL, url.PathEscape(facility.APIName), date.Year(), int(date.Month()), date.Day())
}

func (s *FallbackSource) Fetch(ctx context.Context, facility models.FacilityRef, date time.Time) ([]MenuItemObservation, error) {
	body, err := s.client.get(ctx, s.pageURL(facility, date), "text/html")
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: html: %v", ErrParse, err)
	}

	ex := &htmlExtractor{facility: facility, menuDate: date.Format(utils.DateLayout)}
	ex.walk(doc, htmlScope{})
	return ex.items, nil
}

type htmlScope struct {
	meal    string
	station string
}

type htmlExtractor struct {
	facility models.FacilityRef
	menuDate string
	items    []MenuItemObservation
}

func (e *htmlExtractor) walk(n *html.Node, scope htmlScope) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch {
		case hasClass(c, "menu-item"):
			e.emit(c, scope)
		case hasClass(c, "meal-name"):
			scope.meal = nodeText(c)
			scope.station = ""
		case hasClass(c, "station-name"):
			scope.station = nodeText(c)
		default:
			child := scope
			if v := attr(c, "data-meal"); v != "" {
				child.meal = v
				child.station = ""
			}
			if v := attr(c, "data-station"); v != "" {
				child.station = v
			}
			e.walk(c, child)
		}
	}
}

func (e *htmlExtractor) emit(n *html.Node, scope htmlScope) {
	name := ""
	if nameNode := findByClass(n, "item-name"); nameNode != nil {
		name = nodeText(nameNode)
	} else {
		name = nodeText(n)
	}
	if name == "" {
		return
	}

	var nut models.Nutrition
	if calNode := findByClass(n, "item-calories"); calNode != nil {
		if d, ok := firstNumber(nodeText(calNode)); ok {
			nut.Calories = int(d.Round(0).IntPart())
		}
	}

	e.items = append(e.items, MenuItemObservation{
		Name:           name,
		Nutrition:      nut,
		NutritionReady: nut.Calories > 0,
		Facility:       e.facility,
		Station:        models.CanonicalStation(scope.station),
		MealTime:       models.CanonicalMeal(scope.meal),
		MenuDate:       e.menuDate,
		Source:         models.SnapshotSourceHTML,
	})
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func findByClass(n *html.Node, class string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && hasClass(c, class) {
			return c
		}
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
