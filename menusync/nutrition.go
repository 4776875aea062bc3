package menusync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/boilerfuel/menu_backend/models"
	"github.com/boilerfuel/menu_backend/utils"
	"github.com/shopspring/decimal"
)

type apiNutrient struct {
	Name       string          `json:"Name"`
	Value      json.RawMessage `json:"Value"`
	LabelValue string          `json:"LabelValue"`
}

type apiAllergen struct {
	Name  string `json:"Name"`
	Value bool   `json:"Value"`
}

type apiItemDetail struct {
	ID           string        `json:"ID"`
	Name         string        `json:"Name"`
	Ingredients  string        `json:"Ingredients"`
	IsVegetarian bool          `json:"IsVegetarian"`
	IsVegan      bool          `json:"IsVegan"`
	Nutrition    []apiNutrient `json:"Nutrition"`
	Allergens    []apiAllergen `json:"Allergens"`
}

// decodeItemDetail accepts either the full item document or a bare nutrient array.
func decodeItemDetail(body []byte) (apiItemDetail, error) {
	trimmed := bytes.TrimSpace(body)
	var detail apiItemDetail
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &detail.Nutrition); err != nil {
			return apiItemDetail{}, fmt.Errorf("%w: nutrient list: %v", ErrParse, err)
		}
		return detail, nil
	}
	if err := json.Unmarshal(trimmed, &detail); err != nil {
		return apiItemDetail{}, fmt.Errorf("%w: item detail: %v", ErrParse, err)
	}
	return detail, nil
}

type nutrientRule struct {
	label string
	apply func(n *models.Nutrition, v decimal.Decimal)
}

func setFloat(dst *float64) func(*models.Nutrition, decimal.Decimal) {
	return func(_ *models.Nutrition, v decimal.Decimal) {
		*dst, _ = v.Float64()
	}
}

// nutrientRules are tried in order; the first label contained in the nutrient name wins.
// Specific labels precede the generic ones they contain ("saturated fat" before "fat").
func nutrientRules(n *models.Nutrition) []nutrientRule {
	ignore := func(*models.Nutrition, decimal.Decimal) {}
	return []nutrientRule{
		{"calories from fat", ignore},
		{"calories", func(n *models.Nutrition, v decimal.Decimal) { n.Calories = int(v.Round(0).IntPart()) }},
		{"unsaturated fat", ignore},
		{"saturated fat", setFloat(&n.Macros.SaturatedFat)},
		{"trans fat", ignore},
		{"total fat", setFloat(&n.Macros.Fats)},
		{"fat", setFloat(&n.Macros.Fats)},
		{"added sugar", setFloat(&n.Macros.AddedSugar)},
		{"sugar", setFloat(&n.Macros.Sugar)},
		{"dietary fiber", setFloat(&n.Macros.Fiber)},
		{"fiber", setFloat(&n.Macros.Fiber)},
		{"total carbohydrate", setFloat(&n.Macros.Carbs)},
		{"carbohydrate", setFloat(&n.Macros.Carbs)},
		{"protein", setFloat(&n.Macros.Protein)},
		{"cholesterol", setFloat(&n.Macros.Cholesterol)},
		{"sodium", setFloat(&n.Macros.Sodium)},
	}
}

var leadingNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// parseNutrientValue prefers the numeric Value and falls back to the printed LabelValue ("12.5g", "<1 g").
func parseNutrientValue(raw json.RawMessage, label string) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var s string
		if raw[0] == '"' {
			if err := json.Unmarshal(raw, &s); err == nil {
				if d, ok := firstNumber(s); ok {
					return d, nil
				}
			}
		} else if d, err := utils.ParseDecimal(string(raw)); err == nil {
			return d, nil
		}
	}
	if d, ok := firstNumber(label); ok {
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no numeric value (value=%s label=%q)", ErrParse, string(raw), label)
}

func firstNumber(s string) (decimal.Decimal, bool) {
	m := leadingNumber.FindString(s)
	if m == "" {
		return decimal.Zero, false
	}
	d, err := utils.ParseDecimal(m)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// parseNutrition maps a flat nutrient list onto a Nutrition. Unmatched or unparsable
// entries leave their field at zero; the parse errors are returned for logging only.
func parseNutrition(detail apiItemDetail) (models.Nutrition, []error) {
	var n models.Nutrition
	var parseErrs []error
	rules := nutrientRules(&n)

	for _, entry := range detail.Nutrition {
		name := strings.ToLower(strings.TrimSpace(entry.Name))
		if name == "" {
			continue
		}
		if strings.Contains(name, "serving size") {
			n.Macros.ServingSize = servingSize(entry)
			continue
		}
		for _, rule := range rules {
			if !strings.Contains(name, rule.label) {
				continue
			}
			v, err := parseNutrientValue(entry.Value, entry.LabelValue)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("%s: %w", entry.Name, err))
				break
			}
			rule.apply(&n, v)
			break
		}
	}

	n.Macros.IsVegetarian = detail.IsVegetarian
	n.Macros.IsVegan = detail.IsVegan
	n.Macros.Ingredients = strings.TrimSpace(detail.Ingredients)
	n.Macros.Allergens = allergenNames(detail.Allergens)
	return n, parseErrs
}

func servingSize(entry apiNutrient) string {
	if s := strings.TrimSpace(entry.LabelValue); s != "" {
		return s
	}
	var s string
	if err := json.Unmarshal(entry.Value, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.Trim(strings.TrimSpace(string(entry.Value)), `"`)
}

func allergenNames(list []apiAllergen) []string {
	var out []string
	for _, a := range list {
		if a.Value && strings.TrimSpace(a.Name) != "" {
			out = append(out, strings.TrimSpace(a.Name))
		}
	}
	return out
}
