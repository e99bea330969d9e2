// Package addon decodes item addon specifications and prices a customer's selection.
//
// The wire form of a specification is a single string of comma separated
// "name - price" entries, for example "Cheese - 1.50, Bacon - 2".
package addon

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/corpmeals/ordering/internal/apperr"
)

const (
	entrySeparator = ","
	partSeparator  = "-"
)

type Addon struct {
	Name  string
	Price decimal.Decimal
}

// Parse decodes a specification. An empty or blank spec yields no addons.
func Parse(spec string) ([]Addon, error) {
	if strings.TrimSpace(spec) == "" {
		return []Addon{}, nil
	}

	entries := strings.Split(spec, entrySeparator)
	addons := make([]Addon, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, partSeparator)
		if len(parts) != 2 {
			return nil, formatError("entry %q must look like \"name - price\"", strings.TrimSpace(entry))
		}

		name := strings.TrimSpace(parts[0])
		rawPrice := strings.TrimSpace(parts[1])
		if name == "" || rawPrice == "" {
			return nil, formatError("entry %q has an empty component", strings.TrimSpace(entry))
		}

		price, err := decimal.NewFromString(rawPrice)
		if err != nil {
			return nil, formatError("entry %q has an invalid price", strings.TrimSpace(entry))
		}
		if price.IsNegative() {
			return nil, formatError("entry %q has a negative price", strings.TrimSpace(entry))
		}

		addons = append(addons, Addon{Name: name, Price: price})
	}
	return addons, nil
}

// Encode is the inverse of Parse.
func Encode(addons []Addon) string {
	entries := make([]string, 0, len(addons))
	for _, a := range addons {
		entries = append(entries, a.Name+" "+partSeparator+" "+a.Price.String())
	}
	return strings.Join(entries, entrySeparator+" ")
}

// ValidateSpec checks that spec parses and that addable fits the declared entries.
func ValidateSpec(spec string, addable int) ([]Addon, error) {
	addons, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	if addable < 0 {
		return nil, formatError("addable must not be negative, got %d", addable)
	}
	if addable > len(addons) {
		return nil, formatError("addable %d exceeds the %d declared addons", addable, len(addons))
	}
	return addons, nil
}

// PriceSelection sums the prices of declared addons whose names were selected.
// Unknown names are ignored so that menu edits do not break older clients.
func PriceSelection(addons []Addon, selected []string) decimal.Decimal {
	chosen := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		chosen[strings.TrimSpace(name)] = struct{}{}
	}

	total := decimal.Zero
	for _, a := range addons {
		if _, ok := chosen[a.Name]; ok {
			total = total.Add(a.Price)
		}
	}
	return total
}

// CheckSelection rejects selections larger than addable or naming the same addon twice.
func CheckSelection(addable int, selected []string) error {
	if len(selected) > addable {
		return apperr.Validation("at most %d addons can be selected, got %d", addable, len(selected))
	}

	seen := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		name = strings.TrimSpace(name)
		if _, ok := seen[name]; ok {
			return apperr.Validation("addon %q selected more than once", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Select returns the declared addons matching selected, in declaration order.
func Select(addons []Addon, selected []string) []Addon {
	chosen := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		chosen[strings.TrimSpace(name)] = struct{}{}
	}

	var out []Addon
	for _, a := range addons {
		if _, ok := chosen[a.Name]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ParseList splits a plain comma separated list such as removable ingredients.
func ParseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, entrySeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func EncodeList(values []string) string {
	return strings.Join(values, entrySeparator+" ")
}

func formatError(format string, args ...any) error {
	return apperr.Validation("addon format: "+format, args...)
}
