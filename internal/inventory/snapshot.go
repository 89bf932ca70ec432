// Package inventory reads seat availability out of fetched storefront pages.
// Everything here is text-in, verdict-out: no network calls, no stored state.
// Seller pages embed two structures this package understands, a JSON
// inventory object assigned to a well-known variable and a quasi-JSON area
// literal handled by the analyzer.
package inventory

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Marker literals the storefront embeds in event pages. The empty assignment
// is served when nothing is on sale, the priced form carries the full
// inventory object.
const (
	emptyInventoryMarker = "eventPricing = {};"
	inventoryMarker      = "eventPricing = "
	priceMarker          = `"fullPrice"`
	soldOutMarker        = "eventSoldOut = true;"
)

// Snapshot maps an area identifier to what one page fetch said about it.
// It lives for a single monitoring iteration and is discarded afterwards.
type Snapshot map[string]AreaEntry

// AreaEntry is one seating area's availability and nested pricing.
type AreaEntry struct {
	Availability flexFloat `json:"availability"`
	Pricing      Pricing   `json:"pricing"`
}

// Pricing wraps the per-area pricing tables.
type Pricing struct {
	AreaPricing map[string]PricingEntry `json:"areaPricing"`
}

// PricingEntry holds the price levels of one pricing table.
type PricingEntry struct {
	PriceLevels map[string]PriceLevel `json:"priceLevels"`
}

// PriceLevel is a single sellable sub-category within an area.
type PriceLevel struct {
	FullPrice flexFloat `json:"fullPrice"`
}

// CheapestPrice returns the lowest usable full price across the area's price
// levels. ok is false when no level carries a readable price, which
// disqualifies the area.
func (e AreaEntry) CheapestPrice() (price float64, ok bool) {
	best := math.MaxFloat64
	for _, pricing := range e.Pricing.AreaPricing {
		for _, level := range pricing.PriceLevels {
			if v, valid := level.FullPrice.Value(); valid && v < best {
				best = v
				ok = true
			}
		}
	}
	return best, ok
}

// PriceLevelIDs returns the area's level identifiers in sorted order.
func (e AreaEntry) PriceLevelIDs() []string {
	var ids []string
	for _, pricing := range e.Pricing.AreaPricing {
		for id := range pricing.PriceLevels {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ParseSnapshot extracts and decodes the embedded inventory object. Callers
// treat any error as "no availability this iteration", never as fatal.
func ParseSnapshot(pageText string) (Snapshot, error) {
	object, ok := findInventoryObject(pageText)
	if !ok {
		return nil, fmt.Errorf("page carries no inventory assignment")
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(object), &snapshot); err != nil {
		return nil, fmt.Errorf("inventory object is not valid JSON: %w", err)
	}
	return snapshot, nil
}

// findInventoryObject looks for the assignment inside script tags first, so
// marker text a seller happens to render visibly cannot shadow the real
// object. Input that does not parse as HTML falls back to a whole-text scan.
func findInventoryObject(pageText string) (string, bool) {
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageText)); err == nil {
		var object string
		var found bool
		doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := sel.Text()
			if !strings.Contains(text, inventoryMarker) {
				return true
			}
			if obj, ok := extractObject(text, inventoryMarker); ok {
				object, found = obj, true
				return false
			}
			return true
		})
		if found {
			return object, true
		}
	}
	return extractObject(pageText, inventoryMarker)
}

// extractObject returns the balanced brace block following the first
// occurrence of marker. String contents are skipped so a brace inside an
// area name cannot end the scan early.
func extractObject(text, marker string) (string, bool) {
	at := strings.Index(text, marker)
	if at < 0 {
		return "", false
	}
	rest := text[at+len(marker):]
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	var quote byte
	for i := start; i < len(rest); i++ {
		ch := rest[i]
		if quote != 0 {
			switch ch {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return rest[start : i+1], true
			}
		}
	}
	return "", false
}

// flexFloat decodes a JSON number that sellers sometimes serve as a quoted
// string. Unreadable values leave the field unset instead of failing the
// document; a bad number disqualifies one area, not the whole page.
type flexFloat struct {
	value float64
	valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.value = v
	f.valid = true
	return nil
}

// Value reports the parsed number and whether one was present.
func (f flexFloat) Value() (float64, bool) {
	return f.value, f.valid
}
