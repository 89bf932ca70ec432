package inventory

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// The area literal is the storefront's second embedded structure: a
// single-quoted JavaScript object, not JSON. It only appears on pages where
// seats are moving, which is why the analyzer runs after a failed purchase.
const areaInfoMarker = "areaInfo = "

// Evaluation budget for the area literal. Anything that runs longer than
// this is not a data structure.
const literalTimeout = 250 * time.Millisecond

var fullPriceRe = regexp.MustCompile(`"fullPrice"\s*:\s*"?([0-9]+(?:\.[0-9]+)?)"?`)

// AreaReport describes one sellable area discovered during a ticket fall.
type AreaReport struct {
	ID          string   `json:"id"`
	FreeSeats   int      `json:"freeSeats"`
	PriceLevels []string `json:"priceLevels"`
}

// Analyzer digs sellable areas out of the most recent page after the seller
// rejects a reservation, to discover what is actually still purchasable.
type Analyzer struct {
	logger  *zap.Logger
	ceiling float64
}

// NewAnalyzer creates an analyzer with the given affordability ceiling. A
// zero or negative ceiling falls back to the default.
func NewAnalyzer(logger *zap.Logger, ceiling float64) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ceiling <= 0 {
		ceiling = DefaultPriceCeiling
	}
	return &Analyzer{
		logger:  logger.Named("analyzer"),
		ceiling: ceiling,
	}
}

// AnalyzeSeats parses the area literal and returns the areas still worth
// buying: free seats above zero, at least one level under the ceiling, and
// an id passing the filter. An empty map is the normal negative result;
// malformed or absent structure never raises an error.
func (a *Analyzer) AnalyzeSeats(pageText string, areaFilter []string) (reports map[string]AreaReport) {
	reports = map[string]AreaReport{}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("Seat analysis recovered from panic", zap.Any("cause", r))
			reports = map[string]AreaReport{}
		}
	}()

	literal, ok := extractObject(pageText, areaInfoMarker)
	if !ok {
		return reports
	}

	raw := a.decodeAreaLiteral(literal)
	for name, entry := range raw {
		free, valid := entry.FreeSeats.Value()
		if !valid || free <= 0 {
			continue
		}
		if !a.anyLevelAffordable(entry) {
			continue
		}
		if !areaAllowed(areaFilter, entry.ID) {
			continue
		}
		reports[name] = AreaReport{
			ID:          entry.ID,
			FreeSeats:   int(free),
			PriceLevels: entry.liveLevels(),
		}
	}
	return reports
}

// PagePrices returns the distinct full prices at or under the ceiling found
// anywhere on the page, sorted ascending. Diagnostic only; it feeds the
// ticket-fall payload.
func (a *Analyzer) PagePrices(pageText string) []float64 {
	seen := make(map[float64]struct{})
	for _, m := range fullPriceRe.FindAllStringSubmatch(pageText, -1) {
		var v float64
		if _, err := fmt.Sscanf(m[1], "%g", &v); err != nil {
			continue
		}
		if v <= a.ceiling {
			seen[v] = struct{}{}
		}
	}
	prices := make([]float64, 0, len(seen))
	for v := range seen {
		prices = append(prices, v)
	}
	sort.Float64s(prices)
	return prices
}

type areaLiteral struct {
	ID          string                  `json:"id"`
	FreeSeats   flexFloat               `json:"freeSeats"`
	PriceLevels map[string]levelLiteral `json:"priceLevels"`
}

type levelLiteral struct {
	Price flexFloat `json:"price"`
	Count flexFloat `json:"count"`
}

func (l areaLiteral) liveLevels() []string {
	var ids []string
	for id, level := range l.PriceLevels {
		if count, ok := level.Count.Value(); ok && count >= 1 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (a *Analyzer) anyLevelAffordable(entry areaLiteral) bool {
	for _, level := range entry.PriceLevels {
		if price, ok := level.Price.Value(); ok && price <= a.ceiling {
			return true
		}
	}
	return false
}

// decodeAreaLiteral turns the quasi-JSON literal into typed entries. The
// primary path evaluates it as JavaScript, which handles single quotes and
// apostrophes in area names correctly. When evaluation fails, the legacy
// quote-normalization path runs instead.
func (a *Analyzer) decodeAreaLiteral(literal string) map[string]areaLiteral {
	raw, err := a.evaluateLiteral(literal)
	if err == nil {
		return raw
	}
	a.logger.Debug("Area literal evaluation failed, falling back to quote normalization", zap.Error(err))

	var fallback map[string]areaLiteral
	normalized := strings.ReplaceAll(literal, "'", `"`)
	if err := json.Unmarshal([]byte(normalized), &fallback); err != nil {
		a.logger.Debug("Area literal unreadable", zap.Error(err))
		return nil
	}
	return fallback
}

// evaluateLiteral runs the literal in a throwaway VM. The VM gets no host
// bindings and a hard interrupt, so hostile page content can at worst burn
// the evaluation budget.
func (a *Analyzer) evaluateLiteral(literal string) (map[string]areaLiteral, error) {
	vm := goja.New()
	timer := time.AfterFunc(literalTimeout, func() {
		vm.Interrupt("area literal evaluation timeout")
	})
	defer timer.Stop()

	val, err := vm.RunString("(" + literal + ")")
	if err != nil {
		return nil, fmt.Errorf("evaluating area literal: %w", err)
	}

	encoded, err := json.Marshal(val.Export())
	if err != nil {
		return nil, fmt.Errorf("re-encoding area literal: %w", err)
	}
	var raw map[string]areaLiteral
	if err := json.Unmarshal(encoded, &raw); err != nil {
		return nil, fmt.Errorf("decoding area literal: %w", err)
	}
	return raw, nil
}
