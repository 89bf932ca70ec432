package inventory

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// DefaultPriceCeiling is the per-seat price above which inventory is not
// worth alerting on. Overridden through the purchase section of the config.
const DefaultPriceCeiling = 100.0

// Checker decides whether a fetched page shows enough purchasable seats for
// one profile's demands.
type Checker struct {
	logger  *zap.Logger
	ceiling float64
}

// NewChecker creates a checker with the given affordability ceiling. A zero
// or negative ceiling falls back to the default.
func NewChecker(logger *zap.Logger, ceiling float64) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ceiling <= 0 {
		ceiling = DefaultPriceCeiling
	}
	return &Checker{
		logger:  logger.Named("checker"),
		ceiling: ceiling,
	}
}

// CheckAvailability reports whether the page shows at least requestedSeats
// purchasable seats in an acceptable area. It never fails: unreadable pages
// count as unavailable and the next poll tries again.
func (c *Checker) CheckAvailability(pageText string, requestedSeats int, areaFilter []string) bool {
	if requestedSeats < 1 {
		return false
	}

	// 1. The empty assignment is what the seller serves most of the time,
	// and it overrides everything else on the page.
	if strings.Contains(pageText, emptyInventoryMarker) {
		return false
	}

	// 2. No priced inventory anywhere means nothing to buy.
	if !strings.Contains(pageText, priceMarker) {
		return false
	}

	// 3. An explicit sold-out flag wins over leftover pricing fragments.
	if strings.Contains(pageText, soldOutMarker) {
		return false
	}

	// 4. A single seat only needs priced inventory to exist somewhere.
	if requestedSeats == 1 {
		return true
	}

	// 5. Multi-seat requests need the real inventory object.
	snapshot, err := ParseSnapshot(pageText)
	if err != nil {
		c.logger.Debug("Inventory object unreadable, treating as unavailable", zap.Error(err))
		return false
	}

	return c.FindQualifyingArea(snapshot, requestedSeats, areaFilter) != ""
}

// FindQualifyingArea returns the id of the first acceptable area in sorted
// order, or "" when none qualifies. The purchase path uses this to name a
// concrete area instead of re-deriving the checker's verdict.
func (c *Checker) FindQualifyingArea(snapshot Snapshot, requestedSeats int, areaFilter []string) string {
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		entry := snapshot[id]
		if !areaAllowed(areaFilter, id) {
			continue
		}
		avail, ok := entry.Availability.Value()
		if !ok || int(avail) < requestedSeats {
			continue
		}
		price, ok := entry.CheapestPrice()
		if !ok {
			// No readable price level, the area cannot be bought.
			continue
		}
		if price > c.ceiling {
			c.logger.Debug("Area priced above ceiling",
				zap.String("area", id),
				zap.Float64("price", price),
				zap.Float64("ceiling", c.ceiling),
			)
			continue
		}
		return id
	}
	return ""
}

// Ceiling reports the checker's affordability ceiling.
func (c *Checker) Ceiling() float64 {
	return c.ceiling
}

// areaAllowed mirrors schemas.ProfileConfig.AreaAllowed for a bare filter
// slice. An empty filter admits every area.
func areaAllowed(filter []string, areaID string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, id := range filter {
		if id == areaID {
			return true
		}
	}
	return false
}
