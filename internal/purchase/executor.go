// Package purchase issues the reservation call once the checker has seen
// enough seats. One attempt maps to one POST; whether the loop keeps polling
// afterwards is decided entirely by the seller's status code.
package purchase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/inventory"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/retry"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/session"
)

// The storefront's reservation endpoint, relative to the event page origin.
const reservePath = "/events/reserve"

// How much of a rejection body is carried into the ticket-fall payload.
const maxRejectionSnippet = 512

// Result is the executor's verdict for one reservation attempt.
type Result struct {
	// Purchased means the seller holds a basket for us and the operator
	// takes over from here.
	Purchased bool
	// StopLoop tells the monitoring loop to stop polling, with or without
	// a purchase.
	StopLoop bool
}

// reserveRequest is the seller's reservation contract.
type reserveRequest struct {
	EventID     string   `json:"eventId"`
	PriceLevels []string `json:"priceLevels"`
	SeatsToSet  int      `json:"seatsToSet"`
	Areas       []string `json:"areas"`
}

// Executor turns a positive availability verdict into a reservation call.
// It is stateless across profiles; everything per-profile arrives through
// Attempt's arguments.
type Executor struct {
	logger   *zap.Logger
	cfg      config.PurchaseConfig
	checker  *inventory.Checker
	analyzer *inventory.Analyzer
	sink     schemas.StatusSink
}

// NewExecutor wires the executor with its analysis helpers and the status
// sink that surfaces purchases and ticket falls to the host application.
func NewExecutor(
	logger *zap.Logger,
	cfg config.PurchaseConfig,
	checker *inventory.Checker,
	analyzer *inventory.Analyzer,
	sink schemas.StatusSink,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		logger:   logger.Named("purchase"),
		cfg:      cfg,
		checker:  checker,
		analyzer: analyzer,
		sink:     sink,
	}
}

// Attempt issues one reservation for the profile. Network failures are
// retried under a short policy before propagating; seller verdicts are never
// retried here, they map onto the Result:
//
//	200        purchased, stop the loop, basket is ready for manual checkout
//	400        inventory moved underneath us (a ticket fall), keep polling
//	403, 406   hard seller-side block, stop the loop
//
// Anything else is logged and treated like a miss so the loop's own page
// classification can decide on the next iteration.
func (e *Executor) Attempt(
	ctx context.Context,
	sess *session.Session,
	profile schemas.ProfileConfig,
	snapshot inventory.Snapshot,
) (Result, error) {
	endpoint, err := reserveEndpoint(profile.TargetURL)
	if err != nil {
		return Result{StopLoop: true}, fmt.Errorf("profile %s: %w", profile.ProfileID, err)
	}

	if e.cfg.ReserveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ReserveTimeout)
		defer cancel()
	}

	payload := e.buildPayload(profile, snapshot)
	e.logger.Info("Attempting reservation",
		zap.String("profile_id", profile.ProfileID),
		zap.String("event_id", payload.EventID),
		zap.Int("seats", payload.SeatsToSet),
		zap.Strings("areas", payload.Areas),
	)

	var page *session.Page
	err = retry.Do(ctx, e.retryPolicy(), retry.DefaultClassifier, e.onRetry(profile.ProfileID), func(ctx context.Context) error {
		p, err := sess.PostJSON(ctx, endpoint, payload)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("reservation call for profile %s: %w", profile.ProfileID, err)
	}

	switch page.StatusCode {
	case http.StatusOK:
		e.logger.Info("Reservation accepted", zap.String("profile_id", profile.ProfileID))
		e.publish(schemas.NewPurchaseEvent(profile.ProfileID, "reservation accepted, basket ready for manual checkout"))
		return Result{Purchased: true, StopLoop: true}, nil

	case http.StatusBadRequest:
		e.handleTicketFall(sess, profile, page)
		return Result{}, nil

	case http.StatusForbidden, http.StatusNotAcceptable:
		e.logger.Warn("Seller blocked the reservation call",
			zap.String("profile_id", profile.ProfileID),
			zap.Int("status", page.StatusCode),
		)
		return Result{StopLoop: true}, nil

	default:
		e.logger.Warn("Unexpected reservation status",
			zap.String("profile_id", profile.ProfileID),
			zap.Int("status", page.StatusCode),
		)
		return Result{}, nil
	}
}

// handleTicketFall runs the analyzer over the most recent event page to see
// what became sellable, and pushes the diagnostic to the sink. A 400 usually
// means inventory moved between the check and the reserve, which is exactly
// when fresh seats surface.
func (e *Executor) handleTicketFall(sess *session.Session, profile schemas.ProfileConfig, page *session.Page) {
	lastPage := string(sess.LastPage())
	areas := e.analyzer.AnalyzeSeats(lastPage, profile.AreaFilter)
	prices := e.analyzer.PagePrices(lastPage)

	snippet := string(page.Body)
	if len(snippet) > maxRejectionSnippet {
		snippet = snippet[:maxRejectionSnippet]
	}

	e.logger.Info("Ticket fall detected",
		zap.String("profile_id", profile.ProfileID),
		zap.Int("sellable_areas", len(areas)),
		zap.Float64s("page_prices", prices),
	)
	e.publish(schemas.NewTicketFallEvent(profile.ProfileID, map[string]interface{}{
		"status":    page.StatusCode,
		"areas":     areas,
		"prices":    prices,
		"rejection": snippet,
	}))
}

// buildPayload selects the concrete area and levels when the snapshot names
// a qualifying one. Single-seat requests skip structural parsing upstream,
// so their payload falls back to the profile's filter and lets the seller
// allocate.
func (e *Executor) buildPayload(profile schemas.ProfileConfig, snapshot inventory.Snapshot) reserveRequest {
	areas := make([]string, 0, 1)
	levels := make([]string, 0, 2)

	if area := e.checker.FindQualifyingArea(snapshot, profile.RequestedSeats, profile.AreaFilter); area != "" {
		areas = append(areas, area)
		levels = append(levels, snapshot[area].PriceLevelIDs()...)
	} else if len(profile.AreaFilter) > 0 {
		areas = append(areas, profile.AreaFilter...)
	}

	return reserveRequest{
		EventID:     profile.EventID,
		PriceLevels: levels,
		SeatsToSet:  profile.RequestedSeats,
		Areas:       areas,
	}
}

func (e *Executor) retryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	if e.cfg.RetryAttempts > 0 {
		policy.MaxAttempts = e.cfg.RetryAttempts
	}
	if e.cfg.RetryMinDelay > 0 {
		policy.MinDelay = e.cfg.RetryMinDelay
	}
	if e.cfg.RetryMaxDelay > 0 {
		policy.MaxDelay = e.cfg.RetryMaxDelay
	}
	return policy
}

func (e *Executor) onRetry(profileID string) retry.OnRetry {
	return func(attempt, maxAttempts int, delay time.Duration) {
		e.logger.Warn("Retrying reservation call",
			zap.String("profile_id", profileID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
		)
	}
}

func (e *Executor) publish(event schemas.StatusEvent) {
	if e.sink != nil {
		e.sink.Publish(event)
	}
}

// reserveEndpoint derives the reservation URL from the event page origin.
func reserveEndpoint(targetURL string) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("cannot derive reservation endpoint from %q", targetURL)
	}
	return u.Scheme + "://" + u.Host + reservePath, nil
}
