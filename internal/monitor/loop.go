// Package monitor drives the per-profile polling loops: one goroutine per
// identity, strictly sequential iterations, every suspension point cancelable
// through the loop's context. The Registry owns the goroutines; the Loop owns
// the state machine; everything the loop learns leaves through the status sink.
package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/inventory"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/purchase"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/retry"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/session"
)

// stepResult is one iteration's verdict on how the loop proceeds.
type stepResult int

const (
	// stepContinue keeps the normal cadence: the page is moving.
	stepContinue stepResult = iota
	// stepQuiet inflates the next pause: nothing sellable or transient trouble.
	stepQuiet
	// stepStop ends the loop; a terminal state has already been published.
	stepStop
)

// Hooks are the host's fingers into a running loop. Both are optional.
type Hooks struct {
	// Continue is polled every ConfigRefreshEvery iterations; returning false
	// winds the loop down cleanly. Nil means run until stopped or terminal.
	Continue func(ctx context.Context) (bool, error)
	// ReloadProfile is polled on the same cadence; returning a record and true
	// swaps the in-memory profile for later iterations.
	ReloadProfile func(ctx context.Context) (schemas.ProfileConfig, bool)
}

// LoopDeps carries the collaborators one loop runs with.
type LoopDeps struct {
	Tab      schemas.TabHandle
	Checker  *inventory.Checker
	Executor *purchase.Executor
	Sink     schemas.StatusSink
	Hooks    Hooks
}

// Loop is one profile's monitoring state machine. Run is the only entry
// point; Snapshot is safe from any goroutine.
type Loop struct {
	logger       *zap.Logger
	parentLogger *zap.Logger
	cfg          config.EngineConfig
	netCfg       config.NetworkConfig

	tab      schemas.TabHandle
	checker  *inventory.Checker
	executor *purchase.Executor
	sink     schemas.StatusSink
	hooks    Hooks

	pacer    *Pacer
	redirect *Redirector

	sess *session.Session

	// Iteration-local flags; only the loop goroutine touches them.
	quiet       bool
	panicked    bool
	netFailures int

	// mu guards the profile record and the run-state snapshot.
	mu      sync.RWMutex
	profile schemas.ProfileConfig
	run     schemas.RunState
}

// NewLoop assembles a loop for one profile. Nil collaborators are replaced
// with self-sufficient defaults so a partially wired loop degrades instead of
// panicking mid-iteration.
func NewLoop(
	logger *zap.Logger,
	cfg config.EngineConfig,
	netCfg config.NetworkConfig,
	profile schemas.ProfileConfig,
	deps LoopDeps,
) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConfigRefreshEvery < 1 {
		cfg.ConfigRefreshEvery = 30
	}
	if cfg.SessionRefreshEvery < 1 {
		cfg.SessionRefreshEvery = 100
	}
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 5
	}

	log := logger.Named("loop").With(zap.String("profile_id", profile.ProfileID))

	checker := deps.Checker
	if checker == nil {
		checker = inventory.NewChecker(logger, 0)
	}
	executor := deps.Executor
	if executor == nil {
		executor = purchase.NewExecutor(logger, config.PurchaseConfig{}, checker,
			inventory.NewAnalyzer(logger, 0), deps.Sink)
	}

	return &Loop{
		logger:       log,
		parentLogger: logger,
		cfg:          cfg,
		netCfg:       netCfg,
		tab:          deps.Tab,
		checker:      checker,
		executor:     executor,
		sink:         deps.Sink,
		hooks:        deps.Hooks,
		pacer:        NewPacer(cfg.Pacing, time.Now().UnixNano()),
		redirect:     NewRedirector(log),
		profile:      profile,
		run: schemas.RunState{
			ProfileID: profile.ProfileID,
			State:     schemas.StateIdle,
		},
	}
}

// Snapshot returns a copy of the externally visible run state.
func (l *Loop) Snapshot() schemas.RunState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.run
}

// Run executes the state machine until a terminal state or ctx cancellation.
// It owns the session for its whole lifetime and closes it on the way out.
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		if l.sess != nil {
			l.sess.Close()
		}
	}()

	profile := l.currentProfile()
	l.logger.Info("Monitoring loop starting",
		zap.String("target_url", profile.TargetURL),
		zap.Int("requested_seats", profile.RequestedSeats),
		zap.String("speed_tier", string(profile.PollSpeedTier)),
	)

	if err := l.initSession(ctx); err != nil {
		if ctx.Err() != nil {
			l.setState(schemas.StateIdle, "loop stopped during startup")
			return
		}
		l.setState(schemas.StateError, fmt.Sprintf("session creation failed: %v", err))
		return
	}
	l.setState(schemas.StateMonitoring, "session bridged, monitoring started")

	for {
		if ctx.Err() != nil {
			l.setState(schemas.StateIdle, "loop stopped")
			return
		}
		if l.iterate(ctx) {
			return
		}
	}
}

// iterate runs one guarded iteration. A panic is contained: the first one in
// a row converts to a quiet retry, the second ends the loop in Error.
func (l *Loop) iterate(ctx context.Context) (done bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		l.logger.Error("Iteration panicked",
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
		if l.panicked {
			l.setState(schemas.StateError, fmt.Sprintf("iteration panicked twice in a row: %v", r))
			done = true
			return
		}
		l.panicked = true
		l.quiet = true
		done = false
	}()

	switch l.step(ctx) {
	case stepStop:
		return true
	case stepQuiet:
		l.quiet = true
	default:
		l.quiet = false
	}
	l.panicked = false
	return false
}

// step is one full iteration: pause, periodic upkeep, fetch, classify, act.
func (l *Loop) step(ctx context.Context) stepResult {
	iteration := l.bumpIteration()
	profile := l.currentProfile()

	if err := l.pacer.Wait(ctx, profile.PollSpeedTier, l.quiet); err != nil {
		return l.stopped()
	}

	if iteration%l.cfg.ConfigRefreshEvery == 0 {
		if l.refreshControl(ctx) {
			return stepStop
		}
		profile = l.currentProfile()
	}

	if iteration%l.cfg.SessionRefreshEvery == 0 {
		if l.refreshSession(ctx, profile) {
			return stepStop
		}
	}

	return l.observe(ctx, profile)
}

// observe fetches the event page, walks at most one queue hand-off, and hands
// the final document to judge.
func (l *Loop) observe(ctx context.Context, profile schemas.ProfileConfig) stepResult {
	page, err := l.fetchPage(ctx, profile.TargetURL, "")
	if err != nil {
		return l.classifyNetworkFailure(ctx, err)
	}

	if target := l.redirect.Detect(page); target != "" {
		l.setState(schemas.StateQueueRedirect, fmt.Sprintf("following queue hand-off to %s", target))
		referer := ""
		if page.URL != nil {
			referer = page.URL.String()
		}
		next, err := l.fetchPage(ctx, target, referer)
		if err != nil {
			return l.classifyNetworkFailure(ctx, err)
		}
		page = next
		if l.redirect.Detect(page) != "" {
			// Still parked in the waiting room; one hop per iteration.
			return stepQuiet
		}
		l.setState(schemas.StateMonitoring, "queue hand-off complete")
	}

	l.netFailures = 0
	return l.judge(ctx, profile, page)
}

// judge classifies the fetched document and drives the purchase hand-off.
func (l *Loop) judge(ctx context.Context, profile schemas.ProfileConfig, page *session.Page) stepResult {
	switch {
	case page.StatusCode/100 == 2:
		// The interesting path continues below.
	case page.StatusCode == 400, page.StatusCode == 403,
		page.StatusCode == 404, page.StatusCode == 406:
		l.setState(schemas.StateBlocked, fmt.Sprintf("storefront blocked polling with HTTP %d", page.StatusCode))
		return stepStop
	case page.StatusCode == 429:
		l.logger.Info("Storefront throttling, inflating the pause")
		return stepQuiet
	case page.IsRedirect():
		// A 3xx without a recoverable target is a hold pattern.
		return stepQuiet
	default:
		l.setState(schemas.StateError, fmt.Sprintf("unexpected storefront status %d", page.StatusCode))
		return stepStop
	}

	body := string(page.Body)
	if kw := profile.AccessKeyword; kw != "" && !strings.Contains(body, kw) {
		l.setState(schemas.StateKeywordMissing, "access keyword missing from page, session no longer valid")
		return stepStop
	}

	if !l.checker.CheckAvailability(body, profile.RequestedSeats, profile.AreaFilter) {
		return stepQuiet
	}

	l.setState(schemas.StatePurchasing, "availability detected, attempting reservation")
	snapshot, err := inventory.ParseSnapshot(body)
	if err != nil {
		// The single-seat shortcut can pass the check without a parseable
		// inventory object; the executor falls back to the area filter.
		snapshot = nil
	}

	result, err := l.executor.Attempt(ctx, l.sess, profile, snapshot)
	if err != nil {
		if ctx.Err() != nil {
			return l.stopped()
		}
		l.logger.Warn("Reservation lost to the network, monitoring resumes", zap.Error(err))
		l.setState(schemas.StateMonitoring, "reservation attempt failed, monitoring resumed")
		return stepQuiet
	}
	if result.Purchased {
		l.setState(schemas.StateSuccess, "tickets reserved, ready for manual checkout")
		return stepStop
	}
	if result.StopLoop {
		l.setState(schemas.StateError, "seller refused the reservation call")
		return stepStop
	}
	l.setState(schemas.StateMonitoring, "ticket fall, monitoring resumed")
	return stepContinue
}

// refreshControl re-checks the external continue signal and picks up profile
// record changes. Returns true when the loop should wind down.
func (l *Loop) refreshControl(ctx context.Context) bool {
	if l.hooks.Continue != nil {
		keep, err := l.hooks.Continue(ctx)
		switch {
		case err != nil:
			// An unreachable control plane does not end the hunt.
			l.logger.Warn("Continue signal check failed", zap.Error(err))
		case !keep:
			l.setState(schemas.StateIdle, "continue signal cleared")
			return true
		}
	}
	if l.hooks.ReloadProfile != nil {
		if fresh, ok := l.hooks.ReloadProfile(ctx); ok {
			l.mu.Lock()
			l.profile = fresh
			l.mu.Unlock()
			l.logger.Info("Profile record refreshed",
				zap.Int("requested_seats", fresh.RequestedSeats),
				zap.Strings("area_filter", fresh.AreaFilter),
			)
		}
	}
	return false
}

// refreshSession re-reads browser cookies; when the channel is gone it falls
// back to rebuilding the whole session from the tab. Returns true when both
// paths failed and the loop must stop.
func (l *Loop) refreshSession(ctx context.Context, profile schemas.ProfileConfig) bool {
	l.setState(schemas.StateSessionRefreshing, "refreshing session cookies from browser")

	err := l.sess.RefreshCookies(ctx)
	if err == nil {
		l.setState(schemas.StateMonitoring, "session cookies refreshed")
		return false
	}
	l.logger.Warn("Cookie refresh failed, recreating session", zap.Error(err))

	fresh, err := session.CreateFromBrowser(ctx, l.tab, profile, l.netCfg, l.parentLogger)
	if err != nil {
		l.setState(schemas.StateError, fmt.Sprintf("session refresh and recreation both failed: %v", err))
		return true
	}
	l.sess.Close()
	l.sess = fresh
	l.setState(schemas.StateMonitoring, "session recreated from browser")
	return false
}

// initSession bridges the first session from the tab, retrying transient
// channel failures under the fetch policy.
func (l *Loop) initSession(ctx context.Context) error {
	return retry.Do(ctx, l.fetchPolicy(), retry.DefaultClassifier, l.onRetry("session creation"), func(ctx context.Context) error {
		sess, err := session.CreateFromBrowser(ctx, l.tab, l.currentProfile(), l.netCfg, l.parentLogger)
		if err != nil {
			return err
		}
		l.sess = sess
		return nil
	})
}

// fetchPage GETs one URL through the session under the fetch retry policy.
func (l *Loop) fetchPage(ctx context.Context, rawURL, referer string) (*session.Page, error) {
	var page *session.Page
	err := retry.Do(ctx, l.fetchPolicy(), retry.DefaultClassifier, l.onRetry("page fetch"), func(ctx context.Context) error {
		p, err := l.sess.Get(ctx, rawURL, referer)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}

// classifyNetworkFailure spends one unit of the consecutive-failure budget,
// ending the loop once the budget is gone.
func (l *Loop) classifyNetworkFailure(ctx context.Context, err error) stepResult {
	if ctx.Err() != nil {
		return l.stopped()
	}
	l.netFailures++
	if l.netFailures >= l.cfg.MaxConsecutiveFailures {
		l.setState(schemas.StateError, fmt.Sprintf("network failing persistently: %v", err))
		return stepStop
	}
	l.logger.Warn("Page fetch failed, will poll again",
		zap.Error(err),
		zap.Int("consecutive_failures", l.netFailures),
	)
	return stepQuiet
}

func (l *Loop) fetchPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	if l.cfg.FetchRetryAttempts > 0 {
		policy.MaxAttempts = l.cfg.FetchRetryAttempts
	}
	if l.cfg.FetchRetryMinDelay > 0 {
		policy.MinDelay = l.cfg.FetchRetryMinDelay
	}
	if l.cfg.FetchRetryMaxDelay > 0 {
		policy.MaxDelay = l.cfg.FetchRetryMaxDelay
	}
	if l.cfg.RetryJitterFraction > 0 {
		policy.JitterFraction = l.cfg.RetryJitterFraction
	}
	return policy
}

func (l *Loop) onRetry(what string) retry.OnRetry {
	return func(attempt, maxAttempts int, delay time.Duration) {
		l.logger.Warn("Retrying "+what,
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
		)
	}
}

func (l *Loop) stopped() stepResult {
	l.setState(schemas.StateIdle, "loop stopped")
	return stepStop
}

// setState records and publishes a transition. Re-entering the current state
// is silent so steady monitoring does not flood the sink.
func (l *Loop) setState(state schemas.ProfileState, message string) {
	l.mu.Lock()
	changed := l.run.State != state
	l.run.State = state
	l.run.LastActivity = time.Now().UTC()
	if state == schemas.StateError {
		l.run.LastError = message
	}
	profileID := l.run.ProfileID
	l.mu.Unlock()

	if !changed {
		return
	}
	l.logger.Info("State transition",
		zap.String("state", string(state)),
		zap.String("message", message),
	)
	if l.sink != nil {
		l.sink.Publish(schemas.NewStateEvent(profileID, state, message))
	}
}

func (l *Loop) bumpIteration() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.Iteration++
	l.run.LastActivity = time.Now().UTC()
	return l.run.Iteration
}

func (l *Loop) currentProfile() schemas.ProfileConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.profile
}
