package fplapi

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc"

	"github.com/fplsage/fpl-sage/internal/platform/logging"
	"github.com/fplsage/fpl-sage/internal/platform/resilience"
	"github.com/fplsage/fpl-sage/internal/usecase"
)

const defaultBaseURL = "https://fantasy.premierleague.com/api"

var (
	// ErrNotFound marks a 404 from the upstream API: the resource is
	// absent, not the service. Never retried.
	ErrNotFound = crerr.New("fpl resource not found")
	// ErrDecode marks a 2xx response whose body did not parse.
	ErrDecode = crerr.New("fpl payload decode failed")
	// ErrTimeout marks a request that ran out of time budget.
	ErrTimeout = crerr.New("fpl request timed out")

	errFPLTransient = crerr.New("fpl transient failure")
)

// FetchStatus classifies the outcome of one upstream fetch so the
// analysis result can report exactly which inputs it is missing.
type FetchStatus string

const (
	FetchOK            FetchStatus = "ok"
	FetchUnavailable   FetchStatus = "unavailable"
	FetchFailedTimeout FetchStatus = "failed_timeout"
	FetchFailedParse   FetchStatus = "failed_parse"
	FetchFailed        FetchStatus = "failed"
)

// StatusOf maps a fetch error to its wire classification.
func StatusOf(err error) FetchStatus {
	switch {
	case err == nil:
		return FetchOK
	case stderrors.Is(err, ErrNotFound):
		return FetchUnavailable
	case stderrors.Is(err, ErrTimeout), stderrors.Is(err, context.DeadlineExceeded):
		return FetchFailedTimeout
	case stderrors.Is(err, ErrDecode):
		return FetchFailedParse
	default:
		return FetchFailed
	}
}

type ClientConfig struct {
	HTTPClient     *http.Client
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Client talks to the public FPL API. All fetches go through a shared
// circuit breaker and per-URL request coalescing; retries cover only
// transient failures (connection errors, 429, 5xx).
type Client struct {
	httpClient     *http.Client
	baseURL        string
	maxRetries     int
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
	flight         resilience.SingleFlight
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		maxRetries:     maxInt(cfg.MaxRetries, 0),
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

func (c *Client) FetchBootstrap(ctx context.Context) (*Bootstrap, error) {
	var out Bootstrap
	if err := c.doJSON(ctx, "/bootstrap-static/", &out); err != nil {
		return nil, fmt.Errorf("fetch bootstrap-static: %w", err)
	}
	return &out, nil
}

func (c *Client) FetchFixtures(ctx context.Context) ([]Fixture, error) {
	var out []Fixture
	if err := c.doJSON(ctx, "/fixtures/", &out); err != nil {
		return nil, fmt.Errorf("fetch fixtures: %w", err)
	}
	return out, nil
}

func (c *Client) FetchEntry(ctx context.Context, teamID int64) (*Entry, error) {
	var out Entry
	if err := c.doJSON(ctx, fmt.Sprintf("/entry/%d/", teamID), &out); err != nil {
		return nil, fmt.Errorf("fetch entry team_id=%d: %w", teamID, err)
	}
	return &out, nil
}

func (c *Client) FetchEntryHistory(ctx context.Context, teamID int64) (*EntryHistory, error) {
	var out EntryHistory
	if err := c.doJSON(ctx, fmt.Sprintf("/entry/%d/history/", teamID), &out); err != nil {
		return nil, fmt.Errorf("fetch entry history team_id=%d: %w", teamID, err)
	}
	return &out, nil
}

func (c *Client) FetchEntryPicks(ctx context.Context, teamID int64, gameweek int) (*EntryPicks, error) {
	var out EntryPicks
	path := fmt.Sprintf("/entry/%d/event/%d/picks/", teamID, gameweek)
	if err := c.doJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetch picks team_id=%d gw=%d: %w", teamID, gameweek, err)
	}
	return &out, nil
}

func (c *Client) FetchLive(ctx context.Context, gameweek int) (*LiveEvent, error) {
	var out LiveEvent
	if err := c.doJSON(ctx, fmt.Sprintf("/event/%d/live/", gameweek), &out); err != nil {
		return nil, fmt.Errorf("fetch live gw=%d: %w", gameweek, err)
	}
	return &out, nil
}

func (c *Client) FetchEvent(ctx context.Context, gameweek int) (*EventDetail, error) {
	var out EventDetail
	if err := c.doJSON(ctx, fmt.Sprintf("/event/%d/", gameweek), &out); err != nil {
		return nil, fmt.Errorf("fetch event gw=%d: %w", gameweek, err)
	}
	return &out, nil
}

// TeamBundle is everything CollectTeamData could gather for one team.
// Bootstrap and Fixtures are always present; the per-team pieces are
// best effort and their absence is recorded in Fetches.
type TeamBundle struct {
	Bootstrap *Bootstrap
	Fixtures  []Fixture
	Entry     *Entry
	History   *EntryHistory
	Picks     *EntryPicks
	Live      *LiveEvent
	Event     *EventDetail
	CurrentGW int
	TargetGW  int
	Fetches   map[string]FetchStatus
}

// CollectTeamData gathers the inputs for one analysis run. The season
// calendar (bootstrap) and fixture list are mandatory: failure there
// aborts the run as upstream-unavailable. Team-specific fetches run
// concurrently and degrade to recorded gaps instead of failing the run.
// gameweek <= 0 means "the resolved current gameweek".
func (c *Client) CollectTeamData(ctx context.Context, teamID int64, gameweek int) (*TeamBundle, error) {
	bootstrap, err := c.FetchBootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", usecase.ErrUpstreamUnavailable, err)
	}

	currentGW, err := ResolveCurrentGameweek(bootstrap)
	if err != nil {
		return nil, err
	}
	targetGW := gameweek
	if targetGW <= 0 {
		targetGW = currentGW
	}

	fixtures, err := c.FetchFixtures(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", usecase.ErrUpstreamUnavailable, err)
	}

	bundle := &TeamBundle{
		Bootstrap: bootstrap,
		Fixtures:  fixtures,
		CurrentGW: currentGW,
		TargetGW:  targetGW,
		Fetches: map[string]FetchStatus{
			"bootstrap": FetchOK,
			"fixtures":  FetchOK,
		},
	}

	// Picks and live data exist only for gameweeks that have started;
	// fetch them for the current gameweek regardless of target.
	var wg conc.WaitGroup
	var entryErr, historyErr, picksErr, liveErr, eventErr error
	wg.Go(func() {
		bundle.Entry, entryErr = c.FetchEntry(ctx, teamID)
	})
	wg.Go(func() {
		bundle.History, historyErr = c.FetchEntryHistory(ctx, teamID)
	})
	wg.Go(func() {
		bundle.Picks, picksErr = c.FetchEntryPicks(ctx, teamID, currentGW)
	})
	wg.Go(func() {
		bundle.Live, liveErr = c.FetchLive(ctx, currentGW)
	})
	wg.Go(func() {
		bundle.Event, eventErr = c.FetchEvent(ctx, currentGW)
	})
	wg.Wait()

	for name, fetchErr := range map[string]error{
		"entry":   entryErr,
		"history": historyErr,
		"picks":   picksErr,
		"live":    liveErr,
		"event":   eventErr,
	} {
		bundle.Fetches[name] = StatusOf(fetchErr)
		if fetchErr != nil {
			c.logger.WarnContext(ctx, "team data fetch degraded",
				"fetch", name,
				"team_id", teamID,
				"gw", currentGW,
				"status", string(StatusOf(fetchErr)),
				"error", fetchErr,
			)
		}
	}

	return bundle, nil
}

// CurrentGameweek resolves the active gameweek and the next deadline
// after now. Satisfies the usage tracker's season clock.
func (c *Client) CurrentGameweek(ctx context.Context) (int, *time.Time, error) {
	bootstrap, err := c.FetchBootstrap(ctx)
	if err != nil {
		return 0, nil, err
	}
	gw, err := ResolveCurrentGameweek(bootstrap)
	if err != nil {
		return 0, nil, err
	}
	return gw, NextDeadline(bootstrap, time.Now().UTC()), nil
}

// ResolveCurrentGameweek picks the active gameweek from the season
// calendar: the event flagged is_current, else is_next (pre-season),
// else the season state is unresolvable.
func ResolveCurrentGameweek(bootstrap *Bootstrap) (int, error) {
	if bootstrap == nil {
		return 0, usecase.ErrSeasonResolutionUnknown
	}
	for _, event := range bootstrap.Events {
		if event.IsCurrent {
			return event.ID, nil
		}
	}
	for _, event := range bootstrap.Events {
		if event.IsNext {
			return event.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: no current or next event in calendar", usecase.ErrSeasonResolutionUnknown)
}

// NextDeadline returns the earliest gameweek deadline strictly after
// the given instant, or nil when the calendar has none left.
func NextDeadline(bootstrap *Bootstrap, after time.Time) *time.Time {
	if bootstrap == nil {
		return nil
	}
	var next *time.Time
	for _, event := range bootstrap.Events {
		deadline := event.Deadline()
		if deadline.IsZero() || !deadline.After(after) {
			continue
		}
		if next == nil || deadline.Before(*next) {
			v := deadline
			next = &v
		}
	}
	return next
}

func (c *Client) doJSON(ctx context.Context, path string, target any) error {
	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "fpl circuit breaker rejected request", "state", c.breaker.State())
			return fmt.Errorf("%w: upstream temporarily unavailable", usecase.ErrUpstreamUnavailable)
		}
	}

	fullURL := c.baseURL + path
	out, err, _ := c.flight.Do(path, func() (any, error) {
		raw, reqErr := c.executeRequest(ctx, fullURL)
		if c.circuitEnabled {
			if reqErr != nil && isCircuitFailure(reqErr) {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}
		}
		return raw, reqErr
	})
	if err != nil {
		return err
	}

	raw, ok := out.([]byte)
	if !ok {
		return fmt.Errorf("unexpected response payload type %T", out)
	}

	if err := sonic.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

func (c *Client) executeRequest(ctx context.Context, fullURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("accept", "application/json")
		req.Header.Set("user-agent", "fpl-sage/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if isTimeout(err) {
				lastErr = fmt.Errorf("%w: %v", ErrTimeout, err)
			} else {
				lastErr = fmt.Errorf("%w: send request: %v", errFPLTransient, err)
			}
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
			_ = resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("%w: read response body: %v", errFPLTransient, readErr)
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return raw, nil
			case resp.StatusCode == http.StatusNotFound:
				return nil, fmt.Errorf("%w: %s", ErrNotFound, fullURL)
			case isRetryableStatus(resp.StatusCode):
				lastErr = fmt.Errorf("%w: upstream status=%d body=%s", errFPLTransient, resp.StatusCode, abbreviateBody(raw))
			default:
				return nil, fmt.Errorf("upstream status=%d body=%s", resp.StatusCode, abbreviateBody(raw))
			}
		}

		if attempt == c.maxRetries {
			break
		}
		backoff := time.Duration(attempt+1) * 500 * time.Millisecond
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			if isTimeout(ctx.Err()) {
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("upstream request failed")
	}
	c.logger.WarnContext(ctx, "fpl request failed", "url", fullURL, "error", lastErr)
	return nil, lastErr
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func isCircuitFailure(err error) bool {
	return stderrors.Is(err, errFPLTransient) || stderrors.Is(err, ErrTimeout)
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func abbreviateBody(raw []byte) string {
	const limit = 256
	body := strings.TrimSpace(string(raw))
	if len(body) > limit {
		return body[:limit] + "..."
	}
	return body
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
