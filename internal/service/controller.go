// Package service holds the orchestration controller: it owns the in-memory
// session state (match list, selection, image queue, analysis results) and
// drives every oracle-backed flow. All oracle batch loops are sequential to
// stay gentle on the upstream API.
package service

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hnguyen/pitchside/internal/gemini"
	"github.com/hnguyen/pitchside/internal/merge"
	"github.com/hnguyen/pitchside/internal/metrics"
	"github.com/hnguyen/pitchside/internal/models"
	"github.com/hnguyen/pitchside/internal/picks"
	"github.com/hnguyen/pitchside/internal/websocket"
)

var (
	// ErrBusy means an operation of the same category is already running.
	ErrBusy = errors.New("operation already in progress")
	// ErrNoSelection means analysis was requested with nothing selected.
	ErrNoSelection = errors.New("no matches selected")
	// ErrNoInput means a scan was requested with neither images nor text.
	ErrNoInput = errors.New("nothing to scan: queue images or enter text")
)

// Oracle is the external AI service contract.
type Oracle interface {
	FetchMatches() ([]models.Match, error)
	ExtractFromText(text string) (*models.Match, error)
	ExtractFromImages(images []string) (*gemini.ImageExtraction, error)
	Analyze(match models.Match, instruction, tacticalContext string) (*models.PredictionResult, error)
	Verify(match models.Match, savedAt time.Time) (*models.VerificationResult, error)
}

// Notifier is told when a verification settles a pick.
type Notifier interface {
	PickResolved(pick models.SavedPick)
}

// ScanOutcome is what a scan returns to the caller.
type ScanOutcome struct {
	Matches          []models.Match `json:"matches"`
	Warnings         []string       `json:"warnings,omitempty"`
	TacticalAnalysis string         `json:"tactical_analysis,omitempty"`
	Message          string         `json:"message"`
}

// Controller drives the load/scan/analyze/save/verify flows.
type Controller struct {
	oracle   Oracle
	store    *picks.Store
	hub      *websocket.Hub
	metrics  *metrics.Metrics
	notifier Notifier

	mu        sync.Mutex
	matches   []models.Match
	selection []string
	images    []string
	tactical  string
	warnings  []string
	results   []models.PredictionResult

	// Busy flags, one per operation category. They serialize user-triggered
	// actions the way disabled controls would; the pick store has its own
	// lock for data safety.
	loadingMatches bool
	scanning       bool
	analyzing      bool
	verifyingAll   bool
	verifying      map[string]bool
}

// NewController creates the controller. notifier may be nil.
func NewController(oracle Oracle, store *picks.Store, hub *websocket.Hub, m *metrics.Metrics, notifier Notifier) *Controller {
	return &Controller{
		oracle:    oracle,
		store:     store,
		hub:       hub,
		metrics:   m,
		notifier:  notifier,
		verifying: make(map[string]bool),
	}
}

// Matches returns the current match list and any merge warnings from the
// last scan.
func (c *Controller) Matches() ([]models.Match, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Match(nil), c.matches...), append([]string(nil), c.warnings...)
}

// Selection returns the currently selected match ids.
func (c *Controller) Selection() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.selection...)
}

// Results returns the results of the last completed analysis.
func (c *Controller) Results() []models.PredictionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.PredictionResult(nil), c.results...)
}

// RefreshMatches replaces the match list with the oracle's upcoming
// fixtures. Selection and results from the previous list are cleared.
func (c *Controller) RefreshMatches() ([]models.Match, error) {
	c.mu.Lock()
	if c.loadingMatches {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.loadingMatches = true
	c.mu.Unlock()
	defer c.clearFlag(&c.loadingMatches)

	start := c.metrics.RecordOracleStart()
	matches, err := c.oracle.FetchMatches()
	if err != nil {
		c.metrics.RecordOracleError(start, "fetch_matches", err)
		return nil, err
	}
	c.metrics.RecordOracleSuccess(start, "fetch_matches")

	c.mu.Lock()
	c.matches = matches
	c.selection = nil
	c.results = nil
	c.warnings = nil
	c.tactical = ""
	c.mu.Unlock()

	c.hub.MatchesUpdated(matches)
	return matches, nil
}

// SetSelection replaces the selection, keeping only ids present in the
// current match list. Returns the selection actually applied.
func (c *Controller) SetSelection(ids []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := make(map[string]bool, len(c.matches))
	for _, m := range c.matches {
		known[m.ID] = true
	}

	var applied []string
	for _, id := range ids {
		if known[id] {
			applied = append(applied, id)
		}
	}
	c.selection = applied
	return append([]string(nil), applied...)
}

// QueueImage adds one base64 image to the scan queue. Returns queue size.
func (c *Controller) QueueImage(image string) (int, error) {
	if image == "" {
		return 0, fmt.Errorf("empty image payload")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append(c.images, image)
	return len(c.images), nil
}

// RemoveImage drops one queued image by index. Returns queue size.
func (c *Controller) RemoveImage(index int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.images) {
		return len(c.images), fmt.Errorf("image index %d out of range", index)
	}
	c.images = append(c.images[:index], c.images[index+1:]...)
	return len(c.images), nil
}

// ImageCount returns the number of queued images.
func (c *Controller) ImageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// Scan extracts matches from the queued images, or from text when no images
// are queued. Images take priority; the queue is kept after a scan so the
// same screenshots feed the analysis step.
func (c *Controller) Scan(text string) (*ScanOutcome, error) {
	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.scanning = true
	images := append([]string(nil), c.images...)
	c.mu.Unlock()
	defer c.clearFlag(&c.scanning)

	if len(images) > 0 {
		return c.scanImages(images)
	}
	if text != "" {
		return c.scanText(text)
	}
	return nil, ErrNoInput
}

func (c *Controller) scanImages(images []string) (*ScanOutcome, error) {
	start := c.metrics.RecordOracleStart()
	extraction, err := c.oracle.ExtractFromImages(images)
	if err != nil {
		c.metrics.RecordOracleError(start, "extract_images", err)
		return nil, err
	}
	c.metrics.RecordOracleSuccess(start, "extract_images")

	if extraction == nil {
		return nil, merge.ErrNoMatches
	}

	merged, err := merge.Merge(extraction.Matches)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.matches = merged.Matches
	c.warnings = merged.Warnings
	c.tactical = extraction.TacticalAnalysis
	c.results = nil
	c.selection = nil
	if len(merged.Matches) == 1 {
		c.selection = []string{merged.Matches[0].ID}
	}
	c.mu.Unlock()

	c.hub.MatchesUpdated(merged.Matches)
	for _, w := range merged.Warnings {
		log.Printf("Scan: %s", w)
	}

	return &ScanOutcome{
		Matches:          merged.Matches,
		Warnings:         merged.Warnings,
		TacticalAnalysis: extraction.TacticalAnalysis,
		Message:          fmt.Sprintf("Found %d match(es) in %d image(s)", len(merged.Matches), len(images)),
	}, nil
}

func (c *Controller) scanText(text string) (*ScanOutcome, error) {
	start := c.metrics.RecordOracleStart()
	match, err := c.oracle.ExtractFromText(text)
	if err != nil {
		c.metrics.RecordOracleError(start, "extract_text", err)
		return nil, err
	}
	c.metrics.RecordOracleSuccess(start, "extract_text")

	if match == nil {
		return nil, merge.ErrNoMatches
	}

	matches := []models.Match{*match}

	c.mu.Lock()
	c.matches = matches
	c.warnings = nil
	c.tactical = ""
	c.results = nil
	c.selection = []string{match.ID}
	c.mu.Unlock()

	c.hub.MatchesUpdated(matches)

	return &ScanOutcome{
		Matches: matches,
		Message: fmt.Sprintf("Identified %s vs %s from text", match.HomeTeam, match.AwayTeam),
	}, nil
}

// Analyze runs the oracle over every selected match, strictly one at a time.
// A failure aborts the remaining batch but the results completed before it
// are kept and returned alongside the error.
func (c *Controller) Analyze(instruction string) ([]models.PredictionResult, error) {
	c.mu.Lock()
	if c.analyzing {
		c.mu.Unlock()
		return nil, ErrBusy
	}

	var selected []models.Match
	for _, id := range c.selection {
		for _, m := range c.matches {
			if m.ID == id {
				selected = append(selected, m)
				break
			}
		}
	}
	if len(selected) == 0 {
		c.mu.Unlock()
		return nil, ErrNoSelection
	}
	c.analyzing = true
	tactical := c.tactical
	c.mu.Unlock()
	defer c.clearFlag(&c.analyzing)

	var completed []models.PredictionResult
	for i, m := range selected {
		c.hub.AnalysisProgress(fmt.Sprintf("Analyzing match %d/%d: %s vs %s", i+1, len(selected), m.HomeTeam, m.AwayTeam))

		start := c.metrics.RecordOracleStart()
		result, err := c.oracle.Analyze(m, instruction, tactical)
		if err != nil {
			c.metrics.RecordOracleError(start, "analyze", err)
			c.setResults(completed)
			return completed, fmt.Errorf("analysis failed at %s vs %s: %w", m.HomeTeam, m.AwayTeam, err)
		}
		c.metrics.RecordOracleSuccess(start, "analyze")
		completed = append(completed, *result)
	}

	c.setResults(completed)
	c.hub.AnalysisProgress(fmt.Sprintf("Analysis complete: %d match(es)", len(completed)))
	return completed, nil
}

func (c *Controller) setResults(results []models.PredictionResult) {
	c.mu.Lock()
	c.results = results
	c.mu.Unlock()
}

// SavePick saves the analysis result for one match. Returns false when the
// match is already in the history.
func (c *Controller) SavePick(matchID string) (bool, error) {
	match, result, err := c.resultFor(matchID)
	if err != nil {
		return false, err
	}

	saved, err := c.store.Save(match, result)
	if err != nil {
		return saved, err
	}
	if saved {
		c.hub.PicksUpdated(c.store.All())
	}
	return saved, nil
}

// SaveAll saves every current analysis result. Returns how many picks were
// actually added.
func (c *Controller) SaveAll() (int, error) {
	c.mu.Lock()
	results := append([]models.PredictionResult(nil), c.results...)
	c.mu.Unlock()

	count := 0
	for _, r := range results {
		saved, err := c.SavePick(r.MatchID)
		if err != nil {
			return count, err
		}
		if saved {
			count++
		}
	}
	return count, nil
}

func (c *Controller) resultFor(matchID string) (models.Match, models.PredictionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var match *models.Match
	for i := range c.matches {
		if c.matches[i].ID == matchID {
			match = &c.matches[i]
			break
		}
	}
	if match == nil {
		return models.Match{}, models.PredictionResult{}, fmt.Errorf("unknown match id %q", matchID)
	}
	for _, r := range c.results {
		if r.MatchID == matchID {
			return *match, r, nil
		}
	}
	return models.Match{}, models.PredictionResult{}, fmt.Errorf("no analysis result for match %q", matchID)
}

// VerifyPick reconciles one saved pick against the oracle's real result.
func (c *Controller) VerifyPick(id string) (models.SavedPick, error) {
	c.mu.Lock()
	if c.verifying[id] {
		c.mu.Unlock()
		return models.SavedPick{}, ErrBusy
	}
	c.verifying[id] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.verifying, id)
		c.mu.Unlock()
	}()

	return c.verifyOne(id)
}

func (c *Controller) verifyOne(id string) (models.SavedPick, error) {
	pick, err := c.store.Get(id)
	if err != nil {
		return models.SavedPick{}, err
	}

	start := c.metrics.RecordOracleStart()
	res, err := c.oracle.Verify(pick.Match, pick.Timestamp)
	if err != nil {
		c.metrics.RecordOracleError(start, "verify", err)
		return models.SavedPick{}, err
	}
	c.metrics.RecordOracleSuccess(start, "verify")

	updated, err := c.store.ApplyVerification(id, *res)
	if err != nil {
		return updated, err
	}

	resolved := updated.Status != models.StatusPending
	c.metrics.RecordVerification(resolved)
	if resolved && c.notifier != nil {
		c.notifier.PickResolved(updated)
	}
	c.hub.PicksUpdated(c.store.All())
	return updated, nil
}

// VerifyAll reconciles every pick whose main market is still pending, one at
// a time. A failure on one pick is logged and the batch continues.
func (c *Controller) VerifyAll() (checked, resolved int, err error) {
	c.mu.Lock()
	if c.verifyingAll {
		c.mu.Unlock()
		return 0, 0, ErrBusy
	}
	c.verifyingAll = true
	c.mu.Unlock()
	defer c.clearFlag(&c.verifyingAll)

	pending := c.store.PendingMain()
	for _, p := range pending {
		updated, err := c.verifyOne(p.ID)
		if err != nil {
			log.Printf("Verify: %s vs %s failed: %v", p.Match.HomeTeam, p.Match.AwayTeam, err)
			continue
		}
		checked++
		if updated.Status != models.StatusPending {
			resolved++
		}
	}
	return checked, resolved, nil
}

func (c *Controller) clearFlag(flag *bool) {
	c.mu.Lock()
	*flag = false
	c.mu.Unlock()
}
