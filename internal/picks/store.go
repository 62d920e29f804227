// Package picks owns the saved-pick collection: an ordered history of
// predictions, newest first, with per-market settlement tracking. Every
// mutation rewrites the whole collection through the repository.
package picks

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hnguyen/pitchside/internal/models"
)

// ErrNotFound means no saved pick has the requested id.
var ErrNotFound = errors.New("pick not found")

// Repository is the persistence contract: one slot, read once at startup,
// rewritten in full after every change.
type Repository interface {
	LoadPicks() ([]models.SavedPick, error)
	SavePicks([]models.SavedPick) error
}

// Store is the in-memory pick collection backed by a Repository.
type Store struct {
	mu    sync.RWMutex
	repo  Repository
	picks []models.SavedPick
}

// NewStore loads the persisted collection. A load failure degrades to an
// empty history rather than refusing to start.
func NewStore(repo Repository) *Store {
	picks, err := repo.LoadPicks()
	if err != nil {
		log.Printf("Failed to load saved picks, starting empty: %v", err)
		picks = nil
	}
	return &Store{repo: repo, picks: picks}
}

// All returns the pick history, newest first.
func (s *Store) All() []models.SavedPick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SavedPick, len(s.picks))
	copy(out, s.picks)
	return out
}

// Get returns one pick by id.
func (s *Store) Get(id string) (models.SavedPick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.picks {
		if p.ID == id {
			return p, nil
		}
	}
	return models.SavedPick{}, ErrNotFound
}

// Save prepends a new pick for the match unless one already exists for the
// same match id. Reports whether a save happened so bulk saves can count.
func (s *Store) Save(match models.Match, result models.PredictionResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.picks {
		if p.Match.ID == match.ID {
			return false, nil
		}
	}

	pick := models.SavedPick{
		ID:        uuid.NewString(),
		Match:     match,
		Result:    result,
		Timestamp: time.Now(),
		Status:    models.StatusPending,
		Outcomes:  models.PendingOutcomes(),
	}
	s.picks = append([]models.SavedPick{pick}, s.picks...)

	if err := s.persist(); err != nil {
		return true, err
	}
	return true, nil
}

// CycleOutcome advances one market of a pick through
// pending -> won -> lost -> pending. Cycling the main market also moves the
// pick's headline status, which mirrors it.
func (s *Store) CycleOutcome(id string, market models.Market) (models.SavedPick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.SavedPick{}, ErrNotFound
	}

	next := s.picks[i].Outcomes.Get(market).NextStatus()
	s.picks[i].Outcomes.Set(market, next)
	if market == models.MarketMain {
		s.picks[i].Status = next
	}

	if err := s.persist(); err != nil {
		return s.picks[i], err
	}
	return s.picks[i], nil
}

// SetOverallStatus sets the headline status directly and mirrors it into the
// main outcome so the two never diverge.
func (s *Store) SetOverallStatus(id string, status models.PickStatus) (models.SavedPick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.SavedPick{}, ErrNotFound
	}

	s.picks[i].Status = status
	s.picks[i].Outcomes.Main = status

	if err := s.persist(); err != nil {
		return s.picks[i], err
	}
	return s.picks[i], nil
}

// ApplyVerification overwrites a pick's outcomes wholesale with the oracle
// verdict, stamps the verification details, and keeps the old note unless
// the oracle supplied one.
func (s *Store) ApplyVerification(id string, res models.VerificationResult) (models.SavedPick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.SavedPick{}, ErrNotFound
	}

	p := &s.picks[i]
	p.Outcomes = res.Outcomes
	p.Status = res.Outcomes.Main
	p.Verification = &models.Verification{
		CheckedAt:     time.Now(),
		ActualScore:   res.ActualScore,
		ActualCorners: res.ActualCorners,
		ActualCards:   res.ActualCards,
	}
	if res.Note != "" {
		p.Note = res.Note
	}

	if err := s.persist(); err != nil {
		return *p, err
	}
	return *p, nil
}

// Remove deletes a pick. Confirmation is the caller's concern.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false, nil
	}
	s.picks = append(s.picks[:i], s.picks[i+1:]...)

	if err := s.persist(); err != nil {
		return true, err
	}
	return true, nil
}

// PendingMain returns the picks whose headline status is still pending, the
// verify-all work list.
func (s *Store) PendingMain() []models.SavedPick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SavedPick
	for _, p := range s.picks {
		if p.Status == models.StatusPending {
			out = append(out, p)
		}
	}
	return out
}

// MarketStats summarizes settled results for one market.
type MarketStats struct {
	Resolved int `json:"resolved"`
	Won      int `json:"won"`
	WinRate  int `json:"win_rate"`
}

// Stats is the per-market win-rate summary across the whole history.
type Stats struct {
	Total  int         `json:"total"`
	Main   MarketStats `json:"main"`
	Corner MarketStats `json:"corner"`
	Card   MarketStats `json:"card"`
}

// Stats computes win rates over resolved picks per market. The score market
// never resolves, so it has no entry.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Total: len(s.picks)}
	for _, p := range s.picks {
		tally(&stats.Main, p.Outcomes.Main)
		tally(&stats.Corner, p.Outcomes.Corner)
		tally(&stats.Card, p.Outcomes.Card)
	}
	finalize(&stats.Main)
	finalize(&stats.Corner)
	finalize(&stats.Card)
	return stats
}

func tally(m *MarketStats, status models.PickStatus) {
	switch status {
	case models.StatusWon:
		m.Resolved++
		m.Won++
	case models.StatusLost:
		m.Resolved++
	}
}

func finalize(m *MarketStats) {
	if m.Resolved > 0 {
		m.WinRate = int(math.Round(float64(m.Won) / float64(m.Resolved) * 100))
	}
}

func (s *Store) indexOf(id string) int {
	for i, p := range s.picks {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// persist rewrites the full collection. Callers hold the write lock.
func (s *Store) persist() error {
	if err := s.repo.SavePicks(s.picks); err != nil {
		return fmt.Errorf("failed to persist picks: %w", err)
	}
	return nil
}
