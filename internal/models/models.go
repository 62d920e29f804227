package models

import (
	"strings"
	"time"
)

// OddsType classifies a betting line by market.
type OddsType string

const (
	OddsHandicap OddsType = "handicap"
	OddsCorners  OddsType = "corners"
	OddsCards    OddsType = "cards"
	OddsOther    OddsType = "other"
)

// OddsLine represents a single betting line as it appeared on a bookmaker
// screen. All fields are strings; missing values are "N/A" rather than empty
// so the line always renders.
type OddsLine struct {
	Type      OddsType `json:"type"`
	Handicap  string   `json:"handicap"`
	HomeOdds  string   `json:"home_odds"`
	AwayOdds  string   `json:"away_odds"`
	OverUnder string   `json:"over_under"`
	OverOdds  string   `json:"over_odds"`
	UnderOdds string   `json:"under_odds"`
	RawText   string   `json:"raw_text"`
}

// DedupKey identifies a line within a match. Two lines with the same raw
// text, type, and handicap are duplicates regardless of the image they came
// from.
func (o OddsLine) DedupKey() string {
	return o.RawText + "|" + string(o.Type) + "|" + o.Handicap
}

// IsFullTimeHandicap reports whether the line is a full-time Asian handicap,
// the preferred representative line for a match.
func (o OddsLine) IsFullTimeHandicap() bool {
	return o.Type == OddsHandicap && !strings.Contains(o.RawText, "1H")
}

// Date buckets for fetched matches
const (
	DateToday    = "today"
	DateTomorrow = "tomorrow"
)

// Match represents one fixture with every odds line collected for it.
// ScannedOdds is the representative line shown in summaries; when AllOdds is
// non-empty it always points at one of its elements.
type Match struct {
	ID          string     `json:"id"`
	HomeTeam    string     `json:"home_team"`
	AwayTeam    string     `json:"away_team"`
	League      string     `json:"league"`
	Time        string     `json:"time"`
	Date        string     `json:"date"`
	ScannedOdds *OddsLine  `json:"scanned_odds,omitempty"`
	AllOdds     []OddsLine `json:"all_odds,omitempty"`
}

// Confidence levels for the main pick
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// MarketCall is a prediction for one secondary market (score, corners, cards).
type MarketCall struct {
	Prediction string `json:"prediction"`
	Analysis   string `json:"analysis"`
}

// MainPick is the headline recommendation for a match.
type MainPick struct {
	Pick       string     `json:"pick"`
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
}

// StatAnalysis holds the narrative breakdown backing a prediction.
type StatAnalysis struct {
	HomeForm         string `json:"home_form"`
	AwayForm         string `json:"away_form"`
	HeadToHead       string `json:"head_to_head"`
	Referee          string `json:"referee"`
	StadiumInfluence string `json:"stadium_influence"`
}

// AdvancedMetrics holds optional qualitative model estimates for a match.
type AdvancedMetrics struct {
	ImpliedProbability string `json:"implied_probability"`
	DominanceIndex     string `json:"dominance_index"`
	PoissonXG          string `json:"poisson_xg"`
	Motivation         string `json:"motivation"`
	WingerType         string `json:"winger_type"`
	RefereeStyle       string `json:"referee_style"`
	MatchContext       string `json:"match_context"`
	MarketTrend        string `json:"market_trend"`
}

// PredictionResult is a complete analysis for one match. Every field is
// populated; the oracle layer fills defaults before a result escapes it.
type PredictionResult struct {
	MatchID          string           `json:"match_id"`
	ScorePrediction  string           `json:"score_prediction"`
	CornerPrediction MarketCall       `json:"corner_prediction"`
	CardPrediction   MarketCall       `json:"card_prediction"`
	MainPick         MainPick         `json:"main_pick"`
	DetailedAnalysis StatAnalysis     `json:"detailed_analysis"`
	AdvancedMetrics  *AdvancedMetrics `json:"advanced_metrics,omitempty"`
}

// PickStatus is the settlement state of a market outcome.
type PickStatus string

const (
	StatusPending PickStatus = "pending"
	StatusWon     PickStatus = "won"
	StatusLost    PickStatus = "lost"
)

// NextStatus advances through the manual settlement cycle
// pending -> won -> lost -> pending. Unknown values reset to pending.
func (s PickStatus) NextStatus() PickStatus {
	switch s {
	case StatusPending:
		return StatusWon
	case StatusWon:
		return StatusLost
	default:
		return StatusPending
	}
}

// Market identifies one of the four tracked outcome slots on a saved pick.
type Market string

const (
	MarketMain   Market = "main"
	MarketScore  Market = "score"
	MarketCorner Market = "corner"
	MarketCard   Market = "card"
)

// Outcomes tracks the settlement state of each market for a saved pick.
type Outcomes struct {
	Main   PickStatus `json:"main"`
	Score  PickStatus `json:"score"`
	Corner PickStatus `json:"corner"`
	Card   PickStatus `json:"card"`
}

// PendingOutcomes returns a fresh set with every market unsettled.
func PendingOutcomes() Outcomes {
	return Outcomes{
		Main:   StatusPending,
		Score:  StatusPending,
		Corner: StatusPending,
		Card:   StatusPending,
	}
}

// Get returns the status of one market.
func (o Outcomes) Get(m Market) PickStatus {
	switch m {
	case MarketScore:
		return o.Score
	case MarketCorner:
		return o.Corner
	case MarketCard:
		return o.Card
	default:
		return o.Main
	}
}

// Set updates the status of one market.
func (o *Outcomes) Set(m Market, s PickStatus) {
	switch m {
	case MarketScore:
		o.Score = s
	case MarketCorner:
		o.Corner = s
	case MarketCard:
		o.Card = s
	default:
		o.Main = s
	}
}

// Verification records the last reconciliation against real results.
type Verification struct {
	CheckedAt     time.Time `json:"checked_at"`
	ActualScore   string    `json:"actual_score"`
	ActualCorners string    `json:"actual_corners"`
	ActualCards   string    `json:"actual_cards"`
}

// VerificationResult is what the oracle reports for a settled match.
type VerificationResult struct {
	ActualScore   string   `json:"actual_score"`
	ActualCorners string   `json:"actual_corners"`
	ActualCards   string   `json:"actual_cards"`
	Outcomes      Outcomes `json:"outcomes"`
	Note          string   `json:"note"`
}

// SavedPick is one entry in the pick history. Status always mirrors
// Outcomes.Main.
type SavedPick struct {
	ID           string           `json:"id"`
	Match        Match            `json:"match"`
	Result       PredictionResult `json:"result"`
	Timestamp    time.Time        `json:"timestamp"`
	Status       PickStatus       `json:"status"`
	Outcomes     Outcomes         `json:"outcomes"`
	Note         string           `json:"note,omitempty"`
	Verification *Verification    `json:"verification,omitempty"`
}
