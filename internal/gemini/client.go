// Package gemini is the oracle client: every external AI call the service
// makes goes through here. Responses are JSON-by-contract but arrive noisy,
// so decoding runs a fence-strip and substring recovery pass, and analysis
// results get a default-fill pass so a partial payload never escapes as a
// partial result.
package gemini

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hnguyen/pitchside/internal/merge"
	"github.com/hnguyen/pitchside/internal/models"
	"github.com/hnguyen/pitchside/internal/normalize"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var (
	// ErrNoCredential means no API key was configured.
	ErrNoCredential = errors.New("gemini API key not configured")
	// ErrBadPayload means the oracle response could not be decoded even
	// after substring recovery.
	ErrBadPayload = errors.New("oracle returned unparseable payload")
)

// Client handles communication with the Gemini API
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new Gemini client
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: defaultBaseURL,
	}
}

// ImageExtraction is the raw outcome of a screenshot scan: per-image fixture
// entries (merging is the caller's job) plus whatever form/standings context
// was visible in the images.
type ImageExtraction struct {
	TacticalAnalysis string
	Matches          []merge.RawEntry
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	Tools            []tool            `json:"tools,omitempty"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// generate posts one prompt to the model and returns the concatenated text
// of the first candidate.
func (c *Client) generate(parts []part, withSearch bool) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoCredential
	}

	req := generateRequest{
		Contents:         []content{{Parts: parts}},
		GenerationConfig: &generationConfig{ResponseMimeType: "application/json"},
	}
	if withSearch {
		req.Tools = []tool{{GoogleSearch: &struct{}{}}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	resp, err := c.httpClient.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("oracle error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("failed to decode response envelope: %w", err)
	}
	if len(gr.Candidates) == 0 {
		return "", fmt.Errorf("oracle returned no candidates")
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// decodeJSON unmarshals oracle output into v. Markdown fences are stripped
// first; if the remainder still fails to parse, the outermost {...} or [...]
// substring is tried before giving up.
func decodeJSON(raw string, v any) error {
	s := strings.ReplaceAll(raw, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	if json.Unmarshal([]byte(s), v) == nil {
		return nil
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start != -1 && end > start {
			if json.Unmarshal([]byte(s[start:end+1]), v) == nil {
				return nil
			}
		}
	}
	return ErrBadPayload
}

// FetchMatches asks the oracle for today's and tomorrow's notable fixtures.
func (c *Client) FetchMatches() ([]models.Match, error) {
	today := time.Now().Format("Monday, January 2, 2006")
	prompt := fmt.Sprintf(`Find the list of important soccer matches taking place today (%s) and tomorrow.
Prioritize the major competitions: Premier League, La Liga, Serie A, Bundesliga, Ligue 1, Champions League, Europa League.

Requirements:
- Exclude friendlies.
- Team names must be exact.

Return a JSON array of objects with fields: id, homeTeam, awayTeam, league, time, date ("today" or "tomorrow").`, today)

	raw, err := c.generate([]part{{Text: prompt}}, true)
	if err != nil {
		return nil, err
	}

	var fetched []struct {
		ID       string `json:"id"`
		HomeTeam string `json:"homeTeam"`
		AwayTeam string `json:"awayTeam"`
		League   string `json:"league"`
		Time     string `json:"time"`
		Date     string `json:"date"`
	}
	if err := decodeJSON(raw, &fetched); err != nil {
		return nil, fmt.Errorf("match list: %w", err)
	}

	matches := make([]models.Match, 0, len(fetched))
	for i, f := range fetched {
		id := f.ID
		if id == "" {
			id = fmt.Sprintf("fetched-%d-%d", i, time.Now().UnixNano())
		}
		date := models.DateToday
		if strings.Contains(strings.ToLower(f.Date), "tomorrow") {
			date = models.DateTomorrow
		}
		matches = append(matches, models.Match{
			ID:       id,
			HomeTeam: normalize.TeamName(f.HomeTeam),
			AwayTeam: normalize.TeamName(f.AwayTeam),
			League:   f.League,
			Time:     f.Time,
			Date:     date,
		})
	}
	return matches, nil
}

// ExtractFromText parses a free-text bet description into a single synthetic
// match. Returns (nil, nil) when the text names no identifiable fixture.
func (c *Client) ExtractFromText(text string) (*models.Match, error) {
	prompt := fmt.Sprintf(`Extract match details and betting odds from this user text: %q.

Instructions:
1. Identify Home Team and Away Team.
2. Identify the League if mentioned (or guess based on teams).
3. CRITICAL: Extract specific odds/lines mentioned.
   - "corners over 9.5" -> betType: "corners", overUnderLine: "9.5"
   - "Galatasaray -0.5" -> betType: "handicap", handicap: "-0.5"
   - "bookings over 4.5" -> betType: "cards", overUnderLine: "4.5"

Return JSON:
{
  "homeTeam": "string",
  "awayTeam": "string",
  "league": "string",
  "betInfo": {
     "betType": "string",
     "handicap": "string",
     "overUnderLine": "string"
  }
}`, text)

	raw, err := c.generate([]part{{Text: prompt}}, false)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		HomeTeam string `json:"homeTeam"`
		AwayTeam string `json:"awayTeam"`
		League   string `json:"league"`
		BetInfo  *struct {
			BetType       string `json:"betType"`
			Handicap      string `json:"handicap"`
			OverUnderLine string `json:"overUnderLine"`
		} `json:"betInfo"`
	}
	if err := decodeJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("text scan: %w", err)
	}
	if parsed.HomeTeam == "" || parsed.AwayTeam == "" {
		return nil, nil
	}

	match := &models.Match{
		ID:       fmt.Sprintf("text-scan-%d", time.Now().UnixNano()),
		HomeTeam: parsed.HomeTeam,
		AwayTeam: parsed.AwayTeam,
		League:   orDefault(parsed.League, "Unknown League"),
		Time:     "Today",
		Date:     models.DateToday,
	}
	if parsed.BetInfo != nil {
		line := models.OddsLine{
			Type:      lineType(parsed.BetInfo.BetType),
			Handicap:  orDefault(parsed.BetInfo.Handicap, "N/A"),
			HomeOdds:  "N/A",
			AwayOdds:  "N/A",
			OverUnder: orDefault(parsed.BetInfo.OverUnderLine, "N/A"),
			OverOdds:  "N/A",
			UnderOdds: "N/A",
			RawText:   text,
		}
		match.AllOdds = []models.OddsLine{line}
		match.ScannedOdds = &match.AllOdds[0]
	}
	return match, nil
}

func lineType(betType string) models.OddsType {
	label := strings.ToLower(betType)
	switch {
	case strings.Contains(label, "corner"), strings.Contains(label, "góc"):
		return models.OddsCorners
	case strings.Contains(label, "card"), strings.Contains(label, "booking"), strings.Contains(label, "thẻ"):
		return models.OddsCards
	case strings.Contains(label, "handicap"), strings.Contains(label, "hdp"), strings.Contains(label, "chấp"):
		return models.OddsHandicap
	default:
		return models.OddsOther
	}
}

// ExtractFromImages reads bookmaker screenshots and returns the raw fixture
// entries found in them. Returns (nil, nil) when the images contain no
// recognizable match.
func (c *Client) ExtractFromImages(images []string) (*ImageExtraction, error) {
	if len(images) == 0 {
		return nil, nil
	}

	prompt := `Analyze these sports betting screenshots (Asian View).

OBJECTIVE: Extract ALL matches and ALL betting lines available in the images.

INSTRUCTIONS:
1. IDENTIFY MATCHES: look for team names (e.g. Feyenoord vs Sturm Graz).
2. GROUP BY MATCH: if multiple images show the same match (even if one shows Corners and one shows Handicap), group them under the SAME match entry.
3. EXTRACT ALL LINES:
   - A single match often has multiple rows (e.g. HDP -3.0, HDP -2.5, HDP -3.5). Extract them all, do not just pick one.
   - Record the bet type (handicap, corners, cards).
   - If a row is for the first half, set scope to "1H"; otherwise "FT".

Return JSON structure:
{
  "tacticalAnalysis": "Brief observation of visible form/standings.",
  "matches": [
    {
      "homeTeam": "string",
      "awayTeam": "string",
      "league": "string",
      "time": "string",
      "oddsList": [
         {
           "betType": "handicap | corners | cards",
           "handicap": "string",
           "handicapHomeOdds": "string",
           "handicapAwayOdds": "string",
           "overUnderLine": "string",
           "overOdds": "string",
           "underOdds": "string",
           "scope": "FT or 1H"
         }
      ]
    }
  ]
}`

	parts := make([]part, 0, len(images)+1)
	for _, img := range images {
		data := img
		if i := strings.Index(img, ","); i != -1 {
			data = img[i+1:]
		}
		parts = append(parts, part{InlineData: &inlineData{MimeType: "image/png", Data: data}})
	}
	parts = append(parts, part{Text: prompt})

	raw, err := c.generate(parts, false)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		TacticalAnalysis string           `json:"tacticalAnalysis"`
		Matches          []merge.RawEntry `json:"matches"`
	}
	if err := decodeJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("image scan: %w", err)
	}
	if len(parsed.Matches) == 0 {
		return nil, nil
	}
	return &ImageExtraction{
		TacticalAnalysis: parsed.TacticalAnalysis,
		Matches:          parsed.Matches,
	}, nil
}

// Analyze produces a betting recommendation for one match. The returned
// result is always fully populated.
func (c *Client) Analyze(match models.Match, instruction, tacticalContext string) (*models.PredictionResult, error) {
	var oddsText string
	if len(match.AllOdds) > 0 {
		var lines []string
		for _, o := range match.AllOdds {
			lines = append(lines, fmt.Sprintf("- [%s] HDP: %s (H:%s/A:%s) | O/U: %s (O:%s/U:%s) [%s]",
				o.Type, o.Handicap, o.HomeOdds, o.AwayOdds, o.OverUnder, o.OverOdds, o.UnderOdds, o.RawText))
		}
		oddsText = strings.Join(lines, "\n")
	} else if match.ScannedOdds != nil {
		o := match.ScannedOdds
		oddsText = fmt.Sprintf("- [%s] HDP: %s | O/U: %s", o.Type, o.Handicap, o.OverUnder)
	} else {
		oddsText = "No specific odds scanned."
	}

	contextBlock := ""
	if tacticalContext != "" {
		contextBlock = fmt.Sprintf("\nVisible form/standings context from the scanned screenshots: %s\n", tacticalContext)
	}

	prompt := fmt.Sprintf(`Act as a professional betting trader.
Analyze the match: %s vs %s (%s).

---------------------------------------------------
** FULL SCANNED ODDS LIST: **
%s

(Note: the list above may quote several levels for the same market. Compare them to find the best value.)
---------------------------------------------------
%s
Instruction: %q

ANALYSIS REQUIREMENTS:
1. LINE SHOPPING: when several levels exist for one market (e.g. Corners 9.5 and 10.0), pick the one most favorable to the bettor. If the main line looks like a trap, recommend the safer alternative line.
2. TRAP WARNING: warn when the payout on the favorite side is suspiciously high (>0.98).
3. CORRELATION: relate expected game state to corners and cards.

OUTPUT:
- Main pick must name the exact line chosen (e.g. "Corners Over 9.5", not just "Corners Over").

Return JSON:
{
  "scorePrediction": "string",
  "cornerPrediction": {"prediction": "string", "analysis": "string"},
  "cardPrediction": {"prediction": "string", "analysis": "string"},
  "mainPick": {"pick": "string", "confidence": "High | Medium | Low", "reasoning": "string"},
  "detailedAnalysis": {"homeForm": "string", "awayForm": "string", "headToHead": "string", "referee": "string", "stadiumInfluence": "string"},
  "advancedMetrics": {"impliedProbability": "string", "dominanceIndex": "string", "poissonXG": "string", "motivation": "string", "wingerType": "string", "refereeStyle": "string", "matchContext": "string", "marketTrend": "string"}
}`, match.HomeTeam, match.AwayTeam, match.League, oddsText, contextBlock, instruction)

	raw, err := c.generate([]part{{Text: prompt}}, true)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ScorePrediction  string `json:"scorePrediction"`
		CornerPrediction struct {
			Prediction string `json:"prediction"`
			Analysis   string `json:"analysis"`
		} `json:"cornerPrediction"`
		CardPrediction struct {
			Prediction string `json:"prediction"`
			Analysis   string `json:"analysis"`
		} `json:"cardPrediction"`
		MainPick struct {
			Pick       string `json:"pick"`
			Confidence string `json:"confidence"`
			Reasoning  string `json:"reasoning"`
		} `json:"mainPick"`
		DetailedAnalysis struct {
			HomeForm         string `json:"homeForm"`
			AwayForm         string `json:"awayForm"`
			HeadToHead       string `json:"headToHead"`
			Referee          string `json:"referee"`
			StadiumInfluence string `json:"stadiumInfluence"`
		} `json:"detailedAnalysis"`
		AdvancedMetrics struct {
			ImpliedProbability string `json:"impliedProbability"`
			DominanceIndex     string `json:"dominanceIndex"`
			PoissonXG          string `json:"poissonXG"`
			Motivation         string `json:"motivation"`
			WingerType         string `json:"wingerType"`
			RefereeStyle       string `json:"refereeStyle"`
			MatchContext       string `json:"matchContext"`
			MarketTrend        string `json:"marketTrend"`
		} `json:"advancedMetrics"`
	}
	if err := decodeJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("analysis for %s vs %s: %w", match.HomeTeam, match.AwayTeam, err)
	}

	// Default-fill: a result never leaves this method partially populated.
	result := &models.PredictionResult{
		MatchID:         match.ID,
		ScorePrediction: normalize.Score(parsed.ScorePrediction),
		CornerPrediction: models.MarketCall{
			Prediction: orDefault(parsed.CornerPrediction.Prediction, "Over/Under Corners"),
			Analysis:   orDefault(parsed.CornerPrediction.Analysis, "Based on wing play style."),
		},
		CardPrediction: models.MarketCall{
			Prediction: orDefault(parsed.CardPrediction.Prediction, "Over/Under Cards"),
			Analysis:   orDefault(parsed.CardPrediction.Analysis, "Based on the nature of the fixture."),
		},
		MainPick: models.MainPick{
			Pick:       orDefault(parsed.MainPick.Pick, "Top value line"),
			Confidence: sanitizeConfidence(parsed.MainPick.Confidence),
			Reasoning:  orDefault(parsed.MainPick.Reasoning, "Based on the full analysis."),
		},
		DetailedAnalysis: models.StatAnalysis{
			HomeForm:         orDefault(parsed.DetailedAnalysis.HomeForm, "Stable form"),
			AwayForm:         orDefault(parsed.DetailedAnalysis.AwayForm, "Stable form"),
			HeadToHead:       orDefault(parsed.DetailedAnalysis.HeadToHead, "Evenly matched"),
			Referee:          orDefault(parsed.DetailedAnalysis.Referee, "Average"),
			StadiumInfluence: orDefault(parsed.DetailedAnalysis.StadiumInfluence, "Neutral"),
		},
		AdvancedMetrics: &models.AdvancedMetrics{
			ImpliedProbability: orDefault(parsed.AdvancedMetrics.ImpliedProbability, "50/50"),
			DominanceIndex:     orDefault(parsed.AdvancedMetrics.DominanceIndex, "Cards/corners correlation: normal"),
			PoissonXG:          orDefault(parsed.AdvancedMetrics.PoissonXG, "1.2 - 1.1"),
			Motivation:         orDefault(parsed.AdvancedMetrics.Motivation, "High"),
			WingerType:         orDefault(parsed.AdvancedMetrics.WingerType, "Mixed"),
			RefereeStyle:       orDefault(parsed.AdvancedMetrics.RefereeStyle, "Standard"),
			MatchContext:       orDefault(parsed.AdvancedMetrics.MatchContext, "Important"),
			MarketTrend:        orDefault(parsed.AdvancedMetrics.MarketTrend, "Stable"),
		},
	}
	return result, nil
}

// Verify asks the oracle for the real result of a saved pick's match and a
// per-market settlement verdict.
func (c *Client) Verify(match models.Match, savedAt time.Time) (*models.VerificationResult, error) {
	prompt := fmt.Sprintf(`Find the final result for: %s vs %s (%s) around %s.
Return JSON with the actual score and corner/card stats:
{
  "actualScore": "string",
  "actualCorners": "string",
  "actualCards": "string",
  "outcomes": {
    "main": "won | lost | pending",
    "score": "pending",
    "corner": "won | lost | pending",
    "card": "won | lost | pending"
  },
  "note": "string"
}
If the match has not finished yet, set every outcome to "pending".`,
		match.HomeTeam, match.AwayTeam, match.League, savedAt.Format("January 2, 2006"))

	raw, err := c.generate([]part{{Text: prompt}}, true)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ActualScore   string `json:"actualScore"`
		ActualCorners string `json:"actualCorners"`
		ActualCards   string `json:"actualCards"`
		Outcomes      struct {
			Main   string `json:"main"`
			Corner string `json:"corner"`
			Card   string `json:"card"`
		} `json:"outcomes"`
		Note string `json:"note"`
	}
	if err := decodeJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("verification for %s vs %s: %w", match.HomeTeam, match.AwayTeam, err)
	}

	return &models.VerificationResult{
		ActualScore:   normalize.Score(parsed.ActualScore),
		ActualCorners: orDefault(parsed.ActualCorners, "N/A"),
		ActualCards:   orDefault(parsed.ActualCards, "N/A"),
		Outcomes: models.Outcomes{
			Main: sanitizeStatus(parsed.Outcomes.Main),
			// The score market is informational; verification never
			// settles it.
			Score:  models.StatusPending,
			Corner: sanitizeStatus(parsed.Outcomes.Corner),
			Card:   sanitizeStatus(parsed.Outcomes.Card),
		},
		Note: parsed.Note,
	}, nil
}

func sanitizeStatus(s string) models.PickStatus {
	switch models.PickStatus(strings.ToLower(strings.TrimSpace(s))) {
	case models.StatusWon:
		return models.StatusWon
	case models.StatusLost:
		return models.StatusLost
	default:
		return models.StatusPending
	}
}

func sanitizeConfidence(s string) models.Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return models.ConfidenceHigh
	case "low":
		return models.ConfidenceLow
	default:
		return models.ConfidenceMedium
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
