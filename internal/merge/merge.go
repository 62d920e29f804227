// Package merge combines the per-image extraction entries returned by the
// oracle into a deduplicated match list. Entries for the same fixture may
// arrive from several screenshots, each carrying a different slice of the
// odds board.
package merge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/hnguyen/pitchside/internal/models"
	"github.com/hnguyen/pitchside/internal/normalize"
)

// ErrNoMatches means no extraction entry survived merging.
var ErrNoMatches = errors.New("no matches found in extraction")

// RawOdds is one odds row exactly as the oracle extracts it from an image.
type RawOdds struct {
	BetType       string `json:"betType"`
	Handicap      string `json:"handicap"`
	HomeOdds      string `json:"handicapHomeOdds"`
	AwayOdds      string `json:"handicapAwayOdds"`
	OverUnderLine string `json:"overUnderLine"`
	OverOdds      string `json:"overOdds"`
	UnderOdds     string `json:"underOdds"`
	Scope         string `json:"scope"`
}

// RawEntry is one fixture block from one image.
type RawEntry struct {
	HomeTeam string    `json:"homeTeam"`
	AwayTeam string    `json:"awayTeam"`
	League   string    `json:"league"`
	Time     string    `json:"time"`
	OddsList []RawOdds `json:"oddsList"`
}

// Result carries the merged match list plus warnings about entries that look
// like the same fixture but keyed differently (reversed home/away, typos).
// Suspect pairs are flagged, never merged.
type Result struct {
	Matches  []models.Match
	Warnings []string
}

// nearDuplicateDistance is the maximum edit distance between two merge keys
// before they are flagged as probable duplicates.
const nearDuplicateDistance = 3

// Merge groups raw entries by fixture. A fixture seen once keeps its odds
// exactly as extracted, with the first line as the representative. Only when
// a second entry merges into it are the combined odds deduplicated and the
// representative recomputed. The merge key is direction-sensitive: "A vs B"
// and "B vs A" stay separate matches.
func Merge(entries []RawEntry) (Result, error) {
	type bucket struct {
		match  models.Match
		merged bool
	}

	var order []string
	buckets := make(map[string]*bucket)

	for _, e := range entries {
		home := normalize.TeamName(e.HomeTeam)
		away := normalize.TeamName(e.AwayTeam)
		key := strings.ToLower(home) + "_vs_" + strings.ToLower(away)

		lines := make([]models.OddsLine, 0, len(e.OddsList))
		for _, o := range e.OddsList {
			lines = append(lines, lineFromRaw(o))
		}

		b, ok := buckets[key]
		if !ok {
			buckets[key] = &bucket{
				match: models.Match{
					ID:       fmt.Sprintf("%s-%s-%d", home, away, time.Now().UnixNano()),
					HomeTeam: home,
					AwayTeam: away,
					League:   e.League,
					Time:     e.Time,
					Date:     models.DateToday,
					AllOdds:  lines,
				},
			}
			order = append(order, key)
			continue
		}

		b.merged = true
		b.match.AllOdds = dedupLines(append(b.match.AllOdds, lines...))
	}

	if len(order) == 0 {
		return Result{}, ErrNoMatches
	}

	matches := make([]models.Match, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		m := b.match
		if b.merged {
			m.ScannedOdds = representative(m.AllOdds)
		} else if len(m.AllOdds) > 0 {
			m.ScannedOdds = &m.AllOdds[0]
		}
		matches = append(matches, m)
	}

	return Result{Matches: matches, Warnings: suspectPairs(order)}, nil
}

// dedupLines removes duplicate odds lines, keeping the first occurrence and
// the original order.
func dedupLines(lines []models.OddsLine) []models.OddsLine {
	seen := make(map[string]bool, len(lines))
	out := lines[:0]
	for _, line := range lines {
		dk := line.DedupKey()
		if seen[dk] {
			continue
		}
		seen[dk] = true
		out = append(out, line)
	}
	return out
}

// lineFromRaw fills the gaps extraction leaves: missing scope defaults to
// full time, a missing handicap to the flat line, everything else to "N/A".
func lineFromRaw(o RawOdds) models.OddsLine {
	scope := o.Scope
	if scope == "" {
		scope = "FT"
	}
	handicap := o.Handicap
	if handicap == "" {
		handicap = "0"
	}
	return models.OddsLine{
		Type:      typeFromBet(o.BetType),
		Handicap:  handicap,
		HomeOdds:  orNA(o.HomeOdds),
		AwayOdds:  orNA(o.AwayOdds),
		OverUnder: orNA(o.OverUnderLine),
		OverOdds:  orNA(o.OverOdds),
		UnderOdds: orNA(o.UnderOdds),
		RawText:   fmt.Sprintf("%s | HDP %s | TX %s", scope, handicap, orNA(o.OverUnderLine)),
	}
}

// typeFromBet maps the free-text bet label, Vietnamese or English, onto a
// market type. Unlabeled rows are assumed to be the handicap market since
// that is the default board layout.
func typeFromBet(betType string) models.OddsType {
	label := strings.ToLower(strings.TrimSpace(betType))
	switch {
	case label == "":
		return models.OddsHandicap
	case strings.Contains(label, "góc") || strings.Contains(label, "corner"):
		return models.OddsCorners
	case strings.Contains(label, "thẻ") || strings.Contains(label, "card") || strings.Contains(label, "booking"):
		return models.OddsCards
	case strings.Contains(label, "chấp") || strings.Contains(label, "handicap") || strings.Contains(label, "hdp"):
		return models.OddsHandicap
	default:
		return models.OddsOther
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// representative picks the line a merged match shows: the first full-time
// handicap if one exists, otherwise the first line.
func representative(lines []models.OddsLine) *models.OddsLine {
	if len(lines) == 0 {
		return nil
	}
	for i := range lines {
		if lines[i].IsFullTimeHandicap() {
			return &lines[i]
		}
	}
	return &lines[0]
}

// suspectPairs flags key pairs that are probably the same fixture entered
// twice: one the reverse of the other, or within a small edit distance.
func suspectPairs(keys []string) []string {
	var warnings []string
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] == reverseKey(keys[i]) {
				warnings = append(warnings, fmt.Sprintf("matches %q and %q look like the same fixture with home/away swapped", keys[i], keys[j]))
				continue
			}
			if levenshtein.ComputeDistance(keys[i], keys[j]) <= nearDuplicateDistance {
				warnings = append(warnings, fmt.Sprintf("matches %q and %q have nearly identical names and may be duplicates", keys[i], keys[j]))
			}
		}
	}
	return warnings
}

func reverseKey(key string) string {
	parts := strings.SplitN(key, "_vs_", 2)
	if len(parts) != 2 {
		return key
	}
	return parts[1] + "_vs_" + parts[0]
}
