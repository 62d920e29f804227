package merge

import (
	"errors"
	"strings"
	"testing"

	"github.com/hnguyen/pitchside/internal/models"
)

func TestMergeEmpty(t *testing.T) {
	if _, err := Merge(nil); !errors.Is(err, ErrNoMatches) {
		t.Fatalf("Merge(nil) error = %v, want ErrNoMatches", err)
	}
}

func TestMergeCombinesSameFixture(t *testing.T) {
	entries := []RawEntry{
		{
			HomeTeam: "Feyenoord",
			AwayTeam: "Sturm Graz",
			League:   "Europa League",
			Time:     "23:45",
			OddsList: []RawOdds{
				{BetType: "Kèo Chấp", Handicap: "-0.75", HomeOdds: "0.92", AwayOdds: "0.98", OverUnderLine: "2.75", Scope: "FT"},
			},
		},
		{
			HomeTeam: "Feyenoord - Tổng số phạt góc",
			AwayTeam: "Sturm Graz - Tổng số phạt góc",
			OddsList: []RawOdds{
				{BetType: "Phạt góc", Handicap: "-1.5", OverUnderLine: "9.5", OverOdds: "0.85", UnderOdds: "0.95", Scope: "FT"},
			},
		},
	}

	res, err := Merge(entries)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(res.Matches))
	}
	m := res.Matches[0]
	if m.HomeTeam != "Feyenoord" || m.AwayTeam != "Sturm Graz" {
		t.Errorf("teams = %q vs %q, want Feyenoord vs Sturm Graz", m.HomeTeam, m.AwayTeam)
	}
	if m.League != "Europa League" || m.Time != "23:45" {
		t.Errorf("metadata from first entry not kept: league %q, time %q", m.League, m.Time)
	}
	if len(m.AllOdds) != 2 {
		t.Fatalf("got %d odds lines, want 2", len(m.AllOdds))
	}
	if m.AllOdds[0].Type != models.OddsHandicap || m.AllOdds[1].Type != models.OddsCorners {
		t.Errorf("odds order not stable: %v then %v", m.AllOdds[0].Type, m.AllOdds[1].Type)
	}
}

func TestMergeReversedPairStaysSeparate(t *testing.T) {
	entries := []RawEntry{
		{HomeTeam: "Arsenal", AwayTeam: "Chelsea"},
		{HomeTeam: "Chelsea", AwayTeam: "Arsenal"},
	}

	res, err := Merge(entries)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("got %d matches, want 2: reversed fixtures must not merge", len(res.Matches))
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a swapped home/away warning")
	}
	if !strings.Contains(res.Warnings[0], "swapped") {
		t.Errorf("warning %q does not mention the swap", res.Warnings[0])
	}
}

func TestMergeNearDuplicateWarning(t *testing.T) {
	entries := []RawEntry{
		{HomeTeam: "Borussia Dortmund", AwayTeam: "Leipzig"},
		{HomeTeam: "Borusia Dortmund", AwayTeam: "Leipzig"},
	}

	res, err := Merge(entries)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("got %d matches, want 2: near-duplicates are flagged, not merged", len(res.Matches))
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "duplicates") {
		t.Errorf("warnings = %v, want one near-duplicate warning", res.Warnings)
	}
}

func TestMergeDedupsOddsLines(t *testing.T) {
	line := RawOdds{BetType: "Handicap", Handicap: "-0.5", HomeOdds: "0.90", OverUnderLine: "2.5", Scope: "FT"}
	entries := []RawEntry{
		{HomeTeam: "Valencia", AwayTeam: "Sevilla", OddsList: []RawOdds{line, line}},
		{HomeTeam: "Valencia", AwayTeam: "Sevilla", OddsList: []RawOdds{
			line,
			{BetType: "Handicap", Handicap: "-0.25", HomeOdds: "0.80", OverUnderLine: "2.5", Scope: "FT"},
		}},
	}

	res, err := Merge(entries)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(res.Matches))
	}
	odds := res.Matches[0].AllOdds
	if len(odds) != 2 {
		t.Fatalf("got %d odds lines, want 2 after dedup", len(odds))
	}
	if odds[0].Handicap != "-0.5" || odds[1].Handicap != "-0.25" {
		t.Errorf("first occurrence order not preserved: %q then %q", odds[0].Handicap, odds[1].Handicap)
	}
	if odds[0].HomeOdds != "0.90" {
		t.Errorf("duplicate did not keep first occurrence values: %q", odds[0].HomeOdds)
	}
}

func TestMergedMatchPrefersFullTimeHandicap(t *testing.T) {
	entries := []RawEntry{
		{
			HomeTeam: "Ajax",
			AwayTeam: "Feyenoord",
			OddsList: []RawOdds{
				{BetType: "Phạt góc", Handicap: "-2", OverUnderLine: "10.5", Scope: "FT"},
				{BetType: "Kèo Chấp", Handicap: "-0.5", HomeOdds: "0.95", Scope: "1H"},
			},
		},
		{
			HomeTeam: "Ajax",
			AwayTeam: "Feyenoord",
			OddsList: []RawOdds{
				{BetType: "Kèo Chấp", Handicap: "-1", HomeOdds: "0.88", Scope: "FT"},
			},
		},
	}

	res, err := Merge(entries)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	scanned := res.Matches[0].ScannedOdds
	if scanned == nil {
		t.Fatal("scanned odds not set")
	}
	if scanned.Handicap != "-1" {
		t.Errorf("scanned handicap = %q, want the full-time handicap -1", scanned.Handicap)
	}
	if !scanned.IsFullTimeHandicap() {
		t.Errorf("scanned line %+v is not a full-time handicap", scanned)
	}
}

func TestMergedMatchFallsBackToFirstLine(t *testing.T) {
	entries := []RawEntry{
		{
			HomeTeam: "Ajax",
			AwayTeam: "Feyenoord",
			OddsList: []RawOdds{
				{BetType: "Phạt góc", Handicap: "-2", OverUnderLine: "10.5", Scope: "FT"},
			},
		},
		{
			HomeTeam: "Ajax",
			AwayTeam: "Feyenoord",
			OddsList: []RawOdds{
				{BetType: "Kèo Chấp", Handicap: "-0.5", HomeOdds: "0.95", Scope: "1H"},
			},
		},
	}

	res, err := Merge(entries)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	scanned := res.Matches[0].ScannedOdds
	if scanned == nil || scanned.Type != models.OddsCorners {
		t.Errorf("scanned = %+v, want first line when no full-time handicap exists", scanned)
	}
}

func TestSingletonMatchKeepsFirstLine(t *testing.T) {
	entries := []RawEntry{
		{
			HomeTeam: "Ajax",
			AwayTeam: "Feyenoord",
			OddsList: []RawOdds{
				{BetType: "Phạt góc", Handicap: "-2", OverUnderLine: "10.5", Scope: "FT"},
				{BetType: "Kèo Chấp", Handicap: "-1", HomeOdds: "0.88", Scope: "FT"},
			},
		},
	}

	res, err := Merge(entries)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	scanned := res.Matches[0].ScannedOdds
	if scanned == nil {
		t.Fatal("scanned odds not set")
	}
	// A fixture seen only once keeps its first extracted line even when a
	// full-time handicap appears later in the list.
	if scanned.Type != models.OddsCorners {
		t.Errorf("scanned type = %v, want the first extracted line (corners)", scanned.Type)
	}
}

func TestSingletonMatchKeepsDuplicateLines(t *testing.T) {
	line := RawOdds{BetType: "Handicap", Handicap: "-0.5", HomeOdds: "0.90", OverUnderLine: "2.5", Scope: "FT"}
	entries := []RawEntry{
		{HomeTeam: "Ajax", AwayTeam: "Feyenoord", OddsList: []RawOdds{line, line}},
	}

	res, err := Merge(entries)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := len(res.Matches[0].AllOdds); got != 2 {
		t.Errorf("got %d odds lines, want 2: deduplication only applies when entries merge", got)
	}
}

func TestMergeFillsDefaults(t *testing.T) {
	entries := []RawEntry{
		{HomeTeam: "Lyon", AwayTeam: "Lille", OddsList: []RawOdds{{}}},
	}

	res, err := Merge(entries)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	line := res.Matches[0].AllOdds[0]
	if line.Type != models.OddsHandicap {
		t.Errorf("unlabeled line type = %v, want handicap", line.Type)
	}
	if line.Handicap != "0" {
		t.Errorf("handicap = %q, want 0", line.Handicap)
	}
	if line.HomeOdds != "N/A" || line.OverUnder != "N/A" {
		t.Errorf("missing odds not defaulted: %+v", line)
	}
	if line.RawText != "FT | HDP 0 | TX N/A" {
		t.Errorf("raw text = %q", line.RawText)
	}
}
