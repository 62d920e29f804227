// Package normalize cleans team names and score strings extracted from
// bookmaker screenshots. Extraction output mixes Vietnamese and English
// market labels into the team cell, so the cleaners strip both.
package normalize

import (
	"regexp"
	"strings"
)

var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*[-–—]?\s*tổng\s*số\s*phạt\s*góc`),
	regexp.MustCompile(`(?i)\s*[-–—]?\s*total\s*corners`),
	regexp.MustCompile(`(?i)\s*[-–—]?\s*phạt\s*góc`),
	regexp.MustCompile(`(?i)\s*[-–—]?\s*corners`),
	regexp.MustCompile(`(?i)\s*\(n\)`),
	regexp.MustCompile(`(?i)\s*[-–—]?\s*thẻ\s*phạt`),
	regexp.MustCompile(`(?i)\s*[-–—]?\s*bookings`),
	regexp.MustCompile(`(?i)\s*W\s*$`),
	regexp.MustCompile(`(?i)\s*U\d+\s*$`),
}

var (
	trailingDash = regexp.MustCompile(`[-–—]\s*$`)
	scorePattern = regexp.MustCompile(`(\d+)\s*[-–:]\s*(\d+)`)
)

// TeamName strips market labels and trailing junk from an extracted team
// name. An empty input becomes "Unknown Team" so downstream merge keys stay
// non-empty.
func TeamName(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "Unknown Team"
	}
	name := raw
	for _, p := range noisePatterns {
		name = p.ReplaceAllString(name, "")
	}
	name = trailingDash.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if name == "" {
		return "Unknown Team"
	}
	return name
}

// Score canonicalizes a reported final score to "home - away". Anything that
// does not contain a recognizable pair of numbers collapses to "N/A" when it
// is long enough to be prose; short unrecognized strings pass through as-is.
func Score(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "N/A"
	}
	if m := scorePattern.FindStringSubmatch(trimmed); m != nil {
		return m[1] + " - " + m[2]
	}
	if len(trimmed) > 10 {
		return "N/A"
	}
	return trimmed
}
