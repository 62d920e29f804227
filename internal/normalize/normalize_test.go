package normalize

import "testing"

func TestTeamName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Arsenal", "Arsenal"},
		{"empty", "", "Unknown Team"},
		{"whitespace only", "   ", "Unknown Team"},
		{"vietnamese corners label", "Real Madrid - Tổng số phạt góc", "Real Madrid"},
		{"english corners label", "Liverpool Total Corners", "Liverpool"},
		{"short corners label", "Barcelona - Phạt góc", "Barcelona"},
		{"bare corners", "Inter Corners", "Inter"},
		{"neutral ground marker", "Ajax (N)", "Ajax"},
		{"cards label", "Juventus - Thẻ phạt", "Juventus"},
		{"bookings label", "Milan Bookings", "Milan"},
		{"womens suffix", "Chelsea W", "Chelsea"},
		{"youth suffix", "Tottenham U21", "Tottenham"},
		{"trailing dash", "Porto - ", "Porto"},
		{"stacked noise", "Benfica - Tổng số phạt góc - ", "Benfica"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TeamName(tt.in); got != tt.want {
				t.Errorf("TeamName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTeamNameIdempotent(t *testing.T) {
	inputs := []string{
		"Arsenal",
		"Chelsea W",
		"Real Madrid - Tổng số phạt góc",
		"Tottenham U21",
		"",
	}
	for _, in := range inputs {
		once := TeamName(in)
		twice := TeamName(once)
		if once != twice {
			t.Errorf("TeamName not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"dash", "2-1", "2 - 1"},
		{"colon", "2:1", "2 - 1"},
		{"spaced", "3 - 0", "3 - 0"},
		{"en dash", "1–1", "1 - 1"},
		{"embedded in prose", "Final score was 2-1 after extra time", "2 - 1"},
		{"empty", "", "N/A"},
		{"whitespace", "  ", "N/A"},
		{"long prose no digits", "match was postponed", "N/A"},
		{"short unrecognized", "abandoned", "abandoned"},
		{"double digits", "10-2", "10 - 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.in); got != tt.want {
				t.Errorf("Score(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
