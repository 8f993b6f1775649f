package services

import "fmt"

type MatchType string

const (
	MatchNone   MatchType = ""
	MatchTitle  MatchType = "title"
	MatchArtist MatchType = "artist"
	MatchBoth   MatchType = "both"
)

var basePoints = map[MatchType]int{
	MatchTitle:  1,
	MatchArtist: 1,
	MatchBoth:   3,
}

var baseLabels = map[MatchType]string{
	MatchTitle:  "Title",
	MatchArtist: "Artist",
	MatchBoth:   "Title + Artist",
}

// speed bonus indexed by position among same-type answers
var speedBonus = []struct {
	label  string
	points int
}{
	{"First!", 2},
	{"Second", 1},
}

// highest threshold first, only one applies
var streakBonus = []struct {
	min    int
	points int
}{
	{10, 5},
	{5, 2},
	{3, 1},
}

type ScoreInput struct {
	AnswerType MatchType
	Position   int
	Streak     int
}

type PointsItem struct {
	Label  string `json:"label"`
	Points int    `json:"points"`
}

type Score struct {
	Total     int          `json:"total"`
	Breakdown []PointsItem `json:"breakdown"`
}

// CalculatePoints is pure: base, then speed, then streak.
func CalculatePoints(in ScoreInput) Score {
	var s Score

	if base, ok := basePoints[in.AnswerType]; ok {
		s.add(baseLabels[in.AnswerType], base)
	}

	if in.Position >= 0 && in.Position < len(speedBonus) {
		s.add(speedBonus[in.Position].label, speedBonus[in.Position].points)
	}

	for _, tier := range streakBonus {
		if in.Streak >= tier.min {
			s.add(fmt.Sprintf("Streak x%d", in.Streak), tier.points)
			break
		}
	}

	return s
}

func (s *Score) add(label string, points int) {
	s.Total += points
	s.Breakdown = append(s.Breakdown, PointsItem{Label: label, Points: points})
}
