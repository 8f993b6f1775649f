package services

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/31iotA1d3rs0n/blind-test-musical/models"
)

const (
	minFuzzyLen    = 3
	minTypoWordLen = 4
	prefixRatio    = 0.7
	typoTolerance  = 0.15
)

// Normalize lowercases s, strips diacritics, keeps only [a-z0-9 ] and
// collapses whitespace.
func Normalize(s string) string {
	// transform.Chain keeps state, so build one per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(stripMarks, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FuzzyMatch reports whether a guess is close enough to target. Both
// arguments are normalized first.
func FuzzyMatch(input, target string) bool {
	return fuzzyMatch(Normalize(input), Normalize(target))
}

func fuzzyMatch(input, target string) bool {
	if input == "" || target == "" {
		return false
	}
	if input == target {
		return true
	}

	// the guess contains the whole target, e.g. "kendji girac" for "kendji"
	if len(target) >= minFuzzyLen && strings.Contains(input, target) {
		return true
	}

	if isPrefixGuess(input, target) {
		return true
	}

	for _, part := range strings.Split(target, " ") {
		if len(part) < 2 {
			continue
		}
		if input == part || isPrefixGuess(input, part) {
			return true
		}
		if isTypoOf(input, part) {
			return true
		}
	}

	return levenshtein.ComputeDistance(input, target) <= maxTypos(target)
}

func isPrefixGuess(input, target string) bool {
	return len(input) >= minFuzzyLen &&
		strings.HasPrefix(target, input) &&
		float64(len(input))/float64(len(target)) >= prefixRatio
}

// isTypoOf accepts a misspelled word of the target. Short words are left
// to the exact and prefix rules.
func isTypoOf(input, part string) bool {
	if len(input) < minFuzzyLen || len(part) < minTypoWordLen {
		return false
	}
	if float64(len(input))/float64(len(part)) < prefixRatio {
		return false
	}
	return levenshtein.ComputeDistance(input, part) <= maxTypos(part)
}

func maxTypos(target string) int {
	return max(1, int(float64(len(target))*typoTolerance))
}

// Match checks a guess against the fields the player has not found yet
// and returns the richest match.
func Match(guess string, track models.Track, foundTitle, foundArtist bool) MatchType {
	input := Normalize(guess)
	if input == "" {
		return MatchNone
	}

	title := !foundTitle && fuzzyMatch(input, Normalize(track.Title))

	artist := false
	if !foundArtist {
		for _, name := range append([]string{track.Artist}, track.AllArtists...) {
			if fuzzyMatch(input, Normalize(name)) {
				artist = true
				break
			}
		}
	}

	switch {
	case title && artist:
		return MatchBoth
	case title:
		return MatchTitle
	case artist:
		return MatchArtist
	}
	return MatchNone
}
