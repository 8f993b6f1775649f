package catalog

import (
	"context"
	"errors"

	"github.com/31iotA1d3rs0n/blind-test-musical/models"
)

var ErrNoTracksFound = errors.New("no tracks found")

type Query struct {
	Count    int
	Genre    string
	Language string
	RapStyle string
}

// TrackProvider returns Count playable tracks with distinct artists, or
// ErrNoTracksFound.
type TrackProvider interface {
	GetRandomTracks(ctx context.Context, q Query) ([]models.Track, error)
}

type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var genres = []Genre{
	{"pop", "Pop"},
	{"rock", "Rock"},
	{"hiphop", "Hip-Hop / Rap"},
	{"electro", "Electro / Dance"},
	{"french", "Chanson française"},
	{"80s", "Années 80"},
	{"90s", "Années 90"},
	{"2000s", "Années 2000"},
}

func Genres() []Genre {
	out := make([]Genre, len(genres))
	copy(out, genres)
	return out
}
