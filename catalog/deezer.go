package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/31iotA1d3rs0n/blind-test-musical/models"
)

const (
	DefaultDeezerURL = "https://api.deezer.com"
	maxAttempts      = 15
	fetchLimit       = 100
)

var genrePlaylists = map[string][]string{
	"pop":     {"1111141961", "1313621735", "1282495565"},
	"rock":    {"1280927871", "1313619735", "987654321"},
	"hiphop":  {"1111143121", "1313622775", "2098157264"},
	"electro": {"1111142221", "1313620735", "1282495575"},
	"french":  {"1111141961", "1313624735", "1109890291"},
	"80s":     {"1313616735", "1128147861", "1282495585"},
	"90s":     {"1313617735", "1128147871", "1282495595"},
	"2000s":   {"1313618735", "1282495605", "1128147881"},
}

// hip-hop playlists narrowed by rap style
var rapPlaylists = map[string][]string{
	"fr": {"1111143121", "2098157264"},
	"us": {"1313622775"},
}

var languagePlaylists = map[string][]string{
	"french":  {"1111141961", "1109890291", "1313624735", "1111143121", "4403076402", "1996494362"},
	"english": {"1313621735", "1282495565", "1280927871", "1313622775", "3155776842", "1116189381"},
	"spanish": {"4823961464", "1313623735", "2701314554", "4403120062", "1282495615"},
}

var searchTerms = map[string]string{
	"pop":     "pop hits",
	"rock":    "rock classic",
	"hiphop":  "rap francais",
	"electro": "dance electronic",
	"french":  "chanson francaise",
	"80s":     "80s hits",
	"90s":     "90s hits",
	"2000s":   "2000s hits",
}

type deezerTrack struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Preview string `json:"preview"`
	Artist  struct {
		Name string `json:"name"`
	} `json:"artist"`
	Album struct {
		Cover       string `json:"cover"`
		CoverMedium string `json:"cover_medium"`
	} `json:"album"`
}

type deezerResponse struct {
	Data  []deezerTrack `json:"data"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Deezer pulls tracks from the public Deezer API. No credentials needed.
type Deezer struct {
	baseURL string
	client  *http.Client
	cache   Cache
	log     zerolog.Logger
}

func NewDeezer(baseURL string, client *http.Client, cache Cache, log zerolog.Logger) *Deezer {
	if baseURL == "" {
		baseURL = DefaultDeezerURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if cache == nil {
		cache = NopCache{}
	}
	return &Deezer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		cache:   cache,
		log:     log.With().Str("component", "deezer").Logger(),
	}
}

func (d *Deezer) GetRandomTracks(ctx context.Context, q Query) ([]models.Track, error) {
	if q.Count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrNoTracksFound)
	}

	tracks := make([]models.Track, 0, q.Count)
	usedIDs := make(map[int64]bool)
	usedArtists := make(map[string]bool)

	for attempt := 1; len(tracks) < q.Count && attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoTracksFound, err)
		}

		data, err := d.candidates(ctx, q)
		if err != nil {
			d.log.Warn().Err(err).Int("attempt", attempt).Msg("Catalog fetch failed")
		}
		if len(data) == 0 {
			data, err = d.search(ctx, q.Genre)
			if err != nil {
				d.log.Warn().Err(err).Int("attempt", attempt).Msg("Catalog search failed")
				continue
			}
		}

		rand.Shuffle(len(data), func(i, j int) { data[i], data[j] = data[j], data[i] })

		for _, t := range data {
			if t.Preview == "" || usedIDs[t.ID] {
				continue
			}
			artistKey := strings.ToLower(strings.TrimSpace(t.Artist.Name))
			if usedArtists[artistKey] {
				continue
			}
			usedIDs[t.ID] = true
			usedArtists[artistKey] = true
			tracks = append(tracks, toTrack(t))
			if len(tracks) >= q.Count {
				break
			}
		}
	}

	if len(tracks) < q.Count {
		return nil, fmt.Errorf("%w: got %d of %d", ErrNoTracksFound, len(tracks), q.Count)
	}

	rand.Shuffle(len(tracks), func(i, j int) { tracks[i], tracks[j] = tracks[j], tracks[i] })
	return tracks, nil
}

func toTrack(t deezerTrack) models.Track {
	track := models.Track{
		ID:         strconv.FormatInt(t.ID, 10),
		Title:      t.Title,
		Artist:     t.Artist.Name,
		AllArtists: []string{t.Artist.Name},
		PreviewURL: t.Preview,
	}
	cover := t.Album.CoverMedium
	if cover == "" {
		cover = t.Album.Cover
	}
	if cover != "" {
		track.AlbumCover = &cover
	}
	return track
}

// candidates picks one source for this attempt: a genre playlist, a
// language playlist, or the global chart.
func (d *Deezer) candidates(ctx context.Context, q Query) ([]deezerTrack, error) {
	if playlists := playlistsFor(q); len(playlists) > 0 {
		id := playlists[rand.IntN(len(playlists))]
		return d.fetch(ctx, fmt.Sprintf("%s/playlist/%s/tracks?limit=%d", d.baseURL, id, fetchLimit))
	}
	return d.fetch(ctx, fmt.Sprintf("%s/chart/0/tracks?limit=%d", d.baseURL, fetchLimit))
}

func playlistsFor(q Query) []string {
	if q.Genre == "hiphop" {
		if lists, ok := rapPlaylists[q.RapStyle]; ok {
			return lists
		}
	}
	if lists, ok := genrePlaylists[q.Genre]; ok {
		return lists
	}
	return languagePlaylists[q.Language]
}

func (d *Deezer) search(ctx context.Context, genre string) ([]deezerTrack, error) {
	term, ok := searchTerms[genre]
	if !ok {
		term = "hits"
	}
	return d.fetch(ctx, fmt.Sprintf("%s/search?q=%s&limit=%d", d.baseURL, url.QueryEscape(term), fetchLimit))
}

func (d *Deezer) fetch(ctx context.Context, endpoint string) ([]deezerTrack, error) {
	body, hit, err := d.cache.Get(ctx, endpoint)
	if err != nil {
		d.log.Debug().Err(err).Msg("Cache read failed")
	}

	if !hit {
		body, err = d.get(ctx, endpoint)
		if err != nil {
			return nil, err
		}
	}

	var resp deezerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("deezer error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	if !hit && len(resp.Data) > 0 {
		if err := d.cache.Set(ctx, endpoint, body); err != nil {
			d.log.Debug().Err(err).Msg("Cache write failed")
		}
	}
	return resp.Data, nil
}

func (d *Deezer) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", endpoint, res.StatusCode)
	}
	return io.ReadAll(res.Body)
}
