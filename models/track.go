package models

// Track is immutable once the catalog returned it.
type Track struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Artist     string   `json:"artist"`
	AllArtists []string `json:"allArtists"`
	PreviewURL string   `json:"previewUrl"`
	AlbumCover *string  `json:"albumCover"`
}
