package types

import (
	"time"
)

// Track is one playable audio item as seen by the playback session.
type Track struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	ArtistName     string `json:"artistName"`
	CoverArtURL    string `json:"coverUrl,omitempty"`
	StreamURL      string `json:"streamUrl,omitempty"`
	DurationMillis int64  `json:"durationMillis,omitempty"`
}

func (t Track) HasStream() bool {
	return t.StreamURL != ""
}

type Category struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type Artist struct {
	ID         int64   `json:"id" db:"id"`
	Name       string  `json:"name" db:"name"`
	Image      *string `json:"image" db:"image"`
	AlbumCount int     `json:"albumCount" db:"-"`
	SongCount  int     `json:"songCount" db:"-"`

	LastSync time.Time `json:"-" db:"last_sync"`
}

type Album struct {
	ID           int64   `json:"id" db:"id"`
	Title        string  `json:"title" db:"title"`
	ArtistName   string  `json:"artistName" db:"artist_name"`
	CoverURL     *string `json:"coverUrl" db:"cover_url"`
	Price        float64 `json:"price" db:"price"`
	ReleaseYear  int     `json:"releaseYear" db:"release_year"`
	CategoryName string  `json:"categoryName" db:"category_name"`
	Description  string  `json:"description" db:"description"`
	Songs        []*Song `json:"songs,omitempty" db:"-"`

	LastSync time.Time `json:"-" db:"last_sync"`
}

type Song struct {
	ID            int64   `json:"id" db:"id"`
	Title         string  `json:"title" db:"title"`
	ArtistName    string  `json:"artistName" db:"artist_name"`
	AlbumID       int64   `json:"albumId" db:"album_id"`
	CoverURL      *string `json:"coverUrl" db:"cover_url"`
	Thumbnail     *string `json:"thumbnail" db:"-"`
	AlbumCoverURL *string `json:"albumCoverUrl" db:"-"`
	Duration      int64   `json:"duration" db:"duration"`

	LastSync time.Time `json:"-" db:"last_sync"`
}

// Cover returns the first non-empty artwork reference the backend sent.
func (s *Song) Cover() string {
	for _, c := range []*string{s.CoverURL, s.Thumbnail, s.AlbumCoverURL} {
		if c != nil && *c != "" {
			return *c
		}
	}
	return ""
}

// Track converts a catalog song into a playable track. The stream URL is left
// empty and resolved by the session when playback starts.
func (s *Song) Track() Track {
	return Track{
		ID:             s.ID,
		Title:          s.Title,
		ArtistName:     s.ArtistName,
		CoverArtURL:    s.Cover(),
		DurationMillis: s.Duration * 1000,
	}
}

type Playlist struct {
	ID        int64   `json:"id" db:"id"`
	Name      string  `json:"name" db:"name"`
	Thumbnail *string `json:"thumbnail" db:"thumbnail"`
	Songs     []*Song `json:"songs" db:"-"`

	LastSync time.Time `json:"-" db:"last_sync"`
}

// Tracks converts the playlist songs, falling back to the playlist artwork.
func (p *Playlist) Tracks() []Track {
	tracks := make([]Track, 0, len(p.Songs))
	for _, s := range p.Songs {
		if s == nil {
			continue
		}
		t := s.Track()
		if t.CoverArtURL == "" && p.Thumbnail != nil {
			t.CoverArtURL = *p.Thumbnail
		}
		tracks = append(tracks, t)
	}
	return tracks
}

type Profile struct {
	ID            int64   `json:"id"`
	Username      string  `json:"username"`
	Email         string  `json:"email"`
	FullName      *string `json:"fullName"`
	WalletBalance float64 `json:"walletBalance"`
	RoleName      string  `json:"roleName,omitempty"`
	Avatar        string  `json:"avatar,omitempty"`
	Bio           string  `json:"bio,omitempty"`
}

type ProfileUpdate struct {
	FullName *string `json:"fullName,omitempty"`
	Email    *string `json:"email,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
	Bio      *string `json:"bio,omitempty"`
}

type Transaction struct {
	ID          int64     `json:"id"`
	Amount      float64   `json:"amount"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsDeposit reports whether the transaction added money to the wallet.
func (t Transaction) IsDeposit() bool {
	switch t.Type {
	case "DEPOSIT", "TOP_UP", "TOPUP", "deposit":
		return true
	default:
		return false
	}
}

// StreamInfo is the backend's answer to a stream request for one track.
type StreamInfo struct {
	TrackID   int64     `json:"songId"`
	URL       string    `json:"streamUrl"`
	HasAccess bool      `json:"hasAccess"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

type PlayHistoryEntry struct {
	ID         int64     `db:"id"`
	TrackID    int64     `db:"track_id"`
	Title      string    `db:"title"`
	ArtistName string    `db:"artist_name"`
	PlayedAt   time.Time `db:"played_at"`
}

type SearchResults struct {
	Songs   []*Song   `json:"songs"`
	Albums  []*Album  `json:"albums"`
	Artists []*Artist `json:"artists"`
	Total   int       `json:"total"`
}

// QueueState is the persisted form of a session queue.
type QueueState struct {
	Tracks       []Track    `json:"tracks"`
	CurrentIndex int        `json:"currentIndex"`
	RepeatMode   RepeatMode `json:"repeatMode"`
	SavedAt      time.Time  `json:"savedAt"`
}
