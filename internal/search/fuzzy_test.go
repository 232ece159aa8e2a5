package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonata-music/sonata/pkg/types"
)

type memStorage struct {
	songs   []*types.Song
	albums  []*types.Album
	artists []*types.Artist
	err     error
}

func (m *memStorage) GetSongs(ctx context.Context, limit, offset int) ([]*types.Song, error) {
	return m.songs, m.err
}

func (m *memStorage) GetAlbums(ctx context.Context, limit, offset int) ([]*types.Album, error) {
	return m.albums, nil
}

func (m *memStorage) GetArtists(ctx context.Context, limit, offset int) ([]*types.Artist, error) {
	return m.artists, nil
}

func (m *memStorage) SearchSongs(ctx context.Context, query string, limit int) ([]*types.Song, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*types.Song
	for _, s := range m.songs {
		if strings.Contains(strings.ToLower(s.Title), strings.ToLower(query)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func library() *memStorage {
	return &memStorage{
		songs: []*types.Song{
			{ID: 1, Title: "So What", ArtistName: "Miles Davis"},
			{ID: 2, Title: "Blue in Green", ArtistName: "Miles Davis"},
			{ID: 3, Title: "Giant Steps", ArtistName: "John Coltrane"},
			{ID: 4, Title: "Naima", ArtistName: "John Coltrane"},
		},
		albums: []*types.Album{
			{ID: 10, Title: "Kind of Blue", ArtistName: "Miles Davis"},
			{ID: 11, Title: "Giant Steps", ArtistName: "John Coltrane"},
		},
		artists: []*types.Artist{
			{ID: 20, Name: "Miles Davis"},
			{ID: 21, Name: "John Coltrane"},
		},
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	res, err := NewEngine(library()).Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Songs)
	assert.Zero(t, res.Total)
}

func TestSearchRanksSubstringFirst(t *testing.T) {
	res, err := NewEngine(library()).Search(context.Background(), "blue", 10)
	require.NoError(t, err)

	require.NotEmpty(t, res.Songs)
	assert.Equal(t, int64(2), res.Songs[0].ID)
	require.NotEmpty(t, res.Albums)
	assert.Equal(t, int64(10), res.Albums[0].ID)
	assert.Equal(t, len(res.Songs)+len(res.Albums)+len(res.Artists), res.Total)
}

func TestSearchByArtist(t *testing.T) {
	res, err := NewEngine(library()).Search(context.Background(), "coltrane", 10)
	require.NoError(t, err)

	ids := make([]int64, 0, len(res.Songs))
	for _, s := range res.Songs {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []int64{3, 4}, ids)
	require.NotEmpty(t, res.Artists)
	assert.Equal(t, "John Coltrane", res.Artists[0].Name)
}

func TestSearchToleratesTypos(t *testing.T) {
	res, err := NewEngine(library()).FuzzySearch(context.Background(), "naimma")
	require.NoError(t, err)
	require.NotEmpty(t, res.Songs)
	assert.Equal(t, int64(4), res.Songs[0].ID)
}

func TestSearchDeduplicatesAndLimits(t *testing.T) {
	res, err := NewEngine(library()).Search(context.Background(), "s", 1)
	require.NoError(t, err)
	assert.Len(t, res.Songs, 1)

	merged := mergeSongs(
		[]*types.Song{{ID: 1}, {ID: 2}},
		[]*types.Song{{ID: 2}, nil, {ID: 3}},
	)
	assert.Len(t, merged, 3)
}

func TestSearchStorageError(t *testing.T) {
	store := library()
	store.err = errors.New("disk gone")

	_, err := NewEngine(store).Search(context.Background(), "blue", 10)
	assert.ErrorContains(t, err, "disk gone")
}
