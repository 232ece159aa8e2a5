package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/sonata-music/sonata/pkg/types"
)

// scanLimit bounds how many cached rows of each kind are ranked per query.
const scanLimit = 2000

// Engine ranks cached catalog entries against a free-text query.
type Engine struct {
	storage types.Storage
}

func NewEngine(storage types.Storage) *Engine {
	return &Engine{storage: storage}
}

// Search combines the database substring match with fuzzy ranking. Exact
// substring hits come first.
func (e *Engine) Search(ctx context.Context, query string, limit int) (*types.SearchResults, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &types.SearchResults{}, nil
	}

	songs, err := e.storage.SearchSongs(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search songs: %w", err)
	}

	fuzzyResults, err := e.FuzzySearch(ctx, query)
	if err != nil {
		return nil, err
	}

	results := &types.SearchResults{
		Songs:   truncate(mergeSongs(songs, fuzzyResults.Songs), limit),
		Albums:  truncate(fuzzyResults.Albums, limit),
		Artists: truncate(fuzzyResults.Artists, limit),
	}
	results.Total = len(results.Songs) + len(results.Albums) + len(results.Artists)
	return results, nil
}

// FuzzySearch ranks every cached song, album and artist. Results are unbounded.
func (e *Engine) FuzzySearch(ctx context.Context, query string) (*types.SearchResults, error) {
	songs, err := e.storage.GetSongs(ctx, scanLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("load songs: %w", err)
	}
	albums, err := e.storage.GetAlbums(ctx, scanLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("load albums: %w", err)
	}
	artists, err := e.storage.GetArtists(ctx, scanLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("load artists: %w", err)
	}

	q := strings.ToLower(query)
	results := &types.SearchResults{
		Songs: rank(songs, func(s *types.Song) float64 {
			return score(q, s.Title) + secondary(q, s.ArtistName, 7)
		}),
		Albums: rank(albums, func(a *types.Album) float64 {
			return score(q, a.Title) + secondary(q, a.ArtistName, 5)
		}),
		Artists: rank(artists, func(a *types.Artist) float64 {
			return score(q, a.Name)
		}),
	}
	results.Total = len(results.Songs) + len(results.Albums) + len(results.Artists)
	return results, nil
}

// score weighs a substring hit above an in-order character match, and adds
// the closeness of the whole string when it is within half the query length.
func score(query, text string) float64 {
	text = strings.ToLower(text)
	s := 0.0

	switch {
	case strings.Contains(text, query):
		s += 10
	case fuzzy.Match(query, text):
		s += 3
	}

	distance := fuzzy.LevenshteinDistance(query, text)
	if distance <= len(query)/2 {
		s += float64(len(query) - distance)
	}
	return s
}

func secondary(query, text string, weight float64) float64 {
	if text != "" && strings.Contains(strings.ToLower(text), query) {
		return weight
	}
	return 0
}

type scored[T any] struct {
	item  T
	score float64
}

func rank[T any](items []T, scoreFn func(T) float64) []T {
	var hits []scored[T]
	for _, item := range items {
		if s := scoreFn(item); s > 0 {
			hits = append(hits, scored[T]{item: item, score: s})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	out := make([]T, len(hits))
	for i, h := range hits {
		out[i] = h.item
	}
	return out
}

func mergeSongs(first, second []*types.Song) []*types.Song {
	seen := make(map[int64]bool, len(first)+len(second))
	var result []*types.Song

	for _, list := range [][]*types.Song{first, second} {
		for _, song := range list {
			if song == nil || seen[song.ID] {
				continue
			}
			seen[song.ID] = true
			result = append(result, song)
		}
	}
	return result
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
