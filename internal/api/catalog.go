package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sonata-music/sonata/pkg/types"
)

func (c *Client) GetCategories(ctx context.Context) ([]*types.Category, error) {
	var categories []*types.Category
	if err := c.getJSON(ctx, "/public/categories", nil, &categories); err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}
	return categories, nil
}

func (c *Client) GetCategory(ctx context.Context, id int64) (*types.Category, error) {
	var category types.Category
	if err := c.getJSON(ctx, "/public/categories/"+strconv.FormatInt(id, 10), nil, &category); err != nil {
		return nil, fmt.Errorf("get category %d: %w", id, err)
	}
	return &category, nil
}

func (c *Client) GetArtists(ctx context.Context) ([]*types.Artist, error) {
	var artists []*types.Artist
	if err := c.getJSON(ctx, "/public/artists", nil, &artists); err != nil {
		return nil, fmt.Errorf("get artists: %w", err)
	}
	return artists, nil
}

func (c *Client) GetPopularArtists(ctx context.Context) ([]*types.Artist, error) {
	var artists []*types.Artist
	if err := c.getJSON(ctx, "/public/artists/popular", nil, &artists); err != nil {
		return nil, fmt.Errorf("get popular artists: %w", err)
	}
	return artists, nil
}

func (c *Client) GetArtist(ctx context.Context, id int64) (*types.Artist, error) {
	var artist types.Artist
	if err := c.getJSON(ctx, "/public/artists/"+strconv.FormatInt(id, 10), nil, &artist); err != nil {
		return nil, fmt.Errorf("get artist %d: %w", id, err)
	}
	return &artist, nil
}

func (c *Client) GetArtistAlbums(ctx context.Context, id int64) ([]*types.Album, error) {
	var albums []*types.Album
	path := "/public/artists/" + strconv.FormatInt(id, 10) + "/albums"
	if err := c.getJSON(ctx, path, nil, &albums); err != nil {
		return nil, fmt.Errorf("get albums of artist %d: %w", id, err)
	}
	return albums, nil
}

func (c *Client) SearchArtists(ctx context.Context, name string) ([]*types.Artist, error) {
	var artists []*types.Artist
	if err := c.getJSON(ctx, "/public/artists/search", url.Values{"name": {name}}, &artists); err != nil {
		return nil, fmt.Errorf("search artists: %w", err)
	}
	return artists, nil
}

func (c *Client) GetAlbums(ctx context.Context) ([]*types.Album, error) {
	var albums []*types.Album
	if err := c.getJSON(ctx, "/public/albums", nil, &albums); err != nil {
		return nil, fmt.Errorf("get albums: %w", err)
	}
	return albums, nil
}

func (c *Client) GetAlbum(ctx context.Context, id int64) (*types.Album, error) {
	var album types.Album
	if err := c.getJSON(ctx, "/public/albums/"+strconv.FormatInt(id, 10), nil, &album); err != nil {
		return nil, fmt.Errorf("get album %d: %w", id, err)
	}
	return &album, nil
}

func (c *Client) GetAlbumSongs(ctx context.Context, albumID int64) ([]*types.Song, error) {
	var songs []*types.Song
	path := "/public/albums/" + strconv.FormatInt(albumID, 10) + "/songs"
	if err := c.getJSON(ctx, path, nil, &songs); err != nil {
		return nil, fmt.Errorf("get songs of album %d: %w", albumID, err)
	}
	for _, s := range songs {
		if s != nil && s.AlbumID == 0 {
			s.AlbumID = albumID
		}
	}
	return songs, nil
}

func (c *Client) SearchAlbums(ctx context.Context, title string) ([]*types.Album, error) {
	var albums []*types.Album
	if err := c.getJSON(ctx, "/public/albums/search", url.Values{"title": {title}}, &albums); err != nil {
		return nil, fmt.Errorf("search albums: %w", err)
	}
	return albums, nil
}

func (c *Client) GetSong(ctx context.Context, id int64) (*types.Song, error) {
	var song types.Song
	if err := c.getJSON(ctx, "/public/songs/"+strconv.FormatInt(id, 10), nil, &song); err != nil {
		return nil, fmt.Errorf("get song %d: %w", id, err)
	}
	return &song, nil
}
