package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sonata-music/sonata/pkg/types"
)

const songColumns = `id, title, artist_name, album_id, cover_url, duration, last_sync`

func scanSong(s scanner) (*types.Song, error) {
	var song types.Song
	var lastSync sql.NullTime
	if err := s.Scan(&song.ID, &song.Title, &song.ArtistName, &song.AlbumID,
		&song.CoverURL, &song.Duration, &lastSync); err != nil {
		return nil, err
	}
	song.LastSync = lastSync.Time
	return &song, nil
}

func (d *Database) querySongs(ctx context.Context, op, query string, args ...interface{}) (songs []*types.Song, err error) {
	start := time.Now()
	defer func() { d.logFailure(op, start, err) }()

	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query songs: %w", err)
	}
	defer d.closeRows(rows)

	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("scan song: %w", err)
		}
		songs = append(songs, song)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return songs, nil
}

func (d *Database) GetSongs(ctx context.Context, limit, offset int) ([]*types.Song, error) {
	return d.querySongs(ctx, "GetSongs",
		`SELECT `+songColumns+` FROM songs ORDER BY title COLLATE NOCASE, id LIMIT ? OFFSET ?`,
		limit, offset)
}

// GetSong returns nil without an error when the song is not cached.
func (d *Database) GetSong(ctx context.Context, id int64) (*types.Song, error) {
	songs, err := d.querySongs(ctx, "GetSong", `SELECT `+songColumns+` FROM songs WHERE id = ?`, id)
	if err != nil || len(songs) == 0 {
		return nil, err
	}
	return songs[0], nil
}

func (d *Database) GetAlbumSongs(ctx context.Context, albumID int64) ([]*types.Song, error) {
	return d.querySongs(ctx, "GetAlbumSongs",
		`SELECT `+songColumns+` FROM songs WHERE album_id = ? ORDER BY id`, albumID)
}

// SearchSongs matches title or artist name as a case-insensitive substring.
func (d *Database) SearchSongs(ctx context.Context, query string, limit int) ([]*types.Song, error) {
	pattern := likePattern(query)
	return d.querySongs(ctx, "SearchSongs",
		`SELECT `+songColumns+` FROM songs
		 WHERE title LIKE ? ESCAPE '\' OR artist_name LIKE ? ESCAPE '\'
		 ORDER BY title COLLATE NOCASE, id LIMIT ?`,
		pattern, pattern, limit)
}

func (d *Database) SaveSong(ctx context.Context, song *types.Song) error {
	return d.SaveSongs(ctx, []*types.Song{song})
}

func (d *Database) SaveSongs(ctx context.Context, songs []*types.Song) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, song := range songs {
			if err := saveSongInTx(ctx, tx, song); err != nil {
				return err
			}
		}
		return nil
	})
}

func saveSongInTx(ctx context.Context, tx *sql.Tx, song *types.Song) error {
	if song == nil {
		return nil
	}
	if song.LastSync.IsZero() {
		song.LastSync = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO songs (id, title, artist_name, album_id, cover_url, duration, last_sync)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist_name = excluded.artist_name,
			album_id = CASE WHEN excluded.album_id != 0 THEN excluded.album_id ELSE songs.album_id END,
			cover_url = COALESCE(excluded.cover_url, songs.cover_url),
			duration = excluded.duration,
			last_sync = excluded.last_sync`,
		song.ID, song.Title, song.ArtistName, song.AlbumID, coverOf(song), song.Duration, stamp(song.LastSync))
	if err != nil {
		return fmt.Errorf("insert song %d: %w", song.ID, err)
	}
	return nil
}

// coverOf stores whichever artwork reference the backend sent.
func coverOf(song *types.Song) *string {
	if c := song.Cover(); c != "" {
		return &c
	}
	return nil
}

func (d *Database) DeleteSong(ctx context.Context, id int64) error {
	if err := d.checkClosed(); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, "DELETE FROM songs WHERE id = ?", id)
	return err
}

const albumColumns = `id, title, artist_name, cover_url, price, release_year, category_name, description, last_sync`

func scanAlbum(s scanner) (*types.Album, error) {
	var album types.Album
	var lastSync sql.NullTime
	if err := s.Scan(&album.ID, &album.Title, &album.ArtistName, &album.CoverURL, &album.Price,
		&album.ReleaseYear, &album.CategoryName, &album.Description, &lastSync); err != nil {
		return nil, err
	}
	album.LastSync = lastSync.Time
	return &album, nil
}

func (d *Database) GetAlbums(ctx context.Context, limit, offset int) (albums []*types.Album, err error) {
	start := time.Now()
	defer func() { d.logFailure("GetAlbums", start, err) }()

	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+albumColumns+` FROM albums ORDER BY title COLLATE NOCASE, id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query albums: %w", err)
	}
	defer d.closeRows(rows)

	for rows.Next() {
		album, err := scanAlbum(rows)
		if err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		albums = append(albums, album)
	}
	return albums, rows.Err()
}

// GetAlbum returns the album with its cached songs, or nil when unknown.
func (d *Database) GetAlbum(ctx context.Context, id int64) (*types.Album, error) {
	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	album, err := scanAlbum(d.db.QueryRowContext(ctx, `SELECT `+albumColumns+` FROM albums WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan album: %w", err)
	}

	if album.Songs, err = d.GetAlbumSongs(ctx, id); err != nil {
		return nil, fmt.Errorf("load album songs: %w", err)
	}
	return album, nil
}

// SaveAlbum stores the album and any songs it carries.
func (d *Database) SaveAlbum(ctx context.Context, album *types.Album) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if album.LastSync.IsZero() {
			album.LastSync = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO albums
				(id, title, artist_name, cover_url, price, release_year, category_name, description, last_sync)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			album.ID, album.Title, album.ArtistName, album.CoverURL, album.Price,
			album.ReleaseYear, album.CategoryName, album.Description, stamp(album.LastSync))
		if err != nil {
			return fmt.Errorf("insert album %d: %w", album.ID, err)
		}

		for _, song := range album.Songs {
			if song != nil && song.AlbumID == 0 {
				song.AlbumID = album.ID
			}
			if err := saveSongInTx(ctx, tx, song); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) GetArtists(ctx context.Context, limit, offset int) (artists []*types.Artist, err error) {
	start := time.Now()
	defer func() { d.logFailure("GetArtists", start, err) }()

	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, image, last_sync FROM artists ORDER BY name COLLATE NOCASE, id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query artists: %w", err)
	}
	defer d.closeRows(rows)

	for rows.Next() {
		var artist types.Artist
		var lastSync sql.NullTime
		if err := rows.Scan(&artist.ID, &artist.Name, &artist.Image, &lastSync); err != nil {
			return nil, fmt.Errorf("scan artist: %w", err)
		}
		artist.LastSync = lastSync.Time
		artists = append(artists, &artist)
	}
	return artists, rows.Err()
}

func (d *Database) SaveArtists(ctx context.Context, artists []*types.Artist) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		for _, artist := range artists {
			if artist == nil {
				continue
			}
			if artist.LastSync.IsZero() {
				artist.LastSync = now
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO artists (id, name, image, last_sync) VALUES (?, ?, ?, ?)`,
				artist.ID, artist.Name, artist.Image, stamp(artist.LastSync)); err != nil {
				return fmt.Errorf("insert artist %d: %w", artist.ID, err)
			}
		}
		return nil
	})
}

func (d *Database) GetPlaylists(ctx context.Context) (playlists []*types.Playlist, err error) {
	start := time.Now()
	defer func() { d.logFailure("GetPlaylists", start, err) }()

	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, thumbnail, last_sync FROM playlists ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("query playlists: %w", err)
	}
	defer d.closeRows(rows)

	for rows.Next() {
		var playlist types.Playlist
		var lastSync sql.NullTime
		if err := rows.Scan(&playlist.ID, &playlist.Name, &playlist.Thumbnail, &lastSync); err != nil {
			return nil, fmt.Errorf("scan playlist: %w", err)
		}
		playlist.LastSync = lastSync.Time
		playlists = append(playlists, &playlist)
	}
	return playlists, rows.Err()
}

// GetPlaylist returns the playlist with its songs in order, or nil when unknown.
func (d *Database) GetPlaylist(ctx context.Context, id int64) (*types.Playlist, error) {
	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	var playlist types.Playlist
	var lastSync sql.NullTime
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, thumbnail, last_sync FROM playlists WHERE id = ?`, id).
		Scan(&playlist.ID, &playlist.Name, &playlist.Thumbnail, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan playlist: %w", err)
	}
	playlist.LastSync = lastSync.Time

	playlist.Songs, err = d.querySongs(ctx, "GetPlaylist", `
		SELECT s.id, s.title, s.artist_name, s.album_id, s.cover_url, s.duration, s.last_sync
		FROM playlist_songs ps
		JOIN songs s ON ps.song_id = s.id
		WHERE ps.playlist_id = ?
		ORDER BY ps.position`, id)
	if err != nil {
		return nil, fmt.Errorf("load playlist songs: %w", err)
	}
	return &playlist, nil
}

// SavePlaylist replaces the stored playlist and its song order.
func (d *Database) SavePlaylist(ctx context.Context, playlist *types.Playlist) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if playlist.LastSync.IsZero() {
			playlist.LastSync = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO playlists (id, name, thumbnail, last_sync) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, thumbnail = excluded.thumbnail, last_sync = excluded.last_sync`,
			playlist.ID, playlist.Name, playlist.Thumbnail, stamp(playlist.LastSync)); err != nil {
			return fmt.Errorf("insert playlist %d: %w", playlist.ID, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM playlist_songs WHERE playlist_id = ?", playlist.ID); err != nil {
			return fmt.Errorf("delete old playlist songs: %w", err)
		}

		position := 0
		for _, song := range playlist.Songs {
			if song == nil {
				continue
			}
			if err := saveSongInTx(ctx, tx, song); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO playlist_songs (playlist_id, song_id, position) VALUES (?, ?, ?)",
				playlist.ID, song.ID, position); err != nil {
				return fmt.Errorf("insert playlist song: %w", err)
			}
			position++
		}
		return nil
	})
}

func (d *Database) DeletePlaylist(ctx context.Context, id int64) error {
	if err := d.checkClosed(); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, "DELETE FROM playlists WHERE id = ?", id)
	return err
}
