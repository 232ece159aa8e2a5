package storage

import (
	"context"
	"fmt"
)

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	createCatalogTables,
	createPlaybackTables,
	createIndexes,
}

func (d *Database) runMigrations(ctx context.Context) error {
	var version int
	if err := d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if _, err := d.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := d.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("record schema version %d: %w", i+1, err)
		}
	}

	return nil
}

const createCatalogTables = `
CREATE TABLE IF NOT EXISTS artists (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	image TEXT,
	last_sync TIMESTAMP
);

CREATE TABLE IF NOT EXISTS albums (
	id INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	artist_name TEXT NOT NULL DEFAULT '',
	cover_url TEXT,
	price REAL NOT NULL DEFAULT 0,
	release_year INTEGER NOT NULL DEFAULT 0,
	category_name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	last_sync TIMESTAMP
);

CREATE TABLE IF NOT EXISTS songs (
	id INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	artist_name TEXT NOT NULL DEFAULT '',
	album_id INTEGER NOT NULL DEFAULT 0,
	cover_url TEXT,
	duration INTEGER NOT NULL DEFAULT 0,
	last_sync TIMESTAMP
);

CREATE TABLE IF NOT EXISTS playlists (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	thumbnail TEXT,
	last_sync TIMESTAMP
);

CREATE TABLE IF NOT EXISTS playlist_songs (
	playlist_id INTEGER NOT NULL,
	song_id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (playlist_id, position),
	FOREIGN KEY (playlist_id) REFERENCES playlists(id) ON DELETE CASCADE,
	FOREIGN KEY (song_id) REFERENCES songs(id) ON DELETE CASCADE
);
`

const createPlaybackTables = `
CREATE TABLE IF NOT EXISTS play_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	track_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	artist_name TEXT NOT NULL DEFAULT '',
	played_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	state TEXT NOT NULL,
	saved_at TIMESTAMP NOT NULL
);
`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_songs_album ON songs(album_id);
CREATE INDEX IF NOT EXISTS idx_songs_title ON songs(title);
CREATE INDEX IF NOT EXISTS idx_albums_title ON albums(title);
CREATE INDEX IF NOT EXISTS idx_artists_name ON artists(name);
CREATE INDEX IF NOT EXISTS idx_playlist_songs_song ON playlist_songs(song_id);
CREATE INDEX IF NOT EXISTS idx_play_history_track ON play_history(track_id);
`
