package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/storage"
	"github.com/sonata-music/sonata/pkg/types"
)

// TopUpPlatform is the return flow requested from the payment gateway.
const TopUpPlatform = "WEB_BROWSER"

var (
	ErrNothingToUpdate = errors.New("no profile fields to update")
	ErrInvalidAmount   = errors.New("top-up amount must be positive")
	ErrEmptyName       = errors.New("playlist name is empty")
	ErrNoSongs         = errors.New("no songs given")
)

// AccountBackend is the signed-in customer's side of the store API.
type AccountBackend interface {
	GetProfile(ctx context.Context) (*types.Profile, error)
	UpdateProfile(ctx context.Context, update types.ProfileUpdate) (*types.Profile, error)
	GetWalletBalance(ctx context.Context) (float64, error)
	CreateTopUp(ctx context.Context, amount, userID int64, platform string) (string, error)
	GetTransactions(ctx context.Context) ([]*types.Transaction, error)

	GetMyAlbums(ctx context.Context) ([]*types.Album, error)
	GetFavoriteAlbums(ctx context.Context) ([]*types.Album, error)
	GetPopularArtists(ctx context.Context) ([]*types.Artist, error)
	GetArtistAlbums(ctx context.Context, id int64) ([]*types.Album, error)

	GetPlaylist(ctx context.Context, id int64) (*types.Playlist, error)
	CreatePlaylist(ctx context.Context, name string) (*types.Playlist, error)
	AddSongsToPlaylist(ctx context.Context, id int64, songIDs ...int64) error
	RemoveSongFromPlaylist(ctx context.Context, id, songID int64) error
	DeletePlaylist(ctx context.Context, id int64) error
}

// AccountService runs profile, wallet and playlist operations against the
// backend. Playlist changes are mirrored into the local database so cached
// playback sees them; a mirror failure is logged, not returned.
type AccountService struct {
	backend AccountBackend
	storage *storage.Database
	logger  *zap.Logger
}

func NewAccountService(backend AccountBackend, db *storage.Database, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		backend: backend,
		storage: db,
		logger:  logger.Named("account"),
	}
}

func (s *AccountService) Profile(ctx context.Context) (*types.Profile, error) {
	return s.backend.GetProfile(ctx)
}

func (s *AccountService) UpdateProfile(ctx context.Context, update types.ProfileUpdate) (*types.Profile, error) {
	if update.FullName == nil && update.Email == nil && update.Avatar == nil && update.Bio == nil {
		return nil, ErrNothingToUpdate
	}
	return s.backend.UpdateProfile(ctx, update)
}

func (s *AccountService) Balance(ctx context.Context) (float64, error) {
	return s.backend.GetWalletBalance(ctx)
}

// TopUp starts a deposit for the signed-in user and returns the payment page.
func (s *AccountService) TopUp(ctx context.Context, amount int64) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	profile, err := s.backend.GetProfile(ctx)
	if err != nil {
		return "", err
	}
	if profile.ID == 0 {
		return "", errors.New("profile has no user id")
	}

	link, err := s.backend.CreateTopUp(ctx, amount, profile.ID, TopUpPlatform)
	if err != nil {
		return "", err
	}
	s.logger.Info("top-up created", zap.Int64("amount", amount), zap.Int64("user_id", profile.ID))
	return link, nil
}

// Transactions returns at most limit entries; limit <= 0 returns all.
func (s *AccountService) Transactions(ctx context.Context, limit int) ([]*types.Transaction, error) {
	txs, err := s.backend.GetTransactions(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

// Albums lists purchased albums, or favorites when favorites is set.
func (s *AccountService) Albums(ctx context.Context, favorites bool) ([]*types.Album, error) {
	if favorites {
		return s.backend.GetFavoriteAlbums(ctx)
	}
	return s.backend.GetMyAlbums(ctx)
}

// PopularArtists also feeds the artists into the local search index.
func (s *AccountService) PopularArtists(ctx context.Context) ([]*types.Artist, error) {
	artists, err := s.backend.GetPopularArtists(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.storage.SaveArtists(ctx, artists); err != nil {
		s.logger.Warn("cache artists", zap.Error(err))
	}
	return artists, nil
}

func (s *AccountService) ArtistAlbums(ctx context.Context, artistID int64) ([]*types.Album, error) {
	return s.backend.GetArtistAlbums(ctx, artistID)
}

func (s *AccountService) CreatePlaylist(ctx context.Context, name string) (*types.Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	playlist, err := s.backend.CreatePlaylist(ctx, name)
	if err != nil {
		return nil, err
	}
	if playlist.Name == "" {
		playlist.Name = name
	}
	s.mirror(ctx, playlist)
	return playlist, nil
}

func (s *AccountService) AddSongs(ctx context.Context, playlistID int64, songIDs ...int64) error {
	if len(songIDs) == 0 {
		return ErrNoSongs
	}
	if err := s.backend.AddSongsToPlaylist(ctx, playlistID, songIDs...); err != nil {
		return err
	}
	s.refresh(ctx, playlistID)
	return nil
}

func (s *AccountService) RemoveSong(ctx context.Context, playlistID, songID int64) error {
	if err := s.backend.RemoveSongFromPlaylist(ctx, playlistID, songID); err != nil {
		return err
	}
	s.refresh(ctx, playlistID)
	return nil
}

func (s *AccountService) DeletePlaylist(ctx context.Context, playlistID int64) error {
	if err := s.backend.DeletePlaylist(ctx, playlistID); err != nil {
		return err
	}
	if err := s.storage.DeletePlaylist(ctx, playlistID); err != nil {
		s.logger.Warn("drop cached playlist", zap.Int64("playlist_id", playlistID), zap.Error(err))
	}
	return nil
}

// refresh replaces the cached copy with the backend's current playlist.
func (s *AccountService) refresh(ctx context.Context, playlistID int64) {
	playlist, err := s.backend.GetPlaylist(ctx, playlistID)
	if err != nil {
		s.logger.Warn("reload playlist", zap.Int64("playlist_id", playlistID), zap.Error(err))
		return
	}
	if playlist == nil {
		return
	}
	s.mirror(ctx, playlist)
}

func (s *AccountService) mirror(ctx context.Context, playlist *types.Playlist) {
	if err := s.storage.SavePlaylist(ctx, playlist); err != nil {
		s.logger.Warn("cache playlist", zap.Int64("playlist_id", playlist.ID), zap.Error(fmt.Errorf("save: %w", err)))
	}
}
