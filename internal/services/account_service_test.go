package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonata-music/sonata/pkg/types"
)

type fakeAccount struct {
	mu       sync.Mutex
	down     bool
	profile  types.Profile
	balance  float64
	txs      []*types.Transaction
	mine     []*types.Album
	favorite []*types.Album
	popular  []*types.Artist
	lists    map[int64]*types.Playlist
	nextID   int64
	topUps   []string
}

func newFakeAccount() *fakeAccount {
	return &fakeAccount{
		profile: types.Profile{ID: 12, Username: "miles", WalletBalance: 20000},
		balance: 20000,
		txs: []*types.Transaction{
			{ID: 3, Amount: 50000, Type: "DEPOSIT", Status: "SUCCESS"},
			{ID: 2, Amount: 30000, Type: "PURCHASE", Status: "SUCCESS"},
			{ID: 1, Amount: 10000, Type: "DEPOSIT", Status: "FAILED"},
		},
		mine:     []*types.Album{{ID: 7, Title: "Kind of Blue", ArtistName: "Miles Davis"}},
		favorite: []*types.Album{{ID: 8, Title: "Giant Steps", ArtistName: "John Coltrane"}},
		popular:  []*types.Artist{{ID: 1, Name: "Miles Davis"}, {ID: 2, Name: "John Coltrane"}},
		lists:    make(map[int64]*types.Playlist),
		nextID:   100,
	}
}

func (f *fakeAccount) check() error {
	if f.down {
		return errBackendDown
	}
	return nil
}

func (f *fakeAccount) GetProfile(ctx context.Context) (*types.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile
	return &p, f.check()
}

func (f *fakeAccount) UpdateProfile(ctx context.Context, update types.ProfileUpdate) (*types.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	if update.FullName != nil {
		f.profile.FullName = update.FullName
	}
	if update.Bio != nil {
		f.profile.Bio = *update.Bio
	}
	p := f.profile
	return &p, nil
}

func (f *fakeAccount) GetWalletBalance(ctx context.Context) (float64, error) {
	return f.balance, f.check()
}

func (f *fakeAccount) CreateTopUp(ctx context.Context, amount, userID int64, platform string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return "", err
	}
	f.topUps = append(f.topUps, fmt.Sprintf("%d/%d/%s", amount, userID, platform))
	return fmt.Sprintf("https://pay.test/checkout?amount=%d", amount), nil
}

func (f *fakeAccount) GetTransactions(ctx context.Context) ([]*types.Transaction, error) {
	return f.txs, f.check()
}

func (f *fakeAccount) GetMyAlbums(ctx context.Context) ([]*types.Album, error) {
	return f.mine, f.check()
}

func (f *fakeAccount) GetFavoriteAlbums(ctx context.Context) ([]*types.Album, error) {
	return f.favorite, f.check()
}

func (f *fakeAccount) GetPopularArtists(ctx context.Context) ([]*types.Artist, error) {
	return f.popular, f.check()
}

func (f *fakeAccount) GetArtistAlbums(ctx context.Context, id int64) ([]*types.Album, error) {
	if id == 1 {
		return f.mine, f.check()
	}
	return nil, f.check()
}

func (f *fakeAccount) GetPlaylist(ctx context.Context, id int64) (*types.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	pl, ok := f.lists[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *pl
	cp.Songs = append([]*types.Song(nil), pl.Songs...)
	return &cp, nil
}

func (f *fakeAccount) CreatePlaylist(ctx context.Context, name string) (*types.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	f.nextID++
	f.lists[f.nextID] = &types.Playlist{ID: f.nextID, Name: name}
	return &types.Playlist{ID: f.nextID, Name: name}, nil
}

func (f *fakeAccount) AddSongsToPlaylist(ctx context.Context, id int64, songIDs ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	pl, ok := f.lists[id]
	if !ok {
		return errors.New("not found")
	}
	for _, sid := range songIDs {
		pl.Songs = append(pl.Songs, &types.Song{ID: sid, Title: fmt.Sprintf("Song %d", sid)})
	}
	return nil
}

func (f *fakeAccount) RemoveSongFromPlaylist(ctx context.Context, id, songID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	pl, ok := f.lists[id]
	if !ok {
		return errors.New("not found")
	}
	kept := pl.Songs[:0]
	for _, s := range pl.Songs {
		if s.ID != songID {
			kept = append(kept, s)
		}
	}
	pl.Songs = kept
	return nil
}

func (f *fakeAccount) DeletePlaylist(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	delete(f.lists, id)
	return nil
}

func TestAccountTopUpUsesProfileID(t *testing.T) {
	backend := newFakeAccount()
	account := NewAccountService(backend, newTestDB(t), nil)
	ctx := context.Background()

	link, err := account.TopUp(ctx, 50000)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/checkout?amount=50000", link)
	assert.Equal(t, []string{"50000/12/" + TopUpPlatform}, backend.topUps)

	_, err = account.TopUp(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	backend.profile.ID = 0
	_, err = account.TopUp(ctx, 10000)
	assert.Error(t, err)
	assert.Len(t, backend.topUps, 1)
}

func TestAccountProfileUpdate(t *testing.T) {
	account := NewAccountService(newFakeAccount(), newTestDB(t), nil)
	ctx := context.Background()

	_, err := account.UpdateProfile(ctx, types.ProfileUpdate{})
	assert.ErrorIs(t, err, ErrNothingToUpdate)

	name := "Miles Davis"
	profile, err := account.UpdateProfile(ctx, types.ProfileUpdate{FullName: &name})
	require.NoError(t, err)
	require.NotNil(t, profile.FullName)
	assert.Equal(t, name, *profile.FullName)
}

func TestAccountTransactionsLimit(t *testing.T) {
	account := NewAccountService(newFakeAccount(), newTestDB(t), nil)
	ctx := context.Background()

	all, err := account.Transactions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	two, err := account.Transactions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, int64(3), two[0].ID)
}

func TestAccountAlbumsAndArtists(t *testing.T) {
	db := newTestDB(t)
	account := NewAccountService(newFakeAccount(), db, nil)
	ctx := context.Background()

	mine, err := account.Albums(ctx, false)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Kind of Blue", mine[0].Title)

	favorites, err := account.Albums(ctx, true)
	require.NoError(t, err)
	require.Len(t, favorites, 1)
	assert.Equal(t, "Giant Steps", favorites[0].Title)

	artists, err := account.PopularArtists(ctx)
	require.NoError(t, err)
	assert.Len(t, artists, 2)

	cached, err := db.GetArtists(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	albums, err := account.ArtistAlbums(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, albums, 1)
}

func TestAccountPlaylistEditsMirrorLocally(t *testing.T) {
	backend := newFakeAccount()
	db := newTestDB(t)
	account := NewAccountService(backend, db, nil)
	ctx := context.Background()

	_, err := account.CreatePlaylist(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyName)

	pl, err := account.CreatePlaylist(ctx, " Road trip ")
	require.NoError(t, err)
	assert.Equal(t, "Road trip", pl.Name)

	cached, err := db.GetPlaylist(ctx, pl.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Road trip", cached.Name)

	assert.ErrorIs(t, account.AddSongs(ctx, pl.ID), ErrNoSongs)
	require.NoError(t, account.AddSongs(ctx, pl.ID, 5, 6, 7))
	cached, err = db.GetPlaylist(ctx, pl.ID)
	require.NoError(t, err)
	require.Len(t, cached.Songs, 3)

	require.NoError(t, account.RemoveSong(ctx, pl.ID, 6))
	cached, err = db.GetPlaylist(ctx, pl.ID)
	require.NoError(t, err)
	require.Len(t, cached.Songs, 2)
	assert.Equal(t, int64(5), cached.Songs[0].ID)
	assert.Equal(t, int64(7), cached.Songs[1].ID)

	require.NoError(t, account.DeletePlaylist(ctx, pl.ID))
	cached, err = db.GetPlaylist(ctx, pl.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestAccountBackendErrorsPropagate(t *testing.T) {
	backend := newFakeAccount()
	backend.down = true
	account := NewAccountService(backend, newTestDB(t), nil)
	ctx := context.Background()

	_, err := account.Balance(ctx)
	assert.ErrorIs(t, err, errBackendDown)
	_, err = account.TopUp(ctx, 10000)
	assert.ErrorIs(t, err, errBackendDown)
	assert.ErrorIs(t, account.DeletePlaylist(ctx, 1), errBackendDown)
}
