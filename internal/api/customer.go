package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sonata-music/sonata/pkg/types"
)

func (c *Client) GetProfile(ctx context.Context) (*types.Profile, error) {
	var profile types.Profile
	if err := c.getJSON(ctx, "/customer/profile", nil, &profile); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &profile, nil
}

func (c *Client) UpdateProfile(ctx context.Context, update types.ProfileUpdate) (*types.Profile, error) {
	var profile types.Profile
	if err := c.sendJSON(ctx, http.MethodPut, "/customer/profile", update, &profile); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &profile, nil
}

// GetWalletBalance accepts either a bare number or an object carrying the balance.
func (c *Client) GetWalletBalance(ctx context.Context) (float64, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/customer/profile/wallet/balance", nil, &raw); err != nil {
		return 0, fmt.Errorf("get wallet balance: %w", err)
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var obj struct {
		Balance       *float64 `json:"balance"`
		WalletBalance *float64 `json:"walletBalance"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, fmt.Errorf("decode wallet balance: %w", err)
	}
	switch {
	case obj.Balance != nil:
		return *obj.Balance, nil
	case obj.WalletBalance != nil:
		return *obj.WalletBalance, nil
	}
	return 0, fmt.Errorf("decode wallet balance: no balance in %s", string(raw))
}

// TopUpPlatformWeb asks the payment gateway to return to a browser page
// rather than an app deep link.
const TopUpPlatformWeb = "WEB_BROWSER"

// CreateTopUp starts a wallet deposit of amount for userID and returns the
// payment page the user has to open to complete it.
func (c *Client) CreateTopUp(ctx context.Context, amount, userID int64, platform string) (string, error) {
	if platform == "" {
		platform = TopUpPlatformWeb
	}
	params := url.Values{}
	params.Set("amount", strconv.FormatInt(amount, 10))
	params.Set("userId", strconv.FormatInt(userID, 10))
	params.Set("platform", platform)

	_, body, err := c.makeRequest(ctx, http.MethodPost, "/vnpay/create", params, nil)
	if err != nil {
		return "", fmt.Errorf("create top-up: %w", err)
	}

	var resp struct {
		PaymentURL string `json:"paymentUrl"`
	}
	if err := decodeBody(body, &resp); err != nil {
		return "", fmt.Errorf("create top-up: %w", err)
	}
	if resp.PaymentURL == "" {
		return "", errors.New("create top-up: no payment url in response")
	}
	return resp.PaymentURL, nil
}

func (c *Client) GetMyAlbums(ctx context.Context) ([]*types.Album, error) {
	var albums []*types.Album
	if err := c.getJSON(ctx, "/customer/profile/my-albums", nil, &albums); err != nil {
		return nil, fmt.Errorf("get purchased albums: %w", err)
	}
	return albums, nil
}

func (c *Client) GetFavoriteAlbums(ctx context.Context) ([]*types.Album, error) {
	var albums []*types.Album
	if err := c.getJSON(ctx, "/customer/favorites/my-albums", nil, &albums); err != nil {
		return nil, fmt.Errorf("get favorite albums: %w", err)
	}
	return albums, nil
}

func (c *Client) GetTransactions(ctx context.Context) ([]*types.Transaction, error) {
	var txs []*types.Transaction
	if err := c.getJSON(ctx, "/customer/profile/transactions", nil, &txs); err != nil {
		return nil, fmt.Errorf("get transactions: %w", err)
	}
	return txs, nil
}

func (c *Client) GetPlaylists(ctx context.Context) ([]*types.Playlist, error) {
	var playlists []*types.Playlist
	if err := c.getJSON(ctx, "/customer/playlists/my-playlists", nil, &playlists); err != nil {
		return nil, fmt.Errorf("get playlists: %w", err)
	}
	return playlists, nil
}

func (c *Client) GetPlaylist(ctx context.Context, id int64) (*types.Playlist, error) {
	var playlist types.Playlist
	if err := c.getJSON(ctx, playlistPath(id), nil, &playlist); err != nil {
		return nil, fmt.Errorf("get playlist %d: %w", id, err)
	}
	return &playlist, nil
}

func (c *Client) CreatePlaylist(ctx context.Context, name string) (*types.Playlist, error) {
	var playlist types.Playlist
	body := map[string]string{"name": name}
	if err := c.sendJSON(ctx, http.MethodPost, "/customer/playlists", body, &playlist); err != nil {
		return nil, fmt.Errorf("create playlist: %w", err)
	}
	return &playlist, nil
}

func (c *Client) DeletePlaylist(ctx context.Context, id int64) error {
	if err := c.sendJSON(ctx, http.MethodDelete, playlistPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete playlist %d: %w", id, err)
	}
	return nil
}

func (c *Client) AddSongsToPlaylist(ctx context.Context, id int64, songIDs ...int64) error {
	if err := c.sendJSON(ctx, http.MethodPost, playlistPath(id)+"/songs", songIDs, nil); err != nil {
		return fmt.Errorf("add songs to playlist %d: %w", id, err)
	}
	return nil
}

func (c *Client) RemoveSongFromPlaylist(ctx context.Context, id, songID int64) error {
	path := playlistPath(id) + "/songs/" + strconv.FormatInt(songID, 10)
	if err := c.sendJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("remove song %d from playlist %d: %w", songID, id, err)
	}
	return nil
}

func playlistPath(id int64) string {
	return "/customer/playlists/" + strconv.FormatInt(id, 10)
}
