package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sonata-music/sonata/pkg/types"
)

type streamResponse struct {
	SongID    int64      `json:"songId"`
	StreamURL string     `json:"streamUrl"`
	HasAccess *bool      `json:"hasAccess"`
	ExpiresAt *time.Time `json:"expiresAt"`
	ExpiresIn int64      `json:"expiresIn"`
}

// ResolveStream asks the backend for a playable URL. The URL is typically a
// short-lived signed link and must not be cached past its expiry.
func (c *Client) ResolveStream(ctx context.Context, trackID int64) (*types.StreamInfo, error) {
	_, body, err := c.makeRequest(ctx, "GET", "/customer/music/stream/"+strconv.FormatInt(trackID, 10), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve stream %d: %w", trackID, err)
	}

	var resp streamResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("resolve stream %d: decode response: %w", trackID, err)
	}

	if resp.StreamURL == "" || (resp.HasAccess != nil && !*resp.HasAccess) {
		c.logger.Debug("stream denied", zap.Int64("track_id", trackID))
		return nil, fmt.Errorf("resolve stream %d: %w", trackID, ErrAccessDenied)
	}

	info := &types.StreamInfo{
		TrackID:   trackID,
		URL:       resp.StreamURL,
		HasAccess: true,
	}
	switch {
	case resp.ExpiresAt != nil:
		info.ExpiresAt = *resp.ExpiresAt
	case resp.ExpiresIn > 0:
		info.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return info, nil
}
