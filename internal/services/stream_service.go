package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/playback"
	"github.com/sonata-music/sonata/pkg/types"
)

// expiryMargin keeps a signed URL from being handed out just before it lapses.
const expiryMargin = 5 * time.Second

// StreamService caches resolved stream URLs in front of another resolver.
// Denied or failed resolutions are never cached.
type StreamService struct {
	resolver types.StreamResolver
	cache    *expirable.LRU[int64, types.StreamInfo]
	logger   *zap.Logger
	now      func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewStreamService wraps resolver. A non-positive ttl caches until the
// backend-reported expiry or eviction.
func NewStreamService(resolver types.StreamResolver, size int, ttl time.Duration, logger *zap.Logger) *StreamService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 128
	}
	return &StreamService{
		resolver: resolver,
		cache:    expirable.NewLRU[int64, types.StreamInfo](size, nil, ttl),
		logger:   logger.Named("streams"),
		now:      time.Now,
	}
}

func (s *StreamService) ResolveStream(ctx context.Context, trackID int64) (*types.StreamInfo, error) {
	if info, ok := s.cache.Get(trackID); ok {
		if s.usable(info) {
			s.hits.Add(1)
			return &info, nil
		}
		s.cache.Remove(trackID)
	}
	s.misses.Add(1)

	info, err := s.resolver.ResolveStream(ctx, trackID)
	if err != nil {
		return nil, err
	}

	if info.HasAccess && info.URL != "" && s.usable(*info) {
		s.cache.Add(trackID, *info)
	} else {
		s.logger.Debug("stream not cached", zap.Int64("track_id", trackID))
	}
	return info, nil
}

func (s *StreamService) usable(info types.StreamInfo) bool {
	return info.ExpiresAt.IsZero() || s.now().Add(expiryMargin).Before(info.ExpiresAt)
}

// Invalidate drops the cached URL of one track, e.g. after a load failure.
func (s *StreamService) Invalidate(trackID int64) {
	s.cache.Remove(trackID)
}

// ForgetFailed is a playback error handler: a URL the engine could not load
// is not handed out again.
func (s *StreamService) ForgetFailed(data interface{}) {
	err, ok := data.(error)
	if !ok {
		return
	}
	var loadErr *playback.EngineLoadError
	if errors.As(err, &loadErr) {
		s.Invalidate(loadErr.TrackID)
	}
}

func (s *StreamService) Purge() {
	s.cache.Purge()
}

func (s *StreamService) Stats() map[string]interface{} {
	return map[string]interface{}{
		"entries": s.cache.Len(),
		"hits":    s.hits.Load(),
		"misses":  s.misses.Load(),
	}
}
