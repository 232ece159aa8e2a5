package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/api"
	"github.com/sonata-music/sonata/internal/handlers"
	"github.com/sonata-music/sonata/internal/playback"
	"github.com/sonata-music/sonata/pkg/types"
)

// commandTimeout bounds how long a play request may spend resolving and loading.
const commandTimeout = 30 * time.Second

// Player is the playback surface the server drives.
type Player interface {
	Snapshot() playback.Snapshot
	PlayTrack(ctx context.Context, track types.Track) error
	PlayPlaylist(ctx context.Context, tracks []types.Track, startIndex int) error
	NextTrack(ctx context.Context) error
	PrevTrack(ctx context.Context) error
	PauseTrack() error
	ResumeTrack() error
	SeekTo(positionMillis int64) error
	ToggleRepeatMode() types.RepeatMode
	SetRepeatMode(mode types.RepeatMode)
}

// Library turns catalog ids into play queues. Optional.
type Library interface {
	AlbumTracks(ctx context.Context, albumID int64) ([]types.Track, error)
	PlaylistTracks(ctx context.Context, playlistID int64) ([]types.Track, error)
}

type Server struct {
	player   Player
	library  Library
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(player Player, library Library, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")

	s := &Server{
		player:  player,
		library: library,
		hub:     NewHub(logger),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return s
}

// originChecker accepts same-host requests, and any origin when the list holds "*".
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

// Attach forwards every published snapshot to the websocket clients.
func (s *Server) Attach(bus *handlers.EventBus) handlers.Subscription {
	return bus.Subscribe(handlers.TopicPlaybackState, func(data interface{}) {
		snap, ok := data.(playback.Snapshot)
		if !ok {
			return
		}
		msg, err := json.Marshal(snap)
		if err != nil {
			s.logger.Warn("failed to encode snapshot", zap.Error(err))
			return
		}
		s.hub.Broadcast(msg)
	})
}

// RunHub serves websocket fan-out until ctx is cancelled.
func (s *Server) RunHub(ctx context.Context) {
	s.hub.Run(ctx)
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)

	r.Route("/api/player", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Post("/pause", s.handleControl(func() error { return s.player.PauseTrack() }))
		r.Post("/resume", s.handleControl(func() error { return s.player.ResumeTrack() }))
		r.Post("/next", s.handleSkip(s.player.NextTrack))
		r.Post("/prev", s.handleSkip(s.player.PrevTrack))
		r.Post("/repeat", s.handleRepeat)
		r.Post("/seek", s.handleSeek)
		r.Post("/track", s.handlePlayTrack)
		r.Post("/playlist", s.handlePlayPlaylist)
	})

	if s.library != nil {
		r.Post("/api/library/albums/{id}/play", s.handlePlayCollection(s.library.AlbumTracks))
		r.Post("/api/library/playlists/{id}/play", s.handlePlayCollection(s.library.PlaylistTracks))
	}

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sonata",
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.player.Snapshot())
}

func (s *Server) handleControl(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			s.writePlaybackError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.player.Snapshot())
	}
}

func (s *Server) handleSkip(op func(context.Context) error) http.HandlerFunc {
	return s.withCommandContext(func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		if err := op(ctx); err != nil {
			s.writePlaybackError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.player.Snapshot())
	})
}

type repeatRequest struct {
	Mode *types.RepeatMode `json:"mode"`
}

// handleRepeat sets the mode when the body names one and toggles otherwise.
func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	var req repeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	mode := s.player.ToggleRepeatMode
	if req.Mode != nil {
		want := *req.Mode
		mode = func() types.RepeatMode {
			s.player.SetRepeatMode(want)
			return want
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"repeatMode": mode()})
}

type seekRequest struct {
	PositionMillis *int64 `json:"positionMillis"`
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PositionMillis == nil {
		writeError(w, http.StatusBadRequest, "positionMillis is required")
		return
	}
	if err := s.player.SeekTo(*req.PositionMillis); err != nil {
		s.writePlaybackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.player.Snapshot())
}

type playTrackRequest struct {
	Track *types.Track `json:"track"`
}

func (s *Server) handlePlayTrack(w http.ResponseWriter, r *http.Request) {
	var req playTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Track == nil {
		writeError(w, http.StatusBadRequest, "track is required")
		return
	}

	s.withCommandContext(func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		if err := s.player.PlayTrack(ctx, *req.Track); err != nil {
			s.writePlaybackError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.player.Snapshot())
	})(w, r)
}

type playPlaylistRequest struct {
	Tracks     []types.Track `json:"tracks"`
	StartIndex int           `json:"startIndex"`
}

func (s *Server) handlePlayPlaylist(w http.ResponseWriter, r *http.Request) {
	var req playPlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	s.withCommandContext(func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		if err := s.player.PlayPlaylist(ctx, req.Tracks, req.StartIndex); err != nil {
			s.writePlaybackError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.player.Snapshot())
	})(w, r)
}

func (s *Server) handlePlayCollection(load func(context.Context, int64) ([]types.Track, error)) http.HandlerFunc {
	return s.withCommandContext(func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id")
			return
		}

		start := 0
		if v := r.URL.Query().Get("start"); v != "" {
			if start, err = strconv.Atoi(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid start")
				return
			}
		}

		tracks, err := load(ctx, id)
		if err != nil {
			s.writePlaybackError(w, err)
			return
		}
		if err := s.player.PlayPlaylist(ctx, tracks, start); err != nil {
			s.writePlaybackError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.player.Snapshot())
	})
}

// withCommandContext detaches playback commands from the request so a client
// hanging up does not abort a load that already replaced the previous track.
func (s *Server) withCommandContext(fn func(ctx context.Context, w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), commandTimeout)
		defer cancel()
		fn(ctx, w, r)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if msg, err := json.Marshal(s.player.Snapshot()); err == nil {
		c.send <- msg
	}
	if !s.hub.add(c) {
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// statusFor maps the playback error taxonomy onto HTTP.
func statusFor(err error) int {
	var invalid *playback.InvalidIndexError
	var resolution *playback.StreamResolutionError
	var load *playback.EngineLoadError

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &resolution), errors.As(err, &load):
		return http.StatusBadGateway
	case errors.Is(err, playback.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, playback.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writePlaybackError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("playback command failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
