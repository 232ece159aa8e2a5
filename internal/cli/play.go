package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sonata-music/sonata/internal/handlers"
	"github.com/sonata-music/sonata/internal/playback"
	"github.com/sonata-music/sonata/internal/services"
	"github.com/sonata-music/sonata/pkg/types"
)

type trackLoader func(ctx context.Context, library *services.LibraryService, id int64) ([]types.Track, error)

func newPlayCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play an album, a playlist or a single song",
	}

	cmd.AddCommand(
		newPlaySourceCommand(opts, "album", "Play every song of an album",
			func(ctx context.Context, library *services.LibraryService, id int64) ([]types.Track, error) {
				return library.AlbumTracks(ctx, id)
			}),
		newPlaySourceCommand(opts, "playlist", "Play one of your playlists",
			func(ctx context.Context, library *services.LibraryService, id int64) ([]types.Track, error) {
				return library.PlaylistTracks(ctx, id)
			}),
		newPlaySourceCommand(opts, "song", "Play a single song",
			func(ctx context.Context, library *services.LibraryService, id int64) ([]types.Track, error) {
				track, err := library.SongTrack(ctx, id)
				if err != nil {
					return nil, err
				}
				return []types.Track{track}, nil
			}),
	)
	return cmd
}

func newPlaySourceCommand(opts *rootOptions, kind, short string, load trackLoader) *cobra.Command {
	var start int

	cmd := &cobra.Command{
		Use:   kind + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s id %q", kind, args[0])
			}

			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			tracks, err := load(ctx, app.library, id)
			if err != nil {
				return fmt.Errorf("load %s %d: %w", kind, id, err)
			}
			if err := app.StartPlayer(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			sub := app.bus.Subscribe(handlers.TopicTrackStarted, func(data interface{}) {
				if track, ok := data.(types.Track); ok {
					fmt.Fprintf(out, "now playing: %s\n", describeTrack(track))
				}
			})
			defer app.bus.Unsubscribe(sub)
			errSub := app.bus.Subscribe(handlers.TopicPlaybackError, func(data interface{}) {
				if err, ok := data.(error); ok {
					fmt.Fprintf(out, "playback error: %v\n", err)
				}
			})
			defer app.bus.Unsubscribe(errSub)

			if err := app.session.PlayPlaylist(ctx, tracks, start); err != nil {
				// A track that cannot be played leaves the queue in place so
				// the user can skip past it.
				fmt.Fprintf(out, "error: %v\n", err)
			}
			return runControls(ctx, cmd.InOrStdin(), out, app.session)
		},
	}

	if kind != "song" {
		cmd.Flags().IntVar(&start, "start", 0, "queue position to start from")
	}
	return cmd
}

// controller is the part of the session the interactive prompt drives.
type controller interface {
	Snapshot() playback.Snapshot
	PauseTrack() error
	ResumeTrack() error
	NextTrack(ctx context.Context) error
	PrevTrack(ctx context.Context) error
	SeekTo(positionMillis int64) error
	ToggleRepeatMode() types.RepeatMode
}

const controlsHelp = `controls: p pause, r resume, n next, b back, s <sec> seek, t repeat, q quit, enter status`

// runControls reads single-letter commands from in until q, end of input or
// ctx is done.
func runControls(ctx context.Context, in io.Reader, out io.Writer, player controller) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Fprintln(out, controlsHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			quit, err := handleControl(ctx, line, out, player)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleControl(ctx context.Context, line string, out io.Writer, player controller) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		printState(out, player.Snapshot())
		return false, nil
	}

	var err error
	switch strings.ToLower(fields[0]) {
	case "p":
		err = player.PauseTrack()
	case "r":
		err = player.ResumeTrack()
	case "n":
		err = player.NextTrack(ctx)
	case "b":
		err = player.PrevTrack(ctx)
	case "s":
		if len(fields) < 2 {
			return false, errors.New("seek needs a position in seconds")
		}
		sec, perr := strconv.ParseFloat(fields[1], 64)
		if perr != nil || sec < 0 {
			return false, fmt.Errorf("invalid position %q", fields[1])
		}
		err = player.SeekTo(int64(sec * 1000))
	case "t":
		fmt.Fprintf(out, "repeat: %s\n", player.ToggleRepeatMode())
		return false, nil
	case "q":
		return true, nil
	case "h", "?":
		fmt.Fprintln(out, controlsHelp)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}

	if err != nil {
		return false, err
	}
	printState(out, player.Snapshot())
	return false, nil
}

func printState(out io.Writer, snap playback.Snapshot) {
	if snap.CurrentTrack == nil {
		fmt.Fprintf(out, "[stopped] %d queued, repeat %s\n", len(snap.Queue), snap.RepeatMode)
		return
	}

	state := "paused"
	switch {
	case snap.IsBuffering:
		state = "buffering"
	case snap.IsPlaying:
		state = "playing"
	}
	fmt.Fprintf(out, "[%s] %s/%s %s (%d/%d, repeat %s)\n",
		state,
		formatMillis(snap.PositionMillis),
		formatMillis(snap.DurationMillis),
		describeTrack(*snap.CurrentTrack),
		snap.CurrentIndex+1, len(snap.Queue),
		snap.RepeatMode)
}

func describeTrack(t types.Track) string {
	if t.ArtistName == "" {
		return t.Title
	}
	return t.Title + " - " + t.ArtistName
}

func formatMillis(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	sec := ms / 1000
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
