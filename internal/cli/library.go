package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sonata-music/sonata/internal/storage"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently played tracks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.storage.RecentPlays(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing played yet")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PLAYED\tID\tTITLE\tARTIST")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					e.PlayedAt.Local().Format(time.DateTime), e.TrackID, e.Title, e.ArtistName)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search albums, artists and cached songs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			results, err := app.library.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, a := range results.Artists {
				fmt.Fprintf(w, "artist\t%d\t%s\t\n", a.ID, a.Name)
			}
			for _, a := range results.Albums {
				fmt.Fprintf(w, "album\t%d\t%s\t%s\n", a.ID, a.Title, a.ArtistName)
			}
			for _, s := range results.Songs {
				fmt.Fprintf(w, "song\t%d\t%s\t%s\n", s.ID, s.Title, s.ArtistName)
			}
			if results.Total == 0 {
				fmt.Fprintln(w, "no matches")
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results per kind")
	return cmd
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Copy the catalog into the local database once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			sm := storage.NewSyncManager(app.api, app.storage, 0, app.cfg.Storage.SyncAlbums, app.logger)
			stats, err := sm.FullSync(ctx)
			if stats != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d artists, %d albums, %d songs, %d playlists in %s\n",
					stats.Artists, stats.Albums, stats.Songs, stats.Playlists,
					stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond))
				for _, msg := range stats.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", msg)
				}
			}
			return err
		},
	}
}
