package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sonata-music/sonata/pkg/types"
)

func newProfileCommand(opts *rootOptions) *cobra.Command {
	var fullName, email, avatar, bio string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit your store profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			var update types.ProfileUpdate
			flags := cmd.Flags()
			if flags.Changed("full-name") {
				update.FullName = &fullName
			}
			if flags.Changed("email") {
				update.Email = &email
			}
			if flags.Changed("avatar") {
				update.Avatar = &avatar
			}
			if flags.Changed("bio") {
				update.Bio = &bio
			}

			var profile *types.Profile
			if update == (types.ProfileUpdate{}) {
				profile, err = app.account.Profile(ctx)
			} else {
				profile, err = app.account.UpdateProfile(ctx, update)
			}
			if err != nil {
				return err
			}
			printProfile(cmd.OutOrStdout(), profile)
			return nil
		},
	}

	cmd.Flags().StringVar(&fullName, "full-name", "", "set the display name")
	cmd.Flags().StringVar(&email, "email", "", "set the email address")
	cmd.Flags().StringVar(&avatar, "avatar", "", "set the avatar URL")
	cmd.Flags().StringVar(&bio, "bio", "", "set the profile bio")
	return cmd
}

func printProfile(out io.Writer, p *types.Profile) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%d\n", p.ID)
	fmt.Fprintf(w, "username\t%s\n", p.Username)
	if p.FullName != nil {
		fmt.Fprintf(w, "name\t%s\n", *p.FullName)
	}
	fmt.Fprintf(w, "email\t%s\n", p.Email)
	if p.Bio != "" {
		fmt.Fprintf(w, "bio\t%s\n", p.Bio)
	}
	fmt.Fprintf(w, "wallet\t%s\n", formatAmount(p.WalletBalance))
	_ = w.Flush()
}

func newWalletCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Show your wallet balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			balance, err := app.account.Balance(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "balance: %s\n", formatAmount(balance))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "topup <amount>",
		Short: "Start a wallet deposit and print the payment link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("invalid amount %q", args[0])
			}

			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			link, err := app.account.TopUp(ctx, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "open this link to pay %d:\n%s\n", amount, link)
			return nil
		},
	})
	return cmd
}

func newTransactionsCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List wallet transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			txs, err := app.account.Transactions(ctx, limit)
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no transactions")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tTYPE\tAMOUNT\tSTATUS\tDESCRIPTION")
			for _, tx := range txs {
				sign := "-"
				if tx.IsDeposit() {
					sign = "+"
				}
				date := ""
				if !tx.CreatedAt.IsZero() {
					date = tx.CreatedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%s%s\t%s\t%s\n",
					date, tx.Type, sign, formatAmount(tx.Amount), tx.Status, tx.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of transactions to show, 0 for all")
	return cmd
}

func newAlbumsCommand(opts *rootOptions) *cobra.Command {
	var mine, favorites bool

	cmd := &cobra.Command{
		Use:   "albums",
		Short: "List purchased or favorite albums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			albums, err := app.account.Albums(ctx, favorites)
			if err != nil {
				return err
			}
			return printAlbums(cmd.OutOrStdout(), albums)
		},
	}

	cmd.Flags().BoolVar(&mine, "mine", false, "purchased albums (default)")
	cmd.Flags().BoolVar(&favorites, "favorites", false, "favorite albums")
	cmd.MarkFlagsMutuallyExclusive("mine", "favorites")
	return cmd
}

func newArtistsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "artists [artist-id]",
		Short: "List popular artists, or the albums of one artist",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var artistID int64
			if len(args) == 1 {
				id, err := parseID("artist", args[0])
				if err != nil {
					return err
				}
				artistID = id
			}

			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if artistID != 0 {
				albums, err := app.account.ArtistAlbums(ctx, artistID)
				if err != nil {
					return err
				}
				return printAlbums(cmd.OutOrStdout(), albums)
			}

			artists, err := app.account.PopularArtists(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tARTIST")
			for _, a := range artists {
				fmt.Fprintf(w, "%d\t%s\n", a.ID, a.Name)
			}
			return w.Flush()
		},
	}
}

func newPlaylistsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playlists",
		Short: "List and edit your playlists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			playlists, err := app.library.Playlists(ctx)
			if err != nil {
				return err
			}
			if len(playlists) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no playlists")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, p := range playlists {
				fmt.Fprintf(w, "%d\t%s\n", p.ID, p.Name)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create a playlist",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				app, err := opts.newApp(ctx)
				if err != nil {
					return err
				}
				defer app.Close()

				pl, err := app.account.CreatePlaylist(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created playlist %d %q\n", pl.ID, pl.Name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <playlist-id> <song-id>...",
			Short: "Add songs to a playlist",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}

				ctx := cmd.Context()
				app, err := opts.newApp(ctx)
				if err != nil {
					return err
				}
				defer app.Close()

				if err := app.account.AddSongs(ctx, ids[0], ids[1:]...); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %d song(s) to playlist %d\n", len(ids)-1, ids[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm <playlist-id> <song-id>",
			Short: "Remove a song from a playlist",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}

				ctx := cmd.Context()
				app, err := opts.newApp(ctx)
				if err != nil {
					return err
				}
				defer app.Close()

				if err := app.account.RemoveSong(ctx, ids[0], ids[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed song %d from playlist %d\n", ids[1], ids[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <playlist-id>",
			Short: "Delete a playlist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("playlist", args[0])
				if err != nil {
					return err
				}

				ctx := cmd.Context()
				app, err := opts.newApp(ctx)
				if err != nil {
					return err
				}
				defer app.Close()

				if err := app.account.DeletePlaylist(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted playlist %d\n", id)
				return nil
			},
		},
	)
	return cmd
}

func printAlbums(out io.Writer, albums []*types.Album) error {
	if len(albums) == 0 {
		fmt.Fprintln(out, "no albums")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tARTIST\tYEAR")
	for _, a := range albums {
		year := ""
		if a.ReleaseYear > 0 {
			year = strconv.Itoa(a.ReleaseYear)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", a.ID, a.Title, a.ArtistName, year)
	}
	return w.Flush()
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}

// parseIDs reads a playlist id followed by song ids.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for i, arg := range args {
		kind := "song"
		if i == 0 {
			kind = "playlist"
		}
		id, err := parseID(kind, arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
