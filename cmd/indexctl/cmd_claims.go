package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/election"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/redis"
	"github.com/spf13/cobra"
)

var purgeAll bool

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Inspect executive claims and presence records",
}

var claimsListCmd = &cobra.Command{
	Use:   "list <index>",
	Short: "List the claim and presence records of an index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openClaims(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer closeStore()
		entries, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		printEntries(cmd.OutOrStdout(), entries, time.Now(), cfg.Election.StaleThreshold)
		return nil
	},
}

var claimsPurgeCmd = &cobra.Command{
	Use:   "purge <index>",
	Short: "Delete stale claim and presence records",
	Long: "Delete claim and presence records that have not been renewed within the stale threshold.\n" +
		"With --all every record is removed, which forces a new election on the next tick.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openClaims(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer closeStore()
		removed, err := purgeClaims(cmd.Context(), store, time.Now(), cfg.Election.StaleThreshold, purgeAll)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d record(s)\n", removed)
		return nil
	},
}

func init() {
	claimsPurgeCmd.Flags().BoolVar(&purgeAll, "all", false, "remove live records too")
	claimsCmd.AddCommand(claimsListCmd, claimsPurgeCmd)
	rootCmd.AddCommand(claimsCmd)
}

func openClaims(ctx context.Context, index string) (election.ClaimStore, func(), error) {
	if _, err := indexConfig(index); err != nil {
		return nil, nil, err
	}
	var (
		kv      election.KV
		db      *sql.DB
		closers []func() error
	)
	switch cfg.Election.Mode {
	case config.ElectionRedis:
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		kv = client
		closers = append(closers, client.Close)
	case config.ElectionPostgres:
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		db = client.DB
		closers = append(closers, client.Close)
	}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	factory, err := shard.ClaimStores(cfg.Election, kv, db)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	store, err := factory(index)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	if store == nil {
		closeAll()
		return nil, nil, fmt.Errorf("election mode %q keeps no claims", cfg.Election.Mode)
	}
	return store, closeAll, nil
}

func printEntries(w io.Writer, entries []election.Entry, now time.Time, threshold time.Duration) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tOWNER\tLEADER\tUPDATED\tSTALE")
	for _, e := range entries {
		updated := "-"
		if !e.Record.Updated.IsZero() {
			updated = e.Record.Updated.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%t\n",
			e.Key, e.Record.Owner, e.Record.Leader, updated, e.Record.Stale(now, threshold))
	}
	tw.Flush()
}

func purgeClaims(ctx context.Context, store election.ClaimStore, now time.Time, threshold time.Duration, all bool) (int, error) {
	entries, err := store.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if !all && !e.Record.Stale(now, threshold) {
			continue
		}
		if err := store.Delete(ctx, e.Key); err != nil {
			return removed, fmt.Errorf("deleting %s: %w", e.Key, err)
		}
		removed++
	}
	return removed, nil
}
