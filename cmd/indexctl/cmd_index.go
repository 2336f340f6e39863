package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/kafka"
	"github.com/spf13/cobra"
)

var (
	statField string
	statTerm  string
)

var statCmd = &cobra.Command{
	Use:   "stat <index>",
	Short: "Show the document count of an index's last commit",
	Long: "Open a reader on the index location and print its document count.\n" +
		"With --field and --term the matching document ids are printed too.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := indexConfig(args[0])
		if err != nil {
			return err
		}
		name := cfg.Indexer.IndexEngine(idx)
		engine, ok := shard.Engines()[name]
		if !ok {
			return fmt.Errorf("unknown engine %q", name)
		}
		location := cfg.Indexer.IndexPath(idx)
		exists, err := engine.Exists(location)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("no index at %s", location)
		}
		r, err := engine.OpenReader(location)
		if err != nil {
			return err
		}
		defer r.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "index:     %s\n", idx.Name)
		fmt.Fprintf(out, "engine:    %s\n", engine.Name())
		fmt.Fprintf(out, "location:  %s\n", location)
		fmt.Fprintf(out, "documents: %d\n", r.DocCount())
		if statField != "" && statTerm != "" {
			ids, err := r.Search(statField, statTerm)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "matches:   %d %v\n", len(ids), ids)
		}
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <index>",
	Short: "Ask the executive to empty an index",
	Long: "Publish a rebuild event. The executive indexer discards its queued operations,\n" +
		"deletes every document and commits the empty index.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := indexConfig(args[0]); err != nil {
			return err
		}
		return publishEvents(cmd.Context(), ingestion.IndexEvent{Index: args[0], Action: ingestion.ActionRebuild})
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <events.json>",
	Short: "Publish index events from a JSON file",
	Long:  "Publish the JSON array of index events in the file to the index-events topic.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var events []ingestion.IndexEvent
		if err := json.Unmarshal(data, &events); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		if err := publishEvents(cmd.Context(), events...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %d event(s)\n", len(events))
		return nil
	},
}

func init() {
	statCmd.Flags().StringVar(&statField, "field", "", "field to search")
	statCmd.Flags().StringVar(&statTerm, "term", "", "term to search for")
	rootCmd.AddCommand(statCmd, rebuildCmd, publishCmd)
}

func publishEvents(ctx context.Context, events ...ingestion.IndexEvent) error {
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("kafka is disabled in %s", configPath)
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexEvents)
	defer producer.Close()
	return publisher.New(producer).Publish(ctx, events...)
}
