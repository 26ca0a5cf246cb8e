package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmem/agentmem/pkg/embedding"
	"github.com/agentmem/agentmem/pkg/memory"
)

var (
	dbPath     string
	collection string
	dimensions int
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "agentmem",
	Short: "CLI for agent memory collections",
	Long:  `A command-line interface for managing memory collections: add, query, count and prune entries backed by a SQLite vector store.`,
}

func openStore() (*memory.Store, error) {
	var opts []memory.Option
	if verbose {
		opts = append(opts, memory.WithLogger(memory.NewStdLogger(memory.LevelDebug)))
	}
	return memory.Open(dbPath, opts...)
}

func openCollection(ctx context.Context, s *memory.Store) (*memory.Collection, error) {
	return s.GetOrCreateCollection(ctx, memory.CollectionConfig{
		Name:                      collection,
		Provider:                  embedding.NewHashProvider(dimensions),
		UpdateLastAccessedOnQuery: true,
	})
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		names, err := store.ListCollections(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := store.GetOrCreateCollection(cmd.Context(), memory.CollectionConfig{
			Name:     args[0],
			Provider: embedding.NewHashProvider(dimensions),
		})
		if err != nil {
			return err
		}
		fmt.Printf("collection %s ready (dimension %d)\n", c.Name(), c.Dimension())
		return nil
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection and all its entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteCollection(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("collection %s deleted\n", args[0])
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Add a memory entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entryType, _ := cmd.Flags().GetString("type")
		source, _ := cmd.Flags().GetString("source")
		importanceStr, _ := cmd.Flags().GetString("importance")
		tagsStr, _ := cmd.Flags().GetString("tags")
		metadataStr, _ := cmd.Flags().GetString("metadata")

		fields := memory.Fields{
			Content: args[0],
			Type:    entryType,
			Source:  source,
		}
		if importanceStr != "" {
			imp, err := strconv.ParseFloat(importanceStr, 64)
			if err != nil {
				return fmt.Errorf("invalid importance: %w", err)
			}
			fields.Importance = &imp
		}
		if tagsStr != "" {
			fields.Tags = strings.Split(tagsStr, ",")
		}
		if metadataStr != "" {
			if err := json.Unmarshal([]byte(metadataStr), &fields.Metadata); err != nil {
				return fmt.Errorf("invalid metadata JSON: %w", err)
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := openCollection(cmd.Context(), store)
		if err != nil {
			return err
		}
		id, err := c.Add(cmd.Context(), fields)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Query entries by similarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("top-k")
		filterStr, _ := cmd.Flags().GetString("filter")
		outputJSON, _ := cmd.Flags().GetBool("json")
		withVectors, _ := cmd.Flags().GetBool("vectors")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := openCollection(cmd.Context(), store)
		if err != nil {
			return err
		}
		results, err := c.Query(cmd.Context(), memory.QueryOptions{
			Text:           args[0],
			K:              k,
			Filter:         filterStr,
			IncludeVectors: withVectors,
		})
		if err != nil {
			return err
		}

		if outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		for _, r := range results {
			fmt.Printf("%s  %.4f  %s\n", r.ID, r.Distance, r.Content)
		}
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		filterStr, _ := cmd.Flags().GetString("filter")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := openCollection(cmd.Context(), store)
		if err != nil {
			return err
		}
		n, err := c.Count(cmd.Context(), filterStr)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete entries by id or filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		filterStr, _ := cmd.Flags().GetString("filter")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := openCollection(cmd.Context(), store)
		if err != nil {
			return err
		}
		n, err := c.Delete(cmd.Context(), memory.DeleteOptions{ID: id, Filter: filterStr})
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d entries\n", n)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove entries by age, importance or idleness",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge, _ := cmd.Flags().GetDuration("max-age")
		maxIdle, _ := cmd.Flags().GetDuration("max-idle")
		minImportanceStr, _ := cmd.Flags().GetString("min-importance")
		extraFilter, _ := cmd.Flags().GetString("filter")
		useOr, _ := cmd.Flags().GetBool("or")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		opts := memory.PruneOptions{
			MaxAge:      maxAge,
			MaxIdle:     maxIdle,
			ExtraFilter: extraFilter,
			DryRun:      dryRun,
		}
		if minImportanceStr != "" {
			imp, err := strconv.ParseFloat(minImportanceStr, 64)
			if err != nil {
				return fmt.Errorf("invalid min-importance: %w", err)
			}
			opts.MinImportance = &imp
		}
		if useOr {
			opts.Combine = memory.CombineOr
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := openCollection(cmd.Context(), store)
		if err != nil {
			return err
		}
		n, err := c.Prune(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if dryRun {
			fmt.Printf("%d entries would be pruned\n", n)
		} else {
			fmt.Printf("pruned %d entries\n", n)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := openCollection(cmd.Context(), store)
		if err != nil {
			return err
		}
		n, err := c.Count(cmd.Context(), "")
		if err != nil {
			return err
		}
		fmt.Printf("collection:  %s\n", c.Name())
		fmt.Printf("dimension:   %d\n", c.Dimension())
		fmt.Printf("entries:     %d\n", n)
		fmt.Printf("index state: %s\n", c.IndexState())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "agentmem.db", "Database file path")
	rootCmd.PersistentFlags().StringVarP(&collection, "collection", "c", "memories", "Collection name")
	rootCmd.PersistentFlags().IntVarP(&dimensions, "dimensions", "n", 384, "Vector dimensions")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	addCmd.Flags().String("type", "memory", "Entry type")
	addCmd.Flags().String("source", "", "Provenance tag")
	addCmd.Flags().String("importance", "", "Importance score in [0,1]")
	addCmd.Flags().String("tags", "", "Comma-separated tags")
	addCmd.Flags().String("metadata", "", "Metadata as a JSON object")

	queryCmd.Flags().IntP("top-k", "k", 5, "Number of results")
	queryCmd.Flags().String("filter", "", "Filter predicate, e.g. \"importance_score > 0.5\"")
	queryCmd.Flags().Bool("json", false, "JSON output")
	queryCmd.Flags().Bool("vectors", false, "Include embedding vectors in results")

	countCmd.Flags().String("filter", "", "Filter predicate")

	deleteCmd.Flags().String("id", "", "Entry id")
	deleteCmd.Flags().String("filter", "", "Filter predicate")

	pruneCmd.Flags().Duration("max-age", 0, "Remove entries older than this (e.g. 720h)")
	pruneCmd.Flags().Duration("max-idle", 0, "Remove entries not accessed for this long")
	pruneCmd.Flags().String("min-importance", "", "Remove entries below this importance")
	pruneCmd.Flags().String("filter", "", "Extra filter predicate")
	pruneCmd.Flags().Bool("or", false, "Combine thresholds with OR instead of AND")
	pruneCmd.Flags().Bool("dry-run", false, "Count matches without deleting")

	collectionsCmd.AddCommand(collectionsListCmd, collectionsCreateCmd, collectionsDeleteCmd)
	rootCmd.AddCommand(collectionsCmd, addCmd, queryCmd, countCmd, deleteCmd, pruneCmd, statsCmd)
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
