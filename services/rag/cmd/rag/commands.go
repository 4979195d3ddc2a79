package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchLimit int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when enabled, the index queue consumer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, cleanup, err := setup(cmd.Context())
		defer cleanup()
		if err != nil {
			return err
		}
		return a.Run(cmd.Context())
	},
}

var indexCmd = &cobra.Command{
	Use:   "index [profileID]",
	Short: "Index a profile's resources and print the resulting job",
	Long: `Starts an indexing job for the profile and waits for it when jobs run
in-process. With the redis queue enabled the job is only enqueued.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup(cmd.Context())
		defer cleanup()
		if err != nil {
			return err
		}
		job, err := a.Indexer().StartIndexing(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("start indexing: %w", err)
		}
		a.Indexer().Wait()
		job, err = a.Indexer().GetJob(cmd.Context(), job.ID)
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		return printJSON(cmd, job)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [profileID] [query]",
	Short: "Search a profile's index",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup(cmd.Context())
		defer cleanup()
		if err != nil {
			return err
		}
		results, err := a.Retriever().SearchSimilar(cmd.Context(), args[0], strings.Join(args[1:], " "), searchLimit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if len(results) == 0 {
			cmd.Println("No results found.")
			return nil
		}
		for i, res := range results {
			cmd.Printf("[%d] %.3f %s\n", i+1, res.Score, oneLine(res.Content, 120))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (0 uses the profile setting)")
	rootCmd.AddCommand(serveCmd, indexCmd, searchCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
