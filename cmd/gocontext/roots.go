package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var rootsFormat string

var rootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "List ingested roots",
	Args:  cobra.NoArgs,
	RunE:  runRoots,
}

var removeCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Remove a root's records and vectors",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	rootsCmd.Flags().StringVar(&rootsFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(rootsCmd)
	rootCmd.AddCommand(removeCmd)
}

func runRoots(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	roots, err := a.engine.ListRoots(cmd.Context())
	if err != nil {
		return err
	}

	if rootsFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(roots)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tNAME\tMODEL\tSTATUS\tFILES\tCHUNKS\tLAST INGEST")
	for _, r := range roots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.Path, r.Name, r.ModelID, r.Status, r.Files, r.Chunks, r.LastIngestAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runRemove(cmd *cobra.Command, args []string) error {
	root, err := absPath(args[0])
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := a.engine.RemoveRoot(cmd.Context(), root)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", root)
	if res.Unlocked {
		fmt.Fprintln(cmd.OutOrStdout(), "namespace model lock released")
	}
	return nil
}
