package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/gocontext-ingest/internal/ingest"
	"github.com/dshills/gocontext-ingest/internal/status"
)

var (
	ingestName        string
	ingestDescription string
	ingestModel       string
	ingestDryRun      bool
	ingestReembed     bool
	ingestProgress    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Ingest a directory tree once and print the final status",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "display name (defaults to the directory name)")
	ingestCmd.Flags().StringVar(&ingestDescription, "description", "", "free-form description")
	ingestCmd.Flags().StringVar(&ingestModel, "model", "", "embedding model id (defaults to embedder.model)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "scan and parse without writing anything")
	ingestCmd.Flags().BoolVar(&ingestReembed, "reembed", false, "rebuild every vector for the root")
	ingestCmd.Flags().BoolVar(&ingestProgress, "progress", false, "print progress events to stderr")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	root, err := absPath(args[0])
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signalContext()
	defer stop()

	params := ingest.Params{
		RootPath:    root,
		Name:        ingestName,
		Description: ingestDescription,
		Model:       ingestModel,
		DryRun:      ingestDryRun,
		Operation:   ingest.OpIngest,
	}
	if params.Name == "" {
		params.Name = filepath.Base(root)
	}
	if params.Model == "" {
		params.Model = a.embedders.DefaultModel()
	}
	if ingestReembed {
		params.Operation = ingest.OpReembed
	}

	runID, err := a.engine.StartIngest(ctx, params)
	if err != nil {
		return err
	}

	if ingestProgress {
		sub, unsubscribe := a.engine.Publisher().Subscribe(runID)
		defer unsubscribe()
		go printProgress(sub)
	}

	st, err := a.engine.Wait(ctx, runID)
	if err != nil {
		// Interrupted: ask the run to stop and report where it ended.
		_ = a.engine.CancelRun(runID)
		st, err = a.engine.Wait(cmd.Context(), runID)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return err
	}
	if st.State == status.StateError {
		return errors.New(st.LastError)
	}
	return nil
}

func printProgress(sub *status.Subscription) {
	var cursor status.Cursor
	for ev := range sub.C {
		if !cursor.Accept(ev) {
			continue
		}
		st := ev.Status
		if st.CurrentFile != "" {
			fmt.Fprintf(os.Stderr, "[%s] %5.1f%% %d/%d %s\n", st.State, st.Percent, st.FileIndex, st.FileTotal, st.CurrentFile)
			continue
		}
		fmt.Fprintf(os.Stderr, "[%s] %s\n", st.State, st.Message)
	}
}
