package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-payables/internal/documents"
	"github.com/odyssey-erp/odyssey-payables/internal/reconcile"
)

// exitMismatch is returned when at least one record is not MATCHED.
const exitMismatch = 10

type reconcileOptions struct {
	File       string
	JSONOutput bool
}

func newReconcileCmd(e *env) *cobra.Command {
	var opts reconcileOptions
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile invoice comparison records read from a file",
		Long: `Reconcile reads one comparison record, or an array of them, as JSON and
prints the reconciliation verdict of each. The exit status is 10 when any
record is not MATCHED.`,
		Example: `  paymentsctl reconcile --file invoice-7.json
  paymentsctl reconcile --file batch.json --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(e, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "path to the comparison record JSON, - for stdin")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "print comparisons as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runReconcile(e *env, opts reconcileOptions) error {
	raw, err := readInput(opts.File)
	if err != nil {
		return err
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return fmt.Errorf("reconcile: decode %s: %w", opts.File, err)
	}
	comparisons := reconcile.CompareAll(records)
	if opts.JSONOutput {
		enc := json.NewEncoder(e.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(comparisons); err != nil {
			return fmt.Errorf("reconcile: encode json: %w", err)
		}
	} else {
		renderComparisons(e.stdout, comparisons)
	}
	for _, cmp := range comparisons {
		if !cmp.Confirmed() {
			return exitError{code: exitMismatch}
		}
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reconcile: read %s: %w", path, err)
	}
	return raw, nil
}

// decodeRecords accepts a single record object or an array of records.
func decodeRecords(raw []byte) ([]documents.InvoiceComparisonRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if trimmed[0] == '[' {
		var records []documents.InvoiceComparisonRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var record documents.InvoiceComparisonRecord
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, err
	}
	return []documents.InvoiceComparisonRecord{record}, nil
}

func renderComparisons(w io.Writer, comparisons []reconcile.Comparison) {
	for i, cmp := range comparisons {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "%s  %s\n", cmp.InvoiceNumber, cmp.Status)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintf(tw, "  effective PO total\t%.2f\n", cmp.EffectivePOTotal)
		_, _ = fmt.Fprintf(tw, "  invoice total\t%.2f\n", cmp.InvoiceTotal)
		_, _ = fmt.Fprintf(tw, "  variance\t%.2f%%\n", cmp.VariancePercentage)
		_, _ = fmt.Fprintf(tw, "  items matched\t%d/%d\n", cmp.MatchedItems, cmp.TotalItems)
		_ = tw.Flush()
		if cmp.IsHighVariance {
			_, _ = fmt.Fprintln(w, "  warning: variance above threshold")
		}
		for _, item := range cmp.Items {
			if item.Matched {
				continue
			}
			_, _ = fmt.Fprintf(w, "  mismatch %s: qty %.2f vs %.2f, price %.2f vs %.2f\n",
				item.ItemName, item.InvoiceQty, item.ExpectedQty, item.InvoiceUnitPrice, item.POUnitPrice)
		}
	}
}
