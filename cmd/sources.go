package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/tge-sentinel/internal/health"
	"github.com/sells-group/tge-sentinel/internal/store"
)

var (
	sourcesFormat string
	sourcesOutput string
	sourcesReset  string
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show source health or reset a source",
	Long:  "Lists every tracked source with its circuit state, ranking score and outcome counts. --reset forgets a source so it is polled again immediately.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("sources"); err != nil {
			return err
		}

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if sourcesReset != "" {
			if err := st.DeleteSource(ctx, sourcesReset); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return eris.Errorf("sources: unknown source %q", sourcesReset)
				}
				return err
			}
			zap.L().Info("source reset", zap.String("source", sourcesReset))
			return nil
		}

		rows, err := loadSourceRows(ctx, st, health.NewTracker(healthConfig(cfg.Health, nil)))
		if err != nil {
			return err
		}

		switch sourcesFormat {
		case "table":
			out, closeOut, err := openOutput(cmd, sourcesOutput)
			if err != nil {
				return err
			}
			defer closeOut()
			return writeSourcesTable(out, rows)
		case "csv":
			out, closeOut, err := openOutput(cmd, sourcesOutput)
			if err != nil {
				return err
			}
			defer closeOut()
			return writeSourcesCSV(out, rows)
		case "xlsx":
			if sourcesOutput == "" || sourcesOutput == "-" {
				return eris.New("sources: --output is required for xlsx")
			}
			return writeSourcesXLSX(sourcesOutput, rows)
		default:
			return eris.Errorf("sources: unknown format %q", sourcesFormat)
		}
	},
}

func init() {
	sourcesCmd.Flags().StringVarP(&sourcesFormat, "format", "f", "table", "output format: table, csv or xlsx")
	sourcesCmd.Flags().StringVarP(&sourcesOutput, "output", "o", "-", "output file (- for stdout)")
	sourcesCmd.Flags().StringVar(&sourcesReset, "reset", "", "forget the named source")
	rootCmd.AddCommand(sourcesCmd)
}

// sourceRow is one source as shown by the sources command and the API.
type sourceRow struct {
	SourceID            string     `json:"source_id"`
	State               string     `json:"state"`
	Score               float64    `json:"score"`
	SuccessCount        int        `json:"success_count"`
	FailureCount        int        `json:"failure_count"`
	YieldCount          int        `json:"yield_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CircuitOpenUntil    *time.Time `json:"circuit_open_until,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
}

var sourceHeader = []string{"SOURCE", "STATE", "SCORE", "SUCCESS", "FAILURE", "YIELD", "CONSEC_FAIL", "OPEN_UNTIL", "LAST_SUCCESS"}

func (r sourceRow) strings() []string {
	return []string{
		r.SourceID,
		r.State,
		strconv.FormatFloat(r.Score, 'f', 3, 64),
		strconv.Itoa(r.SuccessCount),
		strconv.Itoa(r.FailureCount),
		strconv.Itoa(r.YieldCount),
		strconv.Itoa(r.ConsecutiveFailures),
		formatTime(r.CircuitOpenUntil),
		formatTime(r.LastSuccessAt),
	}
}

// loadSourceRows restores tracker from st and reports every source in
// ranking-score order, open sources last.
func loadSourceRows(ctx context.Context, st store.Store, tracker *health.Tracker) ([]sourceRow, error) {
	records, err := st.LoadSources(ctx)
	if err != nil {
		return nil, err
	}
	tracker.Restore(records)
	return sourceRows(tracker), nil
}

func sourceRows(tracker *health.Tracker) []sourceRow {
	snap := tracker.Snapshot()
	ids := make([]string, len(snap))
	for i, rec := range snap {
		ids[i] = rec.SourceID
	}
	order := make(map[string]int, len(ids))
	for i, id := range tracker.RankForNextCycle(ids) {
		order[id] = i
	}

	rows := make([]sourceRow, len(snap))
	for _, rec := range snap {
		pos, ok := order[rec.SourceID]
		if !ok {
			pos = len(order)
			order[rec.SourceID] = pos
		}
		rows[pos] = sourceRow{
			SourceID:            rec.SourceID,
			State:               tracker.State(rec.SourceID).String(),
			Score:               tracker.Score(rec.SourceID),
			SuccessCount:        rec.SuccessCount,
			FailureCount:        rec.FailureCount,
			YieldCount:          rec.YieldCount,
			ConsecutiveFailures: rec.ConsecutiveFailures,
			CircuitOpenUntil:    rec.CircuitOpenUntil,
			LastSuccessAt:       rec.LastSuccessAt,
		}
	}
	return rows
}

func writeSourcesTable(out io.Writer, rows []sourceRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "no sources tracked yet")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tSTATE\tSCORE\tOK\tFAIL\tYIELD\tCONSEC\tOPEN UNTIL\tLAST SUCCESS")
	_, _ = fmt.Fprintln(w, "------\t-----\t-----\t--\t----\t-----\t------\t----------\t------------")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.3f\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.SourceID,
			r.State,
			r.Score,
			r.SuccessCount,
			r.FailureCount,
			r.YieldCount,
			r.ConsecutiveFailures,
			formatTime(r.CircuitOpenUntil),
			formatTime(r.LastSuccessAt),
		)
	}
	return w.Flush()
}

func writeSourcesCSV(out io.Writer, rows []sourceRow) error {
	w := csv.NewWriter(out)
	if err := w.Write(sourceHeader); err != nil {
		return eris.Wrap(err, "sources: write csv header")
	}
	for _, r := range rows {
		if err := w.Write(r.strings()); err != nil {
			return eris.Wrap(err, "sources: write csv row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "sources: flush csv")
}

func writeSourcesXLSX(path string, rows []sourceRow) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sources")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	addRow := func(cells []string) {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}
	addRow(sourceHeader)
	for _, r := range rows {
		addRow(r.strings())
	}
	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "xlsx: save file")
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
