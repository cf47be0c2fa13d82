package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tge-sentinel/internal/pipeline"
)

var (
	scanInput  string
	scanOutput string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Classify and deduplicate a JSONL batch of items",
	Long:  "Reads candidate items as JSON lines, emits one alert per new match and checkpoints the dedup state so repeated scans never alert twice.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initDetector(ctx, cfg, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		in, closeIn, err := openInput(cmd, scanInput)
		if err != nil {
			return err
		}
		defer closeIn()

		items, err := pipeline.ReadItems(in)
		if err != nil {
			return eris.Wrap(err, "scan: read items")
		}

		out, closeOut, err := openOutput(cmd, scanOutput)
		if err != nil {
			return err
		}
		defer closeOut()

		p := env.newPipeline(cfg, nil, out)
		sum, err := p.Process(ctx, items)
		if err != nil {
			return err
		}

		checkpointed := env.finalCheckpoint(ctx)

		zap.L().Info("scan complete",
			zap.Int("seen", sum.Seen),
			zap.Int("matched", sum.Matched),
			zap.Int("duplicates", sum.Duplicates),
			zap.Int("emitted", sum.Emitted),
			zap.Int("emit_errors", sum.EmitErrors),
			zap.Bool("checkpointed", checkpointed),
		)
		if sum.EmitErrors > 0 {
			return eris.Errorf("scan: %d alerts failed to emit", sum.EmitErrors)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanInput, "input", "i", "-", "JSONL items file (- for stdin)")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "-", "JSONL alerts file (- for stdout)")
	rootCmd.AddCommand(scanCmd)
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "open input %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create output %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}
