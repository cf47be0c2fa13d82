package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tge-sentinel/internal/matcher"
	"github.com/sells-group/tge-sentinel/internal/model"
	"github.com/sells-group/tge-sentinel/internal/textprep"
)

var (
	classifyTitle  string
	classifyURL    string
	classifySource string
)

var classifyCmd = &cobra.Command{
	Use:   "classify [text...]",
	Short: "Classify a single item and print the match result",
	Long:  "Classifies the given text, or stdin when no text is given, and prints the match result as JSON. No state is read or written.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("classify"); err != nil {
			return err
		}

		body := strings.Join(args, " ")
		if body == "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return eris.Wrap(err, "classify: read stdin")
			}
			body = string(data)
		}

		lex, err := loadLexicon(cfg.Lexicon)
		if err != nil {
			return err
		}

		item := textprep.Prepare(model.CandidateItem{
			Title:    classifyTitle,
			Body:     body,
			URL:      classifyURL,
			SourceID: classifySource,
		})
		return writeClassification(cmd.OutOrStdout(), matcher.Classify(item, lex), cfg.Matcher.AlertThreshold)
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyTitle, "title", "", "item title")
	classifyCmd.Flags().StringVar(&classifyURL, "url", "", "item URL")
	classifyCmd.Flags().StringVar(&classifySource, "source", "cli", "source ID")
	rootCmd.AddCommand(classifyCmd)
}

// classification is the classify command's output.
type classification struct {
	Alertable bool              `json:"alertable"`
	Result    model.MatchResult `json:"result"`
}

func writeClassification(w io.Writer, res model.MatchResult, threshold int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(classification{Alertable: res.Alertable(threshold), Result: res}); err != nil {
		return eris.Wrap(err, "classify: write result")
	}
	return nil
}
