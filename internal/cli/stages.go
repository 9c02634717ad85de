package cli

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pyq-pipeline/internal/app"
	"pyq-pipeline/internal/config"
	"pyq-pipeline/internal/corpus"
	"pyq-pipeline/internal/domain"
)

// NewCanonicalizeCmd builds a CorpusFile from a raw extraction file.
func NewCanonicalizeCmd() *cobra.Command {
	var output string
	var opts app.CanonicalizeOptions
	cmd := &cobra.Command{
		Use:   "canonicalize RAW_FILE",
		Short: "Normalize a raw OCR extraction into a CorpusFile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return &domain.StorageError{Op: "read raw file", Err: err}
			}
			if opts.Source == "" {
				opts.Source = filepath.Base(args[0])
			}
			c, report, err := app.NewCanonicalizer().Canonicalize(raw, opts)
			if err != nil {
				return err
			}
			for _, r := range report.Rejected {
				log.Printf("rejected record #%d: %s", r.Position, r.Reason)
			}
			for _, d := range report.Dropped {
				log.Printf("dropped duplicate q=%d (extraction_order %d)", d.QuestionNumber, d.ExtractionOrder)
			}
			log.Printf("canonicalized %d records, %d rejected, %d duplicates dropped, options extracted for %d",
				report.Accepted, len(report.Rejected), len(report.Dropped), len(report.OptionsExtracted))

			err = withLock(cmd.Context(), cfg, output, func() error { return writeCorpus(output, c) })
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "CorpusFile to write")
	cmd.Flags().StringVar(&opts.ExamType, "exam-type", "", "exam type, e.g. UPSC or UPPSC")
	cmd.Flags().IntVar(&opts.Year, "year", 0, "exam year")
	cmd.Flags().StringVar(&opts.Section, "section", "", "paper section, e.g. GS1")
	cmd.Flags().StringVar(&opts.Source, "source", "", "metadata.source (default: raw file name)")
	cmd.Flags().BoolVar(&opts.CleanOptions, "clean-options", false, "strip inline options from question_text")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// NewValidateCmd prints the validation report for a CorpusFile.
func NewValidateCmd() *cobra.Command {
	var requireComplete bool
	cmd := &cobra.Command{
		Use:   "validate CORPUS",
		Short: "Report gaps, duplicates and coverage of a CorpusFile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := corpus.Load(args[0])
			if err != nil {
				return err
			}
			r := app.Validate(c)
			if jsonOutput {
				if err := printReport(cmd.OutOrStdout(), r); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "total: %d  range: %d..%d\n", r.Total, r.Min, r.Max)
				fmt.Fprintln(out, summarizeInts("duplicates", r.Duplicates))
				fmt.Fprintln(out, summarizeInts("missing", r.Missing))
				fmt.Fprintln(out, summarizeInts("without options", r.WithoutOptions))
				fmt.Fprintln(out, summarizeInts("without answer", r.WithoutAnswer))
				fmt.Fprintln(out, summarizeInts("without enrichment", r.WithoutEnrichment))
				for _, v := range r.Violations {
					fmt.Fprintf(out, "violation: %s\n", v)
				}
			}

			var problems []string
			if len(r.Duplicates) > 0 {
				problems = append(problems, "duplicates present")
			}
			problems = append(problems, r.Violations...)
			if requireComplete {
				if len(r.Missing) > 0 {
					problems = append(problems, "missing questions")
				}
				if len(r.WithoutOptions) > 0 || len(r.WithoutAnswer) > 0 || len(r.WithoutEnrichment) > 0 {
					problems = append(problems, "incomplete records")
				}
			}
			if len(problems) > 0 {
				return &domain.ValidationError{Report: r, Problems: problems}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&requireComplete, "require-complete", false, "also fail on gaps and records lacking options, answer or enrichment")
	return cmd
}

// NewApplyKeyCmd applies an answer key file.
func NewApplyKeyCmd() *cobra.Command {
	var keyPath, output string
	cmd := &cobra.Command{
		Use:   "apply-key CORPUS",
		Short: "Set correct answers from an answer key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(keyPath)
			if err != nil {
				return &domain.StorageError{Op: "read answer key", Err: err}
			}
			key, err := app.ParseAnswerKey(data)
			if err != nil {
				return err
			}
			var report domain.AnswerKeyReport
			err = mutateCorpus(cmd, args[0], output, func(c *domain.CorpusFile) error {
				report = app.ApplyAnswerKey(c, key)
				log.Printf("answer key: %d applied, %d unknown numbers, %d skipped", len(report.Applied), len(report.UnknownNumber), len(report.Skipped))
				return nil
			})
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "answer key file (YAML or JSON)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: rewrite CORPUS in place)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// NewPatchCmd replaces or inserts records from a patch file.
func NewPatchCmd() *cobra.Command {
	var patchPath, output string
	cmd := &cobra.Command{
		Use:   "patch CORPUS",
		Short: "Apply manual record fixes and inserts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(patchPath)
			if err != nil {
				return &domain.StorageError{Op: "read patch file", Err: err}
			}
			set, err := app.ParsePatchSet(data)
			if err != nil {
				return err
			}
			var report domain.PatchReport
			err = mutateCorpus(cmd, args[0], output, func(c *domain.CorpusFile) error {
				r, err := app.ApplyPatches(c, set)
				if err != nil {
					return err
				}
				report = r
				log.Printf("patch: replaced %v inserted %v renumbered %d", report.Replaced, report.Inserted, report.Renumbered)
				return nil
			})
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&patchPath, "file", "", "patch file (YAML or JSON)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: rewrite CORPUS in place)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// NewRenumberCmd shifts extraction_order after an insert.
func NewRenumberCmd() *cobra.Command {
	var from, delta int
	var output string
	cmd := &cobra.Command{
		Use:   "renumber CORPUS",
		Short: "Shift extraction_order of records numbered --from and above",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateCorpus(cmd, args[0], output, func(c *domain.CorpusFile) error {
				n := app.Renumber(c, from, delta)
				log.Printf("renumber: shifted %d records by %+d from q=%d", n, delta, from)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "first question_number to shift")
	cmd.Flags().IntVar(&delta, "delta", 1, "amount added to extraction_order")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: rewrite CORPUS in place)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

// NewDedupeCmd drops repeated question numbers.
func NewDedupeCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "dedupe CORPUS",
		Short: "Keep the first record of every question_number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dropped []domain.DroppedDuplicate
			err := mutateCorpus(cmd, args[0], output, func(c *domain.CorpusFile) error {
				dropped = app.Deduplicate(c)
				for _, d := range dropped {
					log.Printf("dropped duplicate q=%d (extraction_order %d)", d.QuestionNumber, d.ExtractionOrder)
				}
				c.SortByNumber()
				return nil
			})
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), dropped)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: rewrite CORPUS in place)")
	return cmd
}

// mutateCorpus loads input, applies fn under the output lock and writes the result.
func mutateCorpus(cmd *cobra.Command, input, output string, fn func(c *domain.CorpusFile) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	dest := outputPath(input, output)
	return withLock(cmd.Context(), cfg, dest, func() error {
		c, err := corpus.Load(input)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		return writeCorpus(dest, c)
	})
}
