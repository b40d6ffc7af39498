package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"smr/internal/intake"
)

func newUploadCmd(opts *rootOptions) *cobra.Command {
	var (
		reportDate string
		reportType string
		notes      string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Submit a report file, parse it and resolve artists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operator, err := opts.requireOperator()
			if err != nil {
				return err
			}

			sub := intake.Submission{
				Filename:   filepath.Base(args[0]),
				ReportType: reportType,
				Notes:      notes,
				UploadedBy: operator,
			}
			if reportDate != "" {
				d, err := time.Parse("2006-01-02", reportDate)
				if err != nil {
					return fmt.Errorf("invalid --report-date: %w", err)
				}
				sub.ReportDate = &d
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			sub.Body = f

			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Pipeline.Ingest(cmd.Context(), sub)
			if res != nil && res.Upload != nil {
				if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
					return werr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&reportDate, "report-date", "", "Report date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&reportType, "report-type", "", "Report type label")
	cmd.Flags().StringVar(&notes, "notes", "", "Free text notes")
	return cmd
}
