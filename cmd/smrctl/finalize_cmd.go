package main

import (
	"github.com/spf13/cobra"
)

func newFinalizeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <upload_id>",
		Short: "Commit an upload into the canonical chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			operator, err := opts.requireOperator()
			if err != nil {
				return err
			}

			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Committer.Finalize(cmd.Context(), id, operator)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newRejectCmd(opts *rootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <upload_id>",
		Short: "Close an open upload without finalizing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			operator, err := opts.requireOperator()
			if err != nil {
				return err
			}

			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			upload, err := s.Pipeline.Reject(cmd.Context(), id, reason, operator)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), upload)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the upload is rejected (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
