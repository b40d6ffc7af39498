package main

import (
	"errors"

	"github.com/spf13/cobra"

	"smr/internal/errs"
	"smr/internal/linkage"
	"smr/internal/models"
	"smr/internal/quality"
	"smr/internal/repository"
	"smr/internal/utils"
)

type statusOutput struct {
	Upload    *models.UploadArtifact     `json:"upload"`
	Gate      *quality.Result            `json:"gate,omitempty"`
	Unmatched []linkage.UnmatchedEntry   `json:"unmatched,omitempty"`
	Audit     *models.LinkageAuditRecord `json:"audit,omitempty"`
	// ArtifactIntact reports whether the stored file still hashes to content_hash
	ArtifactIntact bool `json:"artifact_intact"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <upload_id>",
		Short: "Show an upload with its gate result and unmatched names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			upload, err := s.Store.Uploads().Get(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				return errs.NotFound("smrctl.status", "upload", id)
			}
			if err != nil {
				return err
			}

			out := statusOutput{Upload: upload}
			if sum, err := utils.CalculateFileSHA256Checksum(upload.StoragePath); err == nil {
				out.ArtifactIntact = sum == upload.ContentHash
			}
			if gate, err := s.Resolver.Evaluate(ctx, id); err == nil {
				out.Gate = &gate
			} else if !errs.Is(err, errs.KindEmptyReport) {
				return err
			}

			if upload.Status == models.StatusFinalized {
				audit, err := s.Store.Charts().AuditFor(ctx, id)
				if err != nil {
					return err
				}
				out.Audit = audit
			} else if upload.Status.In(models.ReviewableStatuses...) {
				out.Unmatched, err = s.Resolver.Unmatched(ctx, id)
				if err != nil {
					return err
				}
			}

			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}
