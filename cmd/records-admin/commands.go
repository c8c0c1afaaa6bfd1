package main

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/campus-health-api/internal/models"
	"github.com/noah-isme/campus-health-api/internal/service"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
)

const dateLayout = "2006-01-02"

func registerCommands(root *cobra.Command) {
	root.AddCommand(ensureCmd(), reconcileCmd(), backfillCmd(), restampCmd(), purgeCmd(), yearCmd(), certCmd())
}

func ensureCmd() *cobra.Command {
	var yearID, subjectID, kind, period string
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Get or create a subject's record for a term and open its certification document",
		Long: `Without --period the period is resolved from today's date; outside every
declared period the record is created unassigned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var label *models.PeriodLabel
			if period != "" {
				label = models.PeriodPtr(models.PeriodLabel(period))
			}
			record, err := container.Records.GetOrCreate(cmd.Context(), models.RecordKind(kind), subjectID, yearID, label)
			if err != nil {
				return err
			}
			out := map[string]interface{}{"record": record}
			if record.Kind == models.RecordKindProfile {
				doc, err := container.Certification.Create(cmd.Context(), record)
				if err != nil {
					return err
				}
				out["document"] = doc
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&yearID, "year", "", "year id")
	cmd.Flags().StringVar(&subjectID, "subject", "", "subject id")
	cmd.Flags().StringVar(&kind, "kind", string(models.RecordKindProfile), "record kind (profile, waiver)")
	cmd.Flags().StringVar(&period, "period", "", "period label (first, second, summer)")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var yearID, subjectID, kind string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Merge or stamp unassigned duplicate records of a year",
		Long: `Without --subject every group of the year that still holds an unassigned
record is reconciled. Ambiguous groups are reported for manual review and
make the command exit non-zero after the report is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				reports []*models.MergeReport
				err     error
			)
			switch {
			case subjectID == "":
				reports, err = container.Records.ReconcileYear(ctx, yearID)
			case kind != "":
				var report *models.MergeReport
				report, err = container.Records.ReconcileDuplicates(ctx, models.RecordKind(kind), subjectID, yearID)
				if report != nil {
					reports = append(reports, report)
				}
			default:
				reports, err = container.Records.ReconcileAll(ctx, subjectID, yearID)
			}
			if werr := writeReport(cmd.OutOrStdout(), csvOutput, reports, mergeReportDataset(reports)); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&yearID, "year", "", "year id")
	cmd.Flags().StringVar(&subjectID, "subject", "", "limit to one subject")
	cmd.Flags().StringVar(&kind, "kind", "", "limit to one record kind (profile, waiver)")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func backfillCmd() *cobra.Command {
	var yearID string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Stamp appointments of a year that have no period yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := container.Stamper.BackfillYear(cmd.Context(), yearID)
			if report != nil {
				if werr := writeReport(cmd.OutOrStdout(), csvOutput, report, stampReportDataset(report)); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&yearID, "year", "", "year id")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func restampCmd() *cobra.Command {
	var yearID string
	cmd := &cobra.Command{
		Use:   "restamp",
		Short: "Recompute the period of every appointment of a year, overwriting stamped values",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := container.Stamper.Restamp(cmd.Context(), yearID, actor)
			if report != nil {
				if werr := writeReport(cmd.OutOrStdout(), csvOutput, report, stampReportDataset(report)); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&yearID, "year", "", "year id")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge RECORD_ID",
		Short: "Hard-delete a record, its documents and their artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := container.Records.Purge(cmd.Context(), args[0], actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", args[0])
			return nil
		},
	}
}

func yearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "year",
		Short: "Administer academic years and their periods",
	}

	setCurrent := &cobra.Command{
		Use:   "set-current YEAR_ID",
		Short: "Flag a year as the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := container.Years.SetCurrent(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), year)
		},
	}

	var specs []string
	periods := &cobra.Command{
		Use:   "periods YEAR_ID",
		Short: "Replace the declared periods of a year",
		Example: `  records-admin year periods Y1 --period first=2025-08-15:2025-12-20 \
      --period second=2026-01-15:2026-05-31 --period summer=`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.ReplacePeriodsRequest{}
			for _, spec := range specs {
				p, err := parsePeriodSpec(spec)
				if err != nil {
					return err
				}
				req.Periods = append(req.Periods, p)
			}
			def, err := container.Years.ReplacePeriods(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), def)
		},
	}
	periods.Flags().StringArrayVar(&specs, "period", nil, "label=START:END, either date may be empty")

	var status string
	var page, pageSize int
	list := &cobra.Command{
		Use:   "list",
		Short: "List academic years",
		RunE: func(cmd *cobra.Command, args []string) error {
			years, pagination, err := container.Years.List(cmd.Context(), models.YearFilter{Status: models.YearStatus(status), Page: page, PageSize: pageSize})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"years": years, "pagination": pagination})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (upcoming, active, completed)")
	list.Flags().IntVar(&page, "page", 1, "page number")
	list.Flags().IntVar(&pageSize, "page-size", 20, "rows per page")

	create := &cobra.Command{
		Use:   "create LABEL START END",
		Short: "Create an academic year",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := yearBounds(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			year, err := container.Years.Create(cmd.Context(), service.CreateYearRequest{Label: req.Label, StartDate: req.StartDate, EndDate: req.EndDate})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), year)
		},
	}

	var updateStatus string
	update := &cobra.Command{
		Use:   "update YEAR_ID LABEL START END",
		Short: "Rename, re-bound or change the status of a year",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := yearBounds(args[1], args[2], args[3])
			if err != nil {
				return err
			}
			req.Status = models.YearStatus(updateStatus)
			year, err := container.Years.Update(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), year)
		},
	}
	update.Flags().StringVar(&updateStatus, "status", string(models.YearStatusActive), "year status")

	show := &cobra.Command{
		Use:   "show [YEAR_ID]",
		Short: "Show a year's periods and the period today falls in; defaults to the current year",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				def *models.TermDefinition
				err error
			)
			if len(args) == 1 {
				def, err = container.Years.Definition(cmd.Context(), args[0])
			} else {
				def, err = container.Years.CurrentDefinition(cmd.Context())
			}
			if err != nil {
				return err
			}
			out := map[string]interface{}{"definition": def}
			if label, ok := service.CurrentPeriod(def); ok {
				out["today"] = label
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.AddCommand(list, create, update, show, setCurrent, periods)
	return cmd
}

func yearBounds(label, startRaw, endRaw string) (service.UpdateYearRequest, error) {
	start, err := time.Parse(dateLayout, startRaw)
	if err != nil {
		return service.UpdateYearRequest{}, fmt.Errorf("start: dates use YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, endRaw)
	if err != nil {
		return service.UpdateYearRequest{}, fmt.Errorf("end: dates use YYYY-MM-DD")
	}
	return service.UpdateYearRequest{Label: label, StartDate: start, EndDate: end}, nil
}

func certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Drive certification documents through review",
	}

	single := func(use, short string, run func(cmd *cobra.Command, id string) (*models.CertificationDocument, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " DOCUMENT_ID",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				doc, err := run(cmd, args[0])
				if err != nil {
					return err
				}
				return writeReport(cmd.OutOrStdout(), csvOutput, doc, documentDataset([]models.CertificationDocument{*doc}))
			},
		}
	}

	verify := single("verify", "Verify a complete pending document", func(cmd *cobra.Command, id string) (*models.CertificationDocument, error) {
		return container.Certification.Verify(cmd.Context(), id, actor)
	})
	issue := single("issue", "Render, store and issue a verified document", func(cmd *cobra.Command, id string) (*models.CertificationDocument, error) {
		return container.Certification.Issue(cmd.Context(), id, actor)
	})
	submit := single("submit", "Record the subject's submission of a pending document", func(cmd *cobra.Command, id string) (*models.CertificationDocument, error) {
		return container.Certification.Submit(cmd.Context(), id)
	})
	resubmit := single("resubmit", "Reopen a rejected document after the payload changed", func(cmd *cobra.Command, id string) (*models.CertificationDocument, error) {
		return container.Certification.Resubmit(cmd.Context(), id, actor)
	})

	var reason string
	reject := single("reject", "Send a document back with a reason", func(cmd *cobra.Command, id string) (*models.CertificationDocument, error) {
		return container.Certification.Reject(cmd.Context(), id, service.RejectRequest{Reviewer: actor, Reason: reason})
	})
	reject.Flags().StringVar(&reason, "reason", "", "why the document is rejected")
	_ = reject.MarkFlagRequired("reason")

	completeness := &cobra.Command{
		Use:   "completeness DOCUMENT_ID",
		Short: "Show how complete a document is",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := container.Certification.Completeness(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List documents waiting in a status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := models.CertificationStatus(status)
			switch s {
			case models.CertificationPending, models.CertificationVerified, models.CertificationIssued, models.CertificationRejected:
			default:
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
			}
			docs, err := container.Documents.ListByStatus(cmd.Context(), s, limit)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), csvOutput, docs, documentDataset(docs))
		},
	}
	list.Flags().StringVar(&status, "status", string(models.CertificationVerified), "document status")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	var outPath string
	download := &cobra.Command{
		Use:   "download TOKEN",
		Short: "Fetch the artifact a signed download token grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			grant, err := container.Signer.Parse(args[0], false)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrPreconditionFailed.Code, appErrors.ErrPreconditionFailed.Status, "download token rejected")
			}
			data, err := container.Artifacts.Fetch(grant.Handle)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "artifact not found")
			}
			if outPath == "" {
				outPath = path.Base(grant.Handle)
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s for subject %s (%d bytes)\n", outPath, grant.SubjectID, len(data))
			return nil
		},
	}
	download.Flags().StringVarP(&outPath, "out", "o", "", "output file (defaults to the artifact name)")

	cmd.AddCommand(submit, verify, reject, resubmit, issue, completeness, list, download)
	return cmd
}

// parsePeriodSpec reads "label=START:END". Either date may be left empty.
func parsePeriodSpec(spec string) (service.PeriodRangeRequest, error) {
	label, bounds, ok := strings.Cut(spec, "=")
	if !ok || strings.TrimSpace(label) == "" {
		return service.PeriodRangeRequest{}, fmt.Errorf("period %q: expected label=START:END", spec)
	}
	req := service.PeriodRangeRequest{Label: models.PeriodLabel(strings.TrimSpace(label))}
	if bounds == "" {
		return req, nil
	}
	startRaw, endRaw, ok := strings.Cut(bounds, ":")
	if !ok {
		return service.PeriodRangeRequest{}, fmt.Errorf("period %q: expected START:END", spec)
	}
	var err error
	if req.StartDate, err = parseOptionalDate(startRaw); err != nil {
		return service.PeriodRangeRequest{}, fmt.Errorf("period %q start: %w", spec, err)
	}
	if req.EndDate, err = parseOptionalDate(endRaw); err != nil {
		return service.PeriodRangeRequest{}, fmt.Errorf("period %q end: %w", spec, err)
	}
	return req, nil
}

func parseOptionalDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, errors.New("dates use YYYY-MM-DD")
	}
	return &t, nil
}
