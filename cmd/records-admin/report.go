package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/noah-isme/campus-health-api/internal/models"
	"github.com/noah-isme/campus-health-api/pkg/export"
)

func mergeReportDataset(reports []*models.MergeReport) export.Dataset {
	data := export.Dataset{Headers: []string{"kind", "subject_id", "year_id", "action", "source_id", "target_id", "assigned_period", "changed_fields", "candidates", "note"}}
	for _, r := range reports {
		if r == nil {
			continue
		}
		assigned := ""
		if r.AssignedPeriod != nil {
			assigned = string(*r.AssignedPeriod)
		}
		data.Rows = append(data.Rows, map[string]string{
			"kind":            string(r.Kind),
			"subject_id":      r.SubjectID,
			"year_id":         r.YearID,
			"action":          string(r.Action),
			"source_id":       r.SourceID,
			"target_id":       r.TargetID,
			"assigned_period": assigned,
			"changed_fields":  strings.Join(r.ChangedFields(), ";"),
			"candidates":      strings.Join(r.CandidateIDs, ";"),
			"note":            r.Note,
		})
	}
	return data
}

func stampReportDataset(report *models.StampReport) export.Dataset {
	data := export.Dataset{Headers: []string{"year_id", "event_id", "outcome"}}
	if report == nil {
		return data
	}
	for _, group := range []struct {
		outcome string
		ids     []string
	}{{"assigned", report.Assigned}, {"unassigned", report.Unassigned}, {"skipped", report.Skipped}} {
		for _, id := range group.ids {
			data.Rows = append(data.Rows, map[string]string{"year_id": report.YearID, "event_id": id, "outcome": group.outcome})
		}
	}
	return data
}

func documentDataset(docs []models.CertificationDocument) export.Dataset {
	data := export.Dataset{Headers: []string{"id", "subject_id", "year_id", "period", "status", "record_id"}}
	for _, d := range docs {
		data.Rows = append(data.Rows, map[string]string{
			"id":         d.ID,
			"subject_id": d.SubjectID,
			"year_id":    d.YearID,
			"period":     models.PeriodString(d.Period),
			"status":     string(d.Status),
			"record_id":  d.RecordID,
		})
	}
	return data
}

// writeReport prints v as indented JSON, or dataset as CSV when asCSV is set.
func writeReport(w io.Writer, asCSV bool, v interface{}, dataset export.Dataset) error {
	if asCSV {
		return export.NewCSVExporter().Write(w, dataset)
	}
	return writeJSON(w, v)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
