// Package report exports workflow data to spreadsheet files for compliance
// reviews and offline audits.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/application/port"
	"github.com/complyflow/policy-workflow/internal/domain/entity"
)

// Exporter writes workflow instances and their decisions to an XLSX workbook.
type Exporter struct {
	instanceRepo port.InstanceRepository
	decisionRepo port.DecisionRepository
	outputDir    string
	logger       *zap.Logger
	now          func() time.Time
}

// NewExporter creates a new report exporter
func NewExporter(instanceRepo port.InstanceRepository, decisionRepo port.DecisionRepository, outputDir string, logger *zap.Logger) *Exporter {
	return &Exporter{
		instanceRepo: instanceRepo,
		decisionRepo: decisionRepo,
		outputDir:    outputDir,
		logger:       logger,
		now:          time.Now,
	}
}

var instanceHeaders = []string{
	"Instance ID", "Subject ID", "Category", "Status",
	"Current Stage", "Initiator", "Started At", "Completed At", "Duration",
}

var decisionHeaders = []string{
	"Instance ID", "Stage ID", "Approver", "Delegated From",
	"Value", "Comments", "Requested At", "Due At", "Responded At", "Escalations",
}

// ExportInstances writes up to limit instances, one row each, plus a second
// sheet with every decision of those instances. Returns the path of the
// written file.
func (e *Exporter) ExportInstances(ctx context.Context, limit int) (string, error) {
	if limit <= 0 {
		limit = 1000
	}
	instances, err := e.instanceRepo.List(ctx, limit, 0)
	if err != nil {
		return "", fmt.Errorf("failed to load instances: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const instanceSheet = "Workflows"
	const decisionSheet = "Decisions"

	f.SetSheetName("Sheet1", instanceSheet)
	if _, err := f.NewSheet(decisionSheet); err != nil {
		return "", fmt.Errorf("failed to create decision sheet: %w", err)
	}

	e.writeRow(f, instanceSheet, 1, instanceHeaders)
	for i, instance := range instances {
		completed := ""
		if instance.CompletedAt != nil {
			completed = instance.CompletedAt.Format(time.RFC3339)
		}
		e.writeRow(f, instanceSheet, i+2, []string{
			instance.ID,
			instance.SubjectID,
			instance.Category,
			instance.Status,
			fmt.Sprintf("%d/%d", instance.CurrentStageOrder, len(instance.Stages)),
			instance.Initiator,
			instance.StartedAt.Format(time.RFC3339),
			completed,
			instance.Duration().Round(time.Second).String(),
		})
	}

	e.writeRow(f, decisionSheet, 1, decisionHeaders)
	row := 2
	for _, instance := range instances {
		decisions, err := e.decisionRepo.GetByInstanceID(ctx, instance.ID)
		if err != nil {
			return "", fmt.Errorf("failed to load decisions for %s: %w", instance.ID, err)
		}
		for _, d := range decisions {
			e.writeRow(f, decisionSheet, row, decisionRow(d))
			row++
		}
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(e.outputDir, fmt.Sprintf("workflows_%s.xlsx", e.now().Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	e.logger.Info("Workflow report exported",
		zap.String("path", path),
		zap.Int("instances", len(instances)))
	return path, nil
}

func decisionRow(d *entity.ApprovalDecision) []string {
	responded := ""
	if d.RespondedAt != nil {
		responded = d.RespondedAt.Format(time.RFC3339)
	}
	delegatedFrom := ""
	if d.IsDelegated() {
		delegatedFrom = d.DelegatorID
	}
	return []string{
		d.InstanceID,
		d.StageID,
		d.ApproverID,
		delegatedFrom,
		d.Value,
		d.Comments,
		d.RequestedAt.Format(time.RFC3339),
		d.DueAt.Format(time.RFC3339),
		responded,
		fmt.Sprintf("%d", d.EscalationLevel),
	}
}

func (e *Exporter) writeRow(f *excelize.File, sheet string, row int, values []string) {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			continue
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			e.logger.Warn("Failed to set cell value",
				zap.String("sheet", sheet),
				zap.String("cell", cell),
				zap.Error(err))
		}
	}
}
