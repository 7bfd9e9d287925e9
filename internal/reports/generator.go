// Package reports renders risk register, KRI status and alert summary
// reports to CSV, XLSX and PDF, and schedules recurring runs.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/aml"
	"github.com/napsa-zm/erm-platform/internal/erm"
	"github.com/napsa-zm/erm-platform/internal/erm/kri"
)

var (
	ErrUnknownKind   = errors.New("unknown report kind")
	ErrUnknownFormat = errors.New("unknown report format")
)

// Kind selects the report content.
type Kind string

const (
	KindRiskRegister Kind = "risk_register"
	KindKRIStatus    Kind = "kri_status"
	KindAlertSummary Kind = "alert_summary"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ContentType maps a format to its MIME type.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// RiskSource supplies register rows.
type RiskSource interface {
	ListRisks(ctx context.Context, filter erm.RiskFilter) ([]erm.Risk, int64, error)
}

// KRISource supplies indicator rows.
type KRISource interface {
	List(ctx context.Context, status kri.Status, riskID string, limit, offset int) ([]kri.KeyRiskIndicator, error)
}

// AlertSource supplies alert rows.
type AlertSource interface {
	ListAlerts(ctx context.Context, f aml.AlertFilter) ([]aml.TransactionAlert, int64, error)
}

// Generator renders reports from the live services.
type Generator struct {
	risks  RiskSource
	kris   KRISource
	alerts AlertSource
	logger *zap.Logger
}

// NewGenerator creates a report generator.
func NewGenerator(risks RiskSource, kris KRISource, alerts AlertSource, logger *zap.Logger) *Generator {
	return &Generator{risks: risks, kris: kris, alerts: alerts, logger: logger}
}

// Document is a rendered report ready for download.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Generate renders one report. The filename carries the generation date.
func (g *Generator) Generate(ctx context.Context, kind Kind, format Format) (*Document, error) {
	title, header, rows, err := g.tabulate(ctx, kind)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch format {
	case FormatCSV:
		data, err = renderCSV(header, rows)
	case FormatXLSX:
		data, err = renderXLSX(title, header, rows)
	case FormatPDF:
		data, err = renderPDF(title, header, rows)
	default:
		return nil, fmt.Errorf("%s: %w", format, ErrUnknownFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s report: %w", kind, err)
	}

	doc := &Document{
		Filename:    fmt.Sprintf("%s-%s.%s", kind, time.Now().UTC().Format("2006-01-02"), format),
		ContentType: format.ContentType(),
		Data:        data,
	}
	g.logger.Info("report generated",
		zap.String("kind", string(kind)), zap.String("format", string(format)),
		zap.Int("rows", len(rows)), zap.Int("bytes", len(doc.Data)))
	return doc, nil
}

// tabulate flattens report content into a header plus string rows so the
// three renderers stay format-only.
func (g *Generator) tabulate(ctx context.Context, kind Kind) (title string, header []string, rows [][]string, err error) {
	switch kind {
	case KindRiskRegister:
		risks, _, err := g.risks.ListRisks(ctx, erm.RiskFilter{Limit: 500})
		if err != nil {
			return "", nil, nil, err
		}
		header = []string{"ID", "Title", "Department", "Owner", "Status", "Likelihood", "Impact", "Inherent", "Residual"}
		for _, r := range risks {
			rows = append(rows, []string{
				r.ID, r.Title, r.Department, r.RiskOwner, string(r.Status),
				strconv.Itoa(r.Likelihood), strconv.Itoa(r.Impact),
				formatFloat(r.InherentRiskScore), formatFloat(r.ResidualRiskScore),
			})
		}
		return "Risk Register", header, rows, nil

	case KindKRIStatus:
		indicators, err := g.kris.List(ctx, "", "", 500, 0)
		if err != nil {
			return "", nil, nil, err
		}
		header = []string{"Name", "Risk", "Status", "Trend", "Current", "Target", "Lower Warning", "Upper Warning", "Last Measured"}
		for _, k := range indicators {
			riskID := ""
			if k.RiskID != nil {
				riskID = *k.RiskID
			}
			measured := ""
			if k.LastMeasuredAt != nil {
				measured = k.LastMeasuredAt.UTC().Format(time.RFC3339)
			}
			rows = append(rows, []string{
				k.Name, riskID, string(k.Status), string(k.Trend),
				formatFloat(k.CurrentValue), formatFloat(k.TargetValue),
				formatFloat(k.LowerWarning), formatFloat(k.UpperWarning), measured,
			})
		}
		return "KRI Status", header, rows, nil

	case KindAlertSummary:
		alerts, _, err := g.alerts.ListAlerts(ctx, aml.AlertFilter{Limit: 500})
		if err != nil {
			return "", nil, nil, err
		}
		header = []string{"ID", "Scenario", "Severity", "Status", "Title", "Score", "Created"}
		for _, a := range alerts {
			rows = append(rows, []string{
				a.ID.String(), a.Scenario, string(a.Severity), string(a.Status),
				a.Title, formatFloat(a.Score), a.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		return "Alert Summary", header, rows, nil
	}
	return "", nil, nil, fmt.Errorf("%s: %w", kind, ErrUnknownKind)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func renderCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderXLSX(title string, header []string, rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Report"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheet, cell, cell, bold); err != nil {
			return nil, err
		}
	}
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: title, Creator: "erm-platform"}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderPDF(title string, header []string, rows [][]string) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(title, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(0, 6, "Generated "+time.Now().UTC().Format(time.RFC3339), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colW := (pageW - left - right) / float64(len(header))

	pdf.SetFont("Helvetica", "B", 8)
	for _, h := range header {
		pdf.CellFormat(colW, 7, h, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, row := range rows {
		for _, v := range row {
			if len(v) > 40 {
				v = v[:37] + "..."
			}
			pdf.CellFormat(colW, 6, v, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
