package http

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	alarms "wellhead-monitor/internal/alarms/domain"
	readmodel "wellhead-monitor/internal/readmodel/application"
)

type pdfColumn struct {
	title string
	width float64
	align string
}

var alarmColumns = []pdfColumn{
	{title: "Triggered", width: 38, align: "C"},
	{title: "Device", width: 28, align: "L"},
	{title: "Location", width: 32, align: "L"},
	{title: "Parameter", width: 22, align: "C"},
	{title: "Rule", width: 52, align: "L"},
	{title: "Severity", width: 20, align: "C"},
	{title: "Value", width: 22, align: "R"},
	{title: "Cleared", width: 38, align: "C"},
	{title: "Status", width: 18, align: "C"},
}

// BuildAlarmHistoryPDF renders alarm views as a landscape table.
func BuildAlarmHistoryPDF(views []readmodel.AlarmView, filter alarms.EventFilter, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alarm History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Filter: %s", describeFilter(filter))))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Events: %d", len(views)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	for _, col := range alarmColumns {
		pdf.CellFormat(col.width, 6, col.title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, view := range views {
		cells := []string{
			view.TriggeredAt.UTC().Format("2006-01-02 15:04:05"),
			view.DeviceID,
			view.Placement.LocationName,
			view.ParameterCode,
			ruleLabel(view),
			view.Severity,
			strings.TrimSpace(fmt.Sprintf("%.2f %s", view.TriggeredValue, view.Unit)),
			"",
			view.Status,
		}
		if view.ClearedAt != nil {
			cells[7] = view.ClearedAt.UTC().Format("2006-01-02 15:04:05")
		}
		for i, col := range alarmColumns {
			pdf.CellFormat(col.width, 6, tr(cells[i]), "1", 0, col.align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ruleLabel(view readmodel.AlarmView) string {
	label := view.RuleName
	if label == "" {
		label = view.RuleID
	}
	if view.Threshold != nil {
		label = fmt.Sprintf("%s (%s %g)", label, view.Operator, *view.Threshold)
	}
	return label
}

func describeFilter(filter alarms.EventFilter) string {
	parts := make([]string, 0, 6)
	if filter.OpenOnly {
		parts = append(parts, "status=open")
	} else {
		parts = append(parts, "status=all")
	}
	for _, kv := range [][2]string{
		{"device", filter.DeviceID},
		{"rule", filter.RuleID},
		{"parameter", filter.ParameterCode},
		{"severity", filter.Severity},
	} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	if !filter.From.IsZero() {
		parts = append(parts, "from="+filter.From.Format(timeLayout))
	}
	if !filter.To.IsZero() {
		parts = append(parts, "to="+filter.To.Format(timeLayout))
	}
	return strings.Join(parts, " ")
}
