package http

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"wellhead-monitor/internal/analytics/domain/rollup"
	readmodel "wellhead-monitor/internal/readmodel/application"
)

// BuildRollupXLSX renders a definition summary sheet and a bucket sheet.
func BuildRollupXLSX(def rollup.Definition, views []readmodel.BucketView, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	bucketSheet := "buckets"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(bucketSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Rollup", def.Name},
		{"Bucket Width", def.BucketWidth.String()},
		{"Dimensions", joinValues(def.Dimensions)},
		{"Aggregates", joinValues(def.Aggregates)},
		{"Lookback", def.Lookback.String()},
		{"Lag", def.Lag.String()},
		{"Buckets", len(views)},
		{"Generated", generatedAt.Format(time.RFC3339)},
	}
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}

	header := []string{"Bucket Start", "Bucket End", "Field", "Location", "Device", "Parameter", "Unit"}
	for _, agg := range def.Aggregates {
		header = append(header, string(agg))
	}
	for i, title := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(bucketSheet, cell, title)
	}
	for i, view := range views {
		row := i + 2
		values := []any{
			view.BucketStart.UTC().Format(time.RFC3339),
			view.BucketEnd.UTC().Format(time.RFC3339),
			view.FieldID,
			view.LocationID,
			view.DeviceID,
			view.ParameterCode,
			view.Unit,
		}
		for _, agg := range def.Aggregates {
			values = append(values, view.Values[agg])
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(bucketSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, value := range values {
		parts[i] = string(value)
	}
	return strings.Join(parts, ", ")
}
