package analytics

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSXContentType is the media type of WriteXLSX output.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	overviewSheet  = "Overview"
	dailySheet     = "Daily"
	activitySheet  = "Recent activity"
	timestampStyle = "yyyy-mm-dd hh:mm:ss"
)

// WriteXLSX writes a workbook with the overview totals, the per-post daily
// aggregates and the recent activity feed.
func WriteXLSX(w io.Writer, s *Summary, aggs []Aggregate) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", overviewSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	stamp, err := f.NewStyle(&excelize.Style{CustomNumFmt: ptr(timestampStyle)})
	if err != nil {
		return err
	}

	// Overview
	rows := [][]any{{"Metric", "Value"}}
	for _, t := range EventTypes {
		rows = append(rows, []any{t.Label(), s.Totals[t]})
	}
	rows = append(rows, []any{"Unique visitors", s.UniqueVisitors})
	if err := writeRows(f, overviewSheet, rows); err != nil {
		return err
	}
	start := len(rows) + 2
	top := [][]any{{"Top posts", "Slug", "Views"}}
	for _, p := range s.TopPosts {
		top = append(top, []any{p.Title, p.Slug, p.Views})
	}
	if err := writeRowsAt(f, overviewSheet, start, top); err != nil {
		return err
	}
	_ = f.SetCellStyle(overviewSheet, "A1", "B1", bold)
	_ = f.SetCellStyle(overviewSheet, cell(1, start), cell(3, start), bold)
	_ = f.SetColWidth(overviewSheet, "A", "A", 40)

	// Daily aggregates
	if _, err := f.NewSheet(dailySheet); err != nil {
		return err
	}
	daily := [][]any{{"Day", "Post", "Post ID", "Views", "Unique visitors", "Avg time on page (s)", "Scrolled 50%", "Shares", "CTA clicks"}}
	for _, a := range aggs {
		var avg any
		if a.AvgTime != nil {
			avg = *a.AvgTime
		}
		daily = append(daily, []any{a.Day, a.Title, a.PostID, a.Views, a.Uniques, avg, a.Scroll50, a.Shares, a.CTAClicks})
	}
	if err := writeRows(f, dailySheet, daily); err != nil {
		return err
	}
	_ = f.SetCellStyle(dailySheet, "A1", "I1", bold)

	// Activity
	if _, err := f.NewSheet(activitySheet); err != nil {
		return err
	}
	activity := [][]any{{"Time (UTC)", "Event", "Post", "Slug"}}
	for _, a := range s.Recent {
		activity = append(activity, []any{a.CreatedAt.UTC(), string(a.Type), deref(a.PostTitle), deref(a.PostSlug)})
	}
	if err := writeRows(f, activitySheet, activity); err != nil {
		return err
	}
	_ = f.SetCellStyle(activitySheet, "A1", "D1", bold)
	if len(activity) > 1 {
		_ = f.SetCellStyle(activitySheet, "A2", cell(1, len(activity)), stamp)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	return writeRowsAt(f, sheet, 1, rows)
}

func writeRowsAt(f *excelize.File, sheet string, first int, rows [][]any) error {
	for i, row := range rows {
		r := row
		if err := f.SetSheetRow(sheet, cell(1, first+i), &r); err != nil {
			return err
		}
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T { return &v }
