package dataset

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"call-review-go/internal/actionable"
	"call-review-go/internal/aggregator"
	"call-review-go/internal/logger"
	"call-review-go/internal/rtl"
	"call-review-go/internal/types"
)

const (
	reportsSheet  = "Reports"
	insightsSheet = "Insights"
)

func reportHeader() []any {
	h := []any{"Call ID", "Status", "Overall Score"}
	for _, c := range types.Categories {
		h = append(h, strings.ToUpper(c[:1])+c[1:])
	}
	return append(h, "Clarity (audio)", "Complaint", "Failed Stages", "Duration (ms)", "Summary (en)", "Summary (ar)", "Source")
}

// score renders a nullable score; uncomputed scores stay blank rather than 0.
func score(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func reportRow(rep types.Report) []any {
	row := []any{rep.CallID, string(rep.OverallStatus)}
	var overall *float64
	if rep.Scores != nil {
		overall = rep.Scores.Overall
	}
	row = append(row, score(overall))
	for _, c := range types.Categories {
		var v *float64
		if rep.Scores != nil {
			v = rep.Scores.Categories[c]
		}
		row = append(row, score(v))
	}
	if rep.QualityMetrics != nil {
		row = append(row, rep.QualityMetrics.ClarityScore)
	} else {
		row = append(row, "")
	}
	complaint := ""
	if rep.Scores != nil && rep.Scores.Complaint.Detected {
		complaint = rep.Scores.Complaint.Severity
	}
	var failed []string
	for _, s := range types.Stages {
		if st, ok := rep.StageStatus[s]; ok && st.Status != types.StatusOK {
			failed = append(failed, string(s))
		}
	}
	en, _ := rep.Summary(types.LangEnglish)
	ar, _ := rep.Summary(types.LangArabic)
	// Spreadsheet cells run their own bidi with the reading order set on
	// the column, so the directional marks are dropped here.
	return append(row, complaint, strings.Join(failed, ", "), rep.DurationMs,
		en.Text, rtl.Strip(ar.Text), rep.Recording.SourceURI)
}

// ExportWorkbook writes the reports and the batch insight to path.
func ExportWorkbook(path string, reports []types.Report, log *logrus.Entry) error {
	f, err := buildWorkbook(reports)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	logger.Component(log, "dataset.export").WithFields(logrus.Fields{
		"path":  path,
		"calls": len(reports),
	}).Info("report workbook written")
	return nil
}

// WriteWorkbook writes the workbook to w.
func WriteWorkbook(w io.Writer, reports []types.Report) error {
	f, err := buildWorkbook(reports)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func buildWorkbook(reports []types.Report) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", reportsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeReports(f, reports); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeInsights(f, aggregator.Aggregate(reports)); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeReports(f *excelize.File, reports []types.Report) error {
	header := reportHeader()
	if err := f.SetSheetRow(reportsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rep := range reports {
		row := reportRow(rep)
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(reportsSheet, addr, &row); err != nil {
			return fmt.Errorf("write row %s: %w", rep.CallID, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetCellStyle(reportsSheet, "A1", last+"1", bold); err != nil {
		return err
	}
	if err := f.SetPanes(reportsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	// The Arabic summary column reads right to left.
	arCol, _ := excelize.ColumnNumberToName(len(header) - 1)
	enCol, _ := excelize.ColumnNumberToName(len(header) - 2)
	rtlStyle, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{
		Horizontal:   "right",
		ReadingOrder: 2,
		WrapText:     true,
		Vertical:     "top",
	}})
	if err != nil {
		return err
	}
	wrap, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
	if err != nil {
		return err
	}
	if err := f.SetColWidth(reportsSheet, enCol, arCol, 60); err != nil {
		return err
	}
	if len(reports) > 0 {
		end := len(reports) + 1
		if err := f.SetCellStyle(reportsSheet, fmt.Sprintf("%s2", enCol), fmt.Sprintf("%s%d", enCol, end), wrap); err != nil {
			return err
		}
		if err := f.SetCellStyle(reportsSheet, fmt.Sprintf("%s2", arCol), fmt.Sprintf("%s%d", arCol, end), rtlStyle); err != nil {
			return err
		}
	}
	return nil
}

func writeInsights(f *excelize.File, ins aggregator.Insight) error {
	if _, err := f.NewSheet(insightsSheet); err != nil {
		return fmt.Errorf("create insights sheet: %w", err)
	}
	rows := [][]any{
		{"Metric", "Value"},
		{"Calls", ins.Calls},
		{"Scored", ins.Scored},
	}
	for _, st := range []types.OverallStatus{types.OverallComplete, types.OverallPartial, types.OverallFailed, types.OverallCancelled} {
		rows = append(rows, []any{"Status: " + string(st), ins.ByStatus[st]})
	}
	for _, c := range types.Categories {
		v, ok := ins.MeanScores[c]
		if !ok {
			rows = append(rows, []any{"Mean " + c, ""})
			continue
		}
		rows = append(rows, []any{"Mean " + c, v})
	}
	rows = append(rows, []any{"Mean audio clarity", ins.MeanClarity})
	for _, s := range types.Stages {
		if n := ins.FailedStages[s]; n > 0 {
			rows = append(rows, []any{"Failed: " + string(s), n})
		}
	}
	for _, sev := range []string{"high", "medium", "low"} {
		if n := ins.Complaints[sev]; n > 0 {
			rows = append(rows, []any{"Complaints (" + sev + ")", n})
		}
	}
	card := actionable.Generate(ins)
	rows = append(rows,
		[]any{"Weakest category", ins.WeakestCategory},
		[]any{"Insight", card.Insight},
		[]any{"Action", card.Action},
		[]any{"Impact", card.Impact},
	)
	for i, r := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(insightsSheet, addr, &r); err != nil {
			return fmt.Errorf("write insight row: %w", err)
		}
	}
	return f.SetColWidth(insightsSheet, "A", "B", 40)
}
