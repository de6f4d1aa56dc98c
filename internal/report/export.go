// Package report exports stored analyses to spreadsheets and reads address
// lists and professional measurements back in.
package report

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// Sheet names written by Write.
const (
	AnalysesSheet = "Analyses"
	FlagsSheet    = "Learning Flags"
)

var analysisHeader = []string{
	"ID", "Address", "Latitude", "Longitude", "Estimate (sq ft)", "Confidence",
	"Model Agreement", "Vision Estimate", "Geometry Estimate", "Range Min", "Range Max",
	"Predominant Pitch", "Waste Factor", "Facets", "Flag", "Created At",
}

var flagHeader = []string{
	"Flag ID", "Analysis ID", "Address", "Priority", "Reason", "Action",
	"Measured Area (sq ft)", "Resolved At", "Created At",
}

// Export writes analyses and flags to an xlsx file at path.
func Export(path string, analyses []model.Analysis, flags []model.FlagRecord) error {
	f, err := build(analyses, flags)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

// Write streams the workbook to w.
func Write(w io.Writer, analyses []model.Analysis, flags []model.FlagRecord) error {
	f, err := build(analyses, flags)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "report: write workbook")
}

func build(analyses []model.Analysis, flags []model.FlagRecord) (*xlsx.File, error) {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(AnalysesSheet)
	if err != nil {
		return nil, eris.Wrap(err, "report: add analyses sheet")
	}
	addHeader(sheet, analysisHeader)
	for _, a := range analyses {
		r := a.Result
		fp := r.FinalPrediction
		row := sheet.AddRow()
		addString(row, a.ID)
		addString(row, a.Address)
		addFloat(row, a.Latitude, "0.000000")
		addFloat(row, a.Longitude, "0.000000")
		addFloat(row, r.Estimate, "#,##0")
		addString(row, string(r.Confidence))
		addFloat(row, r.ModelAgreement, "0.0%")
		addFloat(row, fp.DualModelInsights.VisionEstimate, "#,##0")
		addFloat(row, fp.DualModelInsights.GeometryEstimate, "#,##0")
		addFloat(row, fp.UncertaintyAnalysis.ConfidenceRange.Min, "#,##0")
		addFloat(row, fp.UncertaintyAnalysis.ConfidenceRange.Max, "#,##0")
		addString(row, fp.PredominantPitch.String())
		addFloat(row, fp.WasteFactor, "0%")
		row.AddCell().SetInt(len(fp.Facets))
		if r.LearningFlag != nil {
			addString(row, string(r.LearningFlag.Priority))
		} else {
			addString(row, "")
		}
		addTime(row, a.CreatedAt)
	}

	sheet, err = f.AddSheet(FlagsSheet)
	if err != nil {
		return nil, eris.Wrap(err, "report: add flags sheet")
	}
	addHeader(sheet, flagHeader)
	for _, fl := range flags {
		row := sheet.AddRow()
		addString(row, fl.ID)
		addString(row, fl.AnalysisID)
		addString(row, fl.Address)
		addString(row, string(fl.Priority))
		addString(row, fl.Reason)
		addString(row, fl.Action)
		if fl.MeasuredArea != nil {
			addFloat(row, *fl.MeasuredArea, "#,##0")
		} else {
			addString(row, "")
		}
		if fl.ResolvedAt != nil {
			addTime(row, *fl.ResolvedAt)
		} else {
			addString(row, "")
		}
		addTime(row, fl.CreatedAt)
	}

	return f, nil
}

func addHeader(sheet *xlsx.Sheet, cols []string) {
	row := sheet.AddRow()
	for _, c := range cols {
		addString(row, c)
	}
}

func addString(row *xlsx.Row, s string) {
	row.AddCell().SetString(s)
}

func addFloat(row *xlsx.Row, v float64, format string) {
	row.AddCell().SetFloatWithFormat(v, format)
}

// addTime writes an RFC 3339 UTC timestamp; zero times are left blank.
func addTime(row *xlsx.Row, t time.Time) {
	if t.IsZero() {
		addString(row, "")
		return
	}
	addString(row, t.UTC().Format(time.RFC3339))
}
