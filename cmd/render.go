package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/ftdcad/roofiq-learn-loop/internal/analyzer"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(18)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	flagStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))

	confidenceColors = map[model.ConfidenceLevel]lipgloss.Color{
		model.ConfidenceHigh:   "#4CAF50",
		model.ConfidenceMedium: "#FFB74D",
		model.ConfidenceLow:    "#FF6B6B",
	}
)

// renderAnalysis draws a boxed summary of one analysis.
func renderAnalysis(a *model.Analysis) string {
	r := a.Result
	fp := r.FinalPrediction
	dm := fp.DualModelInsights
	ur := fp.UncertaintyAnalysis.ConfidenceRange

	confidence := lipgloss.NewStyle().Bold(true).
		Foreground(confidenceColors[r.Confidence]).
		Render(strings.ToUpper(string(r.Confidence)))

	line := func(label, value string) string {
		return labelStyle.Render(label) + value
	}
	lines := []string{
		titleStyle.Render(a.Address),
		"",
		line("Roof area", model.FormatArea(r.Estimate)),
		line("Confidence", confidence),
		line("Model agreement", model.FormatPercent(r.ModelAgreement)),
		line("Range", fmt.Sprintf("%s – %s", model.FormatArea(ur.Min), model.FormatArea(ur.Max))),
		line("Pitch", fp.PredominantPitch.String()),
		line("Waste factor", model.FormatPercent(fp.WasteFactor)),
		line("Facets", fmt.Sprintf("%d", len(fp.Facets))),
		line("Vision", fmt.Sprintf("%s (weight %s)", model.FormatArea(dm.VisionEstimate), model.FormatPercent(dm.VisionWeight))),
		line("Geometry", fmt.Sprintf("%s (weight %s)", model.FormatArea(dm.GeometryEstimate), model.FormatPercent(dm.GeometryWeight))),
	}
	if a.ID != "" {
		lines = append(lines, line("Analysis ID", a.ID))
	}
	if r.Reasoning != "" {
		lines = append(lines, "", lipgloss.NewStyle().Width(72).Render(r.Reasoning))
	}
	if f := r.LearningFlag; f != nil {
		lines = append(lines, "", flagStyle.Render(fmt.Sprintf("⚑ %s priority: %s", f.Priority, f.Reason)), f.SuggestedAction)
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// formatAnalysesList writes a tabular list of analyses to w.
func formatAnalysesList(out io.Writer, analyses []model.Analysis) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tADDRESS\tESTIMATE\tCONFIDENCE\tAGREEMENT\tFLAG\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t--------\t----------\t---------\t----\t-------")

	for _, a := range analyses {
		flag := ""
		if a.Result.LearningFlag != nil {
			flag = string(a.Result.LearningFlag.Priority)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			truncate(a.Address, 40),
			model.FormatArea(a.Result.Estimate),
			a.Result.Confidence,
			model.FormatPercent(a.Result.ModelAgreement),
			flag,
			a.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatFlagsList writes a tabular list of learning flags to w.
func formatFlagsList(out io.Writer, flags []model.FlagRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPRIORITY\tADDRESS\tREASON\tMEASURED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t-------\t------\t--------\t-------")

	for _, f := range flags {
		measured := "open"
		if f.MeasuredArea != nil {
			measured = model.FormatArea(*f.MeasuredArea)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID,
			f.Priority,
			truncate(f.Address, 40),
			truncate(f.Reason, 50),
			measured,
			f.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatBatchResults writes one line per batch address to w.
func formatBatchResults(out io.Writer, results []analyzer.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ADDRESS\tESTIMATE\tCONFIDENCE\tSTATUS")
	_, _ = fmt.Fprintln(w, "-------\t--------\t----------\t------")

	for _, r := range results {
		if r.Err != nil {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\tfailed (%s): %s\n", truncate(r.Address, 40), r.ErrorKind, truncate(r.Error, 60))
			continue
		}
		status := "ok"
		if r.Analysis.Result.LearningFlag != nil {
			status = "flagged " + string(r.Analysis.Result.LearningFlag.Priority)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			truncate(r.Address, 40),
			model.FormatArea(r.Analysis.Result.Estimate),
			r.Analysis.Result.Confidence,
			status,
		)
	}
	_ = w.Flush()
}

// formatSummary writes aggregate store statistics to w.
func formatSummary(out io.Writer, s *store.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Analyses:\t%d\n", s.Analyses)
	for _, c := range []model.ConfidenceLevel{model.ConfidenceHigh, model.ConfidenceMedium, model.ConfidenceLow} {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", c, s.ByConfidence[c])
	}
	_, _ = fmt.Fprintf(w, "Mean estimate:\t%s\n", model.FormatArea(s.MeanEstimate))
	_, _ = fmt.Fprintf(w, "Mean agreement:\t%s\n", model.FormatPercent(s.MeanAgreement))
	_, _ = fmt.Fprintf(w, "Open flags:\t%d\n", s.OpenFlags)
	_, _ = fmt.Fprintf(w, "Resolved flags:\t%d\n", s.ResolvedFlags)
	if s.ResolvedFlags > 0 {
		_, _ = fmt.Fprintf(w, "Mean abs error:\t%s\n", model.FormatPercent(s.MeanAbsPctError))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
