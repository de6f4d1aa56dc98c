//go:build !integration

package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ftdcad/roofiq-learn-loop/internal/analyzer"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
)

var created = time.Date(2026, 7, 15, 10, 30, 0, 0, time.UTC)

func TestRenderAnalysis(t *testing.T) {
	a := &model.Analysis{
		ID:      "a1b2c3",
		Address: "1500 Marilla St, Dallas, TX",
		Result: *consensusResult(2150, &model.LearningFlag{
			Priority:        model.FlagPriorityMedium,
			Reason:          "Estimators disagree by 140 sq ft",
			SuggestedAction: "Order a professional measurement",
		}),
		CreatedAt: created,
	}
	a.Result.Reasoning = "Both estimators agree closely."

	out := renderAnalysis(a)

	assert.Contains(t, out, "1500 Marilla St, Dallas, TX")
	assert.Contains(t, out, "2,150 sq ft")
	assert.Contains(t, out, "HIGH")
	assert.Contains(t, out, "96%")
	assert.Contains(t, out, "6/12")
	assert.Contains(t, out, "medium priority")
	assert.Contains(t, out, "Order a professional measurement")
}

func TestFormatAnalysesList(t *testing.T) {
	analyses := []model.Analysis{
		{ID: "id-1", Address: "1500 Marilla St, Dallas, TX", Result: *consensusResult(2150, nil), CreatedAt: created},
		{ID: "id-2", Address: "12 Elm St", Result: *consensusResult(1800, &model.LearningFlag{Priority: model.FlagPriorityHigh}), CreatedAt: created},
	}

	var buf bytes.Buffer
	formatAnalysesList(&buf, analyses)

	out := buf.String()
	assert.Contains(t, out, "ADDRESS")
	assert.Contains(t, out, "CONFIDENCE")
	assert.Contains(t, out, "id-1")
	assert.Contains(t, out, "2,150 sq ft")
	assert.Contains(t, out, "high")
	assert.Contains(t, out, "2026-07-15 10:30")
}

func TestFormatFlagsList(t *testing.T) {
	measured := 2310.0
	flags := []model.FlagRecord{
		{ID: "f1", Priority: model.FlagPriorityHigh, Address: "9 Oak Ave", Reason: "disagreement", CreatedAt: created},
		{ID: "f2", Priority: model.FlagPriorityMedium, Address: "12 Elm St", Reason: "low confidence", MeasuredArea: &measured, CreatedAt: created},
	}

	var buf bytes.Buffer
	formatFlagsList(&buf, flags)

	out := buf.String()
	assert.Contains(t, out, "PRIORITY")
	assert.Contains(t, out, "open")
	assert.Contains(t, out, "2,310 sq ft")
}

func TestFormatBatchResults(t *testing.T) {
	ok := &model.Analysis{Address: "1 A St", Result: *consensusResult(1000, nil)}
	results := []analyzer.BatchResult{
		{Address: "1 A St", Analysis: ok},
		{Address: "2 B St", Err: errors.New("boom"), Error: "boom", ErrorKind: "permanent"},
	}

	var buf bytes.Buffer
	formatBatchResults(&buf, results)

	out := buf.String()
	assert.Contains(t, out, "1,000 sq ft")
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "failed (permanent): boom")
}

func TestFormatSummary(t *testing.T) {
	s := &store.Summary{
		Analyses:        3,
		ByConfidence:    map[model.ConfidenceLevel]int{model.ConfidenceHigh: 2, model.ConfidenceLow: 1},
		MeanEstimate:    2000,
		MeanAgreement:   0.9,
		OpenFlags:       1,
		ResolvedFlags:   1,
		MeanAbsPctError: 0.05,
	}

	var buf bytes.Buffer
	formatSummary(&buf, s)

	out := buf.String()
	assert.Contains(t, out, "Analyses:")
	assert.Contains(t, out, "2,000 sq ft")
	assert.Contains(t, out, "90%")
	assert.Contains(t, out, "Mean abs error:")
	assert.Contains(t, out, "5%")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ñandú", truncate("ñandú", 5))
}
