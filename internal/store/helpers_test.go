package store

import (
	"time"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

var t0 = time.Date(2026, 7, 15, 14, 0, 0, 0, time.UTC)

func testAnalysis(id, addr string, estimate float64, level model.ConfidenceLevel, flag *model.LearningFlag, at time.Time) *model.Analysis {
	return &model.Analysis{
		ID:                id,
		Address:           addr,
		NormalizedAddress: addr,
		Latitude:          32.7767,
		Longitude:         -96.797,
		CreatedAt:         at,
		Result: model.ConsensusResult{
			Estimate:       estimate,
			Confidence:     level,
			ModelAgreement: 0.93,
			Reasoning:      "Vision model estimated 2,150 sq ft.",
			LearningFlag:   flag,
			FinalPrediction: model.FinalPrediction{
				Facets: []model.Facet{{
					ID:         "f1",
					Area:       estimate,
					Pitch:      model.Pitch{Rise: 6, Run: 12},
					Type:       model.FacetMain,
					Confidence: 0.8,
				}},
				PredominantPitch: model.Pitch{Rise: 6, Run: 12},
				WasteFactor:      0.1,
				AreasByPitch:     map[string]float64{"6/12": estimate},
			},
		},
	}
}

func highFlag() *model.LearningFlag {
	return &model.LearningFlag{
		Priority:        model.FlagPriorityHigh,
		Reason:          "Major model disagreement: estimates differ by 300 sq ft",
		SuggestedAction: "Obtain a professional measurement to resolve the disagreement",
	}
}
