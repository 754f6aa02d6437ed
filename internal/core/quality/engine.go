// Package quality scores a normalized document. Every check is independent;
// the readiness score starts at 100 and loses a fixed, configurable penalty
// per finding severity.
package quality

import (
	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core/construction"
	"github.com/markdave123-py/ragready/internal/models"
)

const maxScore = 100

// Weights are the per-severity penalties.
type Weights struct {
	Critical int
	Warn     int
	Info     int
}

func DefaultWeights() Weights { return Weights{Critical: 40, Warn: 15, Info: 0} }

func (w Weights) penalty(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return w.Critical
	case models.SeverityWarn:
		return w.Warn
	default:
		return w.Info
	}
}

type Engine struct {
	weights Weights
	checks  []Check
}

func NewEngine(w Weights, t Thresholds, g *construction.Glossary) *Engine {
	return &Engine{weights: w, checks: DefaultChecks(t, g)}
}

// Register appends an extra check after the built-in ones.
func (e *Engine) Register(c Check) { e.checks = append(e.checks, c) }

func (e *Engine) Weights() Weights { return e.weights }

// Evaluate runs every check once. An empty document is the only error; any
// finding, whatever its severity, only lowers the score.
func (e *Engine) Evaluate(in *Input) (*models.QualityReport, error) {
	if in == nil || in.Doc == nil || in.Doc.Empty() {
		return nil, apperr.Wrap(apperr.KindInvalid, "quality", apperr.ErrEmptyDocument)
	}
	st := ComputeStats(in.Doc)
	findings := []models.Finding{}
	for _, c := range e.checks {
		findings = append(findings, c.Run(in, st)...)
	}
	return &models.QualityReport{
		JobID:    in.JobID,
		FileID:   in.FileID,
		Score:    e.Score(findings),
		Findings: findings,
		Stats:    st,
	}, nil
}

// Score applies the weights and clamps the result to [0, 100].
func (e *Engine) Score(findings []models.Finding) int {
	score := maxScore
	for _, f := range findings {
		score -= e.weights.penalty(f.Severity)
	}
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
