package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/at-ishikawa/wordhub/internal/normalizer"
	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/word"
)

// Score bucket boundaries used by audits.
const (
	MediumScoreThreshold = 40
	HighScoreThreshold   = 80
)

// ScoreBuckets counts records by quality score.
type ScoreBuckets struct {
	Low    int `json:"low" yaml:"low"`
	Medium int `json:"medium" yaml:"medium"`
	High   int `json:"high" yaml:"high"`
}

// AuditReport summarizes the quality of one partition.
type AuditReport struct {
	Partition    string          `json:"partition" yaml:"partition"`
	Total        int             `json:"total" yaml:"total"`
	Valid        int             `json:"valid" yaml:"valid"`
	Invalid      int             `json:"invalid" yaml:"invalid"`
	AverageScore float64         `json:"averageScore" yaml:"averageScore"`
	Buckets      ScoreBuckets    `json:"buckets" yaml:"buckets"`
	Failures     []RecordFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Auditor scans a partition and scores every record without writing anything.
type Auditor struct {
	store      store.RecordStore
	normalizer *normalizer.Normalizer
	pageSize   int
}

// NewAuditor creates an Auditor.
func NewAuditor(recordStore store.RecordStore, wordNormalizer *normalizer.Normalizer, pageSize int) *Auditor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Auditor{
		store:      recordStore,
		normalizer: wordNormalizer,
		pageSize:   pageSize,
	}
}

// Audit validates and scores every record of partition.
func (a *Auditor) Audit(ctx context.Context, partition string) (*AuditReport, error) {
	report := &AuditReport{Partition: partition}
	var scoreSum int

	afterID := ""
	for {
		page, err := a.store.ListRecords(ctx, partition, afterID, a.pageSize)
		if err != nil {
			return report, fmt.Errorf("read partition %s: %w: %w", partition, ErrSourceUnreadable, err)
		}
		for _, record := range page {
			report.Total++
			w, err := a.normalizer.Canonical(record.Data, partition, record.ID)
			if err != nil {
				report.Invalid++
				report.Failures = append(report.Failures, RecordFailure{ID: record.ID, Reason: err.Error()})
				continue
			}
			w.Quality.Score = word.ComputeQualityScore(w)
			if result := word.Validate(w); !result.Valid {
				report.Invalid++
				report.Failures = append(report.Failures, RecordFailure{ID: record.ID, Reason: strings.Join(result.Errors, "; ")})
			} else {
				report.Valid++
			}

			scoreSum += w.Quality.Score
			switch {
			case w.Quality.Score < MediumScoreThreshold:
				report.Buckets.Low++
			case w.Quality.Score < HighScoreThreshold:
				report.Buckets.Medium++
			default:
				report.Buckets.High++
			}
		}
		if len(page) < a.pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	if scored := report.Buckets.Low + report.Buckets.Medium + report.Buckets.High; scored > 0 {
		report.AverageScore = float64(scoreSum) / float64(scored)
	}
	return report, nil
}
