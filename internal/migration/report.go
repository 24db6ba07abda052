package migration

import (
	"fmt"
	"strings"
	"time"
)

// State is the progress of one source partition.
type State string

const (
	StatePending     State = "PENDING"
	StateReading     State = "READING"
	StateNormalizing State = "NORMALIZING"
	StateWriting     State = "WRITING"
	StateDone        State = "DONE"
	StateCancelled   State = "CANCELLED"
)

// RecordFailure is one record that could not be migrated.
type RecordFailure struct {
	ID     string `json:"id" yaml:"id"`
	Reason string `json:"reason" yaml:"reason"`
}

// Counts are the per-record outcomes of a migration.
type Counts struct {
	Total    int `json:"total" yaml:"total"`
	Migrated int `json:"migrated" yaml:"migrated"`
	Skipped  int `json:"skipped" yaml:"skipped"`
	Errors   int `json:"errors" yaml:"errors"`
}

// PartitionReport is the outcome for one source partition.
type PartitionReport struct {
	Partition string `json:"partition" yaml:"partition"`
	State     State  `json:"state" yaml:"state"`
	Counts    `yaml:",inline"`
	Failures  []RecordFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Report is the outcome of a migration run.
type Report struct {
	Target     string             `json:"target" yaml:"target"`
	DryRun     bool               `json:"dryRun" yaml:"dryRun"`
	Cancelled  bool               `json:"cancelled" yaml:"cancelled"`
	StartedAt  time.Time          `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt" yaml:"finishedAt"`
	Partitions []*PartitionReport `json:"partitions" yaml:"partitions"`
	// Totals is the rollup over all partitions.
	Totals Counts `json:"totals" yaml:"totals"`
}

func newReport(sources []string, target string, dryRun bool, startedAt time.Time) *Report {
	report := &Report{
		Target:     target,
		DryRun:     dryRun,
		StartedAt:  startedAt,
		Partitions: make([]*PartitionReport, 0, len(sources)),
	}
	for _, source := range sources {
		report.Partitions = append(report.Partitions, &PartitionReport{
			Partition: source,
			State:     StatePending,
		})
	}
	return report
}

func (r *Report) rollup() {
	r.Totals = Counts{}
	for _, pr := range r.Partitions {
		r.Totals.Total += pr.Total
		r.Totals.Migrated += pr.Migrated
		r.Totals.Skipped += pr.Skipped
		r.Totals.Errors += pr.Errors
	}
}

// Partition returns the report of a source partition, or nil.
func (r *Report) Partition(name string) *PartitionReport {
	for _, pr := range r.Partitions {
		if pr.Partition == name {
			return pr
		}
	}
	return nil
}

// Markdown renders the report as a Markdown document.
func (r *Report) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Migration into %s\n\n", r.Target)
	fmt.Fprintf(&sb, "- Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Finished: %s\n", r.FinishedAt.Format(time.RFC3339))
	if r.DryRun {
		sb.WriteString("- Dry run: nothing was written\n")
	}
	if r.Cancelled {
		sb.WriteString("- Cancelled before completion\n")
	}
	sb.WriteString("\n| Partition | State | Total | Migrated | Skipped | Errors |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, pr := range r.Partitions {
		fmt.Fprintf(&sb, "| %s | %s | %d | %d | %d | %d |\n",
			pr.Partition, pr.State, pr.Total, pr.Migrated, pr.Skipped, pr.Errors)
	}
	fmt.Fprintf(&sb, "| **Total** | | %d | %d | %d | %d |\n",
		r.Totals.Total, r.Totals.Migrated, r.Totals.Skipped, r.Totals.Errors)

	for _, pr := range r.Partitions {
		if len(pr.Failures) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n## Failures in %s\n\n", pr.Partition)
		for _, f := range pr.Failures {
			fmt.Fprintf(&sb, "- `%s`: %s\n", f.ID, f.Reason)
		}
	}
	return sb.String()
}
