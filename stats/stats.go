// Package stats accumulates per-task flush timings into running
// statistics and renders them as a fixed-width report table (spec §4.9,
// component K; original_source/chain/src/stats.rs's ReportRow/ReportData
// shape). The running mean/stddev per phase are kept by
// go-ethereum's own metrics.Timer rather than a hand-rolled accumulator
// - this package only adds the "last sample" and CV% derived values
// metrics.Timer doesn't itself report.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

// phaseTimer wraps one metrics.Timer with the most recent sample, since
// Timer's histogram tracks a decaying reservoir rather than the single
// last value TaskStats.Report surfaces per phase.
type phaseTimer struct {
	timer metrics.Timer
	last  float64
}

func newPhaseTimer(r metrics.Registry, name string) *phaseTimer {
	return &phaseTimer{timer: metrics.NewRegisteredTimer(name, r)}
}

func (p *phaseTimer) add(v time.Duration) {
	p.timer.Update(v)
	p.last = v.Seconds() * 1000 // milliseconds
}

func msFromNs(ns float64) float64 { return ns / 1e6 }

// cv returns the coefficient of variation as a percentage, clamped to 0
// instead of NaN when mean is 0 (no samples yet, or every sample was 0).
func cv(meanNs, stddevNs float64) float64 {
	if meanNs == 0 {
		return 0
	}
	return stddevNs / meanNs * 100
}

// PhaseSummary is one phase's {last, avg, stddev, cv%} row.
type PhaseSummary struct {
	Last   float64
	Avg    float64
	Stddev float64
	CV     float64
}

func (p *phaseTimer) summary() PhaseSummary {
	snap := p.timer.Snapshot()
	return PhaseSummary{
		Last:   p.last,
		Avg:    msFromNs(snap.Mean()),
		Stddev: msFromNs(snap.StdDev()),
		CV:     cv(snap.Mean(), snap.StdDev()),
	}
}

// taskAccum holds the four phase timers for one named task (one table's
// flush timings), matching the (collect, sort, write, commit) tuple
// shape shard.FlushTimings reports.
type taskAccum struct {
	collect, sort, write, commit *phaseTimer
}

func newTaskAccum(r metrics.Registry, table string) *taskAccum {
	return &taskAccum{
		collect: newPhaseTimer(r, table+".collect"),
		sort:    newPhaseTimer(r, table+".sort"),
		write:   newPhaseTimer(r, table+".write"),
		commit:  newPhaseTimer(r, table+".commit"),
	}
}

// TaskStats aggregates FlushResult samples per task name across the
// life of a sync run, backed by one metrics.Registry shared across every
// task's timers so the whole run's statistics live in one place a
// caller could export through metrics.Registry's own reporting hooks,
// instead of each table's timers being orphaned singletons.
type TaskStats struct {
	registry metrics.Registry
	tasks    map[string]*taskAccum
	order    []string
}

// New constructs an empty TaskStats accumulator.
func New() *TaskStats {
	return &TaskStats{registry: metrics.NewRegistry(), tasks: make(map[string]*taskAccum)}
}

// FlushResult is the subset of shard.FlushTimings stats cares about,
// named independently so this package doesn't import shard.
type FlushResult struct {
	Table   string
	Collect time.Duration
	Sort    time.Duration
	Write   time.Duration
	Commit  time.Duration
}

// Record folds one flush result into its task's running accumulators.
func (s *TaskStats) Record(r FlushResult) {
	t, ok := s.tasks[r.Table]
	if !ok {
		t = newTaskAccum(s.registry, r.Table)
		s.tasks[r.Table] = t
		s.order = append(s.order, r.Table)
	}
	t.collect.add(r.Collect)
	t.sort.add(r.Sort)
	t.write.add(r.Write)
	t.commit.add(r.Commit)
}

// RecordBatch folds a whole flush-result batch (one per table touched by
// a single cross-table flush) into the accumulators.
func (s *TaskStats) RecordBatch(batch []FlushResult) {
	for _, r := range batch {
		s.Record(r)
	}
}

// Row is one task's rendered statistics, as produced by Report.
type Row struct {
	Name    string
	Write   PhaseSummary
	Commit  PhaseSummary
	Collect PhaseSummary
	Sort    PhaseSummary
}

// Report returns one Row per recorded task, sorted descending by
// commit.last + write.last (the phases most indicative of current
// per-flush cost).
func (s *TaskStats) Report() []Row {
	rows := make([]Row, 0, len(s.order))
	for _, name := range s.order {
		t := s.tasks[name]
		rows = append(rows, Row{
			Name:    name,
			Write:   t.write.summary(),
			Commit:  t.commit.summary(),
			Collect: t.collect.summary(),
			Sort:    t.sort.summary(),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Commit.Last+rows[i].Write.Last > rows[j].Commit.Last+rows[j].Write.Last
	})
	return rows
}

// FormatTable renders rows as a fixed-width text table: one row per
// task, with the last collect and sort times and the last/avg/cv% of the
// write and commit phases, in milliseconds. Stddev is not printed.
func FormatTable(rows []Row) string {
	var b strings.Builder
	header := fmt.Sprintf("%-28s %10s %10s %10s %10s %8s %10s %10s %8s\n",
		"table", "collect_ms", "sort_ms", "write_ms", "write_avg", "write_cv%", "commit_ms", "commit_avg", "commit_cv%")
	b.WriteString(header)
	b.WriteString(strings.Repeat("-", len(header)-1) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-28s %10.2f %10.2f %10.2f %10.2f %8.1f %10.2f %10.2f %8.1f\n",
			r.Name,
			r.Collect.Last,
			r.Sort.Last,
			r.Write.Last,
			r.Write.Avg,
			r.Write.CV,
			r.Commit.Last,
			r.Commit.Avg,
			r.Commit.CV,
		)
	}
	return b.String()
}
