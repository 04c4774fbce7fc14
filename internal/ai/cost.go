package ai

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/amishk599/jobpipe/internal/model"
)

// ProviderStats aggregates the attempt log for one provider.
type ProviderStats struct {
	Provider      string
	Attempts      int
	ParseFailures int
	Cost          float64
	InputTokens   int
	OutputTokens  int
	AvgLatency    time.Duration
}

// ParseFailureRate is the share of attempts that did not yield a valid result.
func (s ProviderStats) ParseFailureRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.ParseFailures) / float64(s.Attempts)
}

// CostSummary is derived from the attempt log; nothing here is stored.
type CostSummary struct {
	TotalCost            float64
	Attempts             int
	Jobs                 int // distinct job hashes with at least one attempt
	ClassifiedJobs       int // distinct job hashes with a successful attempt
	CostPerJob           float64
	CostPerClassifiedJob float64
	FallbackRate         float64 // share of jobs that reached the secondary provider
	Providers            []ProviderStats
}

// Summarize aggregates attempts into a CostSummary.
func Summarize(attempts []model.ClassificationAttempt) CostSummary {
	sum := CostSummary{
		Attempts:  len(attempts),
		TotalCost: lo.SumBy(attempts, func(a model.ClassificationAttempt) float64 { return a.Cost }),
	}

	byJob := lo.GroupBy(attempts, func(a model.ClassificationAttempt) string { return a.JobHash })
	sum.Jobs = len(byJob)
	fallbackJobs := 0
	for _, jobAttempts := range byJob {
		if lo.SomeBy(jobAttempts, func(a model.ClassificationAttempt) bool { return a.ParseSuccess }) {
			sum.ClassifiedJobs++
		}
		if lo.SomeBy(jobAttempts, func(a model.ClassificationAttempt) bool { return a.FallbackTriggered }) {
			fallbackJobs++
		}
	}
	if sum.Jobs > 0 {
		sum.CostPerJob = sum.TotalCost / float64(sum.Jobs)
		sum.FallbackRate = float64(fallbackJobs) / float64(sum.Jobs)
	}
	if sum.ClassifiedJobs > 0 {
		sum.CostPerClassifiedJob = sum.TotalCost / float64(sum.ClassifiedJobs)
	}

	for provider, pa := range lo.GroupBy(attempts, func(a model.ClassificationAttempt) string { return a.Provider }) {
		var latency time.Duration
		stats := ProviderStats{Provider: provider, Attempts: len(pa)}
		for _, a := range pa {
			if !a.ParseSuccess {
				stats.ParseFailures++
			}
			stats.Cost += a.Cost
			stats.InputTokens += a.InputTokens
			stats.OutputTokens += a.OutputTokens
			latency += a.Latency
		}
		stats.AvgLatency = latency / time.Duration(len(pa))
		sum.Providers = append(sum.Providers, stats)
	}
	sort.Slice(sum.Providers, func(i, j int) bool { return sum.Providers[i].Provider < sum.Providers[j].Provider })
	return sum
}
