package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/amishk599/jobpipe/internal/dedup"
	"github.com/amishk599/jobpipe/internal/model"
)

// BatchReport counts every outcome of one batch.
type BatchReport struct {
	Source model.Source
	Name   string

	Fetched          int
	Malformed        int
	FilteredTitle    int
	FilteredLocation int
	FilteredAgency   int

	New            int
	Repeat         int
	Merged         int
	MergedUpgraded int

	IntegrityViolations  int
	Classified           int
	ClassificationFailed int
	Superseded           int
	StoreErrors          int

	Cost     float64
	Duration time.Duration
}

func (r *BatchReport) addOutcome(o dedup.Outcome) {
	switch o {
	case dedup.OutcomeNew:
		r.New++
	case dedup.OutcomeRepeat:
		r.Repeat++
	case dedup.OutcomeMerged:
		r.Merged++
	case dedup.OutcomeMergedUpgraded:
		r.MergedUpgraded++
	}
}

// Filtered is the number of postings rejected by any gate.
func (r *BatchReport) Filtered() int {
	return r.FilteredTitle + r.FilteredLocation + r.FilteredAgency
}

// Failures sums the counts that need operator attention.
func (r *BatchReport) Failures() int {
	return r.Malformed + r.IntegrityViolations + r.ClassificationFailed + r.StoreErrors
}

// Err is non-nil whenever any failure count is nonzero, so a batch that
// swallowed failures never exits successfully.
func (r *BatchReport) Err() error {
	if r.Failures() == 0 {
		return nil
	}
	return fmt.Errorf("batch %s finished with %d failures: %s", r.Name, r.Failures(), r.String())
}

// String is the one-line summary used in logs and alerts.
func (r *BatchReport) String() string {
	parts := []string{
		fmt.Sprintf("fetched=%d", r.Fetched),
		fmt.Sprintf("malformed=%d", r.Malformed),
		fmt.Sprintf("filtered_title=%d", r.FilteredTitle),
		fmt.Sprintf("filtered_location=%d", r.FilteredLocation),
		fmt.Sprintf("filtered_agency=%d", r.FilteredAgency),
		fmt.Sprintf("new=%d", r.New),
		fmt.Sprintf("repeat=%d", r.Repeat),
		fmt.Sprintf("merged=%d", r.Merged),
		fmt.Sprintf("merged_upgraded=%d", r.MergedUpgraded),
		fmt.Sprintf("integrity_violations=%d", r.IntegrityViolations),
		fmt.Sprintf("classified=%d", r.Classified),
		fmt.Sprintf("classification_failed=%d", r.ClassificationFailed),
		fmt.Sprintf("superseded=%d", r.Superseded),
		fmt.Sprintf("store_errors=%d", r.StoreErrors),
		fmt.Sprintf("cost=$%.4f", r.Cost),
	}
	return strings.Join(parts, " ")
}
