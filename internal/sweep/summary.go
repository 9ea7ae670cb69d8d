package sweep

import (
	"time"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// Summary is the outcome of one sweep unit (one session).
type Summary struct {
	RunID   string
	Account string
	Region  string
	Check   bool
	Force   bool

	Started  time.Time
	Duration time.Duration

	Kinds map[string]*KindResult
	Purge *PurgeResult

	// Interrupted is set when the context ended before every kind ran.
	Interrupted bool
}

// KindResult is the outcome for one kind within a unit.
type KindResult struct {
	Kind     string
	Counts   map[resource.Status]int
	Duration time.Duration

	// Failures counts terminate calls that returned an error.
	Failures int
	// Err is set when enumeration failed or the kind panicked.
	Err string
	// Terminated lists identities of instances terminated without error.
	Terminated []string
}

// PurgeResult is the outcome of the bulk age store purge.
type PurgeResult struct {
	Pages   int
	Checked int
	Purged  int
	Err     string
}

func newSummary(runID string, sess resource.Session, opts Options, started time.Time) *Summary {
	return &Summary{
		RunID:   runID,
		Account: sess.Account(),
		Region:  sess.Region(),
		Check:   opts.Check,
		Force:   opts.Force,
		Started: started,
		Kinds:   make(map[string]*KindResult),
	}
}

func (s *Summary) kind(name string) *KindResult {
	kr, ok := s.Kinds[name]
	if !ok {
		kr = &KindResult{Kind: name, Counts: make(map[resource.Status]int)}
		s.Kinds[name] = kr
	}
	return kr
}

// Total returns the number of instances reported with status across kinds.
func (s *Summary) Total(status resource.Status) int {
	n := 0
	for _, kr := range s.Kinds {
		n += kr.Counts[status]
	}
	return n
}

// KindErrors returns the number of kinds that failed as a whole.
func (s *Summary) KindErrors() int {
	n := 0
	for _, kr := range s.Kinds {
		if kr.Err != "" {
			n++
		}
	}
	return n
}

// Failures returns the number of failed terminate calls across kinds.
func (s *Summary) Failures() int {
	n := 0
	for _, kr := range s.Kinds {
		n += kr.Failures
	}
	return n
}
