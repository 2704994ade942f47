package apitest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Status is the outcome of one case.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusError Status = "ERROR"
	StatusSkip  Status = "SKIP"
)

// Env holds the clients a case may use. Other must be a different user.
// MaxBodyBytes is the server's body limit; zero assumes 1 MiB.
type Env struct {
	Client       *Client
	Other        *Client
	MaxBodyBytes int64
}

// Case is one named check.
type Case struct {
	Name string
	Run  func(ctx context.Context, env *Env) error
}

// Suite is a named group of cases run in order.
type Suite struct {
	Name        string
	Description string
	Cases       []Case
}

// Result records one case run.
type Result struct {
	Suite    string        `json:"suite"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"durationNs"`
}

// Failure is an assertion failure, reported as FAIL. Any other error is ERROR.
type Failure struct {
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

func fail(format string, args ...interface{}) error {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}

type skipError struct {
	reason string
}

func (s *skipError) Error() string {
	return s.reason
}

// Skip marks the running case as skipped.
func Skip(reason string) error {
	return &skipError{reason: reason}
}

// Run executes every case of every suite, giving each case its own timeout.
// onResult, when set, sees each result as soon as it is known.
func Run(ctx context.Context, env *Env, suites []Suite, timeout time.Duration, onResult func(Result)) []Result {
	var results []Result
	for _, s := range suites {
		for _, c := range s.Cases {
			res := runCase(ctx, env, s.Name, c, timeout)
			results = append(results, res)
			if onResult != nil {
				onResult(res)
			}
		}
	}
	return results
}

func runCase(ctx context.Context, env *Env, suite string, c Case, timeout time.Duration) (res Result) {
	res = Result{Suite: suite, Name: c.Name}
	start := time.Now()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		res.Duration = time.Since(start)
		if p := recover(); p != nil {
			res.Status = StatusError
			res.Message = fmt.Sprintf("panic: %v", p)
		}
	}()

	err := c.Run(ctx, env)

	var f *Failure
	var s *skipError
	switch {
	case err == nil:
		res.Status = StatusPass
	case errors.As(err, &f):
		res.Status = StatusFail
		res.Message = f.Message
	case errors.As(err, &s):
		res.Status = StatusSkip
		res.Message = s.reason
	default:
		res.Status = StatusError
		res.Message = err.Error()
	}
	return res
}

// Summary counts results per status.
type Summary struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Errored  int           `json:"errored"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"durationNs"`
}

// OK reports whether nothing failed or errored.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Errored == 0
}

// Summarize totals results.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		s.Duration += r.Duration
		switch r.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusError:
			s.Errored++
		case StatusSkip:
			s.Skipped++
		}
	}
	return s
}

// SummarizeBySuite totals results per suite, keyed by suite name.
func SummarizeBySuite(results []Result) map[string]Summary {
	out := make(map[string]Summary)
	grouped := make(map[string][]Result)
	for _, r := range results {
		grouped[r.Suite] = append(grouped[r.Suite], r)
	}
	for name, rs := range grouped {
		out[name] = Summarize(rs)
	}
	return out
}

// Suites returns every suite in run order.
func Suites() []Suite {
	return []Suite{
		authSuite(),
		configurationSuite(),
		roundSuite(),
		scoreSuite(),
		profileSuite(),
		validationSuite(),
	}
}

// SuiteNames lists the names accepted by Select.
func SuiteNames() []string {
	var names []string
	for _, s := range Suites() {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// Select returns the named suites in run order. No names selects all.
func Select(names []string) ([]Suite, error) {
	all := Suites()
	if len(names) == 0 {
		return all, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var out []Suite
	for _, s := range all {
		if want[s.Name] {
			out = append(out, s)
			delete(want, s.Name)
		}
	}
	for n := range want {
		return nil, fmt.Errorf("unknown suite %q (have %v)", n, SuiteNames())
	}
	return out, nil
}
