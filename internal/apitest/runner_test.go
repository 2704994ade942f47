package apitest

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunCaseStatuses(t *testing.T) {
	suite := Suite{
		Name: "statuses",
		Cases: []Case{
			{Name: "pass", Run: func(ctx context.Context, env *Env) error { return nil }},
			{Name: "fail", Run: func(ctx context.Context, env *Env) error { return fail("got %d", 1) }},
			{Name: "error", Run: func(ctx context.Context, env *Env) error { return errors.New("dial tcp: refused") }},
			{Name: "skip", Run: func(ctx context.Context, env *Env) error { return Skip("not supported") }},
			{Name: "panic", Run: func(ctx context.Context, env *Env) error { panic("boom") }},
			{Name: "timeout", Run: func(ctx context.Context, env *Env) error {
				<-ctx.Done()
				return ctx.Err()
			}},
		},
	}

	var seen []string
	results := Run(context.Background(), &Env{}, []Suite{suite}, 20*time.Millisecond, func(r Result) {
		seen = append(seen, r.Name)
	})

	want := []Status{StatusPass, StatusFail, StatusError, StatusSkip, StatusError, StatusError}
	if len(results) != len(want) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(want))
	}
	for i, r := range results {
		if r.Status != want[i] {
			t.Errorf("%s: status = %s, want %s", r.Name, r.Status, want[i])
		}
		if r.Suite != "statuses" {
			t.Errorf("%s: suite = %q", r.Name, r.Suite)
		}
	}
	if results[1].Message != "got 1" {
		t.Fatalf("fail message = %q, want %q", results[1].Message, "got 1")
	}
	if len(seen) != len(want) {
		t.Fatalf("callback saw %d results, want %d", len(seen), len(want))
	}

	sum := Summarize(results)
	if sum.Total != 6 || sum.Passed != 1 || sum.Failed != 1 || sum.Errored != 3 || sum.Skipped != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.OK() {
		t.Fatal("summary with failures reported OK")
	}
}

func TestSelect(t *testing.T) {
	all, err := Select(nil)
	if err != nil {
		t.Fatalf("Select(nil): %v", err)
	}
	if len(all) != len(Suites()) {
		t.Fatalf("len(all) = %d, want %d", len(all), len(Suites()))
	}

	// run order is kept regardless of argument order
	got, err := Select([]string{"scores", "auth"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 || got[0].Name != "auth" || got[1].Name != "scores" {
		t.Fatalf("Select order = %v", []string{got[0].Name, got[1].Name})
	}

	if _, err := Select([]string{"nope"}); err == nil {
		t.Fatal("expected an error for an unknown suite")
	}
}

func TestSummarizeBySuite(t *testing.T) {
	results := []Result{
		{Suite: "a", Status: StatusPass},
		{Suite: "a", Status: StatusFail},
		{Suite: "b", Status: StatusSkip},
	}
	by := SummarizeBySuite(results)
	if by["a"].Total != 2 || by["a"].Failed != 1 {
		t.Fatalf("a = %+v", by["a"])
	}
	if !by["b"].OK() || by["b"].Skipped != 1 {
		t.Fatalf("b = %+v", by["b"])
	}
}

func TestSameJSON(t *testing.T) {
	if !sameJSON([]byte(`{"a":1,"b":[1,2]}`), []byte(`{ "b": [1, 2], "a": 1 }`)) {
		t.Fatal("equal documents reported different")
	}
	if sameJSON([]byte(`{"a":1}`), []byte(`{"a":2}`)) {
		t.Fatal("different documents reported equal")
	}
}
