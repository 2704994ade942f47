package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/robot-puzzle-api/internal/apitest"
)

func main() {
	root := &cli.Command{
		Name:  "apitest",
		Usage: "Black-box HTTP checks against a running puzzle API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base-url", Value: "http://localhost:8080", Usage: "API base URL", Sources: cli.EnvVars("APITEST_BASE_URL")},
			&cli.StringFlag{Name: "user-id", Value: "apitest-user", Usage: "subject sent as the primary caller", Sources: cli.EnvVars("APITEST_USER_ID")},
			&cli.StringFlag{Name: "user-email", Value: "apitest-user@example.com", Usage: "email sent as the primary caller"},
			&cli.StringFlag{Name: "other-user-id", Value: "apitest-other", Usage: "subject of the second caller used for ownership checks"},
			&cli.StringFlag{Name: "other-user-email", Value: "apitest-other@example.com"},
			&cli.StringFlag{Name: "user-id-header", Value: apitest.DefaultUserIDHeader},
			&cli.StringFlag{Name: "email-header", Value: apitest.DefaultEmailHeader},
			&cli.StringFlag{Name: "origin", Value: "http://localhost:3000", Usage: "Origin header sent with every request"},
			&cli.StringSliceFlag{Name: "suite", Usage: "suite to run (repeatable, default all)"},
			&cli.IntFlag{Name: "max-body-bytes", Value: 1 << 20, Usage: "server body limit used by the oversized body check"},
			&cli.DurationFlag{Name: "timeout", Value: 15 * time.Second, Usage: "per-case timeout"},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
			&cli.BoolFlag{Name: "verbose", Usage: "print every case, not only failures"},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List available suites",
				Action: func(ctx context.Context, c *cli.Command) error {
					tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					for _, s := range apitest.Suites() {
						fmt.Fprintf(tw, "%s\t%d cases\t%s\n", s.Name, len(s.Cases), s.Description)
					}
					return tw.Flush()
				},
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	suites, err := apitest.Select(c.StringSlice("suite"))
	if err != nil {
		return err
	}

	client := apitest.NewClient(apitest.ClientConfig{
		BaseURL:      c.String("base-url"),
		UserID:       c.String("user-id"),
		Email:        c.String("user-email"),
		Origin:       c.String("origin"),
		UserIDHeader: c.String("user-id-header"),
		EmailHeader:  c.String("email-header"),
		Timeout:      c.Duration("timeout"),
	})
	if c.String("other-user-id") == c.String("user-id") {
		return fmt.Errorf("--other-user-id must differ from --user-id")
	}
	env := &apitest.Env{
		Client:       client,
		Other:        client.As(c.String("other-user-id"), c.String("other-user-email")),
		MaxBodyBytes: int64(c.Int("max-body-bytes")),
	}

	asJSON := c.Bool("json")
	verbose := c.Bool("verbose")

	var onResult func(apitest.Result)
	if !asJSON {
		fmt.Printf("Running %d suites against %s\n\n", len(suites), c.String("base-url"))
		onResult = func(r apitest.Result) {
			if verbose || r.Status == apitest.StatusFail || r.Status == apitest.StatusError {
				printResult(os.Stdout, r)
			}
		}
	}

	results := apitest.Run(ctx, env, suites, c.Duration("timeout"), onResult)
	summary := apitest.Summarize(results)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]interface{}{
			"baseUrl": c.String("base-url"),
			"results": results,
			"suites":  apitest.SummarizeBySuite(results),
			"summary": summary,
		}); err != nil {
			return err
		}
	} else {
		printSummary(os.Stdout, suites, results, summary)
	}

	if !summary.OK() {
		return fmt.Errorf("%d failed, %d errored of %d cases", summary.Failed, summary.Errored, summary.Total)
	}
	return nil
}

func printResult(w io.Writer, r apitest.Result) {
	line := fmt.Sprintf("%-5s %s / %s (%s)", r.Status, r.Suite, r.Name, r.Duration.Round(time.Millisecond))
	if r.Message != "" {
		line += "\n      " + r.Message
	}
	fmt.Fprintln(w, line)
}

func printSummary(w io.Writer, suites []apitest.Suite, results []apitest.Result, total apitest.Summary) {
	bySuite := apitest.SummarizeBySuite(results)

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUITE\tPASS\tFAIL\tERROR\tSKIP\tTIME")
	for _, s := range suites {
		sum := bySuite[s.Name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", s.Name, sum.Passed, sum.Failed, sum.Errored, sum.Skipped, sum.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t%s\n", total.Passed, total.Failed, total.Errored, total.Skipped, total.Duration.Round(time.Millisecond))
	tw.Flush()
}
