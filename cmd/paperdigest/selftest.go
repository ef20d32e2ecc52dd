package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/PaperDigest/internal/llm"
	"github.com/TobiSchelling/PaperDigest/internal/search"
)

// errSelftest is returned when any selftest check fails.
var errSelftest = errors.New("selftest failed")

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Check configuration, database, Slack, LLM and arXiv connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Minute)
		defer cancel()

		if err := cfg.Validate(); err != nil {
			fmt.Printf("[FAIL] configuration: %v\n", err)
			return errSelftest
		}
		fmt.Println("[ OK ] configuration")

		a, err := newApp()
		if err != nil {
			fmt.Printf("[FAIL] database: %v\n", err)
			return errSelftest
		}
		defer a.db.Close()

		failed := 0
		for _, c := range selftestChecks(a) {
			detail, err := c.run(ctx)
			if err != nil {
				failed++
				fmt.Printf("[FAIL] %s: %v\n", c.name, err)
				continue
			}
			fmt.Printf("[ OK ] %s: %s\n", c.name, detail)
		}

		if failed > 0 {
			return fmt.Errorf("%w: %d check(s)", errSelftest, failed)
		}
		fmt.Println("\nAll checks passed.")
		return nil
	},
}

func selftestChecks(a *app) []check {
	return []check{
		{"database", func(context.Context) (string, error) {
			v, err := a.db.SchemaVersion()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (schema v%d)", a.db.Path(), v), nil
		}},
		{"slack", func(ctx context.Context) (string, error) {
			user, err := a.slack.AuthTest(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("authenticated as %s, posting to %s", user, cfg.Slack.Channel), nil
		}},
		{"llm", func(ctx context.Context) (string, error) {
			if a.provider == nil || !a.provider.IsConfigured() {
				return "", llm.ErrNotConfigured
			}
			text, err := a.provider.Generate(ctx, `Reply with the JSON object {"ok": true}.`, 20)
			if err != nil {
				return "", err
			}
			if _, err := llm.ParseJSONResponse(text); err != nil {
				return "", err
			}
			return a.provider.Name(), nil
		}},
		{"arxiv", func(ctx context.Context) (string, error) {
			res, err := a.search.Search(ctx, search.Query{
				Terms:      cfg.Search.Terms[:1],
				MaxResults: 1,
				Days:       cfg.Search.Days,
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d entr%s for %q", res.Found, pluralY(res.Found), cfg.Search.Terms[0]), nil
		}},
	}
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
