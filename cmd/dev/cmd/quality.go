package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func quality(use, short, what string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(); err != nil {
				return fmt.Errorf("failed to run %s: %w", what, err)
			}
			return nil
		},
	}
}

func TestCmd() *cobra.Command {
	return quality("test", "Run unit tests", "tests", func() error { return test.Test() })
}

func LintCmd() *cobra.Command {
	return quality("lint", "Run linters", "linting", func() error { return test.Lint() })
}

func IntegrationTestCmd() *cobra.Command {
	return quality("integration-test", "Run integration tests against attached hardware", "integration testing", func() error { return test.Integ() })
}
