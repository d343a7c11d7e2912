package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"
	"github.com/inboxpilot/provisioner/internal/providers"

	"github.com/spf13/cobra"
)

func NewCheckCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to n8n and the configured AI providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return runCheck(ctx, opts)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall time allowed for all checks")

	return cmd
}

func runCheck(ctx context.Context, opts *rootOptions) error {
	container, err := opts.container(false)
	if err != nil {
		return err
	}

	failed := false

	fmt.Println(headingStyle.Render("Workflow engine"))
	if err := container.BuildEngine().Ping(ctx); err != nil {
		failed = true
		fmt.Println("   " + failLine("n8n", err))
	} else {
		fmt.Println("   " + okLine("n8n"))
	}

	if !reportProviders(ctx, os.Stdout, container.ProviderVerifiers()) {
		failed = true
	}

	if failed {
		return errors.New("one or more checks failed")
	}

	return nil
}

// reportProviders verifies every configured key and prints one line per
// provider. It reports whether all keys were accepted.
func reportProviders(ctx context.Context, w io.Writer, verifiers map[domain.Capability]providers.KeyVerifier) bool {
	fmt.Fprintln(w, headingStyle.Render("AI providers"))
	if len(verifiers) == 0 {
		fmt.Fprintln(w, "   "+mutedStyle.Render("No provider keys configured"))
		return true
	}

	failures := providers.VerifyAll(ctx, verifiers)

	ok := true
	for _, capability := range providers.SortedCapabilities(verifiers) {
		if err, failed := failures[capability]; failed {
			ok = false
			fmt.Fprintln(w, "   "+failLine(string(capability), err))
			continue
		}
		fmt.Fprintln(w, "   "+okLine(string(capability)))
	}

	return ok
}
