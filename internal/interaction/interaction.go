// Package interaction is the operator-facing side channel. Experiment runs
// are mostly unattended but a few steps need a human at the bench, such as
// navigating a login screen before captures start.
package interaction

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// Status prints a progress line for the operator. It bypasses the log so it
// stays visible at any log level.
func Status(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// Confirm blocks until the operator presses enter, or until ctx is
// cancelled. The prompt goes to stderr so it is not captured when stdout is
// redirected.
func Confirm(ctx context.Context, prompt string) error {
	fmt.Fprintf(os.Stderr, "%s (press enter to continue) ", prompt)
	_, err := readLine(ctx)
	return err
}

// Ask poses a yes/no question and blocks for the answer. Anything other
// than y or yes means no.
func Ask(ctx context.Context, prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	line, err := readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		done <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr)
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("failed to read operator input: %w", r.err)
		}
		return r.line, nil
	}
}
