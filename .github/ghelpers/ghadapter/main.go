package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// ghadapter runs a command that prints a JSON object, typically
// `snapdiff -json`, and exposes its top level fields as GitHub Actions step
// outputs. A snapdiff summary is also rendered into the job summary.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <command> [args...]\n", os.Args[0])
		os.Exit(1)
	}

	cmd := exec.Command(os.Args[1], os.Args[2:]...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	_, _ = os.Stdout.Write(output)

	var result map[string]json.RawMessage
	if err := json.Unmarshal(output, &result); err != nil {
		return
	}

	if githubOutput := os.Getenv("GITHUB_OUTPUT"); githubOutput != "" {
		if err := appendTo(githubOutput, func(w io.Writer) error { return writeOutputs(w, result) }); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if stepSummary := os.Getenv("GITHUB_STEP_SUMMARY"); stepSummary != "" {
		if err := appendTo(stepSummary, func(w io.Writer) error { return writeStepSummary(w, output) }); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

func appendTo(path string, write func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeOutputs writes strings unquoted and everything else as compact JSON,
// in key order.
func writeOutputs(w io.Writer, result map[string]json.RawMessage) error {
	keys := make([]string, 0, len(result))
	for key := range result {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := string(result[key])
		var s string
		if err := json.Unmarshal(result[key], &s); err == nil {
			value = s
		}
		if strings.Contains(value, "\n") {
			if _, err := fmt.Fprintf(w, "%s<<EOF\n%s\nEOF\n", key, value); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", key, value); err != nil {
			return err
		}
	}
	return nil
}

type summary struct {
	Output        string `json:"output"`
	Pairs         *int   `json:"pairs"`
	Compared      int    `json:"compared"`
	Cached        int    `json:"cached"`
	ReferenceOnly int    `json:"referenceOnly"`
	CandidateOnly int    `json:"candidateOnly"`
	Skipped       []struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	} `json:"skipped"`
}

func writeStepSummary(w io.Writer, output []byte) error {
	var s summary
	if err := json.Unmarshal(output, &s); err != nil || s.Pairs == nil {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### Screenshot comparison\n\n")
	fmt.Fprintf(&b, "| pairs | compared | cached | skipped | reference only | candidate only |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %d |\n\n", *s.Pairs, s.Compared, s.Cached, len(s.Skipped), s.ReferenceOnly, s.CandidateOnly)
	for _, skipped := range s.Skipped {
		fmt.Fprintf(&b, "- `%s`: %s\n", skipped.ID, skipped.Reason)
	}
	if s.Output != "" {
		fmt.Fprintf(&b, "\nReport: `%s`\n", s.Output)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
