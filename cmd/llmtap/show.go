// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/llmtap/cmd/llmtap/cli"
	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/export"
	"github.com/bureau-foundation/llmtap/lib/session"
)

func showCommand() *cli.Command {
	var journal, diagnostic bool
	return &cli.Command{
		Name:    "show",
		Summary: "Summarize a session or capture artifact",
		Description: `Print the turns and statistics of an artifact written by llmtap.

With --journal the argument is a session journal (<output>/sessions/<id>/journal),
and its frames are listed with their checksum and decoding status.`,
		Usage: "llmtap show [flags] <artifact.json | journal>",
		Examples: []cli.Example{
			{Command: "llmtap show llmtap-captures/session_conv-7_20260602T153000Z.json"},
			{
				Description: "Inspect a damaged session journal",
				Command:     "llmtap show --journal --diagnostic llmtap-captures/sessions/conv-7/journal",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.BoolVar(&journal, "journal", false, "the argument is a session journal")
			flagSet.BoolVar(&diagnostic, "diagnostic", false, "with --journal, print each frame in CBOR diagnostic notation")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one path, got %d\n\nRun 'llmtap show --help' for usage.", len(args))
			}
			if journal {
				return showJournal(os.Stdout, args[0], diagnostic)
			}
			return showArtifact(os.Stdout, args[0], terminalWidth())
		},
	}
}

// terminalWidth returns the width of stdout, or 0 when it is not a
// terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}

func showArtifact(w io.Writer, path string, width int) error {
	artifact, err := export.ReadArtifact(path)
	if err != nil {
		return err
	}
	budget := promptBudget(width)
	switch {
	case artifact.Session != nil:
		writeSessionSummary(w, artifact.Session, budget)
	case artifact.Capture != nil:
		writeCaptureSummary(w, artifact.Capture, budget)
	}
	return nil
}

func writeSessionSummary(w io.Writer, artifact *export.SessionArtifact, budget int) {
	fmt.Fprintf(w, "Session %s (%s)\n", artifact.SessionID, artifact.AgentName)
	fmt.Fprintf(w, "Started %s, %d participant(s)\n\n",
		artifact.StartTime.UTC().Format(time.RFC3339), len(artifact.Metadata.Participants))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TURN\tTIME\tMODEL\tCALLS\tTOKENS\tSTATUS\tPROMPT")
	for _, turn := range artifact.Turns {
		row := summarize(turn.Requests, turn.Responses, turn.Partial)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			turn.TurnNumber, turn.Timestamp.UTC().Format(time.TimeOnly), row.model,
			len(turn.Requests), row.tokens, row.status, truncate(row.prompt, budget))
	}
	tw.Flush()

	writeStatistics(w, artifact.Statistics)
}

func writeCaptureSummary(w io.Writer, artifact *export.CaptureArtifact, budget int) {
	fmt.Fprintf(w, "Capture %s (%s)\n", artifact.CaptureID, artifact.AgentName)
	fmt.Fprintf(w, "Started %s, ended %s\n\n",
		artifact.StartTime.UTC().Format(time.RFC3339), artifact.EndTime.UTC().Format(time.RFC3339))

	responses := make(map[string]capture.ResponseRecord, len(artifact.Responses))
	for _, response := range artifact.Responses {
		responses[response.RequestID] = response
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTIME\tMODEL\tTOKENS\tSTATUS\tPROMPT")
	for i, request := range artifact.Requests {
		var matched []capture.ResponseRecord
		if response, ok := responses[request.RequestID]; ok {
			matched = append(matched, response)
		}
		row := summarize([]capture.RequestRecord{request}, matched, false)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			i+1, request.Timestamp.UTC().Format(time.TimeOnly), row.model,
			row.tokens, row.status, truncate(row.prompt, budget))
	}
	tw.Flush()

	writeStatistics(w, artifact.Statistics)
}

// row is one line of a turn table.
type row struct {
	model  string
	tokens int64
	status string
	prompt string
}

func summarize(requests []capture.RequestRecord, responses []capture.ResponseRecord, partial bool) row {
	var summary row
	for _, request := range requests {
		if request.Model != "" {
			summary.model = request.Model
		}
		if request.Prompt != "" {
			summary.prompt = request.Prompt
		}
	}

	summary.status = "pending"
	for _, response := range responses {
		summary.tokens += response.Usage.TotalTokens
		if summary.model == "" {
			summary.model = response.Model
		}
		switch {
		case response.Failed():
			summary.status = "error"
		case response.Partial:
			summary.status = "partial"
		case response.Aborted:
			summary.status = "aborted"
		case response.Truncated:
			summary.status = "truncated"
		case response.FinishReason != "":
			summary.status = response.FinishReason
		default:
			summary.status = "ok"
		}
		if summary.status == "error" {
			break
		}
	}
	if partial && summary.status != "error" {
		summary.status = "partial"
	}
	if summary.model == "" {
		summary.model = "-"
	}
	return summary
}

// promptBudget is the number of prompt characters that fit beside the
// fixed table columns.
func promptBudget(width int) int {
	const fixedColumns = 64
	if width <= 0 {
		return 60
	}
	return max(width-fixedColumns, 20)
}

// truncate flattens whitespace and cuts text to at most limit terminal
// columns. Wide characters count double.
func truncate(text string, limit int) string {
	return runewidth.Truncate(strings.Join(strings.Fields(text), " "), limit, "…")
}

func writeStatistics(w io.Writer, stats capture.Statistics) {
	fmt.Fprintf(w, "\nStatistics:\n")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  turns\t%d\n", stats.TotalTurns)
	fmt.Fprintf(tw, "  requests\t%d\n", stats.TotalRequests)
	fmt.Fprintf(tw, "  responses\t%d\n", stats.TotalResponses)
	fmt.Fprintf(tw, "  tokens\t%d prompt, %d completion, %d total\n",
		stats.PromptTokens, stats.CompletionTokens, stats.TotalTokens)
	if stats.CachedTokens > 0 || stats.ThoughtsTokens > 0 {
		fmt.Fprintf(tw, "  \t%d cached, %d thoughts\n", stats.CachedTokens, stats.ThoughtsTokens)
	}
	fmt.Fprintf(tw, "  errors\t%d\n", stats.Errors)
	if stats.Unmatched+stats.Partial+stats.Truncated+stats.Aborted > 0 {
		fmt.Fprintf(tw, "  incomplete\t%d unmatched, %d partial, %d truncated, %d aborted\n",
			stats.Unmatched, stats.Partial, stats.Truncated, stats.Aborted)
	}
	if stats.DroppedEvents > 0 {
		fmt.Fprintf(tw, "  dropped events\t%d\n", stats.DroppedEvents)
	}
	if len(stats.Models) > 0 {
		models := make([]string, 0, len(stats.Models))
		for model := range stats.Models {
			models = append(models, model)
		}
		sort.Strings(models)
		counts := make([]string, 0, len(models))
		for _, model := range models {
			counts = append(counts, fmt.Sprintf("%s=%d", model, stats.Models[model]))
		}
		fmt.Fprintf(tw, "  models\t%s\n", strings.Join(counts, ", "))
	}
	tw.Flush()
}

func showJournal(w io.Writer, path string, diagnostic bool) error {
	report, err := session.DumpJournal(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Journal %s: %d frame(s)\n\n", report.Path, len(report.Frames))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tKIND\tSIZE\tLZ4\tSTATUS")
	for _, frame := range report.Frames {
		status := "ok"
		if frame.Error != "" {
			status = frame.Error
		}
		kind := frame.Kind
		if kind == "" {
			kind = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%t\t%s\n", frame.Offset, kind, frame.StoredSize, frame.Compressed, status)
	}
	tw.Flush()

	if report.TornAt >= 0 {
		fmt.Fprintf(w, "\ntorn trailing frame at offset %d\n", report.TornAt)
	}
	if diagnostic {
		for _, frame := range report.Frames {
			if frame.Diagnostic == "" {
				continue
			}
			fmt.Fprintf(w, "\n@%d %s\n%s\n", frame.Offset, frame.Kind, frame.Diagnostic)
		}
	}
	return nil
}
