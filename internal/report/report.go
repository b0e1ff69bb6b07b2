package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/buildscope/buildscope/internal/logging"
	"github.com/buildscope/buildscope/internal/rules"
	"github.com/buildscope/buildscope/internal/sink"
)

type Summary struct {
	Sessions      int         `json:"sessions"`
	Events        int         `json:"events"`
	Errors        int         `json:"errors"`
	Important     int         `json:"important"`
	Success       int         `json:"success"`
	Messages      int         `json:"messages"`
	Verbose       int         `json:"verbose"`
	Unfinished    int         `json:"unfinished"`
	Start         time.Time   `json:"start"`
	End           time.Time   `json:"end"`
	TopHeaders    []CountItem `json:"top_headers"`
	TopErrors     []CountItem `json:"top_errors"`
	TopUnfinished []CountItem `json:"top_unfinished"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type Reader struct {
	Since time.Time
}

func (r *Reader) ReadEvents(path string) ([]sink.EventRecord, error) {
	return readJSONL(path, r.Since, func(e sink.EventRecord) time.Time { return e.Timestamp })
}

func (r *Reader) ReadFailures(path string) ([]logging.FailureRecord, error) {
	return readJSONL(path, r.Since, func(f logging.FailureRecord) time.Time { return f.Timestamp })
}

func readJSONL[T any](path string, since time.Time, ts func(T) time.Time) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if !since.IsZero() && ts(rec).Before(since) {
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summarize combines an event log and a failure log. Either may be empty.
func Summarize(events []sink.EventRecord, failures []logging.FailureRecord) Summary {
	var summary Summary

	sessions := map[string]struct{}{}
	headerCounts := map[string]int{}
	errorCounts := map[string]int{}
	unfinishedCounts := map[string]int{}

	observe := func(ts time.Time, session string) {
		if session != "" {
			sessions[session] = struct{}{}
		}
		if ts.IsZero() {
			return
		}
		if summary.Start.IsZero() || ts.Before(summary.Start) {
			summary.Start = ts
		}
		if ts.After(summary.End) {
			summary.End = ts
		}
	}

	for _, e := range events {
		summary.Events++
		observe(e.Timestamp, e.Session)

		switch rules.Severity(e.Severity) {
		case rules.SeverityError:
			summary.Errors++
			errorCounts[e.Header+": "+e.Message]++
		case rules.SeverityImportant:
			summary.Important++
		case rules.SeveritySuccess:
			summary.Success++
		case rules.SeverityVerbose:
			summary.Verbose++
			continue
		default:
			summary.Messages++
		}
		headerCounts[e.Header]++
	}

	for _, f := range failures {
		summary.Unfinished++
		observe(f.Timestamp, f.Session)
		unfinishedCounts[f.Phase+"/"+f.Rule]++
	}

	summary.Sessions = len(sessions)
	summary.TopHeaders = topCounts(headerCounts, 5)
	summary.TopErrors = topCounts(errorCounts, 5)
	summary.TopUnfinished = topCounts(unfinishedCounts, 5)

	return summary
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sessions: %d\n", summary.Sessions)
	fmt.Fprintf(&b, "Events: %d\n", summary.Events)
	fmt.Fprintf(&b, "Errors: %d\n", summary.Errors)
	fmt.Fprintf(&b, "Important: %d\n", summary.Important)
	fmt.Fprintf(&b, "Success: %d\n", summary.Success)
	fmt.Fprintf(&b, "Messages: %d\n", summary.Messages)
	fmt.Fprintf(&b, "Unfinished rules: %d\n", summary.Unfinished)
	if !summary.Start.IsZero() {
		fmt.Fprintf(&b, "Window: %s .. %s\n", summary.Start.Format(time.RFC3339), summary.End.Format(time.RFC3339))
	}

	writeCounts(&b, "Top headers", summary.TopHeaders)
	writeCounts(&b, "Top errors", summary.TopErrors)
	writeCounts(&b, "Top unfinished rules", summary.TopUnfinished)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# Build Log Report\n\n")
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Sessions: %d\n", summary.Sessions)
	fmt.Fprintf(&b, "- Events: %d\n", summary.Events)
	fmt.Fprintf(&b, "- Errors: %d\n", summary.Errors)
	fmt.Fprintf(&b, "- Important: %d\n", summary.Important)
	fmt.Fprintf(&b, "- Success: %d\n", summary.Success)
	fmt.Fprintf(&b, "- Messages: %d\n", summary.Messages)
	fmt.Fprintf(&b, "- Unfinished rules: %d\n\n", summary.Unfinished)

	writeCountsMarkdown(&b, "Top headers", summary.TopHeaders)
	writeCountsMarkdown(&b, "Top errors", summary.TopErrors)
	writeCountsMarkdown(&b, "Top unfinished rules", summary.TopUnfinished)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

// WriteOutput writes content to path, or to w when path is empty.
func WriteOutput(w io.Writer, path string, content []byte) error {
	if path == "" {
		if w == nil {
			w = os.Stdout
		}
		_, err := io.Copy(w, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
