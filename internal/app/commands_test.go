package app

import (
	"errors"
	"strings"
	"testing"

	"insightpipe/internal/importer"
)

func TestFormatImportSummary(t *testing.T) {
	res := importer.Result{
		Imported:  map[string]int{"globex": 5, "acme": 7},
		Triggered: 2,
		Dropped:   1,
		Skipped:   []importer.RowError{{Line: 4, Err: errors.New("missing description")}},
	}
	got := formatImportSummary(res)

	want := "Imported 12 insights (acme=7, globex=5), 2 runs triggered, 1 triggers dropped while a run was in flight"
	if !strings.HasPrefix(got, want) {
		t.Fatalf("summary = %q, want prefix %q", got, want)
	}
	if !strings.Contains(got, "row 4: missing description") {
		t.Fatalf("summary should list skipped rows: %q", got)
	}
}

func TestFormatImportSummaryEmpty(t *testing.T) {
	got := formatImportSummary(importer.Result{Imported: map[string]int{}})
	if got != "Imported 0 insights, 0 runs triggered" {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "import", "run"} {
		if !names[want] {
			t.Fatalf("command %q not registered", want)
		}
	}
}
