package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corrections.rules")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestLiteralSubstitution(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
# transcription fixups
"get hub" => "GitHub"
"pull request" => "PR"
`)
	engine, err := NewEngine(path, 0)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	got, err := engine.Apply("open the get hub pull request")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "open the GitHub PR" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestRegexSubstitution(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `/\s+/ => " "`)
	engine, err := NewEngine(path, 0)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	got, err := engine.Apply("too   many    spaces")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "too many spaces" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestChainedRulesReachFixpoint(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
"aa" => "a"
`)
	engine, err := NewEngine(path, 10)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	got, err := engine.Apply("aaaa")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "a" {
		t.Fatalf("expected fixpoint 'a', got %q", got)
	}
}

func TestLoopLimitBoundsOscillatingRules(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
"a" => "b"
"b" => "a"
`)
	engine, err := NewEngine(path, 5)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	// Never terminates on its own; the loop limit must stop it.
	if _, err := engine.Apply("a"); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestMissingFilePassesThrough(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(filepath.Join(t.TempDir(), "nope.rules"), 0)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	got, err := engine.Apply("unchanged")
	if err != nil || got != "unchanged" {
		t.Fatalf("expected passthrough, got %q err=%v", got, err)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	cases := []string{
		`no separator here`,
		`"unterminated => "x"`,
		`/bad(regex/ => "x"`,
		`"" => "x"`,
		`plain => "x"`,
	}
	for _, body := range cases {
		path := writeRules(t, body)
		if _, err := NewEngine(path, 0); err == nil {
			t.Fatalf("expected parse error for %q", body)
		}
	}
}
