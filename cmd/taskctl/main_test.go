package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"taskmaster/api"
	"taskmaster/progress"
)

var refNow = time.Date(2026, 10, 17, 10, 30, 0, 0, time.UTC)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	cmd := rootCmd(func() time.Time { return refNow })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	out, err := run(t, "parse", "Submit", "report", "tomorrow", "urgent", "#work")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, want := range []string{"Title:    Submit report tomorrow urgent #work", "Priority: urgent", "Tags:     work", "Sun, 18 Oct 2026"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSuggestCommandUsesRules(t *testing.T) {
	out, err := run(t, "suggest", "study for the final exam")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if !strings.Contains(out, "(rules)") || !strings.Contains(out, "1. Review lecture notes and materials") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestLevelCommandJSON(t *testing.T) {
	out, err := run(t, "level", "--json", "400")
	if err != nil {
		t.Fatalf("level: %v", err)
	}
	var lp progress.LevelProgress
	if err := sonic.UnmarshalString(out, &lp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if lp != progress.Progress(400) || lp.Level != 3 {
		t.Fatalf("unexpected level %#v", lp)
	}
}

func TestLevelCommandRejectsBadInput(t *testing.T) {
	if _, err := run(t, "level", "-5"); err == nil {
		t.Fatalf("expected error for negative xp")
	}
	if _, err := run(t, "level"); err == nil {
		t.Fatalf("expected error without argument")
	}
}

func TestTokenCommandIssuesVerifiableTokens(t *testing.T) {
	out, err := run(t, "token", "--secret", "dev", "alice", "bob")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	lines := strings.Fields(out)
	if len(lines) != 2 {
		t.Fatalf("expected two tokens, got %q", out)
	}
	auth := api.NewTestAuth([]byte("dev"))
	for i, want := range []string{"alice", "bob"} {
		got, err := auth.UserIDFromBearer(lines[i])
		if err != nil || got != want {
			t.Fatalf("token %d = %q, %v", i, got, err)
		}
	}
	if _, err := run(t, "token", "--secret", "", "alice"); err == nil {
		t.Fatalf("expected error without a secret")
	}
}
