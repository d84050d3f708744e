package main

import "testing"

func TestLanguageFromPath(t *testing.T) {
	cases := map[string]string{
		"fix.py":    "python",
		"run.js":    "javascript",
		"deploy.sh": "shell",
		"tool.rb":   "ruby",
		"main.go":   "go",
		"README.md": "",
		"noext":     "",
	}
	for path, want := range cases {
		if got := languageFromPath(path); got != want {
			t.Errorf("languageFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestJoinArgs(t *testing.T) {
	if got := joinArgs([]string{"solo"}); got != "solo" {
		t.Errorf("joinArgs single = %q, want %q", got, "solo")
	}
	if got := joinArgs([]string{"deploy", "to", "staging"}); got != "deploy to staging" {
		t.Errorf("joinArgs multi = %q, want %q", got, "deploy to staging")
	}
}

func TestResolveInWorkspaceKeepsAbsolutePaths(t *testing.T) {
	app = &application{workDir: "/tmp/workspace"}
	defer func() { app = nil }()

	if got := resolveInWorkspace("/etc/hosts"); got != "/etc/hosts" {
		t.Errorf("resolveInWorkspace absolute = %q, want unchanged", got)
	}
	if got := resolveInWorkspace("sub/file.txt"); got != "/tmp/workspace/sub/file.txt" {
		t.Errorf("resolveInWorkspace relative = %q, want %q", got, "/tmp/workspace/sub/file.txt")
	}
}
