package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestReadContentFileAcceptsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.yaml")
	if err := os.WriteFile(path, []byte("name: Ada\nprojects:\n  - title: Engine\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	raw, err := readContentFile(path)
	if err != nil {
		t.Fatalf("readContentFile: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if got["name"] != "Ada" {
		t.Fatalf("unexpected content %v", got)
	}
}

func TestReadContentFileKeepsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.json")
	body := `{"name":"Ada"}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	raw, err := readContentFile(path)
	if err != nil {
		t.Fatalf("readContentFile: %v", err)
	}
	if string(raw) != body {
		t.Fatalf("json content must pass through unchanged, got %s", raw)
	}
}

func TestSessionTokenPrefersEnvironment(t *testing.T) {
	t.Setenv("TEMPLATEHUB_TOKEN", "from-env")
	got, err := sessionToken(cliConfig{SessionToken: "from-file"})
	if err != nil || got != "from-env" {
		t.Fatalf("expected env token, got %q (%v)", got, err)
	}
	t.Setenv("TEMPLATEHUB_TOKEN", "")
	got, err = sessionToken(cliConfig{SessionToken: "from-file"})
	if err != nil || got != "from-file" {
		t.Fatalf("expected file token, got %q (%v)", got, err)
	}
	if _, err := sessionToken(cliConfig{}); err == nil {
		t.Fatalf("expected error without any session")
	}
}
