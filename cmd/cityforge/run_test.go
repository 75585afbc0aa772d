package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/talgya/cityforge/internal/config"
)

func TestGenerateThenInspect(t *testing.T) {
	dir := t.TempDir()
	pngPath := filepath.Join(dir, "city.png")
	docPath := filepath.Join(dir, "city.json")

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	opts := generateOptions{size: 12, risk: -1, terrain: "coastal", png: pngPath, px: 4, project: docPath}
	if err := runGenerate(cmd, config.Default(), opts); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"12x12 grid", "coastal terrain", "routes:", "preview:", "project:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("generate output missing %q:\n%s", want, out.String())
		}
	}
	if _, err := os.Stat(pngPath); err != nil {
		t.Errorf("preview not written: %v", err)
	}

	out.Reset()
	if err := runInspect(&out, config.Default(), docPath); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "version 1") || !strings.Contains(out.String(), "12x12 grid") {
		t.Errorf("inspect output:\n%s", out.String())
	}
}

func TestGenerateRejectsUnknownTerrain(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	if err := runGenerate(cmd, config.Default(), generateOptions{risk: -1, terrain: "lunar"}); err == nil {
		t.Error("expected error")
	}
}

func TestInspectMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("[]"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := runInspect(&bytes.Buffer{}, config.Default(), path); err == nil {
		t.Error("expected error for non-object document")
	}
}
