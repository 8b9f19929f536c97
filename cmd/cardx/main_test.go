package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/axAilotl/character-architect-sub002/core/card"
)

func writeCard(t *testing.T, dir string) string {
	t.Helper()
	doc := map[string]any{
		"spec":         "chara_card_v3",
		"spec_version": "3.0",
		"data": map[string]any{
			"name": "Mira", "description": "d", "personality": "p",
			"scenario": "s", "first_mes": "f", "mes_example": "",
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "mira.json")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFormatFromName(t *testing.T) {
	tests := []struct {
		name string
		want card.Format
	}{
		{"json", card.FormatJSON},
		{"png", card.FormatPNG},
		{"charx", card.FormatCharx},
		{"voxta", card.FormatVoxta},
		{"nope", card.FormatUnknown},
	}
	for _, tt := range tests {
		if got := formatFromName(tt.name); got != tt.want {
			t.Errorf("formatFromName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestConvertCmd_JSONToCharx(t *testing.T) {
	dir := t.TempDir()
	src := writeCard(t, dir)
	out := filepath.Join(dir, "mira.charx")

	cmd := &ConvertCmd{Path: src, Out: out, To: "charx"}
	if err := cmd.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("output is empty")
	}

	detect := &DetectCmd{Path: out}
	if err := detect.Run(); err != nil {
		t.Fatalf("Detect on converted output: %v", err)
	}
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	src := writeCard(t, dir)
	cmd := &ValidateCmd{Path: src}
	if err := cmd.Run(); err != nil {
		t.Fatalf("valid card reported invalid: %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	if err := (&VersionCmd{}).Run(); err != nil {
		t.Fatal(err)
	}
}
