package archive

import (
	"archive/zip"
	"errors"
	"strings"
	"testing"

	cerrors "github.com/axAilotl/character-architect-sub002/core/errors"
)

func buildArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	w := NewWriter()
	for name, content := range entries {
		if err := w.AddFile(name, []byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	data, err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRoundTrip(t *testing.T) {
	data := buildArchive(t, map[string]string{
		"card.json":          `{"spec":"chara_card_v3"}`,
		"assets/icon/a.png":  "png-bytes",
		"assets/sound/b.mp3": "mp3-bytes",
	})

	r, err := NewReader(data, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if r.Offset != 0 {
		t.Errorf("offset = %d, want 0 for a plain archive", r.Offset)
	}

	manifest, err := r.ReadFile("card.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(manifest) != `{"spec":"chara_card_v3"}` {
		t.Errorf("manifest = %s", manifest)
	}

	if got := len(r.Entries()); got != 3 {
		t.Errorf("entries = %d, want 3", got)
	}
}

func TestSFXArchive(t *testing.T) {
	inner := buildArchive(t, map[string]string{"card.json": "{}"})
	// Simulate a self-extracting archive: executable stub before the
	// real ZIP data.
	sfx := append([]byte("MZ\x90\x00 fake executable stub padding "), inner...)

	r, err := NewReader(sfx, DefaultLimits())
	if err != nil {
		t.Fatalf("SFX archive should parse: %v", err)
	}
	if r.Offset == 0 {
		t.Error("offset should be non-zero for an SFX archive")
	}
	if _, err := r.ReadFile("card.json"); err != nil {
		t.Errorf("read from SFX archive: %v", err)
	}
}

func TestNotAZip(t *testing.T) {
	_, err := NewReader([]byte("just some text with no signature"), DefaultLimits())
	if err == nil {
		t.Fatal("expected error")
	}
	if !cerrors.IsFormatFallback(err) {
		t.Errorf("missing signature should be fallback-eligible, got %v", err)
	}
}

func TestCorruptZip(t *testing.T) {
	data := buildArchive(t, map[string]string{"card.json": "{}"})
	// Truncate past the signature so the central directory is gone.
	_, err := NewReader(data[:10], DefaultLimits())
	if err == nil {
		t.Fatal("expected error")
	}
	if cerrors.IsFormatFallback(err) {
		t.Errorf("corrupt archive must be fatal, not fallback-eligible: %v", err)
	}
}

func TestEntrySizeLimit(t *testing.T) {
	data := buildArchive(t, map[string]string{"big.bin": strings.Repeat("x", 4096)})

	limits := Limits{MaxTotalBytes: 1 << 20, MaxEntryBytes: 1024}
	_, err := NewReader(data, limits)
	if !errors.Is(err, cerrors.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestTotalSizeLimit(t *testing.T) {
	data := buildArchive(t, map[string]string{
		"a.bin": strings.Repeat("x", 3000),
		"b.bin": strings.Repeat("y", 3000),
	})
	limits := Limits{MaxTotalBytes: 5000, MaxEntryBytes: 4000}
	_, err := NewReader(data, limits)
	if !errors.Is(err, cerrors.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestFindFile(t *testing.T) {
	data := buildArchive(t, map[string]string{
		"bundle/character.json": `{"name":"A"}`,
		"bundle/readme.txt":     "hi",
	})
	r, err := NewReader(data, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}

	content, name, err := r.FindFile(func(n string) bool {
		return strings.HasSuffix(n, "character.json")
	})
	if err != nil {
		t.Fatal(err)
	}
	if name != "bundle/character.json" || string(content) != `{"name":"A"}` {
		t.Errorf("found %s: %s", name, content)
	}

	_, _, err = r.FindFile(func(n string) bool { return false })
	if !errors.Is(err, cerrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReadFile_LeadingDirectory(t *testing.T) {
	data := buildArchive(t, map[string]string{"wrapper/card.json": "{}"})
	r, err := NewReader(data, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadFile("card.json"); err != nil {
		t.Errorf("leading directory should not hide the entry: %v", err)
	}
}

func TestUncompressedEntries(t *testing.T) {
	w := NewWriter()
	if err := w.AddFileStore("a.png", []byte("raw")); err != nil {
		t.Fatal(err)
	}
	data, err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(strings.NewReader(string(data)), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if zr.File[0].Method != zip.Store {
		t.Errorf("method = %d, want Store", zr.File[0].Method)
	}
}
