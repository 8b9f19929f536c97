// Command cardx is the CLI tool for the character-card engine.
// It provides commands for detecting, converting, validating, and
// diffing character cards across container formats.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"github.com/axAilotl/character-architect-sub002/core/card"
	"github.com/axAilotl/character-architect-sub002/core/cas"
	"github.com/axAilotl/character-architect-sub002/core/lorebook"
	"github.com/axAilotl/character-architect-sub002/internal/assets"
	"github.com/axAilotl/character-architect-sub002/internal/blobindex"
	"github.com/axAilotl/character-architect-sub002/internal/engine"
	"github.com/axAilotl/character-architect-sub002/internal/imaging"
	"github.com/axAilotl/character-architect-sub002/internal/logging"
)

const version = "0.1.0"

// CLI defines the command-line interface for cardx.
var CLI struct {
	// Global flags
	DataDir string `name:"data-dir" short:"d" help:"Asset store directory; enables the asset pipeline" type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	// Command groups (noun-first organization)
	Card    CardGroup  `cmd:"" help:"Card operations (detect, convert, validate, info)"`
	Book    BookGroup  `cmd:"" help:"Lorebook operations"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// CardGroup contains card lifecycle operations.
type CardGroup struct {
	Detect   DetectCmd   `cmd:"" help:"Detect container format and card spec"`
	Convert  ConvertCmd  `cmd:"" help:"Convert a card to a different container format"`
	Validate ValidateCmd `cmd:"" help:"Validate a card and print findings"`
	Info     InfoCmd     `cmd:"" help:"Display card summary"`
}

// BookGroup contains lorebook operations.
type BookGroup struct {
	Diff DiffCmd `cmd:"" help:"Diff the lorebooks of two cards"`
}

// newEngine builds an engine from the global flags. The cleanup func
// must run before exit.
func newEngine() (*engine.Engine, func(), error) {
	if CLI.Verbose {
		logging.InitLogger(logging.LevelDebug, logging.FormatText)
	}
	cfg := engine.Config{}
	cleanup := func() {}
	if CLI.DataDir != "" {
		store, err := cas.NewStore(CLI.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open asset store: %w", err)
		}
		index, err := blobindex.Open(CLI.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open asset index: %w", err)
		}
		cfg.Pipeline = assets.NewPipeline(store, index)
		cleanup = func() { index.Close() }
	}
	return engine.New(cfg), cleanup, nil
}

func importFile(eng *engine.Engine, path string) (*engine.ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	res, err := eng.Import(context.Background(), data, path)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	return res, nil
}

// DetectCmd detects the container format and card spec of a file.
type DetectCmd struct {
	Path string `arg:"" help:"Path to card file" type:"existingfile"`
}

func (c *DetectCmd) Run() error {
	eng, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := importFile(eng, c.Path)
	if err != nil {
		return err
	}
	fmt.Printf("Format: %s\n", res.Format)
	fmt.Printf("Spec:   %s\n", res.Card.Spec.Literal())
	fmt.Printf("Name:   %s\n", res.Card.Name())
	if res.Recovered {
		fmt.Println("Note: card JSON was recovered from an unrecognized container")
	}
	for _, w := range res.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	return nil
}

// ConvertCmd converts a card between container formats.
type ConvertCmd struct {
	Path string `arg:"" help:"Path to source card" type:"existingfile"`
	Out  string `required:"" help:"Output path" type:"path"`
	To   string `required:"" help:"Target format (json, png, charx, voxta)" enum:"json,png,charx,voxta"`
	Spec string `help:"Target schema for json/png (v2, v3)" enum:",v2,v3" default:""`

	BaseImage     string  `name:"base-image" help:"PNG to embed into / icon synthesis source" type:"existingfile"`
	StripMetadata bool    `name:"strip-metadata" help:"Re-encode asset images, dropping metadata"`
	MaxMegapixels float64 `name:"max-megapixels" help:"Scale down asset images above this size"`
	Quality       int     `help:"JPEG re-encode quality (1-100)"`
}

func (c *ConvertCmd) Run() error {
	eng, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := importFile(eng, c.Path)
	if err != nil {
		return err
	}

	opts := engine.ExportOptions{
		Imaging: imaging.Options{
			StripMetadata: c.StripMetadata,
			MaxMegapixels: c.MaxMegapixels,
			Quality:       c.Quality,
		},
	}
	switch c.Spec {
	case "v2":
		opts.Spec = card.SpecV2
	case "v3":
		opts.Spec = card.SpecV3
	}
	if c.BaseImage != "" {
		img, rerr := os.ReadFile(c.BaseImage)
		if rerr != nil {
			return fmt.Errorf("read base image: %w", rerr)
		}
		opts.BaseImage = img
	} else {
		opts.BaseImage = res.OriginalImage
		opts.ExtraChunks = res.ExtraChunks
	}

	target := formatFromName(c.To)
	out, err := eng.Export(context.Background(), res.Card, target, opts)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := os.WriteFile(c.Out, out.Data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", c.Out, err)
	}

	fmt.Printf("Converted: %s -> %s\n", c.Path, c.Out)
	fmt.Printf("  Format: %s -> %s\n", res.Format, target)
	fmt.Printf("  Size: %s\n", humanize.IBytes(uint64(len(out.Data))))
	for _, w := range out.Warnings {
		fmt.Printf("  Warning: %s\n", w)
	}
	return nil
}

// ValidateCmd validates a card and prints findings.
type ValidateCmd struct {
	Path string `arg:"" help:"Path to card file" type:"existingfile"`
	JSON bool   `help:"Print findings as JSON"`
}

func (c *ValidateCmd) Run() error {
	eng, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := importFile(eng, c.Path)
	if err != nil {
		return err
	}

	v := res.Validation
	if c.JSON {
		out, merr := json.MarshalIndent(v, "", "  ")
		if merr != nil {
			return merr
		}
		fmt.Println(string(out))
	} else {
		for _, f := range v.Findings {
			fmt.Printf("[%s] %s\n", f.Severity, f.Message)
		}
		if v.Valid {
			fmt.Println("Valid.")
		}
	}
	if !v.Valid {
		return fmt.Errorf("card has blocking validation findings")
	}
	return nil
}

// InfoCmd displays a card summary.
type InfoCmd struct {
	Path string `arg:"" help:"Path to card file" type:"existingfile"`
}

func (c *InfoCmd) Run() error {
	eng, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.Path, err)
	}
	res, err := eng.Import(context.Background(), data, c.Path)
	if err != nil {
		return fmt.Errorf("import %s: %w", c.Path, err)
	}

	fmt.Printf("Name:   %s\n", res.Card.Name())
	fmt.Printf("Spec:   %s\n", res.Card.Spec.Literal())
	fmt.Printf("Format: %s\n", res.Format)
	fmt.Printf("Size:   %s\n", humanize.IBytes(uint64(len(data))))
	if tags, ok := res.Card.Data["tags"].([]any); ok && len(tags) > 0 {
		strs := make([]string, 0, len(tags))
		for _, t := range tags {
			if s, ok := t.(string); ok {
				strs = append(strs, s)
			}
		}
		fmt.Printf("Tags:   %s\n", strings.Join(strs, ", "))
	}
	if book := lorebook.FromCard(res.Card); book != nil {
		fmt.Printf("Lorebook entries: %d\n", len(book.Entries))
	}
	if list, ok := res.Card.Data["assets"].([]any); ok {
		fmt.Printf("Asset descriptors: %d\n", len(list))
	}
	if res.AssetsImported > 0 {
		fmt.Printf("Assets archived: %d\n", res.AssetsImported)
	}
	return nil
}

// DiffCmd diffs the lorebooks of two cards.
type DiffCmd struct {
	Original string `arg:"" help:"Path to original card" type:"existingfile"`
	Current  string `arg:"" help:"Path to current card" type:"existingfile"`
	JSON     bool   `help:"Print the full diff as JSON"`
}

func (c *DiffCmd) Run() error {
	eng, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	origRes, err := importFile(eng, c.Original)
	if err != nil {
		return err
	}
	currRes, err := importFile(eng, c.Current)
	if err != nil {
		return err
	}

	diff := lorebook.Diff(lorebook.FromCard(origRes.Card), lorebook.FromCard(currRes.Card))
	if c.JSON {
		out, merr := json.MarshalIndent(diff, "", "  ")
		if merr != nil {
			return merr
		}
		fmt.Println(string(out))
		return nil
	}

	added, removed, modified, unchanged := diff.Counts()
	fmt.Printf("Entries: +%d -%d ~%d =%d\n", added, removed, modified, unchanged)
	fmt.Printf("Settings changed: %v\n", diff.SettingsChanged)
	buckets := [][]lorebook.EntryDelta{diff.Added, diff.Removed, diff.Modified, diff.Unchanged}
	for _, bucket := range buckets {
		for _, d := range bucket {
			if d.State == lorebook.StateUnchanged && !d.Moved {
				continue
			}
			line := fmt.Sprintf("  [%s] %s", d.State, d.Key)
			if d.Moved {
				line += fmt.Sprintf(" (moved %d -> %d)", d.OldIndex, d.NewIndex)
			}
			if len(d.Fields) > 0 {
				line += " fields: " + strings.Join(d.Fields, ", ")
			}
			fmt.Println(line)
		}
	}
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("cardx %s\n", version)
	return nil
}

func formatFromName(name string) card.Format {
	switch name {
	case "json":
		return card.FormatJSON
	case "png":
		return card.FormatPNG
	case "charx":
		return card.FormatCharx
	case "voxta":
		return card.FormatVoxta
	default:
		return card.FormatUnknown
	}
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("cardx"),
		kong.Description("Character card normalization and container codec engine"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
