package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	flag "github.com/spf13/pflag"

	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/pdfdoc"
)

func runInspect(ctx context.Context, args []string, env *environment) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	template := fs.StringP("template", "t", "", "template PDF")
	draftPath := fs.StringP("draft", "d", "", "editor draft JSON to check against the template")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *template == "" && fs.NArg() == 1 {
		*template = fs.Arg(0)
	}
	if *template == "" {
		return fmt.Errorf("%w: inspect needs --template", ErrUsage)
	}

	data, err := os.ReadFile(*template)
	if err != nil {
		return fmt.Errorf("%w: template: %w", ErrReadInput, err)
	}
	doc, err := pdfdoc.Open(ctx, data, pdfdoc.Options{})
	if err != nil {
		return fmt.Errorf("%w: open template: %w", diag.ErrUnrecoverableInput, err)
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "page\twidth\theight\trotate\n")
	for _, p := range doc.Pages() {
		w, h := p.Size()
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%d\n", p.Index()+1, w, h, p.Rotation())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if *draftPath == "" {
		return nil
	}
	raw, err := os.ReadFile(*draftPath)
	if err != nil {
		return fmt.Errorf("%w: draft: %w", ErrReadInput, err)
	}
	d, findings, err := draft.Normalize(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", diag.ErrUnrecoverableInput, err)
	}
	total := doc.NumPages() + len(d.AppendedPages)
	fmt.Fprintf(env.stdout, "\ndraft: %d overlay pages, %d appended pages\n", len(d.Pages), len(d.AppendedPages))
	for _, p := range d.Pages {
		note := ""
		if p.Index >= total {
			note = " (no such page)"
		}
		fmt.Fprintf(env.stdout, "  page %d: %d objects%s\n", p.Index+1, len(p.Objects), note)
	}
	for _, e := range findings {
		fmt.Fprintf(env.stdout, "  %s\n", e)
	}
	return nil
}
