package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/target/smart-resizer/internal/bootstrap"
	"github.com/target/smart-resizer/internal/domain/format"
	"github.com/target/smart-resizer/internal/domain/pricing"
)

type formatsOptions struct {
	Platform string
	JSON     bool
}

type quoteOptions struct {
	Tier       string
	Resolution string
	Units      int
	JSON       bool
}

func runFormats(cmdCtx *commandContext, args []string) error {
	opts, err := parseFormatsFlags(args)
	if err != nil {
		return err
	}
	catalog, _, err := bootstrap.LoadCatalog(cmdCtx.Config.Catalog, cmdCtx.Logger)
	if err != nil {
		return err
	}
	return renderFormats(cmdCtx.Out, catalog, opts)
}

func renderFormats(w io.Writer, catalog *format.Catalog, opts formatsOptions) error {
	var platform format.Platform
	if strings.TrimSpace(opts.Platform) != "" {
		p, err := format.ParsePlatform(opts.Platform)
		if err != nil {
			return err
		}
		platform = p
	}
	specs, err := catalog.Entries(platform)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"formats": specs, "packs": catalog.Packs()})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "KEY\tPLATFORM\tSIZE\tDESCRIPTION"); err != nil {
		return err
	}
	for _, s := range specs {
		if err := writef(tw, "%s\t%s\t%dx%d\t%s\n", s.Key, s.Platform, s.Width, s.Height, s.Description); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if platform != "" {
		return nil
	}

	if err := writeln(w, "\nPacks:"); err != nil {
		return err
	}
	for _, p := range catalog.Packs() {
		if err := writef(w, "  %-20s %s\n", p.Name, strings.Join(p.FormatKeys, ", ")); err != nil {
			return err
		}
	}
	return nil
}

func runQuote(cmdCtx *commandContext, args []string) error {
	opts, err := parseQuoteFlags(args)
	if err != nil {
		return err
	}
	_, calc, err := bootstrap.LoadCatalog(cmdCtx.Config.Catalog, cmdCtx.Logger)
	if err != nil {
		return err
	}
	return renderQuote(cmdCtx.Out, calc, opts)
}

func renderQuote(w io.Writer, calc *pricing.Calculator, opts quoteOptions) error {
	tier, err := pricing.ParseTier(opts.Tier)
	if err != nil {
		return err
	}
	q, err := calc.Quote(tier, pricing.NormalizeResolution(opts.Resolution), opts.Units)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	}

	label := string(q.Tier)
	if q.Resolution != "" {
		label += " " + string(q.Resolution)
	}
	return writef(w, "%s x%d: cost $%.4f, revenue $%.4f, profit $%.4f\n",
		label, q.UnitCount, q.TotalCost.Dollars(), q.TotalRevenue.Dollars(), q.Profit.Dollars())
}

func parseFormatsFlags(args []string) (formatsOptions, error) {
	fs := flag.NewFlagSet("formats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts formatsOptions
	fs.StringVar(&opts.Platform, "platform", "", "Only list formats for this platform")
	fs.BoolVar(&opts.JSON, "json", false, "Print JSON instead of a table")

	if err := fs.Parse(args); err != nil {
		return formatsOptions{}, err
	}
	return opts, nil
}

func parseQuoteFlags(args []string) (quoteOptions, error) {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := quoteOptions{Units: 1}
	fs.StringVar(&opts.Tier, "tier", string(pricing.TierFlash), "Model tier (flash or pro)")
	fs.StringVar(&opts.Resolution, "resolution", "", "Resolution class for the pro tier (1k, 2k, 4k)")
	fs.IntVar(&opts.Units, "units", 1, "Number of units to price")
	fs.BoolVar(&opts.JSON, "json", false, "Print JSON instead of a summary line")

	if err := fs.Parse(args); err != nil {
		return quoteOptions{}, err
	}
	if opts.Units < 0 {
		return quoteOptions{}, fmt.Errorf("--units must not be negative, got %d", opts.Units)
	}
	return opts, nil
}
