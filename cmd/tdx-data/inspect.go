package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"tdx-data/internal/model"
	"tdx-data/internal/store"
)

type inspectCmd struct {
	configFlags
}

func (*inspectCmd) Name() string     { return "inspect" }
func (*inspectCmd) Synopsis() string { return "List stored series or print their records." }
func (*inspectCmd) Usage() string {
	return `inspect [-store dir] [instrument_id...]

Without arguments lists every series with its record count and date range.
With instrument ids prints the records of each.
`
}

func (c *inspectCmd) SetFlags(f *flag.FlagSet) { c.configFlags.register(f) }

func (c *inspectCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	r, err := setup(&c.configFlags, nil)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return subcommands.ExitFailure
	}
	if f.NArg() == 0 {
		if err := listSeries(r.Store); err != nil {
			slog.Error("list failed", "error", err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	status := subcommands.ExitSuccess
	for _, id := range f.Args() {
		s, err := r.Store.Read(id)
		if err != nil {
			slog.Error("read failed", "instrument", id, "error", err)
			status = subcommands.ExitFailure
			continue
		}
		printSeries(s)
	}
	return status
}

func listSeries(st *store.Store) error {
	list, err := st.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTRUMENT\tRECORDS\tFIRST\tLAST")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.InstrumentID, s.RecordCount, s.FirstDate, s.LastDate)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d series in %s\n", len(list), st.Dir())
	return nil
}

func printSeries(s model.Series) {
	fmt.Printf("== %s (%d records)\n", s.InstrumentID, s.RecordCount())
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DATE\tOPEN\tHIGH\tLOW\tCLOSE\tAMOUNT\tVOLUME\tPREV_CLOSE\t")
	for _, r := range s.Records {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%s\t%s\t%s\t\n",
			r.Date, r.Open, r.High, r.Low, r.Close, opt(r.Amount), opt(r.Volume), opt(r.PrevClose))
	}
	w.Flush()
}

func opt(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}
