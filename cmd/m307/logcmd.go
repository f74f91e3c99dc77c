package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
)

// errEmptyLog is returned by log export when the device holds no entries.
var errEmptyLog = errors.New("no log records to export")

// csvHeader is the first row of an exported log.
var csvHeader = []string{
	"Timestamp",
	"Temperature_1",
	"Temperature_2",
	"Internal_Temperature",
	"Internal_Humidity",
	"Door_1_State",
	"Door_2_State",
	"Power_Status",
}

func newLogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Set the logging clock and read the data log",
	}
	cmd.AddCommand(
		newLogSetTimeCmd(a),
		newLogInfoCmd(a),
		newLogReadCmd(a),
		newLogExportCmd(a),
	)
	return cmd
}

func newLogSetTimeCmd(a *app) *cobra.Command {
	var datetime string
	var rate int
	cmd := &cobra.Command{
		Use:   "set-time",
		Short: "Set the device clock and the log interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			at := time.Now()
			if datetime != "" {
				var err error
				at, err = time.ParseInLocation(time.DateTime, datetime, time.Local)
				if err != nil {
					return errInvalidFlag("datetime", "must be YYYY-MM-DD HH:MM:SS")
				}
			}
			if rate < m307.MinLogRate || rate > m307.MaxLogRate {
				return errInvalidFlag("rate", fmt.Sprintf("must be between %d and %d minutes", m307.MinLogRate, m307.MaxLogRate))
			}

			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				return c.SetClockAndLogRate(ctx, at, rate)
			})
			if err != nil {
				return err
			}
			a.println("Date/Time set to: %s", at.Format(time.DateTime))
			a.println("Log rate: %d minutes", rate)
			return nil
		},
	}
	cmd.Flags().StringVar(&datetime, "datetime", "", `clock value "YYYY-MM-DD HH:MM:SS" (default now)`)
	cmd.Flags().IntVar(&rate, "rate", 0, "log interval in minutes (1-60)")
	_ = cmd.MarkFlagRequired("rate") //nolint:errcheck // Flag is defined above
	return cmd
}

func newLogInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the device clock, log interval and entry count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var info m307.LogInfo
			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				var err error
				info, err = c.ReadLogInfo(ctx)
				return err
			})
			if err != nil {
				return err
			}
			if a.format == formatJSON {
				return a.print(info)
			}
			a.println("Device Date/Time: %s", info.Clock.Format(time.DateTime))
			a.println("Log Rate: %d minutes", info.LogRate)
			a.println("Total Records: %d", info.TotalRecords)
			return nil
		},
	}
}

// logReadFlags are shared by log read and log export.
type logReadFlags struct {
	output  string
	reset   bool
	noReset bool
	quiet   bool
}

func (f *logReadFlags) register(cmd *cobra.Command, outputUsage string) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", outputUsage)
	cmd.Flags().BoolVar(&f.reset, "reset", true, "rewind the log pointer and read from the oldest entry")
	cmd.Flags().BoolVar(&f.noReset, "no-reset", false, "continue from where the last read stopped")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not show progress")
	cmd.MarkFlagsMutuallyExclusive("reset", "no-reset")
}

// readLog drains the log, reporting progress on errOut unless quiet.
func (a *app) readLog(cmd *cobra.Command, f *logReadFlags) ([]m307.LogEntry, error) {
	reset := f.reset && !f.noReset
	var entries []m307.LogEntry

	err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
		var p *progress
		if !f.quiet {
			info, err := c.ReadLogInfo(ctx)
			if err != nil {
				return err
			}
			p = newProgress(a.errOut, "Reading log", info.TotalRecords)
			defer p.finish()
		}

		_, err := c.ReadLog(ctx, reset, func(e m307.LogEntry) error {
			entries = append(entries, e)
			p.update()
			return nil
		})
		return err
	})
	if err != nil {
		if len(entries) > 0 {
			return entries, fmt.Errorf("after %d entries: %w", len(entries), err)
		}
		return nil, err
	}
	return entries, nil
}

func newLogReadCmd(a *app) *cobra.Command {
	var f logReadFlags
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read the data log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.readLog(cmd, &f)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []m307.LogEntry{}
			}
			if f.output == "" {
				return a.print(entries)
			}

			file, err := os.Create(f.output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			if err := writeFormatted(file, entries, a.format); err != nil {
				file.Close() //nolint:errcheck // Write error takes precedence
				return fmt.Errorf("writing output file: %w", err)
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("writing output file: %w", err)
			}
			a.println("Log saved to: %s", f.output)
			return nil
		},
	}
	f.register(cmd, "write entries to this file instead of stdout")
	return cmd
}

func newLogExportCmd(a *app) *cobra.Command {
	var f logReadFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the data log to CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.readLog(cmd, &f)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return errEmptyLog
			}

			file, err := os.Create(f.output)
			if err != nil {
				return fmt.Errorf("creating CSV file: %w", err)
			}
			if err := writeCSV(file, entries); err != nil {
				file.Close() //nolint:errcheck // Write error takes precedence
				return fmt.Errorf("writing CSV file: %w", err)
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("writing CSV file: %w", err)
			}
			a.println("Log exported to: %s", f.output)
			a.println("Total records: %d", len(entries))
			return nil
		},
	}
	f.register(cmd, "CSV file to write")
	_ = cmd.MarkFlagRequired("output") //nolint:errcheck // Flag is defined above
	return cmd
}

// writeCSV writes entries in the export layout.
func writeCSV(w io.Writer, entries []m307.LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.Timestamp.Format(time.DateTime),
			csvReading(e.Temp1),
			csvReading(e.Temp2),
			csvReading(e.Internal),
			strconv.FormatFloat(e.Humidity, 'f', -1, 64),
			csvFlag(e.Door1),
			csvFlag(e.Door2),
			csvFlag(e.Power),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// csvReading leaves absent probes empty and writes wiring faults as inf/-inf.
func csvReading(r m307.Reading) string {
	switch {
	case !r.Present:
		return ""
	case r.OpenCircuit():
		return "inf"
	case r.ShortCircuit():
		return "-inf"
	default:
		return strconv.FormatFloat(r.Value, 'f', -1, 64)
	}
}

func csvFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// progress prints "description: n / total (p%)" on one line.
type progress struct {
	w           io.Writer
	description string
	total       int
	current     int
}

func newProgress(w io.Writer, description string, total int) *progress {
	return &progress{w: w, description: description, total: total}
}

// update counts one item. It is a no-op on a nil progress.
func (p *progress) update() {
	if p == nil {
		return
	}
	p.current++
	if p.total > 0 {
		fmt.Fprintf(p.w, "\r%s: %d / %d (%d%%)", p.description, p.current, p.total, 100*p.current/p.total)
		return
	}
	fmt.Fprintf(p.w, "\r%s: %d", p.description, p.current)
}

func (p *progress) finish() {
	if p == nil {
		return
	}
	fmt.Fprintln(p.w)
}
