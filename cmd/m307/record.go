package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
	"github.com/nerrad567/m307-core/internal/infrastructure/database"
	"github.com/nerrad567/m307-core/internal/recordstore"
	"github.com/nerrad567/m307-core/migrations"
)

const (
	// hexDumpWidth is the number of bytes per hex dump row.
	hexDumpWidth = 16

	// recordFilePerm is the mode of raw record files written by record read.
	recordFilePerm = 0o644
)

func newRecordCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Raw user record access and backups",
		Long: `Raw user record access and backups.

A record file is the full 60-byte image the device returns: the 4-byte
command header followed by 56 data bytes. Backups are kept in the SQLite
database named by database.path.`,
	}
	cmd.AddCommand(
		newRecordReadCmd(a),
		newRecordWriteCmd(a),
		newRecordBackupCmd(a),
		newRecordRestoreCmd(a),
		newRecordListCmd(a),
	)
	return cmd
}

func checkRecordFlag(index int) error {
	if index < 0 || index > m307.MaxRecordIndex {
		return errInvalidFlag("record", fmt.Sprintf("must be between 0 and %d", m307.MaxRecordIndex))
	}
	return nil
}

func newRecordReadCmd(a *app) *cobra.Command {
	var index int
	var output string
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read one user record as a hex dump or to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkRecordFlag(index); err != nil {
				return err
			}
			var rec m307.Record
			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				var err error
				rec, err = c.ReadUserRecord(ctx, index)
				return err
			})
			if err != nil {
				return err
			}

			if output != "" {
				if err := os.WriteFile(output, rec[:], recordFilePerm); err != nil {
					return fmt.Errorf("writing record file: %w", err)
				}
				a.println("Record %d saved to: %s", index, output)
				return nil
			}
			if a.format == formatJSON {
				ints := make([]int, len(rec))
				for i, b := range rec {
					ints[i] = int(b)
				}
				return a.print(map[string][]int{"record": ints})
			}
			a.println("Record %d (%d bytes):", index, m307.PacketSize)
			hexDump(a.out, rec[:])
			return nil
		},
	}
	cmd.Flags().IntVarP(&index, "record", "r", 0, "record index (0-5)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the raw 60 bytes to this file")
	_ = cmd.MarkFlagRequired("record") //nolint:errcheck // Flag is defined above
	return cmd
}

// hexDump writes data as offset, hex bytes and printable ASCII per row.
func hexDump(w io.Writer, data []byte) {
	for off := 0; off < len(data); off += hexDumpWidth {
		row := data[off:min(off+hexDumpWidth, len(data))]

		hexParts := make([]string, len(row))
		var ascii strings.Builder
		for i, b := range row {
			hexParts[i] = fmt.Sprintf("%02x", b)
			if b >= ' ' && b <= '~' {
				ascii.WriteByte(b)
			} else {
				ascii.WriteByte('.')
			}
		}
		fmt.Fprintf(w, "%04x  %-48s  %s\n", off, strings.Join(hexParts, " "), ascii.String())
	}
}

func newRecordWriteCmd(a *app) *cobra.Command {
	var index int
	var file string
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write one user record from a 60-byte file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkRecordFlag(index); err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading record file: %w", err)
			}
			if len(data) != m307.PacketSize {
				return fmt.Errorf("%w: file must be exactly %d bytes (got %d)", m307.ErrValidation, m307.PacketSize, len(data))
			}

			err = a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				return c.WriteUserRecord(ctx, index, data[m307.CommandSize:])
			})
			if err != nil {
				return err
			}
			a.println("Record %d written successfully", index)
			return nil
		},
	}
	cmd.Flags().IntVarP(&index, "record", "r", 0, "record index (0-5)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "60-byte record file")
	_ = cmd.MarkFlagRequired("record") //nolint:errcheck // Flag is defined above
	_ = cmd.MarkFlagRequired("file")   //nolint:errcheck // Flag is defined above
	return cmd
}

// withStore opens and migrates the backup database for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(*recordstore.SQLiteRepository) error) (err error) {
	db, err := database.Open(a.cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return fn(recordstore.NewSQLiteRepository(db.DB))
}

// readAllRecords reads every user record in index order.
func readAllRecords(ctx context.Context, c *m307.Client) ([]m307.Record, error) {
	records := make([]m307.Record, 0, m307.RecordCount)
	for i := 0; i < m307.RecordCount; i++ {
		rec, err := c.ReadUserRecord(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("reading record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func newRecordBackupCmd(a *app) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Store all six user records in the backup database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var records []m307.Record
			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				var err error
				records, err = readAllRecords(ctx, c)
				return err
			})
			if err != nil {
				return err
			}

			b := &recordstore.Backup{DeviceID: a.cfg.Device.ID, Label: label, Records: records}
			err = a.withStore(cmd.Context(), func(repo *recordstore.SQLiteRepository) error {
				return repo.Save(cmd.Context(), b)
			})
			if err != nil {
				return err
			}
			if a.format == formatJSON {
				return a.print(recordstore.Summary{
					ID: b.ID, DeviceID: b.DeviceID, Label: b.Label,
					CreatedAt: b.CreatedAt, RecordCount: len(b.Records),
				})
			}
			a.println("Backup %s saved (%d records)", b.ID, len(b.Records))
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "free text stored with the backup")
	return cmd
}

func newRecordRestoreCmd(a *app) *cobra.Command {
	var latest bool
	var only int
	cmd := &cobra.Command{
		Use:   "restore [backup-id]",
		Short: "Write the records of a backup back to the device",
		Args: func(cmd *cobra.Command, args []string) error {
			if latest {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("record") {
				if err := checkRecordFlag(only); err != nil {
					return err
				}
			}

			var b *recordstore.Backup
			err := a.withStore(cmd.Context(), func(repo *recordstore.SQLiteRepository) error {
				var err error
				if latest {
					b, err = repo.Latest(cmd.Context(), a.cfg.Device.ID)
				} else {
					b, err = repo.Get(cmd.Context(), args[0])
				}
				return err
			})
			if err != nil {
				return err
			}

			restore := b.Records
			if flags.Changed("record") {
				restore = restore[:0:0]
				for _, rec := range b.Records {
					if rec.Index() == only {
						restore = append(restore, rec)
					}
				}
				if len(restore) == 0 {
					return fmt.Errorf("%w: backup %s has no record %d", recordstore.ErrInvalidBackup, b.ID, only)
				}
			}

			err = a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				for _, rec := range restore {
					if err := c.WriteRecord(ctx, rec); err != nil {
						return fmt.Errorf("restoring record %d: %w", rec.Index(), err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			a.println("Restored %d records from backup %s", len(restore), b.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "restore the newest backup of this device")
	cmd.Flags().IntVarP(&only, "record", "r", 0, "restore only this record index")
	return cmd
}

func newRecordListCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deviceID := a.cfg.Device.ID
			if all {
				deviceID = ""
			}
			var list []recordstore.Summary
			err := a.withStore(cmd.Context(), func(repo *recordstore.SQLiteRepository) error {
				var err error
				list, err = repo.List(cmd.Context(), deviceID)
				return err
			})
			if err != nil {
				return err
			}
			if list == nil {
				list = []recordstore.Summary{}
			}
			if a.format == formatJSON {
				return a.print(list)
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDEVICE\tCREATED\tRECORDS\tLABEL")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.DeviceID, s.CreatedAt.Local().Format(time.DateTime), s.RecordCount, s.Label)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list backups of every device")
	return cmd
}
