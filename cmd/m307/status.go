package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
)

// ─── Live status ───────────────────────────────────────────────────

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the complete live status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.readStatus(cmd)
			if err != nil {
				return err
			}
			return a.print(st)
		},
	}
}

func (a *app) readStatus(cmd *cobra.Command) (m307.Status, error) {
	var st m307.Status
	err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
		var err error
		st, err = c.ReadStatus(ctx)
		return err
	})
	return st, err
}

func alarmText(alarm bool) string {
	if alarm {
		return "ALARM"
	}
	return "OK"
}

func newTemperatureCmd(a *app) *cobra.Command {
	var sensor string
	cmd := &cobra.Command{
		Use:   "temperature",
		Short: "Read one temperature input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := m307.ParseSensorID(sensor)
			if err != nil {
				return err
			}
			st, err := a.readStatus(cmd)
			if err != nil {
				return err
			}
			ch, err := st.Temperature(id)
			if err != nil {
				return err
			}
			if a.format == formatJSON {
				return a.print(ch)
			}

			switch {
			case !ch.Reading.Present:
				a.println("Sensor %s: No sensor connected", sensor)
			case ch.Reading.OpenCircuit():
				a.println("Sensor %s: Open circuit", sensor)
			case ch.Reading.ShortCircuit():
				a.println("Sensor %s: Shorted", sensor)
			default:
				a.println("Sensor %s: %s %s (%s)", sensor, ch.Reading, st.Unit, alarmText(ch.Alarm))
				if ch.Alarm {
					a.println("  Out of limits for %d minutes", ch.MinutesOutOfLimits)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sensor, "sensor", "1", "sensor: 1, 2 or internal")
	return cmd
}

func newHumidityCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "humidity",
		Short: "Read the internal humidity sensor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.readStatus(cmd)
			if err != nil {
				return err
			}
			h := st.Humidity
			if a.format == formatJSON {
				return a.print(h)
			}
			a.println("Humidity: %.1f%% RH (%s)", h.Value, alarmText(h.Alarm))
			if h.Alarm {
				a.println("  Out of limits for %d minutes", h.MinutesOutOfLimits)
			}
			return nil
		},
	}
}

func newDoorCmd(a *app) *cobra.Command {
	var door int
	cmd := &cobra.Command{
		Use:   "door",
		Short: "Read one door input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if door != 1 && door != 2 {
				return errInvalidFlag("door", "must be 1 or 2")
			}
			st, err := a.readStatus(cmd)
			if err != nil {
				return err
			}
			ch, err := st.Door(door)
			if err != nil {
				return err
			}
			if a.format == formatJSON {
				return a.print(ch)
			}
			state := "OPEN"
			if ch.Closed {
				state = "CLOSED"
			}
			a.println("Door %d: %s (%s)", door, state, alarmText(ch.Alarm))
			if ch.Alarm {
				a.println("  Open for %d minutes", ch.MinutesOutOfLimits)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&door, "door", 1, "door: 1 or 2")
	return cmd
}

func newBatteryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "battery",
		Short: "Read the backup battery voltage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.readStatus(cmd)
			if err != nil {
				return err
			}
			if a.format == formatJSON {
				return a.print(map[string]float64{"battery_voltage": st.BatteryVoltage})
			}
			a.println("Battery: %.2fV", st.BatteryVoltage)
			return nil
		},
	}
}

func newPowerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "power",
		Short: "Read the main power state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.readStatus(cmd)
			if err != nil {
				return err
			}
			if a.format == formatJSON {
				return a.print(map[string]bool{"main_power": st.MainPower})
			}
			state := "OFF"
			if st.MainPower {
				state = "ON"
			}
			a.println("Main Power: %s", state)
			return nil
		},
	}
}
