package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
)

// errNothingToSet is returned by set commands given no values.
var errNothingToSet = errors.New("nothing to set")

func errInvalidFlag(name, reason string) error {
	return fmt.Errorf("%w: --%s %s", m307.ErrValidation, name, reason)
}

// tenths converts a user value in degrees or %RH to device tenths.
func tenths(v float64) int {
	return int(math.Round(v * 10))
}

// ─── device-info ───────────────────────────────────────────────────

func newDeviceInfoCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device-info",
		Short: "Read or change the device identity (record 1)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show device name, unit, MAC address and serial number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var info m307.DeviceInfo
			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				var err error
				info, err = c.ReadDeviceInfo(ctx)
				return err
			})
			if err != nil {
				return err
			}
			return a.print(info)
		},
	})

	var name, unit, mac, serial string
	set := &cobra.Command{
		Use:   "set",
		Short: "Change device identity fields; unset fields are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if !flags.Changed("name") && !flags.Changed("unit") && !flags.Changed("mac") && !flags.Changed("serial") {
				return fmt.Errorf("%w: use --name, --unit, --mac or --serial", errNothingToSet)
			}
			var u m307.Unit
			if flags.Changed("unit") {
				var err error
				if u, err = m307.ParseUnit(unit); err != nil {
					return err
				}
			}

			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				_, err := c.UpdateDeviceInfo(ctx, func(d *m307.DeviceInfo) {
					if flags.Changed("name") {
						d.Name = name
					}
					if flags.Changed("unit") {
						d.Unit = u
					}
					if flags.Changed("mac") {
						d.MACAddress = mac
					}
					if flags.Changed("serial") {
						d.Serial = serial
					}
				})
				return err
			})
			if err != nil {
				return err
			}
			a.println("Device information updated")
			return nil
		},
	}
	set.Flags().StringVar(&name, "name", "", "device name (max 20 characters)")
	set.Flags().StringVar(&unit, "unit", "", "temperature unit: C or F")
	set.Flags().StringVar(&mac, "mac", "", "MAC address text")
	set.Flags().StringVar(&serial, "serial", "", "serial number (max 10 characters)")
	cmd.AddCommand(set)

	return cmd
}

// ─── sensor-names ──────────────────────────────────────────────────

// sensorNamesView is the combined output of the three name records.
type sensorNamesView struct {
	Temperature struct {
		Sensor1 string `json:"sensor_1"`
		Sensor2 string `json:"sensor_2"`
	} `json:"temperature_sensors"`
	Door struct {
		Door1 string `json:"door_1"`
		Door2 string `json:"door_2"`
	} `json:"door_sensors"`
	Internal struct {
		Temperature string `json:"temperature"`
		Humidity    string `json:"humidity"`
	} `json:"internal_sensors"`
}

func newSensorNamesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensor-names",
		Short: "Read or change input names (records 2, 3 and 5)",
		Long: `Read or change input names.

The device only raises alarms for inputs that have a name. Names longer
than 20 characters are truncated.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show all input names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var view sensorNamesView
			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				temp, err := c.ReadSensorNames(ctx, m307.RecordTempNames)
				if err != nil {
					return err
				}
				door, err := c.ReadSensorNames(ctx, m307.RecordDoorNames)
				if err != nil {
					return err
				}
				internal, err := c.ReadSensorNames(ctx, m307.RecordInternalNames)
				if err != nil {
					return err
				}
				view.Temperature.Sensor1, view.Temperature.Sensor2 = temp.First, temp.Second
				view.Door.Door1, view.Door.Door2 = door.First, door.Second
				view.Internal.Temperature, view.Internal.Humidity = internal.First, internal.Second
				return nil
			})
			if err != nil {
				return err
			}
			return a.print(view)
		},
	})

	setters := []struct {
		use, short, done string
		set              func(*m307.Client) func(context.Context, string, string) error
	}{
		{"set-temp <sensor1> <sensor2>", "Name the external temperature probes", "Temperature sensor names updated",
			func(c *m307.Client) func(context.Context, string, string) error { return c.SetTemperatureSensorNames }},
		{"set-door <door1> <door2>", "Name the door inputs", "Door sensor names updated",
			func(c *m307.Client) func(context.Context, string, string) error { return c.SetDoorSensorNames }},
		{"set-internal <temperature> <humidity>", "Name the internal sensors", "Internal sensor names updated",
			func(c *m307.Client) func(context.Context, string, string) error { return c.SetInternalSensorNames }},
	}
	for _, s := range setters {
		cmd.AddCommand(&cobra.Command{
			Use:   s.use,
			Short: s.short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
					return s.set(c)(ctx, args[0], args[1])
				})
				if err != nil {
					return err
				}
				a.println(s.done)
				return nil
			},
		})
	}

	return cmd
}

// ─── limits and calibration ────────────────────────────────────────

func newLimitsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Read or change alarm limits and delays (record 0)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show alarm limits, delays and corrections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var l m307.Limits
			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				var err error
				l, err = c.ReadLimits(ctx)
				return err
			})
			if err != nil {
				return err
			}
			return a.print(l)
		},
	})

	var (
		file                   string
		sensor                 string
		lower, upper, delay    int
		humidity               bool
		humLower, humUpper     float64
		humDelay               int
		door1Delay, door2Delay int
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Change alarm limits; unset values are kept",
		Long: `Change alarm limits. Unset values are kept.

With --file, a JSON document in the "limits get --format json" shape is
applied; keys it omits are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			var update func(*m307.Limits)

			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading limits file: %w", err)
				}
				var probe m307.Limits
				if err := json.Unmarshal(data, &probe); err != nil {
					return fmt.Errorf("%w: limits file: %w", m307.ErrValidation, err)
				}
				// Decoding onto the current limits keeps absent keys.
				update = func(l *m307.Limits) { _ = json.Unmarshal(data, l) } //nolint:errcheck // Checked above
			} else {
				var sl func(*m307.Limits) *m307.SensorLimits
				if flags.Changed("sensor") {
					id, err := m307.ParseSensorID(sensor)
					if err != nil {
						return err
					}
					sl = limitsFor(id)
				}
				changes := []func(*m307.Limits){}
				if sl != nil {
					if flags.Changed("lower") {
						changes = append(changes, func(l *m307.Limits) { sl(l).Lower = lower })
					}
					if flags.Changed("upper") {
						changes = append(changes, func(l *m307.Limits) { sl(l).Upper = upper })
					}
					if flags.Changed("delay") {
						changes = append(changes, func(l *m307.Limits) { sl(l).Delay = delay })
					}
				}
				if humidity {
					if flags.Changed("humidity-lower") {
						changes = append(changes, func(l *m307.Limits) { l.Humidity.Lower = tenths(humLower) })
					}
					if flags.Changed("humidity-upper") {
						changes = append(changes, func(l *m307.Limits) { l.Humidity.Upper = tenths(humUpper) })
					}
					if flags.Changed("humidity-delay") {
						changes = append(changes, func(l *m307.Limits) { l.Humidity.Delay = humDelay })
					}
				}
				if flags.Changed("door1-delay") {
					changes = append(changes, func(l *m307.Limits) { l.Door1Delay = door1Delay })
				}
				if flags.Changed("door2-delay") {
					changes = append(changes, func(l *m307.Limits) { l.Door2Delay = door2Delay })
				}
				if len(changes) == 0 {
					return fmt.Errorf("%w: use --sensor, --humidity, --door1-delay, --door2-delay or --file", errNothingToSet)
				}
				update = func(l *m307.Limits) {
					for _, change := range changes {
						change(l)
					}
				}
			}

			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				_, err := c.UpdateLimits(ctx, update)
				return err
			})
			if err != nil {
				return err
			}
			a.println("Sensor limits updated")
			return nil
		},
	}
	f := set.Flags()
	f.StringVar(&file, "file", "", "JSON file with limits to apply")
	f.StringVar(&sensor, "sensor", "", "temperature sensor to change: 1, 2 or internal")
	f.IntVar(&lower, "lower", 0, "lower temperature limit")
	f.IntVar(&upper, "upper", 0, "upper temperature limit")
	f.IntVar(&delay, "delay", 0, "temperature alarm delay in minutes")
	f.BoolVar(&humidity, "humidity", false, "change humidity limits")
	f.Float64Var(&humLower, "humidity-lower", 0, "lower humidity limit in %RH")
	f.Float64Var(&humUpper, "humidity-upper", 0, "upper humidity limit in %RH")
	f.IntVar(&humDelay, "humidity-delay", 0, "humidity alarm delay in minutes")
	f.IntVar(&door1Delay, "door1-delay", 0, "door 1 alarm delay in minutes")
	f.IntVar(&door2Delay, "door2-delay", 0, "door 2 alarm delay in minutes")
	set.MarkFlagsMutuallyExclusive("file", "sensor")
	set.MarkFlagsMutuallyExclusive("file", "humidity")
	cmd.AddCommand(set)

	return cmd
}

// limitsFor selects the limits of one temperature input.
func limitsFor(id m307.SensorID) func(*m307.Limits) *m307.SensorLimits {
	switch id {
	case m307.SensorTemp1:
		return func(l *m307.Limits) *m307.SensorLimits { return &l.Temp1 }
	case m307.SensorTemp2:
		return func(l *m307.Limits) *m307.SensorLimits { return &l.Temp2 }
	default:
		return func(l *m307.Limits) *m307.SensorLimits { return &l.Internal }
	}
}

func newCalibrateCmd(a *app) *cobra.Command {
	var sensor1, sensor2, internal, humidity float64
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Set reading corrections in degrees (or %RH)",
		Long: `Set the offsets the device adds to each reading.

Values are in degrees (or %RH for --humidity) with one decimal place,
for example --sensor1 -0.5.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if !flags.Changed("sensor1") && !flags.Changed("sensor2") &&
				!flags.Changed("internal") && !flags.Changed("humidity") {
				return fmt.Errorf("%w: no correction factors specified", errNothingToSet)
			}
			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				_, err := c.UpdateLimits(ctx, func(l *m307.Limits) {
					if flags.Changed("sensor1") {
						l.Temp1Correction = tenths(sensor1)
					}
					if flags.Changed("sensor2") {
						l.Temp2Correction = tenths(sensor2)
					}
					if flags.Changed("internal") {
						l.InternalCorrection = tenths(internal)
					}
					if flags.Changed("humidity") {
						l.HumidityCorrection = tenths(humidity)
					}
				})
				return err
			})
			if err != nil {
				return err
			}
			a.println("Calibration corrections applied")
			return nil
		},
	}
	cmd.Flags().Float64Var(&sensor1, "sensor1", 0, "correction for temperature sensor 1")
	cmd.Flags().Float64Var(&sensor2, "sensor2", 0, "correction for temperature sensor 2")
	cmd.Flags().Float64Var(&internal, "internal", 0, "correction for the internal temperature")
	cmd.Flags().Float64Var(&humidity, "humidity", 0, "correction for the internal humidity")
	return cmd
}

// ─── settings ──────────────────────────────────────────────────────

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change relay, reminder and buzzer settings (record 4)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show device settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s m307.Settings
			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				var err error
				s, err = c.ReadSettings(ctx)
				return err
			})
			if err != nil {
				return err
			}
			return a.print(s)
		},
	})

	var relayLogic, reminder, doorAlarm int
	var buzzer bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Change device settings; unset values are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if !flags.Changed("relay-logic") && !flags.Changed("alarm-reminder") &&
				!flags.Changed("buzzer") && !flags.Changed("door-alarm") {
				return fmt.Errorf("%w: no settings specified", errNothingToSet)
			}
			if flags.Changed("relay-logic") && relayLogic != m307.RelayNormallyOff && relayLogic != m307.RelayNormallyOn {
				return errInvalidFlag("relay-logic", "must be 0 or 1")
			}

			err := a.withClient(cmd, func(ctx context.Context, c *m307.Client) error {
				_, err := c.UpdateSettings(ctx, func(s *m307.Settings) {
					if flags.Changed("relay-logic") {
						s.RelayLogic = relayLogic
					}
					if flags.Changed("alarm-reminder") {
						s.AlarmReminderDelay = reminder
					}
					if flags.Changed("buzzer") {
						s.BuzzerEnabled = buzzer
					}
					if flags.Changed("door-alarm") {
						s.TwoStageDoorAlarmDelay = doorAlarm
					}
				})
				return err
			})
			if err != nil {
				return err
			}
			a.println("Device settings updated")
			return nil
		},
	}
	set.Flags().IntVar(&relayLogic, "relay-logic", 0, "relay logic: 0 normally off, 1 normally on")
	set.Flags().IntVar(&reminder, "alarm-reminder", 0, "alarm reminder delay in minutes (0 disables)")
	set.Flags().BoolVar(&buzzer, "buzzer", false, "enable the buzzer (--buzzer=false to disable)")
	set.Flags().IntVar(&doorAlarm, "door-alarm", 0, "two-stage door alarm delay in minutes")
	cmd.AddCommand(set)

	return cmd
}
