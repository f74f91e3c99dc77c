package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
	"github.com/nerrad567/m307-core/internal/infrastructure/config"
	"github.com/nerrad567/m307-core/internal/infrastructure/logging"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
)

// app carries the global flags and the state shared by every subcommand.
type app struct {
	// Global flags
	host       string
	port       int
	timeout    float64
	format     string
	configPath string
	verbose    bool

	cfg *config.Config
	log *logging.Logger

	out    io.Writer
	errOut io.Writer
}

// newRootCmd builds the command tree writing results to out and progress
// and diagnostics to errOut.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "m307",
		Short: "Client for the M307 Temperature Guard",
		Long: `Read and configure an M307 Temperature Guard over TCP.

The unit answers one request at a time on port 10001. Every command opens
its own connection and closes it when done.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.host, "host", "", "device hostname or IP address")
	flags.IntVar(&a.port, "port", m307.DefaultPort, "device TCP port")
	flags.Float64Var(&a.timeout, "timeout", 0, "connect and request timeout in seconds (default from config, 5)")
	flags.StringVar(&a.format, "format", formatText, "output format: text or json")
	flags.StringVar(&a.configPath, "config", "", "YAML configuration file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log protocol exchanges to stderr")

	root.AddCommand(
		newStatusCmd(a),
		newTemperatureCmd(a),
		newHumidityCmd(a),
		newDoorCmd(a),
		newBatteryCmd(a),
		newPowerCmd(a),
		newDeviceInfoCmd(a),
		newSensorNamesCmd(a),
		newLimitsCmd(a),
		newCalibrateCmd(a),
		newSettingsCmd(a),
		newLogCmd(a),
		newRecordCmd(a),
		newBridgeCmd(a),
	)
	return root
}

// setup loads configuration and applies the global flags on top of it.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	switch a.format {
	case formatText, formatJSON:
	default:
		return fmt.Errorf("invalid --format %q: use text or json", a.format)
	}

	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		a.cfg = cfg
	} else {
		a.cfg = config.Default()
		// Keep the terminal quiet unless asked.
		a.cfg.Logging.Level = "warn"
	}

	flags := cmd.Flags()
	if a.host != "" {
		a.cfg.Device.Host = a.host
	}
	if flags.Changed("port") {
		a.cfg.Device.Port = a.port
	}
	if a.verbose {
		a.cfg.Logging.Level = "debug"
	}

	a.log = logging.NewWithWriter(a.cfg.Logging, version, a.errOut)
	return nil
}

// sessionConfig returns the device connection settings.
func (a *app) sessionConfig() (m307.SessionConfig, error) {
	if a.cfg.Device.Host == "" {
		return m307.SessionConfig{}, fmt.Errorf("%w: device host is required (--host or device.host)", m307.ErrValidation)
	}
	sc := a.cfg.Device.SessionConfig(a.log)
	if a.timeout > 0 {
		d := time.Duration(a.timeout * float64(time.Second))
		sc.ConnectTimeout = d
		sc.RequestTimeout = d
	}
	return sc, nil
}

// withClient runs fn with a client connected for the duration of the call.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *m307.Client) error) error {
	sc, err := a.sessionConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	return m307.WithSession(ctx, sc, func(c *m307.Client) error {
		return fn(ctx, c)
	})
}

// print writes v in the selected format.
func (a *app) print(v any) error {
	return writeFormatted(a.out, v, a.format)
}

// println writes a plain text line regardless of format.
func (a *app) println(format string, args ...any) {
	fmt.Fprintf(a.out, format+"\n", args...)
}

// writeFormatted writes v as indented JSON or as sorted key: value text.
func writeFormatted(w io.Writer, v any, format string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	if format == formatJSON {
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	// Text output walks the JSON form so field names match the JSON keys.
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("decoding output: %w", err)
	}
	var b strings.Builder
	renderText(&b, generic, 0)
	_, err = io.WriteString(w, b.String())
	return err
}

func renderText(b *strings.Builder, v any, indent int) {
	prefix := strings.Repeat("  ", indent)
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch child := val[k].(type) {
			case map[string]any, []any:
				fmt.Fprintf(b, "%s%s:\n", prefix, k)
				renderText(b, child, indent+1)
			default:
				fmt.Fprintf(b, "%s%s: %s\n", prefix, k, scalarText(child))
			}
		}
	case []any:
		for i, item := range val {
			if i > 0 && indent == 0 {
				b.WriteString("\n")
			}
			renderText(b, item, indent)
		}
	default:
		fmt.Fprintf(b, "%s%s\n", prefix, scalarText(val))
	}
}

func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return "none"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
