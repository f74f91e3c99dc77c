package m307

import "fmt"

// Fixed commands.
var (
	// CmdReadStatus requests the live status record.
	CmdReadStatus = Command{0x3F, 0xCD, 0xDC, 0x00}

	// CmdSetClock sets the device clock and the log interval.
	CmdSetClock = Command{0xDE, 0xCA, 0xDE, 0x00}

	// CmdReadLogInfo reads the device clock, log interval and entry count.
	CmdReadLogInfo = Command{0xDE, 0xCA, 0xDE, 0x02}

	// CmdReadLogEntry returns the next log entry, or the end marker.
	CmdReadLogEntry = Command{0xDE, 0xCA, 0xDE, 0x04}
)

// User record command prefixes. The record index goes in the last byte.
var (
	readRecordPrefix  = [3]byte{0xAA, 0xBB, 0xCC}
	writeRecordPrefix = [3]byte{0xDD, 0xCC, 0xBB}
)

// Protocol limits and markers.
const (
	// MaxRecordIndex is the highest user record index.
	MaxRecordIndex = 5

	// RecordCount is the number of user records.
	RecordCount = MaxRecordIndex + 1

	// MinLogRate and MaxLogRate bound the log interval in minutes.
	MinLogRate = 1
	MaxLogRate = 60

	// MinClockYear and MaxClockYear bound the years the BCD clock can hold.
	MinClockYear = 2000
	MaxClockYear = 2099

	// MaxLogEntries is the capacity of the device log.
	MaxLogEntries = 4000

	// logEndMarker starts the payload of the reply that ends a log drain.
	logEndMarker = "THE-END"

	// logStepReset asks the device to rewind its log pointer before
	// returning the first entry; logStepNext continues from the pointer.
	logStepReset byte = 0x01
	logStepNext  byte = 0x00
)

// validateRecordIndex checks a user record index.
func validateRecordIndex(index int) error {
	if index < 0 || index > MaxRecordIndex {
		return fmt.Errorf("%w: record index %d out of range 0-%d", ErrValidation, index, MaxRecordIndex)
	}
	return nil
}

// ReadRecordCommand returns the command that reads user record index.
func ReadRecordCommand(index int) (Command, error) {
	if err := validateRecordIndex(index); err != nil {
		return Command{}, err
	}
	return Command{readRecordPrefix[0], readRecordPrefix[1], readRecordPrefix[2], byte(index)}, nil
}

// WriteRecordCommand returns the command that writes user record index.
func WriteRecordCommand(index int) (Command, error) {
	if err := validateRecordIndex(index); err != nil {
		return Command{}, err
	}
	return Command{writeRecordPrefix[0], writeRecordPrefix[1], writeRecordPrefix[2], byte(index)}, nil
}

// CommandName returns a short name for logging.
func CommandName(c Command) string {
	switch {
	case c == CmdReadStatus:
		return "read_status"
	case c == CmdSetClock:
		return "set_clock"
	case c == CmdReadLogInfo:
		return "read_log_info"
	case c == CmdReadLogEntry:
		return "read_log_entry"
	case [3]byte(c[:3]) == readRecordPrefix && c[3] <= MaxRecordIndex:
		return fmt.Sprintf("read_record_%d", c[3])
	case [3]byte(c[:3]) == writeRecordPrefix && c[3] <= MaxRecordIndex:
		return fmt.Sprintf("write_record_%d", c[3])
	default:
		return "unknown"
	}
}
