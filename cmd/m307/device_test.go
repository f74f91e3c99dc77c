package main

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
)

// simDevice is a loopback M307 answering with fixed status, log info, log
// entries and records.
type simDevice struct {
	mu      sync.Mutex
	status  m307.Packet
	logInfo m307.Packet
	log     [][]byte
	logPos  int
	records [m307.RecordCount]m307.Record
	writes  []int

	listener net.Listener
	wg       sync.WaitGroup
}

func newSimDevice(t *testing.T) *simDevice {
	t.Helper()
	d := &simDevice{status: simStatus(t)}
	for i := range d.records {
		rec, err := m307.NewRecord(i)
		if err != nil {
			t.Fatalf("NewRecord(%d) error: %v", i, err)
		}
		d.records[i] = rec
	}
	copy(d.records[m307.RecordTempNames][8:], "Cold room")
	copy(d.records[m307.RecordTempNames][28:], "Freezer")
	d.logInfo = simLogInfo(t, time.Date(2024, 3, 15, 14, 30, 12, 0, time.Local), 5, 0)
	return d
}

// listen serves on 127.0.0.1 and returns the address.
func (d *simDevice) listen(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	d.listener = listener

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			d.wg.Add(1)
			go d.serve(conn)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		d.wg.Wait()
	})
	return listener.Addr().String()
}

func (d *simDevice) serve(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()
	for {
		var req m307.Packet
		if _, err := io.ReadFull(conn, req[:]); err != nil {
			return
		}
		reply := d.respond(req)
		if _, err := conn.Write(reply[:]); err != nil {
			return
		}
	}
}

func (d *simDevice) respond(req m307.Packet) m307.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := req.Command()
	switch cmd {
	case m307.CmdReadStatus:
		return d.status
	case m307.CmdReadLogInfo:
		return d.logInfo
	case m307.CmdSetClock:
		return req
	case m307.CmdReadLogEntry:
		if req[m307.CommandSize] == 1 {
			d.logPos = 0
		}
		var reply m307.Packet
		copy(reply[:], cmd[:])
		if d.logPos >= len(d.log) {
			copy(reply[m307.CommandSize:], "THE-END")
			return reply
		}
		copy(reply[m307.CommandSize:], d.log[d.logPos])
		d.logPos++
		return reply
	}

	for i := 0; i < m307.RecordCount; i++ {
		readCmd, _ := m307.ReadRecordCommand(i)
		writeCmd, _ := m307.WriteRecordCommand(i)
		switch cmd {
		case readCmd:
			return m307.Packet(d.records[i])
		case writeCmd:
			copy(d.records[i][m307.CommandSize:], req[m307.CommandSize:])
			d.writes = append(d.writes, i)
			return m307.Packet(d.records[i])
		}
	}
	return req
}

func (d *simDevice) record(i int) m307.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.records[i]
}

func (d *simDevice) writtenRecords() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.writes...)
}

func putInt16(t *testing.T, b []byte, off, v int) {
	t.Helper()
	msb, lsb, err := m307.EncodeInt16(v)
	if err != nil {
		t.Fatalf("EncodeInt16(%d) error: %v", v, err)
	}
	b[off], b[off+1] = msb, lsb
}

func bcd(t *testing.T, n int) byte {
	t.Helper()
	b, err := m307.EncodeBCD(n)
	if err != nil {
		t.Fatalf("EncodeBCD(%d) error: %v", n, err)
	}
	return b
}

// simStatus is a 0.1° Celsius status: probe 1 at 21.5 in alarm for 3
// minutes, probe 2 absent, internal open circuit, 45.5 %RH, door 1 closed,
// door 2 open, mains on, battery 12.50 V.
func simStatus(t *testing.T) m307.Packet {
	t.Helper()
	var p m307.Packet
	copy(p[:], m307.CmdReadStatus[:])
	putInt16(t, p[:], 4, 215)
	putInt16(t, p[:], 6, 3)
	p[8] = 1
	putInt16(t, p[:], 9, 1000)
	putInt16(t, p[:], 14, 999)
	putInt16(t, p[:], 19, 455)
	p[25] = 1
	p[30] = 0
	p[34] = 4
	putInt16(t, p[:], 35, 1250)
	p[58] = 10
	p[59] = 'C'
	return p
}

func simLogInfo(t *testing.T, clock time.Time, rate, total int) m307.Packet {
	t.Helper()
	var p m307.Packet
	copy(p[:], m307.CmdReadLogInfo[:])
	p[4] = byte(clock.Second())
	p[5] = bcd(t, clock.Minute())
	p[6] = bcd(t, clock.Hour())
	p[7] = bcd(t, int(clock.Weekday()))
	p[8] = bcd(t, clock.Day())
	p[9] = bcd(t, int(clock.Month()))
	p[10] = bcd(t, clock.Year()-2000)
	p[11] = byte(rate)
	p[12] = byte(total >> 8)
	p[13] = byte(total)
	return p
}

func simLogEntry(t *testing.T, ts time.Time, t1, humidity int, flags byte) []byte {
	t.Helper()
	b := make([]byte, m307.LogEntrySize)
	b[0] = bcd(t, ts.Minute())
	b[1] = bcd(t, ts.Hour())
	b[2] = bcd(t, int(ts.Weekday()))
	b[3] = bcd(t, ts.Day())
	b[4] = bcd(t, int(ts.Month()))
	b[5] = bcd(t, ts.Year()-2000)
	putInt16(t, b, 6, t1)
	putInt16(t, b, 8, 1000) // probe 2 absent
	putInt16(t, b, 10, 999) // internal open circuit
	putInt16(t, b, 12, humidity)
	b[14] = flags
	return b
}
