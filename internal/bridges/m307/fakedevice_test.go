package m307

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// deviceMode selects how the fake device misbehaves.
type deviceMode int

const (
	modeNormal  deviceMode = iota
	modeSilent             // read requests, never answer
	modeHangup             // close the connection after reading a request
	modeShort              // answer with half a packet, then close
	modeBadEcho            // answer writes with altered data
	modeChunked            // answer in small pieces with pauses between them
)

// Reply fragmentation in modeChunked.
const (
	chunkSize  = 7
	chunkPause = 5 * time.Millisecond
)

// fakeDevice simulates an M307 in memory and, when started with listen, on
// a loopback TCP port.
type fakeDevice struct {
	mu       sync.Mutex
	mode     deviceMode
	status   Packet
	logInfo  Packet
	records  [RecordCount]Record
	log      [][]byte
	logPos   int
	clock    []byte
	requests []Packet

	listener net.Listener
	conns    []net.Conn
	wg       sync.WaitGroup
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	d := &fakeDevice{status: testStatusPacket(t)}
	for i := range d.records {
		rec, err := NewRecord(i)
		if err != nil {
			t.Fatalf("NewRecord(%d) error: %v", i, err)
		}
		// Reserved bytes the client must never touch.
		rec[4], rec[5], rec[6], rec[7] = 0xA5, 0x5A, 0xC3, 0x3C
		d.records[i] = rec
	}
	d.logInfo = testLogInfoPacket(t, time.Date(2024, 3, 15, 14, 30, 12, 0, time.Local), 5, 0)
	return d
}

// listen starts serving on 127.0.0.1 and returns the address.
func (d *fakeDevice) listen(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	d.listener = listener

	d.wg.Add(1)
	go d.acceptLoop()

	t.Cleanup(d.close)
	return listener.Addr().String()
}

func (d *fakeDevice) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()

		d.wg.Add(1)
		go d.serve(conn)
	}
}

func (d *fakeDevice) serve(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	for {
		var buf [PacketSize]byte
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			return
		}

		d.mu.Lock()
		mode := d.mode
		d.mu.Unlock()

		switch mode {
		case modeSilent:
			continue
		case modeHangup:
			return
		}

		reply := d.respond(Packet(buf))
		if mode == modeShort {
			_, _ = conn.Write(reply[:PacketSize/2])
			return
		}
		if mode == modeChunked {
			for off := 0; off < PacketSize; off += chunkSize {
				if _, err := conn.Write(reply[off:min(off+chunkSize, PacketSize)]); err != nil {
					return
				}
				time.Sleep(chunkPause)
			}
			continue
		}
		if _, err := conn.Write(reply[:]); err != nil {
			return
		}
	}
}

func (d *fakeDevice) close() {
	if d.listener != nil {
		d.listener.Close()
	}
	d.mu.Lock()
	for _, c := range d.conns {
		c.Close()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *fakeDevice) setMode(m deviceMode) {
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()
}

// respond answers one request the way the firmware does.
func (d *fakeDevice) respond(req Packet) Packet {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req)
	cmd := req.Command()

	switch {
	case cmd == CmdReadStatus:
		return d.status
	case cmd == CmdReadLogInfo:
		return d.logInfo
	case cmd == CmdSetClock:
		d.clock = req.Payload()[:8]
		return req
	case cmd == CmdReadLogEntry:
		if req[CommandSize] == logStepReset {
			d.logPos = 0
		}
		var reply Packet
		copy(reply[:], cmd[:])
		if d.logPos >= len(d.log) {
			copy(reply[CommandSize:], logEndMarker)
			return reply
		}
		copy(reply[CommandSize:], d.log[d.logPos])
		d.logPos++
		return reply
	case cmd[0] == readRecordPrefix[0] && cmd[3] <= MaxRecordIndex:
		return Packet(d.records[cmd[3]])
	case cmd[0] == writeRecordPrefix[0] && cmd[3] <= MaxRecordIndex:
		idx := cmd[3]
		copy(d.records[idx][CommandSize:], req[CommandSize:])
		reply := Packet(d.records[idx])
		if d.mode == modeBadEcho {
			reply[PacketSize-1] ^= 0xFF
		}
		return reply
	default:
		return req
	}
}

func (d *fakeDevice) sent() []Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Packet, len(d.requests))
	copy(out, d.requests)
	return out
}

// memTransport connects a Client to a fakeDevice without a socket.
type memTransport struct {
	dev    *fakeDevice
	err    error
	closed int
}

func (m *memTransport) Exchange(ctx context.Context, req Packet) (Packet, error) {
	if m.closed > 0 {
		return Packet{}, ErrNotConnected
	}
	if m.err != nil {
		return Packet{}, m.err
	}
	if err := ctx.Err(); err != nil {
		return Packet{}, err
	}
	return m.dev.respond(req), nil
}

func (m *memTransport) Close() error {
	m.closed++
	return nil
}

func newMemClient(t *testing.T) (*Client, *fakeDevice, *memTransport) {
	t.Helper()
	dev := newFakeDevice(t)
	tr := &memTransport{dev: dev}
	return NewClient(tr, nil), dev, tr
}

// ─── Packet builders ───────────────────────────────────────────────

func putInt16(t *testing.T, b []byte, off, v int) {
	t.Helper()
	msb, lsb, err := EncodeInt16(v)
	if err != nil {
		t.Fatalf("EncodeInt16(%d) error: %v", v, err)
	}
	b[off], b[off+1] = msb, lsb
}

func bcd(t *testing.T, n int) byte {
	t.Helper()
	b, err := EncodeBCD(n)
	if err != nil {
		t.Fatalf("EncodeBCD(%d) error: %v", n, err)
	}
	return b
}

// testStatusPacket returns a status reply with 0.1° resolution in Celsius:
// probe 1 at 21.5, probe 2 absent, internal open circuit, 45.5 %RH, door 1
// closed and in alarm, mains on, battery 12.50 V.
func testStatusPacket(t *testing.T) Packet {
	t.Helper()
	var p Packet
	copy(p[:], CmdReadStatus[:])
	putInt16(t, p[:], 4, 215)
	putInt16(t, p[:], 6, 3)
	putInt16(t, p[:], 9, rawNoSensor)
	putInt16(t, p[:], 14, rawOpenCircuit)
	p[18] = 1
	putInt16(t, p[:], 19, 455)
	p[25] = 1
	putInt16(t, p[:], 26, 12)
	p[28] = 1
	p[30] = 0
	p[34] = 4
	putInt16(t, p[:], 35, 1250)
	p[58] = 10
	p[59] = 'C'
	return p
}

func testLogInfoPacket(t *testing.T, clock time.Time, rate, total int) Packet {
	t.Helper()
	var p Packet
	copy(p[:], CmdReadLogInfo[:])
	p[4] = byte(clock.Second())
	p[5] = bcd(t, clock.Minute())
	p[6] = bcd(t, clock.Hour()) | 0x40 // mode flag in the top bits
	p[7] = bcd(t, int(clock.Weekday()))
	p[8] = bcd(t, clock.Day())
	p[9] = bcd(t, int(clock.Month()))
	p[10] = bcd(t, clock.Year()-2000)
	p[11] = byte(rate)
	p[12] = byte(total >> 8)
	p[13] = byte(total)
	return p
}

func testLogEntry(t *testing.T, ts time.Time, t1, t2, internal, humidity int, flags byte) []byte {
	t.Helper()
	b := make([]byte, LogEntrySize)
	b[0] = bcd(t, ts.Minute())
	b[1] = bcd(t, ts.Hour())
	b[2] = bcd(t, int(ts.Weekday()))
	b[3] = bcd(t, ts.Day())
	b[4] = bcd(t, int(ts.Month()))
	b[5] = bcd(t, ts.Year()-2000)
	putInt16(t, b, 6, t1)
	putInt16(t, b, 8, t2)
	putInt16(t, b, 10, internal)
	putInt16(t, b, 12, humidity)
	b[14] = flags
	return b
}

func wantErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
