package server

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/nitrogenlogic/knd/internal/zone"
)

type fakePipeline struct {
	fps  int
	tilt int
}

func (f *fakePipeline) FPS() int                  { return f.fps }
func (f *fakePipeline) Tilt() int                  { return f.tilt }
func (f *fakePipeline) SetTilt(deg int) error      { f.tilt = deg; return nil }
func (f *fakePipeline) RequestVideo(bool)          {}
func (f *fakePipeline) LastDepthFrame() ([]byte, time.Time, bool) { return nil, time.Time{}, false }
func (f *fakePipeline) LastVideoFrame() ([]byte, time.Time, bool) { return nil, time.Time{}, false }

func testLogger() logging.Logger {
	return logging.New(logging.Debug, &bytes.Buffer{}, true)
}

func startTestServer(t *testing.T) (*Server, *zone.Catalog, string, chan byte) {
	t.Helper()
	cat := zone.New()
	pl := &fakePipeline{fps: 12, tilt: 3}
	wakeup := make(chan byte, 8)
	s, err := New(testLogger(), cat, pl, wakeup, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Run()
	t.Cleanup(s.Stop)
	return s, cat, s.Addr().String(), wakeup
}

func dialAndRead(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func TestVerCommand(t *testing.T) {
	_, _, addr, _ := startTestServer(t)
	conn, r := dialAndRead(t, addr)
	sendLine(t, conn, "ver")
	line := readLine(t, r)
	if line != "OK - Version 2" {
		t.Fatalf("ver reply = %q", line)
	}
}

func TestAddZoneThenZones(t *testing.T) {
	_, _, addr, _ := startTestServer(t)
	conn, r := dialAndRead(t, addr)

	sendLine(t, conn, "addzone Front,-1000,-1000,500,1000,1000,3000")
	if line := readLine(t, r); !strings.HasPrefix(line, "OK") {
		t.Fatalf("addzone reply = %q", line)
	}
	if line := readLine(t, r); !strings.HasPrefix(line, "ADD -") {
		t.Fatalf("expected ADD broadcast, got %q", line)
	}

	sendLine(t, conn, "zones")
	summary := readLine(t, r)
	if !strings.HasPrefix(summary, "OK - 1 zones") {
		t.Fatalf("zones summary = %q", summary)
	}
	zoneLine := readLine(t, r)
	if !strings.Contains(zoneLine, `name="Front"`) {
		t.Fatalf("zone line = %q", zoneLine)
	}
}

func TestUnknownCommandReturnsErr(t *testing.T) {
	_, _, addr, _ := startTestServer(t)
	conn, r := dialAndRead(t, addr)
	sendLine(t, conn, "bogus")
	line := readLine(t, r)
	if !strings.HasPrefix(line, "ERR") {
		t.Fatalf("expected ERR reply, got %q", line)
	}
}

func TestTiltReadAndSet(t *testing.T) {
	_, _, addr, _ := startTestServer(t)
	conn, r := dialAndRead(t, addr)

	sendLine(t, conn, "tilt")
	line := readLine(t, r)
	if line != "OK - 3" {
		t.Fatalf("tilt read reply = %q, want OK - 3", line)
	}

	sendLine(t, conn, "tilt 20")
	line = readLine(t, r)
	if line != "OK - tilt set to 15" {
		t.Fatalf("tilt clamp reply = %q, want clamped to 15", line)
	}
}

func TestByeClosesConnection(t *testing.T) {
	_, _, addr, _ := startTestServer(t)
	conn, r := dialAndRead(t, addr)
	sendLine(t, conn, "bye")
	line := readLine(t, r)
	if line != "OK - Goodbye" {
		t.Fatalf("bye reply = %q", line)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err == nil && n > 0 {
		t.Fatalf("expected connection to close after bye, read %q", buf[:n])
	}
}

// TestSubGatesPerFrameSubLines checks that the per-depth-frame "SUB - ..."
// push only reaches clients that issued "sub", never clients that didn't
// (or that later issued "unsub").
func TestSubGatesPerFrameSubLines(t *testing.T) {
	_, cat, addr, wakeup := startTestServer(t)

	subConn, subR := dialAndRead(t, addr)
	sendLine(t, subConn, "sub")
	if line := readLine(t, subR); !strings.HasPrefix(line, "OK") {
		t.Fatalf("sub reply = %q", line)
	}

	otherConn, otherR := dialAndRead(t, addr)
	sendLine(t, otherConn, "ver")
	if line := readLine(t, otherR); line != "OK - Version 2" {
		t.Fatalf("ver reply = %q", line)
	}

	z, err := cat.Add("Front", -1000, -1000, 500, 1000, 1000, 3000)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	cat.Touch()
	z.Pop = 5
	z.Occupied = true

	wakeup <- 'Z'

	line := readLine(t, subR)
	if !strings.HasPrefix(line, "SUB -") {
		t.Fatalf("subscribed client reply = %q, want SUB -", line)
	}

	otherConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := otherConn.Read(buf); err == nil && n > 0 {
		t.Fatalf("unsubscribed client received unexpected data %q", buf[:n])
	}
}
