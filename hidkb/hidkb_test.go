// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hidkb

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-test/deep"
	usb "github.com/karalabe/hid"

	"github.com/retrokbd/at2xt/msp430"
)

func TestPeek(t *testing.T) {
	f := &fakeDev{queue: [][]byte{reply(cmdPeek, statusOK, 0x11)}}
	d := testDevice(f)
	v, err := d.Peek(RegOUT)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x11 {
		t.Fatalf("Peek(RegOUT) = %#02x, want 0x11", v)
	}
	if diff := deep.Equal(f.wrote, [][]byte{{cmdPeek, RegOUT, 0, 0, 0, 0, 0, 0}}); diff != nil {
		t.Fatal(diff)
	}
}

func TestPoke(t *testing.T) {
	f := &fakeDev{queue: [][]byte{reply(cmdPoke, statusOK)}}
	d := testDevice(f)
	if err := d.Poke(RegIE, 0x01); err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(f.wrote, [][]byte{{cmdPoke, RegIE, 0x01, 0, 0, 0, 0, 0}}); diff != nil {
		t.Fatal(diff)
	}
}

func TestRegisterBounds(t *testing.T) {
	f := &fakeDev{}
	d := testDevice(f)
	if _, err := d.Peek(regCount); err == nil || !strings.Contains(err.Error(), "invalid register index") {
		t.Fatalf("Peek(%d) = %v, want invalid register index error", regCount, err)
	}
	if err := d.Poke(regCount, 0); err == nil || !strings.Contains(err.Error(), "invalid register index") {
		t.Fatalf("Poke(%d, 0) = %v, want invalid register index error", regCount, err)
	}
	if len(f.wrote) != 0 {
		t.Fatalf("rejected commands still reached the device: %d writes", len(f.wrote))
	}
}

func TestSnapshot(t *testing.T) {
	f := &fakeDev{queue: [][]byte{reply(cmdSnapshot, statusOK, 0x18, 0x11, 0x0C, 0x81, 0x42, 0x25)}}
	d := testDevice(f)
	p := &msp430.Port{}
	if err := d.Snapshot(p); err != nil {
		t.Fatal(err)
	}
	want := &msp430.Port{IN: 0x18, OUT: 0x11, DIR: 0x0C, IFG: 0x81, IES: 0x42, IE: 0x25}
	if diff := deep.Equal(p, want); diff != nil {
		t.Fatal(diff)
	}
}

func TestApply(t *testing.T) {
	f := &fakeDev{queue: [][]byte{reply(cmdApply, statusOK)}}
	d := testDevice(f)
	p := &msp430.Port{IN: 0xFF, OUT: 0x11, DIR: 0x0C, IFG: 0x80, IES: 0x01, IE: 0x01}
	if err := d.Apply(p); err != nil {
		t.Fatal(err)
	}
	// The input register does not travel; its slot stays zero.
	if diff := deep.Equal(f.wrote, [][]byte{{cmdApply, 0, 0, 0x11, 0x0C, 0x80, 0x01, 0x01}}); diff != nil {
		t.Fatal(diff)
	}
}

func TestSendFailures(t *testing.T) {
	data := []struct {
		name string
		f    *fakeDev
		want string
	}{
		{"write error", &fakeDev{writeErr: errFake}, "write [cmd="},
		{"read error", &fakeDev{readErr: errFake}, "read [cmd="},
		{"short read", &fakeDev{queue: [][]byte{{cmdPeek, statusOK, 0x11}}}, "short read"},
		{"bad status", &fakeDev{queue: [][]byte{reply(cmdPeek, 0xEE)}}, "failed"},
		{"wrong echo", &fakeDev{queue: [][]byte{reply(cmdPoke, statusOK)}}, "failed"},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			d := testDevice(line.f)
			if _, err := d.Peek(RegIN); err == nil || !strings.Contains(err.Error(), line.want) {
				t.Fatalf("Peek(RegIN) = %v, want error containing %q", err, line.want)
			}
		})
	}
}

func TestClose(t *testing.T) {
	f := &fakeDev{}
	d := testDevice(f)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if !f.closed {
		t.Fatal("Close() did not reach the device")
	}
	if err := d.Close(); err == nil || !strings.Contains(err.Error(), "not open") {
		t.Fatalf("second Close() = %v, want not open error", err)
	}
}

func TestNilDevice(t *testing.T) {
	var d *Device
	if _, err := d.Peek(RegIN); err == nil || !strings.Contains(err.Error(), "nil Device") {
		t.Fatalf("Peek on nil = %v, want nil Device error", err)
	}
	if err := d.Close(); err == nil || !strings.Contains(err.Error(), "nil Device") {
		t.Fatalf("Close on nil = %v, want nil Device error", err)
	}
}

// With nothing attached the error says so; it does not talk about an
// index range that does not exist.
func TestNewNoDevices(t *testing.T) {
	defer restoreEnumerate()
	enumerate = func(vid, pid uint16) []usb.DeviceInfo {
		return nil
	}
	_, err := New(0, VID, PID)
	if err == nil || !strings.Contains(err.Error(), "no debug adapters found") {
		t.Fatalf("New(0) = %v, want no debug adapters error", err)
	}
	if strings.Contains(err.Error(), "out of range") {
		t.Fatalf("New(0) = %v, talks about an index range with nothing attached", err)
	}
}

func TestNewOutOfRange(t *testing.T) {
	defer restoreEnumerate()
	enumerate = func(vid, pid uint16) []usb.DeviceInfo {
		return []usb.DeviceInfo{{Product: "at2xt debug"}}
	}
	if _, err := New(1, VID, PID); err == nil || !strings.Contains(err.Error(), "out of range [0, 0]") {
		t.Fatalf("New(1) = %v, want out of range error", err)
	}
}

func TestAttachedDevices(t *testing.T) {
	defer restoreEnumerate()
	enumerate = func(vid, pid uint16) []usb.DeviceInfo {
		if vid != VID || pid != PID {
			t.Fatalf("enumerate(%#04x, %#04x), want (%#04x, %#04x)", vid, pid, VID, PID)
		}
		return []usb.DeviceInfo{{Product: "at2xt debug"}, {Product: "at2xt debug"}}
	}
	if got, want := len(AttachedDevices(VID, PID)), 2; got != want {
		t.Fatalf("AttachedDevices() found %d, want %d", got, want)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	p := &msp430.Port{IN: 0xAA, OUT: 0x11, DIR: 0x0C, IFG: 0x80, IES: 0x01, IE: 0x01}
	msg := makeMsg()
	encodeApply(msg, p)
	// The adapter fills the IN slot in its snapshot response.
	msg[2] = 0x18
	got := &msp430.Port{}
	decodeSnapshot(msg, got)
	want := *p
	want.IN = 0x18
	if diff := deep.Equal(got, &want); diff != nil {
		t.Fatal(diff)
	}
}

//

var errFake = errors.New("usb gone")

// fakeDev scripts the HID exchange: each Read consumes the next queued
// response.
type fakeDev struct {
	wrote    [][]byte
	queue    [][]byte
	writeErr error
	readErr  error
	closed   bool
}

func (f *fakeDev) Write(b []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.wrote = append(f.wrote, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeDev) Read(b []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	return copy(b, r), nil
}

func (f *fakeDev) Close() error {
	f.closed = true
	return nil
}

func testDevice(f *fakeDev) *Device {
	return &Device{dev: f, VID: VID, PID: PID}
}

// reply builds a response report: the echoed command, a status word and
// an optional payload starting at the value slot.
func reply(cmd, status byte, payload ...byte) []byte {
	m := makeMsg()
	m[0] = cmd
	m[1] = status
	copy(m[2:], payload)
	return m
}

func restoreEnumerate() {
	enumerate = usb.Enumerate
}
