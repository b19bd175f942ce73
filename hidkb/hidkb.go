// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hidkb talks to the debug build of the converter firmware over
// USB HID.
//
// The debug build enumerates as a HID device and exposes the converter's
// port register block through 8 byte reports, so a host can inspect and
// drive the five bus lines without a JTAG pod. Every exchange is one
// command report followed by one response report:
//
//	byte 0     command, echoed back in the response
//	byte 1     register index for Peek and Poke; status in responses
//	byte 2     value for Poke and for Peek responses
//	bytes 2-7  register block IN OUT DIR IFG IES IE for Snapshot and Apply
//
// USB HID support provided by: https://github.com/karalabe/hid
package hidkb

import (
	"errors"
	"fmt"
	"io"

	usb "github.com/karalabe/hid"

	"github.com/retrokbd/at2xt/msp430"
)

// VID and PID are the shared vendor and product pair obdev allocates to
// class-compliant HID devices; the adapter is told apart by its strings.
const (
	VID = 0x16C0
	PID = 0x05DF
)

// MsgSz is the size (in bytes) of all command and response reports.
const MsgSz = 8

// Commands recognized by the debug firmware. Each is echoed back as the
// first word of its response.
const (
	cmdPeek     byte = 0x01
	cmdPoke     byte = 0x02
	cmdSnapshot byte = 0x03
	cmdApply    byte = 0x04
)

// statusOK is the response status word for a command that succeeded.
const statusOK byte = 0x00

// Register indexes accepted by Peek and Poke, in port block address
// order.
const (
	RegIN uint8 = iota
	RegOUT
	RegDIR
	RegIFG
	RegIES
	RegIE

	regCount
)

// makeMsg creates a zero'd slice with the required length of command and
// response reports.
func makeMsg() []byte { return make([]byte, MsgSz) }

// Test seam; unit tests swap this to enumerate fakes.
var enumerate = usb.Enumerate

// AttachedDevices returns the connected USB HID device descriptors
// matching the given VID and PID.
func AttachedDevices(vid uint16, pid uint16) []usb.DeviceInfo {
	return enumerate(vid, pid)
}

// Device is an open debug adapter.
//
// If several adapters are connected, pick one by its enumeration index as
// reported by AttachedDevices. Call Close when finished to release the
// USB connection.
type Device struct {
	dev   io.ReadWriteCloser
	Index byte
	VID   uint16
	PID   uint16
}

// New opens the debug adapter with the given VID and PID, enumerated at
// the given index. An index of 0 uses the first adapter found.
func New(idx byte, vid uint16, pid uint16) (*Device, error) {
	info := AttachedDevices(vid, pid)
	if len(info) == 0 {
		return nil, fmt.Errorf("hidkb: no debug adapters found for %04x:%04x", vid, pid)
	}
	if int(idx) >= len(info) {
		return nil, fmt.Errorf("hidkb: device index %d out of range [0, %d]", idx, len(info)-1)
	}
	dev, err := info[idx].Open()
	if err != nil {
		return nil, err
	}
	return &Device{dev: dev, Index: idx, VID: vid, PID: pid}, nil
}

func (d *Device) valid() error {
	if d == nil {
		return errors.New("hidkb: nil Device")
	}
	if d.dev == nil {
		return errors.New("hidkb: device not open")
	}
	return nil
}

// Close closes the USB HID connection. The Device is unusable afterward.
func (d *Device) Close() error {
	if err := d.valid(); err != nil {
		return err
	}
	err := d.dev.Close()
	d.dev = nil
	return err
}

// send transmits one command report and returns the validated response
// report. The data argument is a slice created by makeMsg; the command
// word is inserted automatically.
func (d *Device) send(cmd byte, data []byte) ([]byte, error) {
	data[0] = cmd
	if _, err := d.dev.Write(data); err != nil {
		return nil, fmt.Errorf("hidkb: write [cmd=%#02x]: %v", cmd, err)
	}
	rsp := makeMsg()
	n, err := d.dev.Read(rsp)
	if err != nil {
		return nil, fmt.Errorf("hidkb: read [cmd=%#02x]: %v", cmd, err)
	}
	if n < MsgSz {
		return rsp, fmt.Errorf("hidkb: short read (%d of %d bytes)", n, MsgSz)
	}
	if rsp[0] != cmd || rsp[1] != statusOK {
		return rsp, fmt.Errorf("hidkb: command %#02x failed (status %#02x)", cmd, rsp[1])
	}
	return rsp, nil
}

// Peek reads one register from the live converter.
func (d *Device) Peek(reg uint8) (uint8, error) {
	if err := d.valid(); err != nil {
		return 0, err
	}
	if reg >= regCount {
		return 0, fmt.Errorf("hidkb: invalid register index %d", reg)
	}
	cmd := makeMsg()
	cmd[1] = reg
	rsp, err := d.send(cmdPeek, cmd)
	if err != nil {
		return 0, err
	}
	return rsp[2], nil
}

// Poke writes one register on the live converter. The firmware ignores
// writes to the read-only input register.
func (d *Device) Poke(reg uint8, val uint8) error {
	if err := d.valid(); err != nil {
		return err
	}
	if reg >= regCount {
		return fmt.Errorf("hidkb: invalid register index %d", reg)
	}
	cmd := makeMsg()
	cmd[1] = reg
	cmd[2] = val
	_, err := d.send(cmdPoke, cmd)
	return err
}

// Snapshot reads all six registers in one exchange into p.
func (d *Device) Snapshot(p *msp430.Port) error {
	if err := d.valid(); err != nil {
		return err
	}
	rsp, err := d.send(cmdSnapshot, makeMsg())
	if err != nil {
		return err
	}
	decodeSnapshot(rsp, p)
	return nil
}

// Apply writes the five writable registers from p in one exchange. The
// input register rides along zeroed and is ignored by the firmware.
func (d *Device) Apply(p *msp430.Port) error {
	if err := d.valid(); err != nil {
		return err
	}
	cmd := makeMsg()
	encodeApply(cmd, p)
	_, err := d.send(cmdApply, cmd)
	return err
}

// decodeSnapshot copies a snapshot response's register block into p.
func decodeSnapshot(msg []byte, p *msp430.Port) {
	p.IN.Set(msg[2])
	p.OUT.Set(msg[3])
	p.DIR.Set(msg[4])
	p.IFG.Set(msg[5])
	p.IES.Set(msg[6])
	p.IE.Set(msg[7])
}

// encodeApply fills a register block from the five writable registers of
// p, leaving the IN slot zero.
func encodeApply(msg []byte, p *msp430.Port) {
	msg[3] = p.OUT.Get()
	msg[4] = p.DIR.Get()
	msg[5] = p.IFG.Get()
	msg[6] = p.IES.Get()
	msg[7] = p.IE.Get()
}
