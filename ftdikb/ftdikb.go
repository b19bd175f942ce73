// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdikb

import (
	"fmt"
	"strconv"

	"periph.io/x/d2xx"

	"github.com/retrokbd/at2xt/msp430"
)

// devType is the FTDI device type as reported by the D2XX driver.
type devType uint32

const (
	devTypeFT232R devType = 5
	devTypeFT232H devType = 8
)

func (d devType) String() string {
	switch d {
	case devTypeFT232R:
		return "FT232R"
	case devTypeFT232H:
		return "FT232H"
	}
	return "unknown"
}

// bitMode is used by SetBitMode to change the chip behavior.
type bitMode uint8

const (
	// Resets all pins to their default value.
	bitModeReset bitMode = 0x00
	// Sets the DBus to asynchronous bit-bang.
	bitModeAsyncBitbang bitMode = 0x01
)

// Test seams; unit tests swap these for fakes.
var (
	d2xxOpen       = d2xx.Open
	d2xxNumDevices = numDevices
)

// NumDevices returns the number of FTDI devices the D2XX driver can see.
func NumDevices() (int, error) {
	return d2xxNumDevices()
}

func numDevices() (int, error) {
	num, e := d2xx.CreateDeviceInfoList()
	if e != 0 {
		return 0, toErr("CreateDeviceInfoList", e)
	}
	return num, nil
}

// Bridge runs the converter's register semantics against one dongle.
//
// Push and Poll are not synchronized; drive a Bridge from a single
// goroutine.
type Bridge struct {
	h    *handle
	name string

	// Last state pushed to or read from the dongle, so redundant USB
	// round trips are skipped and edges can be latched.
	out    uint8
	dir    uint8
	in     uint8
	synced bool
}

// Open opens the i-th FTDI device and puts it in asynchronous bit-bang
// mode with every pin released as input. Only FT232R and FT232H are
// supported.
func Open(i int) (*Bridge, error) {
	h, err := openHandle(d2xxOpen, i)
	if err != nil {
		return nil, err
	}
	if h.t != devTypeFT232R && h.t != devTypeFT232H {
		_ = h.Close()
		return nil, fmt.Errorf("ftdikb: unsupported device type %s", h.t)
	}
	if err := h.Init(); err != nil {
		// The device is in whatever state the previous user left it, so
		// retry once after a reset.
		if err := h.Reset(); err != nil {
			_ = h.Close()
			return nil, err
		}
		if err := h.Init(); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	if err := h.SetBitMode(0, bitModeReset); err != nil {
		_ = h.Close()
		return nil, err
	}
	if err := h.SetBitMode(0, bitModeAsyncBitbang); err != nil {
		_ = h.Close()
		return nil, err
	}
	b := &Bridge{h: h, name: h.t.String()}
	if i > 0 {
		b.name += "(" + strconv.Itoa(i) + ")"
	}
	// Seed the edge latch baseline with the current pin state.
	cur, err := h.GetBitMode()
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	b.in = cur
	return b, nil
}

// String returns the device type, with an index suffix when several
// dongles are attached.
func (b *Bridge) String() string {
	return b.name
}

// Push propagates the latch and direction registers to the dongle. The
// latch goes out first so a pin switching to output never drives a stale
// value.
func (b *Bridge) Push(p *msp430.Port) error {
	out := p.OUT.Get()
	dir := p.DIR.Get()
	if !b.synced || out != b.out {
		if _, err := b.h.Write([]byte{out}); err != nil {
			return err
		}
		b.out = out
	}
	if !b.synced || dir != b.dir {
		if err := b.h.SetBitMode(dir, bitModeAsyncBitbang); err != nil {
			return err
		}
		b.dir = dir
	}
	b.synced = true
	return nil
}

// Poll samples the pins into IN and latches flag bits into IFG for
// transitions selected by IES, standing in for the interrupt silicon the
// dongle does not have. Flags accumulate stickily until software clears
// them.
func (b *Bridge) Poll(p *msp430.Port) error {
	cur, err := b.h.GetBitMode()
	if err != nil {
		return err
	}
	if ifg := latchEdges(b.in, cur, p.IES.Get()); ifg != 0 {
		p.IFG.SetBits(ifg)
	}
	b.in = cur
	p.IN.Set(cur)
	return nil
}

// Close releases every pin and closes the device.
func (b *Bridge) Close() error {
	if err := b.h.SetBitMode(0, bitModeReset); err != nil {
		_ = b.h.Close()
		return err
	}
	return b.h.Close()
}

// latchEdges returns the flag bits a port peripheral would latch when the
// input moves from prev to cur with the given edge select.
func latchEdges(prev, cur, ies uint8) uint8 {
	fell := prev &^ cur
	rose := cur &^ prev
	return (fell & ies) | (rose &^ ies)
}
