// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdikb

import (
	"errors"

	"periph.io/x/d2xx"
)

func openHandle(opener func(i int) (d2xx.Handle, d2xx.Err), i int) (*handle, error) {
	h, e := opener(i)
	if e != 0 {
		return nil, toErr("Open", e)
	}
	d := &handle{h: h}
	t, vid, did, e := h.GetDeviceInfo()
	if e != 0 {
		_ = d.Close()
		return nil, toErr("GetDeviceInfo", e)
	}
	d.t = devType(t)
	d.venID = vid
	d.devID = did
	return d, nil
}

// handle is a thin wrapper around the low level d2xx device handle that
// converts the int error type into a Go native error.
//
// The content of the struct is immutable after initialization.
type handle struct {
	h     d2xx.Handle
	t     devType
	venID uint16
	devID uint16
}

func (h *handle) Close() error {
	return toErr("Close", h.h.Close())
}

// Init is the general setup sequence: buffering, timeouts and flow
// control tuned for a bus that moves a byte at a time.
func (h *handle) Init() error {
	if e := h.h.SetUSBParameters(65536, 0); e != 0 {
		return toErr("SetUSBParameters", e)
	}
	// Generous I/O timeouts so a wedged dongle is visible rather than
	// silent.
	if e := h.h.SetTimeouts(15000, 15000); e != 0 {
		return toErr("SetTimeouts", e)
	}
	if e := h.h.SetChars(0, false, 0, false); e != 0 {
		return toErr("SetChars", e)
	}
	if e := h.h.SetLatencyTimer(1); e != 0 {
		return toErr("SetLatencyTimer", e)
	}
	if e := h.h.SetFlowControl(); e != 0 {
		return toErr("SetFlowControl", e)
	}
	return h.Flush()
}

// Reset resets the device and reverts every pin to input.
func (h *handle) Reset() error {
	if e := h.h.ResetDevice(); e != 0 {
		return toErr("Reset", e)
	}
	if err := h.SetBitMode(0, bitModeReset); err != nil {
		return err
	}
	// The device may spew stale reads right after a reset; drop them.
	_ = h.Flush()
	return nil
}

// GetBitMode returns the instantaneous pin state.
func (h *handle) GetBitMode() (byte, error) {
	l, e := h.h.GetBitMode()
	if e != 0 {
		return 0, toErr("GetBitMode", e)
	}
	return l, nil
}

// SetBitMode changes the mode of operation of the device. In bit-bang
// modes, mask selects which pins are outputs.
func (h *handle) SetBitMode(mask byte, mode bitMode) error {
	return toErr("SetBitMode", h.h.SetBitMode(mask, byte(mode)))
}

// Flush drops any data left in the read buffer.
func (h *handle) Flush() error {
	var buf [128]byte
	for {
		p, err := h.Read(buf[:])
		if err != nil {
			return err
		}
		if p == 0 {
			return nil
		}
	}
}

// Read returns as much as available in the read buffer without blocking.
func (h *handle) Read(b []byte) (int, error) {
	p, e := h.h.GetQueueStatus()
	if p == 0 || e != 0 {
		return int(p), toErr("Read/GetQueueStatus", e)
	}
	v := int(p)
	if v > len(b) {
		v = len(b)
	}
	n, e := h.h.Read(b[:v])
	return n, toErr("Read", e)
}

// Write writes to the USB device. The caller checks the count; a partial
// write is not retried here.
func (h *handle) Write(b []byte) (int, error) {
	n, e := h.h.Write(b)
	if e != 0 {
		return n, toErr("Write", e)
	}
	if n != len(b) {
		return n, errors.New("ftdikb: short write")
	}
	return n, nil
}

func toErr(s string, e d2xx.Err) error {
	if e == 0 {
		return nil
	}
	return errors.New("ftdikb: " + s + ": " + e.String())
}
