// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package kbsim is a software model of the converter's electrical
// environment: the port 1 register block, the bus lines with their
// pull-ups, and a remote device on the far end of each line. It lets the
// bus driver, the gpio adapter and the CLI run hostside with no hardware
// attached.
//
// The model resolves each line the way the board does. A line is low while
// any side drives it low: the port when the direction bit is set and the
// latch is 0, or the remote device. Otherwise it is high, whether driven
// high, presented high by a pull-up, or floating (an undriven MSP430 input
// on this board reads high). After every change the model rewrites IN and
// latches IFG bits for transitions selected by IES; IFG latches whether or
// not IE has the bit enabled, exactly like the silicon.
//
// The simulator serializes its own state with a mutex. The bus driver
// writes the registers directly and is not synchronized: perform driver
// calls from one goroutine and call Settle afterwards so the wire model
// observes the new drive state. Callers that run alongside remote
// stimuli, like the gpio adapter, wrap register access in Mutate instead.
package kbsim

import (
	"math/bits"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/retrokbd/at2xt/kbdbus"
	"github.com/retrokbd/at2xt/msp430"
)

// Sim models one port and the wires attached to it.
type Sim struct {
	mu      sync.Mutex
	port    *msp430.Port
	pullups uint8

	remoteLow  uint8 // bits the remote device pulls or drives low
	remoteHigh uint8 // bits the remote device drives high (push-pull only)

	in         uint8 // last resolved line levels, mirror of IN
	rising     [8]uint64
	falling    [8]uint64
	contention uint64
	changed    chan struct{} // closed and replaced on every level change
}

// New returns a simulator for one port. pullups names the bits that have
// board pull-up resistors; the mask only affects what PullUp reports, an
// undriven line reads high either way.
func New(pullups uint8) *Sim {
	s := &Sim{
		port:    &msp430.Port{},
		pullups: pullups,
		changed: make(chan struct{}),
	}
	// Power-up: nothing drives, every line reads high, no edges seen.
	s.in = 0xFF
	s.port.IN.Set(s.in)
	return s
}

// AT2XT returns a simulator wired like the converter board: pull-ups on
// both AT bus lines, everything else push-pull or floating.
func AT2XT() *Sim {
	k := kbdbus.New()
	return New(k.ATClk.Mask() | k.ATData.Mask())
}

// Port returns the simulated register block. Pass it to the bus driver.
func (s *Sim) Port() *msp430.Port {
	return s.port
}

// resolveLines computes the level of all eight lines at once. A bit is low
// while the port or the remote side drives it low, high otherwise.
// contended reports bits driven low by one side and high by the other.
func resolveLines(dir, out, remoteLow, remoteHigh uint8) (levels, contended uint8) {
	low := (dir &^ out) | remoteLow
	high := (dir & out) | remoteHigh
	return ^low, low & high
}

// settle re-resolves every line and updates IN, IFG and the edge counters.
// Callers hold mu.
func (s *Sim) settle() {
	cur, contended := resolveLines(s.port.DIR.Get(), s.port.OUT.Get(), s.remoteLow, s.remoteHigh)
	if contended != 0 {
		s.contention += uint64(bits.OnesCount8(contended))
		log.Warnf("kbsim: bus contention on bits %#02x", contended)
	}
	prev := s.in
	if cur == prev {
		return
	}
	fell := prev &^ cur
	rose := cur &^ prev
	ies := s.port.IES.Get()
	if latch := (fell & ies) | (rose &^ ies); latch != 0 {
		s.port.IFG.SetBits(latch)
	}
	for bit := uint8(0); bit < 8; bit++ {
		m := uint8(1) << bit
		if rose&m != 0 {
			s.rising[bit]++
		}
		if fell&m != 0 {
			s.falling[bit]++
		}
	}
	s.in = cur
	s.port.IN.Set(cur)
	log.Debugf("kbsim: lines %#02x -> %#02x", prev, cur)
	close(s.changed)
	s.changed = make(chan struct{})
}

// Settle publishes direct register writes to the wire model. Call it after
// any bus driver operation; the remote stimulus methods settle on their
// own.
func (s *Sim) Settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
}

// Mutate applies f to the register block under the simulator's lock and
// settles the wire before returning. It is the register access path for
// callers that run concurrently with the remote stimulus methods; code
// holding the single-goroutine discipline may keep writing through Port
// and Settle.
func (s *Sim) Mutate(f func(p *msp430.Port)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s.port)
	s.settle()
}

func checkBit(bit uint8) {
	if bit > 7 {
		panic("kbsim: bit position out of range")
	}
}

// DriveLow makes the remote device pull the line at bit low. It models
// both the open collector pull of an AT device and the low half of a
// push-pull XT driver.
func (s *Sim) DriveLow(bit uint8) {
	checkBit(bit)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteLow |= 1 << bit
	s.remoteHigh &^= 1 << bit
	s.settle()
}

// DriveHigh makes the remote device actively drive the line at bit high,
// push-pull style. An AT device never does this; use ReleaseLine for the
// open collector release.
func (s *Sim) DriveHigh(bit uint8) {
	checkBit(bit)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteHigh |= 1 << bit
	s.remoteLow &^= 1 << bit
	s.settle()
}

// ReleaseLine stops the remote device from driving the line at bit.
func (s *Sim) ReleaseLine(bit uint8) {
	checkBit(bit)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteLow &^= 1 << bit
	s.remoteHigh &^= 1 << bit
	s.settle()
}

// Level returns the resolved level of the line at bit.
func (s *Sim) Level(bit uint8) bool {
	checkBit(bit)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.in&(1<<bit) != 0
}

// Lines returns the resolved levels of all eight lines.
func (s *Sim) Lines() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.in
}

// PullUp reports whether the line at bit has a board pull-up.
func (s *Sim) PullUp(bit uint8) bool {
	checkBit(bit)
	return s.pullups&(1<<bit) != 0
}

// Pending reports whether an enabled interrupt is pending, IE and IFG
// sharing a set bit. The latched-but-masked case is visible through the
// registers, not here.
func (s *Sim) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.IE.Get()&s.port.IFG.Get() != 0
}

// Contentions returns how many line-settle steps found a bit driven low by
// one side and high by the other. A non-zero count means an electrically
// invalid call sequence, not a model failure.
func (s *Sim) Contentions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contention
}

// EdgeCount returns how many rising and falling transitions the line at
// bit has seen.
func (s *Sim) EdgeCount(bit uint8) (rising, falling uint64) {
	checkBit(bit)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rising[bit], s.falling[bit]
}

// Changed returns a channel that is closed the next time any line changes
// level. Callers re-arm by calling Changed again after each wakeup.
func (s *Sim) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Registers returns a copy of the register block for display.
func (s *Sim) Registers() msp430.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.port
}
