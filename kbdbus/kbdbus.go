// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package kbdbus drives the two keyboard bus protocols of an AT (PS/2) to
// XT keyboard converter over five bits of one MSP430 digital I/O port.
//
// The AT bus is open collector: either end only ever pulls a line low or
// releases it, and board pull-ups present the idle high level. The XT bus
// is push-pull: whichever side transmits drives the line to both levels.
// Both buses share port 1, so every register update here is masked and
// never disturbs bits belonging to other signals.
//
// Concurrency: the converter runs one foreground loop plus the port 1 edge
// interrupt handler, and the port registers have no atomic read-modify-
// write. Any RMW on a register the handler also touches must happen either
// before interrupts are first armed or while the AT clock interrupt source
// is masked, see DisableATClkInterrupt. Reads of the input register are
// safe from any context. Nothing in this package blocks or fails.
package kbdbus

import "github.com/retrokbd/at2xt/msp430"

// Pin is a single bit position of the shared port. It carries no state
// besides the position and is freely copyable.
type Pin struct {
	pos uint8
}

// NewPin returns the Pin at the given bit position of the port. It panics
// if position is 8 or more.
func NewPin(position uint8) Pin {
	if position > 7 {
		panic("kbdbus: bit position out of range")
	}
	return Pin{pos: position}
}

// Position returns the bit position within the port, 0 through 7.
func (s Pin) Position() uint8 {
	return s.pos
}

// Mask returns the single-bit register mask, 1 shifted left by the
// position.
func (s Pin) Mask() uint8 {
	return 1 << s.pos
}

// Set drives the output latch high. Masked RMW, see the package comment
// for the interrupt discipline.
func (s Pin) Set(p *msp430.Port) {
	p.OUT.SetBits(s.Mask())
}

// Clear drives the output latch low. Masked RMW.
func (s Pin) Clear(p *msp430.Port) {
	p.OUT.ClearBits(s.Mask())
}

// MakeInput releases the pin: the direction bit is cleared and the line
// floats, presented high by the pull-up on the AT bus or driven by the
// remote end on the XT bus. Masked RMW.
func (s Pin) MakeInput(p *msp430.Port) {
	p.DIR.ClearBits(s.Mask())
}

// MakeOutput configures the pin as an output, actively driving whatever
// the output latch holds. Masked RMW.
func (s Pin) MakeOutput(p *msp430.Port) {
	p.DIR.SetBits(s.Mask())
}

// IsHigh reports whether the input level is high. Read only, safe from any
// context including the interrupt handler.
func (s Pin) IsHigh(p *msp430.Port) bool {
	return p.IN.Get()&s.Mask() != 0
}

// IsLow reports whether the input level is low. Read only, safe from any
// context.
func (s Pin) IsLow(p *msp430.Port) bool {
	return !s.IsHigh(p)
}

// Pins is the converter wiring: five signals on port 1, positions fixed by
// the board layout. Construct it once with New and share the value; it is
// immutable and exactly one wiring exists per port.
type Pins struct {
	ATClk   Pin // P1.0, AT clock, open collector, falling edge sensed
	ATData  Pin // P1.4, AT data, open collector
	XTClk   Pin // P1.2, XT clock, push-pull
	XTData  Pin // P1.3, XT data, push-pull
	XTSense Pin // P1.1, XT host clock sense, input only
}

// New returns the converter wiring.
func New() Pins {
	return Pins{
		ATClk:   NewPin(0),
		ATData:  NewPin(4),
		XTClk:   NewPin(2),
		XTData:  NewPin(3),
		XTSense: NewPin(1),
	}
}

// atMask returns the combined mask of both AT lines.
func (k Pins) atMask() uint8 {
	return k.ATClk.Mask() | k.ATData.Mask()
}

// xtMask returns the combined mask of both XT lines.
func (k Pins) xtMask() uint8 {
	return k.XTClk.Mask() | k.XTData.Mask()
}

// Reset parks the port in the power-on listening state: a full write
// reverts every pin of the port to input, not just the five bus signals,
// then any stale AT clock edge flag is cleared, falling edge detection is
// selected and the AT clock interrupt is armed. Call it once at startup,
// before interrupts are globally enabled.
func (k Pins) Reset(p *msp430.Port) {
	p.DIR.Set(0x00)
	p.IFG.ClearBits(k.ATClk.Mask())
	p.IES.SetBits(k.ATClk.Mask())
	p.IE.SetBits(k.ATClk.Mask())
}

// A MaskToken witnesses that DisableATClkInterrupt masked the AT clock
// interrupt source, making "disable, update, re-enable" the only
// well-typed order for the privileged re-enable. The zero value is not a
// valid token; nothing stops a determined caller from forging one, the
// type only keeps honest call sites honest.
type MaskToken struct {
	_ struct{}
}

// DisableATClkInterrupt masks the AT clock interrupt source and returns
// the token EnableATClkInterrupt takes back. Only the enable bit moves;
// edges keep latching into the flag register while masked.
func (k Pins) DisableATClkInterrupt(p *msp430.Port) MaskToken {
	p.IE.ClearBits(k.ATClk.Mask())
	return MaskToken{}
}

// EnableATClkInterrupt re-arms the AT clock interrupt source. Only the
// enable bit moves.
//
// This is the privileged half of the masking discipline: the caller must
// guarantee no interrupt-context update of the shared registers is still
// in flight, because re-arming races with the very handler it re-enables.
func (k Pins) EnableATClkInterrupt(p *msp430.Port, _ MaskToken) {
	p.IE.SetBits(k.ATClk.Mask())
}

// AckATClkInterrupt clears the AT clock bit of the sticky interrupt flag
// register, and nothing else. The handler must call it before returning or
// the interrupt re-fires immediately.
func (k Pins) AckATClkInterrupt(p *msp430.Port) {
	p.IFG.ClearBits(k.ATClk.Mask())
}

// ATIdle releases the AT bus: both latches are set high first, then one
// combined masked update reverts both lines to input. Neither side is
// driving afterwards, the pull-ups present high and either side may pull a
// line low.
func (k Pins) ATIdle(p *msp430.Port) {
	k.ATClk.Set(p)
	k.ATData.Set(p)
	p.DIR.ClearBits(k.atMask())
}

// ATInhibit holds the AT bus in the host-inhibit state: clock driven low
// as an output so the keyboard cannot clock out data, data released to
// input with its latch left high.
func (k Pins) ATInhibit(p *msp430.Port) {
	k.ATClk.Clear(p)
	k.ATData.Set(p)
	k.ATClk.MakeOutput(p)
	k.ATData.MakeInput(p)
}

// ATSend prepares a host-to-keyboard transmission: both latches high,
// clock released to input for the keyboard to pulse, data driven by the
// host.
func (k Pins) ATSend(p *msp430.Port) {
	k.ATClk.Set(p)
	k.ATData.Set(p)
	k.ATClk.MakeInput(p)
	k.ATData.MakeOutput(p)
}

// XTTransmit turns both XT lines into push-pull outputs, latches high
// first so the bus comes up idle.
func (k Pins) XTTransmit(p *msp430.Port) {
	p.OUT.SetBits(k.xtMask())
	p.DIR.SetBits(k.xtMask())
}

// XTReceive releases both XT lines to input, listening mode. Only the data
// latch is preloaded high, so a later flip back to output cannot glitch
// the line low; the clock latch keeps whatever value it last had.
func (k Pins) XTReceive(p *msp430.Port) {
	p.OUT.SetBits(k.XTData.Mask())
	p.DIR.ClearBits(k.xtMask())
}
