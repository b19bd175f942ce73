// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package kbgpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/conn/v3/pin/pinreg"

	"github.com/retrokbd/at2xt/kbdbus"
	"github.com/retrokbd/at2xt/kbsim"
	"github.com/retrokbd/at2xt/msp430"
)

// Pin is one converter signal exposed as a gpio pin.
//
// Reads and edge waits observe the resolved wire level of the simulator,
// not the output latch, so an open collector line driven high but pulled
// low by the remote device reads low, like the real board.
//
// Every method synchronizes with the wire model, so pins can be used from
// one goroutine while remote stimuli run on another.
type Pin struct {
	name string
	sig  kbdbus.Pin
	sim  *kbsim.Sim

	mu    sync.Mutex
	edge  gpio.Edge     // edge configured by the last In
	halt  chan struct{} // closed by Halt to unblock edge waiters
	seenR uint64        // rising transitions already reported
	seenF uint64        // falling transitions already reported
}

// String implements conn.Resource.
func (p *Pin) String() string {
	return p.name
}

// Halt implements conn.Resource.
//
// It stops edge detection if enabled and unblocks pending WaitForEdge
// calls.
func (p *Pin) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.edge != gpio.NoEdge {
		close(p.halt)
		p.halt = make(chan struct{})
		p.edge = gpio.NoEdge
	}
	return nil
}

// Name implements pin.Pin.
func (p *Pin) Name() string {
	return p.name
}

// Number implements pin.Pin. It is the bit position within port 1.
func (p *Pin) Number() int {
	return int(p.sig.Position())
}

// Function implements pin.Pin.
func (p *Pin) Function() string {
	return string(p.Func())
}

// Func implements pin.PinFunc.
//
// Direction and level come from one register snapshot so the two cannot
// disagree when a stimulus lands between reads.
func (p *Pin) Func() pin.Func {
	regs := p.sim.Registers()
	high := regs.IN.Get()&p.sig.Mask() != 0
	if regs.DIR.Get()&p.sig.Mask() != 0 {
		if high {
			return gpio.OUT_HIGH
		}
		return gpio.OUT_LOW
	}
	if high {
		return gpio.IN_HIGH
	}
	return gpio.IN_LOW
}

// SupportedFuncs implements pin.PinFunc.
func (p *Pin) SupportedFuncs() []pin.Func {
	return []pin.Func{gpio.IN, gpio.OUT}
}

// SetFunc implements pin.PinFunc.
func (p *Pin) SetFunc(f pin.Func) error {
	switch f {
	case gpio.IN:
		return p.In(gpio.PullNoChange, gpio.NoEdge)
	case gpio.OUT_HIGH:
		return p.Out(gpio.High)
	case gpio.OUT, gpio.OUT_LOW:
		return p.Out(gpio.Low)
	default:
		return p.wrap(errors.New("unsupported function"))
	}
}

// In implements gpio.PinIn.
//
// The pull is wired on the board: the AT lines carry a pull-up, the XT
// lines do not, and neither can be changed from software.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if pull != p.Pull() && pull != gpio.PullNoChange {
		return p.wrap(errors.New("pull is wired on the board and cannot be changed"))
	}
	p.mu.Lock()
	p.edge = edge
	p.mu.Unlock()
	p.sim.Mutate(p.sig.MakeInput)
	// Transitions caused by the reconfiguration itself are not reported.
	r, f := p.sim.EdgeCount(p.sig.Position())
	p.mu.Lock()
	p.seenR, p.seenF = r, f
	p.mu.Unlock()
	return nil
}

// Read implements gpio.PinIn.
func (p *Pin) Read() gpio.Level {
	return gpio.Level(p.sim.Level(p.sig.Position()))
}

// WaitForEdge implements gpio.PinIn.
//
// Transitions accumulate from the moment In configures the edge; each call
// consumes one batch, so an edge that fired while nobody was waiting is
// still reported. A negative timeout waits forever. It returns false when
// the timeout expires, Halt is called, or the pin has no edge configured.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	p.mu.Lock()
	edge := p.edge
	halt := p.halt
	p.mu.Unlock()
	if edge == gpio.NoEdge {
		return false
	}
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		// Arm before checking so a transition between the check and the
		// wait is never lost.
		ch := p.sim.Changed()
		if p.consumeEdge(edge) {
			return true
		}
		select {
		case <-ch:
		case <-expired:
			return false
		case <-halt:
			return false
		}
	}
}

// consumeEdge reports whether an unconsumed transition matching edge
// happened since the pin was armed, and marks it consumed.
func (p *Pin) consumeEdge(edge gpio.Edge) bool {
	r, f := p.sim.EdgeCount(p.sig.Position())
	p.mu.Lock()
	defer p.mu.Unlock()
	switch edge {
	case gpio.RisingEdge:
		if r > p.seenR {
			p.seenR = r
			return true
		}
	case gpio.FallingEdge:
		if f > p.seenF {
			p.seenF = f
			return true
		}
	case gpio.BothEdges:
		if r > p.seenR || f > p.seenF {
			p.seenR, p.seenF = r, f
			return true
		}
	}
	return false
}

// Pull implements gpio.PinIn.
func (p *Pin) Pull() gpio.Pull {
	if p.sim.PullUp(p.sig.Position()) {
		return gpio.PullUp
	}
	return gpio.Float
}

// DefaultPull implements gpio.PinIn. The pulls are fixed resistors, so the
// default equals the current state.
func (p *Pin) DefaultPull() gpio.Pull {
	return p.Pull()
}

// Out implements gpio.PinOut.
//
// The latch is written before the direction so the line never glitches
// through the stale latch value.
func (p *Pin) Out(l gpio.Level) error {
	if err := p.Halt(); err != nil {
		return err
	}
	p.sim.Mutate(func(port *msp430.Port) {
		if l {
			p.sig.Set(port)
		} else {
			p.sig.Clear(port)
		}
		p.sig.MakeOutput(port)
	})
	return nil
}

// PWM implements gpio.PinOut.
func (p *Pin) PWM(gpio.Duty, physic.Frequency) error {
	return p.wrap(errors.New("pwm is not supported"))
}

func (p *Pin) wrap(err error) error {
	return fmt.Errorf("kbgpio (%s): %v", p, err)
}

//

// Board binds the five converter signals of one simulated port to gpio
// pins.
type Board struct {
	ATClk   *Pin
	ATData  *Pin
	XTClk   *Pin
	XTData  *Pin
	XTSense *Pin

	sim *kbsim.Sim
}

// NewBoard returns a Board over sim. Every pin shares the simulator's
// port, exactly like the signals share port 1 on the MCU.
func NewBoard(sim *kbsim.Sim) *Board {
	k := kbdbus.New()
	return &Board{
		ATClk:   newPin("AT_CLK", k.ATClk, sim),
		ATData:  newPin("AT_DATA", k.ATData, sim),
		XTClk:   newPin("XT_CLK", k.XTClk, sim),
		XTData:  newPin("XT_DATA", k.XTData, sim),
		XTSense: newPin("XT_SENSE", k.XTSense, sim),
		sim:     sim,
	}
}

func newPin(name string, sig kbdbus.Pin, sim *kbsim.Sim) *Pin {
	return &Pin{name: name, sig: sig, sim: sim, halt: make(chan struct{})}
}

// Sim returns the wire model behind the board.
func (b *Board) Sim() *kbsim.Sim {
	return b.sim
}

// Port returns the simulated register block, for use with kbdbus from a
// single goroutine. Code racing remote stimuli wraps its register access
// in Sim().Mutate instead.
func (b *Board) Port() *msp430.Port {
	return b.sim.Port()
}

// Pins returns the five pins in bit position order.
func (b *Board) Pins() []*Pin {
	return []*Pin{b.ATClk, b.XTSense, b.XTClk, b.XTData, b.ATData}
}

//

// The default board every process gets, backed by a fresh simulator.
var defaultBoard = NewBoard(kbsim.AT2XT())

// Default returns the default board, the one whose pins the driver
// registers.
func Default() *Board {
	return defaultBoard
}

// Pins of the default board.
var (
	AT_CLK   = defaultBoard.ATClk
	AT_DATA  = defaultBoard.ATData
	XT_CLK   = defaultBoard.XTClk
	XT_DATA  = defaultBoard.XTData
	XT_SENSE = defaultBoard.XTSense
)

// registerHeaders registers the two DIN connectors of the board. Both are
// 5 pin DIN-41524: clock, data, reserved, ground, +5V.
func registerHeaders() error {
	if err := pinreg.Register("AT", [][]pin.Pin{
		{AT_CLK},
		{AT_DATA},
		{gpio.INVALID},
		{pin.GROUND},
		{pin.V5},
	}); err != nil {
		return err
	}
	return pinreg.Register("XT", [][]pin.Pin{
		{XT_CLK},
		{XT_DATA},
		{gpio.INVALID},
		{pin.GROUND},
		{pin.V5},
	})
}

// driver implements periph.Driver.
type driver struct {
}

func (d *driver) String() string {
	return "kbgpio"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

// Init registers the default board's pins, their P1.x aliases and the two
// connector headers. The simulator backing needs no probing, so Init never
// reports the driver as absent.
func (d *driver) Init() (bool, error) {
	for _, p := range defaultBoard.Pins() {
		if err := gpioreg.Register(p); err != nil {
			return true, err
		}
		if err := gpioreg.RegisterAlias(fmt.Sprintf("P1.%d", p.Number()), p.Name()); err != nil {
			return true, err
		}
	}
	return true, registerHeaders()
}

func init() {
	driverreg.MustRegister(&drv)
}

var drv driver

var _ conn.Resource = &Pin{}
var _ gpio.PinIn = &Pin{}
var _ gpio.PinOut = &Pin{}
var _ gpio.PinIO = &Pin{}
var _ pin.PinFunc = &Pin{}
