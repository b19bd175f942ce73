// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/retrokbd/at2xt/kbdbus"
	"github.com/retrokbd/at2xt/kbsim"
)

var simCmd = &cobra.Command{
	Use:   "sim [flags] [operation ...]",
	Short: "Run bus operations against the simulated buses",
	Long: `Run a sequence of converter bus operations against simulated AT and XT
buses and print the register and line state after each step.

Converter operations:
  reset at-idle at-inhibit at-send xt-transmit xt-receive
  disable-int enable-int ack

Remote stimuli, the keyboard or PC end of a line:
  <line>-low <line>-high <line>-release
  where <line> is one of at-clk at-data xt-clk xt-data xt-sense

The LINES column shows the five bus lines as P1.4 down to P1.0: AT data,
XT data, XT clock, XT sense, AT clock. With no operations given, a
demonstration script is run.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Configure log level
		if getFlag(cmd, "verbose") {
			log.SetLevel(log.DebugLevel)
		}
		if len(args) == 0 {
			args = defaultScript
		}
		pretty := term.IsTerminal(int(os.Stdout.Fd()))
		if err := runSim(os.Stdout, args, pretty); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(simCmd)
}

// defaultScript walks the converter through its life: power-up, open the
// AT bus, take a clock edge from the keyboard, forward a bit on the XT
// side and come back to idle.
var defaultScript = []string{
	"reset",
	"at-idle",
	"at-clk-low",
	"disable-int",
	"ack",
	"at-clk-release",
	"xt-transmit",
	"xt-receive",
	"at-idle",
	"enable-int",
}

func runSim(w io.Writer, script []string, pretty bool) error {
	env := newSimEnv()
	t := &traceWriter{w: w, pretty: pretty}
	t.header()
	for _, name := range script {
		if err := env.step(name); err != nil {
			return err
		}
		t.row(name, env.sim)
	}
	return nil
}

// simEnv is the state one sim run threads through its script: the wire
// model, the bus driver, and the mask token between a disable-int and the
// matching enable-int.
type simEnv struct {
	sim  *kbsim.Sim
	bus  kbdbus.Pins
	tok  kbdbus.MaskToken
	bits map[string]uint8
}

func newSimEnv() *simEnv {
	e := &simEnv{sim: kbsim.AT2XT(), bus: kbdbus.New()}
	e.bits = map[string]uint8{
		"at-clk":   e.bus.ATClk.Position(),
		"at-data":  e.bus.ATData.Position(),
		"xt-clk":   e.bus.XTClk.Position(),
		"xt-data":  e.bus.XTData.Position(),
		"xt-sense": e.bus.XTSense.Position(),
	}
	return e
}

func (e *simEnv) step(name string) error {
	p := e.sim.Port()
	switch name {
	case "reset":
		e.bus.Reset(p)
	case "at-idle":
		e.bus.ATIdle(p)
	case "at-inhibit":
		e.bus.ATInhibit(p)
	case "at-send":
		e.bus.ATSend(p)
	case "xt-transmit":
		e.bus.XTTransmit(p)
	case "xt-receive":
		e.bus.XTReceive(p)
	case "disable-int":
		e.tok = e.bus.DisableATClkInterrupt(p)
	case "enable-int":
		e.bus.EnableATClkInterrupt(p, e.tok)
	case "ack":
		e.bus.AckATClkInterrupt(p)
	default:
		return e.stimulus(name)
	}
	e.sim.Settle()
	return nil
}

// stimulus acts as the device on the far end of a line.
func (e *simEnv) stimulus(name string) error {
	i := strings.LastIndex(name, "-")
	if i < 0 {
		return fmt.Errorf("unknown operation %q", name)
	}
	bit, ok := e.bits[name[:i]]
	if !ok {
		return fmt.Errorf("unknown operation %q", name)
	}
	switch name[i+1:] {
	case "low":
		e.sim.DriveLow(bit)
	case "high":
		e.sim.DriveHigh(bit)
	case "release":
		e.sim.ReleaseLine(bit)
	default:
		return fmt.Errorf("unknown operation %q", name)
	}
	return nil
}

// traceWriter prints one row of register and line state per executed
// operation: aligned columns on a terminal, tab-separated otherwise.
type traceWriter struct {
	w      io.Writer
	pretty bool
}

func (t *traceWriter) header() {
	if t.pretty {
		fmt.Fprintf(t.w, "%-16s %3s %3s %3s %3s %3s %3s %5s %4s %4s\n",
			"STEP", "IN", "OUT", "DIR", "IFG", "IES", "IE", "LINES", "PEND", "CONT")
		fmt.Fprintln(t.w, strings.Repeat("-", 56))
		return
	}
	fmt.Fprintln(t.w, "step\tin\tout\tdir\tifg\ties\tie\tlines\tpend\tcont")
}

func (t *traceWriter) row(name string, s *kbsim.Sim) {
	r := s.Registers()
	lines := s.Lines() & 0x1F
	pend := "-"
	if s.Pending() {
		pend = "*"
	}
	if t.pretty {
		fmt.Fprintf(t.w, "%-16s  %02X  %02X  %02X  %02X  %02X  %02X %05b %4s %4d\n",
			name, r.IN.Get(), r.OUT.Get(), r.DIR.Get(), r.IFG.Get(), r.IES.Get(), r.IE.Get(),
			lines, pend, s.Contentions())
		return
	}
	fmt.Fprintf(t.w, "%s\t%02x\t%02x\t%02x\t%02x\t%02x\t%02x\t%05b\t%s\t%d\n",
		name, r.IN.Get(), r.OUT.Get(), r.DIR.Get(), r.IFG.Get(), r.IES.Get(), r.IE.Get(),
		lines, pend, s.Contentions())
}
