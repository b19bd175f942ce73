// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/retrokbd/at2xt/ftdikb"
	"github.com/retrokbd/at2xt/kbdbus"
	"github.com/retrokbd/at2xt/kbsim"
	"github.com/retrokbd/at2xt/msp430"
)

var smokeCmd = &cobra.Command{
	Use:   "smoke [flags]",
	Short: "Self-check the converter's bus operations",
	Long: `Exercise every composite bus operation and verify the register and line
state each one must leave behind. By default the check runs against the
simulated buses; --ftdi runs the push and poll path against an attached
FT232R or FT232H instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Configure log level
		if getFlag(cmd, "verbose") {
			log.SetLevel(log.DebugLevel)
		}
		var err error
		if getFlag(cmd, "ftdi") {
			err = smokeFTDI(os.Stdout, int(getUint(cmd, "index")))
		} else {
			err = smokeSim(os.Stdout)
		}
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Println("OK")
	},
}

func init() {
	smokeCmd.Flags().Bool("ftdi", false, "run against an attached FTDI dongle instead of the simulator")
	smokeCmd.Flags().Uint("index", 0, "FTDI device index")
	rootCmd.AddCommand(smokeCmd)
}

// expect is one masked register or line check.
type expect struct {
	what            string
	got, mask, want uint8
}

// smokeSim drives the converter's whole operation set against the wire
// model and verifies what each step must leave in the registers and on
// the lines.
func smokeSim(w io.Writer) error {
	sim := kbsim.AT2XT()
	bus := kbdbus.New()
	p := sim.Port()

	atClk := bus.ATClk.Mask()
	atData := bus.ATData.Mask()
	xtClk := bus.XTClk.Mask()
	xtData := bus.XTData.Mask()
	at := atClk | atData
	xt := xtClk | xtData

	phase := func(step string, exps []expect) error {
		for _, e := range exps {
			if e.got&e.mask != e.want {
				return fmt.Errorf("%s: %s = %#02x, want %#02x under mask %#02x", step, e.what, e.got, e.want, e.mask)
			}
		}
		fmt.Fprintf(w, "  %-24s ok\n", step)
		return nil
	}

	bus.Reset(p)
	sim.Settle()
	if err := phase("reset", []expect{
		{"DIR", p.DIR.Get(), 0xFF, 0x00},
		{"IFG", p.IFG.Get(), atClk, 0x00},
		{"IES", p.IES.Get(), atClk, atClk},
		{"IE", p.IE.Get(), atClk, atClk},
	}); err != nil {
		return err
	}

	bus.ATIdle(p)
	sim.Settle()
	if err := phase("at-idle", []expect{
		{"OUT", p.OUT.Get(), at, at},
		{"DIR", p.DIR.Get(), at, 0x00},
		{"lines", sim.Lines(), at, at},
	}); err != nil {
		return err
	}

	// The keyboard pulls its clock low: the falling edge must latch.
	sim.DriveLow(bus.ATClk.Position())
	if err := phase("keyboard clock low", []expect{
		{"lines", sim.Lines(), atClk, 0x00},
		{"IN", p.IN.Get(), atClk, 0x00},
		{"IFG", p.IFG.Get(), atClk, atClk},
	}); err != nil {
		return err
	}
	if !sim.Pending() {
		return errors.New("keyboard clock low: interrupt not pending")
	}

	tok := bus.DisableATClkInterrupt(p)
	sim.Settle()
	if err := phase("disable-int", []expect{
		{"IE", p.IE.Get(), atClk, 0x00},
		{"IFG", p.IFG.Get(), atClk, atClk},
	}); err != nil {
		return err
	}
	if sim.Pending() {
		return errors.New("disable-int: interrupt still pending")
	}

	bus.AckATClkInterrupt(p)
	sim.Settle()
	if err := phase("ack", []expect{
		{"IFG", p.IFG.Get(), atClk, 0x00},
	}); err != nil {
		return err
	}

	// The release edge rises, the unselected direction: no new flag.
	sim.ReleaseLine(bus.ATClk.Position())
	if err := phase("keyboard clock release", []expect{
		{"lines", sim.Lines(), atClk, atClk},
		{"IFG", p.IFG.Get(), atClk, 0x00},
	}); err != nil {
		return err
	}

	bus.EnableATClkInterrupt(p, tok)
	sim.Settle()
	if err := phase("enable-int", []expect{
		{"IE", p.IE.Get(), atClk, atClk},
	}); err != nil {
		return err
	}

	// Inhibit drives our own clock low; the port latches its own edge,
	// exactly like the silicon would.
	bus.ATInhibit(p)
	sim.Settle()
	if err := phase("at-inhibit", []expect{
		{"DIR", p.DIR.Get(), at, atClk},
		{"OUT", p.OUT.Get(), at, atData},
		{"lines", sim.Lines(), at, atData},
		{"IFG", p.IFG.Get(), atClk, atClk},
	}); err != nil {
		return err
	}
	bus.AckATClkInterrupt(p)
	sim.Settle()

	bus.ATSend(p)
	sim.Settle()
	if err := phase("at-send", []expect{
		{"DIR", p.DIR.Get(), at, atData},
		{"OUT", p.OUT.Get(), at, at},
		{"lines", sim.Lines(), at, at},
	}); err != nil {
		return err
	}

	bus.XTTransmit(p)
	sim.Settle()
	if err := phase("xt-transmit", []expect{
		{"OUT", p.OUT.Get(), xt, xt},
		{"DIR", p.DIR.Get(), xt, xt},
		{"lines", sim.Lines(), xt, xt},
	}); err != nil {
		return err
	}

	bus.XTReceive(p)
	sim.Settle()
	if err := phase("xt-receive", []expect{
		{"DIR", p.DIR.Get(), xt, 0x00},
		{"OUT", p.OUT.Get(), xtData, xtData},
		{"lines", sim.Lines(), xt, xt},
	}); err != nil {
		return err
	}

	// The PC wiggles XT data; the released port must see it and, with the
	// line back at its rising edge select, latch on the way up.
	sim.DriveLow(bus.XTData.Position())
	if err := phase("pc data low", []expect{
		{"lines", sim.Lines(), xtData, 0x00},
		{"IN", p.IN.Get(), xtData, 0x00},
	}); err != nil {
		return err
	}
	sim.ReleaseLine(bus.XTData.Position())
	if err := phase("pc data release", []expect{
		{"lines", sim.Lines(), xtData, xtData},
		{"IFG", p.IFG.Get(), xtData, xtData},
	}); err != nil {
		return err
	}
	p.IFG.ClearBits(xtData)

	if n := sim.Contentions(); n != 0 {
		return fmt.Errorf("bus contention seen %d time(s)", n)
	}
	return nil
}

// smokeFTDI opens the i-th dongle and verifies the push and poll path:
// a pin we drive low must read back low through the bit-bang sampler.
func smokeFTDI(w io.Writer, i int) error {
	b, err := ftdikb.Open(i)
	if err != nil {
		return err
	}
	defer b.Close()
	fmt.Fprintf(w, "  opened %s\n", b)

	bus := kbdbus.New()
	p := &msp430.Port{}
	bus.Reset(p)
	bus.ATIdle(p)
	if err := b.Push(p); err != nil {
		return err
	}
	if err := b.Poll(p); err != nil {
		return err
	}
	fmt.Fprintf(w, "  at-idle    IN=%#02x\n", p.IN.Get())

	// Inhibit drives the AT clock low; the sampler reads the real pin, so
	// the bit must come back low no matter what is wired on.
	bus.ATInhibit(p)
	if err := b.Push(p); err != nil {
		return err
	}
	if err := b.Poll(p); err != nil {
		return err
	}
	fmt.Fprintf(w, "  at-inhibit IN=%#02x\n", p.IN.Get())
	if p.IN.Get()&bus.ATClk.Mask() != 0 {
		return errors.New("AT clock driven low but read back high")
	}

	bus.ATIdle(p)
	if err := b.Push(p); err != nil {
		return err
	}
	if err := b.Poll(p); err != nil {
		return err
	}
	fmt.Fprintf(w, "  at-idle    IN=%#02x\n", p.IN.Get())
	return nil
}
