// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package kbgpio

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/retrokbd/at2xt/kbsim"
)

func TestPinIdentity(t *testing.T) {
	b := NewBoard(kbsim.AT2XT())
	tests := []struct {
		pin    *Pin
		name   string
		number int
	}{
		{b.ATClk, "AT_CLK", 0},
		{b.XTSense, "XT_SENSE", 1},
		{b.XTClk, "XT_CLK", 2},
		{b.XTData, "XT_DATA", 3},
		{b.ATData, "AT_DATA", 4},
	}
	for _, test := range tests {
		if got, want := test.pin.Name(), test.name; got != want {
			t.Errorf("Name: got %q, want %q", got, want)
		}
		if got, want := test.pin.String(), test.name; got != want {
			t.Errorf("String: got %q, want %q", got, want)
		}
		if got, want := test.pin.Number(), test.number; got != want {
			t.Errorf("%s Number: got %d, want %d", test.name, got, want)
		}
	}
}

func TestInPull(t *testing.T) {
	b := NewBoard(kbsim.AT2XT())
	if got, want := b.ATClk.Pull(), gpio.PullUp; got != want {
		t.Errorf("AT_CLK Pull: got %s, want %s", got, want)
	}
	if got, want := b.XTClk.Pull(), gpio.Float; got != want {
		t.Errorf("XT_CLK Pull: got %s, want %s", got, want)
	}
	if got, want := b.ATClk.DefaultPull(), b.ATClk.Pull(); got != want {
		t.Errorf("AT_CLK DefaultPull: got %s, want %s", got, want)
	}
	if err := b.ATClk.In(gpio.PullUp, gpio.NoEdge); err != nil {
		t.Errorf("In(PullUp) on pulled-up line: %v", err)
	}
	if err := b.ATClk.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		t.Errorf("In(PullNoChange): %v", err)
	}
	if err := b.ATClk.In(gpio.PullDown, gpio.NoEdge); err == nil {
		t.Error("In(PullDown) on pulled-up line did not fail")
	}
	if err := b.XTClk.In(gpio.Float, gpio.NoEdge); err != nil {
		t.Errorf("In(Float) on floating line: %v", err)
	}
	if err := b.XTClk.In(gpio.PullUp, gpio.NoEdge); err == nil {
		t.Error("In(PullUp) on floating line did not fail")
	}
}

func TestReadFollowsWire(t *testing.T) {
	b := NewBoard(kbsim.AT2XT())
	if err := b.ATClk.In(gpio.PullUp, gpio.NoEdge); err != nil {
		t.Fatal(err)
	}
	if got, want := b.ATClk.Read(), gpio.High; got != want {
		t.Errorf("idle line: got %s, want %s", got, want)
	}
	b.Sim().DriveLow(uint8(b.ATClk.Number()))
	if got, want := b.ATClk.Read(), gpio.Low; got != want {
		t.Errorf("pulled line: got %s, want %s", got, want)
	}
	b.Sim().ReleaseLine(uint8(b.ATClk.Number()))
	if got, want := b.ATClk.Read(), gpio.High; got != want {
		t.Errorf("released line: got %s, want %s", got, want)
	}
}

func TestOut(t *testing.T) {
	b := NewBoard(kbsim.AT2XT())
	if err := b.XTData.Out(gpio.Low); err != nil {
		t.Fatal(err)
	}
	p := b.Port()
	if got, want := p.DIR.Get()&0x08, uint8(0x08); got != want {
		t.Errorf("DIR bit after Out: got %#02x, want %#02x", got, want)
	}
	if got, want := b.XTData.Read(), gpio.Low; got != want {
		t.Errorf("line after Out(Low): got %s, want %s", got, want)
	}
	if err := b.XTData.Out(gpio.High); err != nil {
		t.Fatal(err)
	}
	if got, want := b.XTData.Read(), gpio.High; got != want {
		t.Errorf("line after Out(High): got %s, want %s", got, want)
	}

	// Open collector interplay: the port drives high, the remote device
	// still wins by pulling low.
	if err := b.ATData.Out(gpio.High); err != nil {
		t.Fatal(err)
	}
	b.Sim().DriveLow(uint8(b.ATData.Number()))
	if got, want := b.ATData.Read(), gpio.Low; got != want {
		t.Errorf("contended open collector line: got %s, want %s", got, want)
	}
}

// Driver-side pin writes and remote stimuli run on different goroutines;
// both sides must reach the shared registers through the simulator's
// lock. Run with the race detector to make this bite.
func TestOutDuringRemoteActivity(t *testing.T) {
	b := NewBoard(kbsim.AT2XT())
	clk := uint8(b.ATClk.Number())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if err := b.XTData.Out(gpio.Level(i%2 == 0)); err != nil {
				t.Errorf("Out: %v", err)
				return
			}
			if f := b.XTData.Func(); f != gpio.OUT_HIGH && f != gpio.OUT_LOW {
				t.Errorf("Func during output: got %s", f)
				return
			}
		}
	}()
	for i := 0; i < 500; i++ {
		b.Sim().DriveLow(clk)
		b.Sim().ReleaseLine(clk)
	}
	<-done
	// Both lines settle to a coherent state once the activity stops.
	if err := b.XTData.Out(gpio.High); err != nil {
		t.Fatal(err)
	}
	if got, want := b.XTData.Read(), gpio.High; got != want {
		t.Errorf("driven line after concurrent activity: got %s, want %s", got, want)
	}
	if got, want := b.ATClk.Read(), gpio.High; got != want {
		t.Errorf("released line after concurrent activity: got %s, want %s", got, want)
	}
	if got, want := b.Sim().Contentions(), uint64(0); got != want {
		t.Errorf("contentions: got %d, want %d", got, want)
	}
}

func TestWaitForEdge(t *testing.T) {
	b := NewBoard(kbsim.AT2XT())
	clk := uint8(b.ATClk.Number())
	if err := b.ATClk.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		t.Fatal(err)
	}
	// The edge fires before anybody waits; it must still be delivered.
	b.Sim().DriveLow(clk)
	if !b.ATClk.WaitForEdge(time.Second) {
		t.Fatal("falling edge not observed")
	}
	// Nothing further happens: the next wait times out.
	if b.ATClk.WaitForEdge(20 * time.Millisecond) {
		t.Fatal("spurious edge observed")
	}
	// A rising filter must ignore the next fall and catch the rise.
	if err := b.ATClk.In(gpio.PullUp, gpio.RisingEdge); err != nil {
		t.Fatal(err)
	}
	b.Sim().ReleaseLine(clk)
	if !b.ATClk.WaitForEdge(time.Second) {
		t.Fatal("rising edge not observed")
	}
	b.Sim().DriveLow(clk)
	if b.ATClk.WaitForEdge(20 * time.Millisecond) {
		t.Fatal("falling edge reported with rising filter")
	}
}

func TestWaitForEdgeUnconfigured(t *testing.T) {
	b := NewBoard(kbsim.AT2XT())
	if b.XTSense.WaitForEdge(-1) {
		t.Error("WaitForEdge returned true without edge configuration")
	}
}

func TestHaltUnblocks(t *testing.T) {
	b := NewBoard(kbsim.AT2XT())
	if err := b.ATClk.In(gpio.PullUp, gpio.BothEdges); err != nil {
		t.Fatal(err)
	}
	done := make(chan bool, 1)
	go func() {
		done <- b.ATClk.WaitForEdge(-1)
	}()
	// Give the waiter a moment to block, then halt it.
	time.Sleep(10 * time.Millisecond)
	if err := b.ATClk.Halt(); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-done:
		if got {
			t.Error("halted WaitForEdge returned true")
		}
	case <-time.After(time.Second):
		t.Fatal("Halt did not unblock WaitForEdge")
	}
}

func TestFunc(t *testing.T) {
	b := NewBoard(kbsim.AT2XT())
	if err := b.ATData.SetFunc(gpio.OUT_HIGH); err != nil {
		t.Fatal(err)
	}
	if got, want := b.ATData.Func(), gpio.OUT_HIGH; got != want {
		t.Errorf("Func after SetFunc(OUT_HIGH): got %s, want %s", got, want)
	}
	if err := b.ATData.SetFunc(gpio.OUT); err != nil {
		t.Fatal(err)
	}
	if got, want := b.ATData.Func(), gpio.OUT_LOW; got != want {
		t.Errorf("Func after SetFunc(OUT): got %s, want %s", got, want)
	}
	if err := b.ATData.SetFunc(gpio.IN); err != nil {
		t.Fatal(err)
	}
	if got, want := b.ATData.Func(), gpio.IN_HIGH; got != want {
		t.Errorf("Func after SetFunc(IN): got %s, want %s", got, want)
	}
	if err := b.ATData.SetFunc("SPI0_MOSI"); err == nil {
		t.Error("SetFunc with a foreign function did not fail")
	}
	if got, want := len(b.ATData.SupportedFuncs()), 2; got != want {
		t.Errorf("SupportedFuncs count: got %d, want %d", got, want)
	}
}

func TestRegistry(t *testing.T) {
	if _, err := driverreg.Init(); err != nil {
		t.Fatal(err)
	}
	p := gpioreg.ByName("AT_CLK")
	if p == nil {
		t.Fatal("AT_CLK not registered")
	}
	if got, want := p.Number(), 0; got != want {
		t.Errorf("AT_CLK number: got %d, want %d", got, want)
	}
	alias := gpioreg.ByName("P1.3")
	if alias == nil {
		t.Fatal("P1.3 alias not registered")
	}
	if got, want := alias.Number(), 3; got != want {
		t.Errorf("P1.3 number: got %d, want %d", got, want)
	}
	r, ok := alias.(gpio.RealPin)
	if !ok {
		t.Fatal("P1.3 did not resolve to an alias")
	}
	if got, want := r.Real().Name(), "XT_DATA"; got != want {
		t.Errorf("P1.3 real pin: got %q, want %q", got, want)
	}
}
