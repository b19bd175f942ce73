// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package kbdbus_test

import (
	"fmt"

	"github.com/retrokbd/at2xt/kbdbus"
	"github.com/retrokbd/at2xt/msp430"
)

// Walks the bus states a host-to-keyboard transfer goes through and shows
// the port registers after each step.
func ExamplePins() {
	p := &msp430.Port{}
	k := kbdbus.New()

	k.Reset(p)
	fmt.Printf("reset      OUT=%02X DIR=%02X IE=%02X\n", p.OUT.Get(), p.DIR.Get(), p.IE.Get())
	k.ATIdle(p)
	fmt.Printf("at-idle    OUT=%02X DIR=%02X\n", p.OUT.Get(), p.DIR.Get())
	k.ATInhibit(p)
	fmt.Printf("at-inhibit OUT=%02X DIR=%02X\n", p.OUT.Get(), p.DIR.Get())
	k.ATSend(p)
	fmt.Printf("at-send    OUT=%02X DIR=%02X\n", p.OUT.Get(), p.DIR.Get())
	k.XTReceive(p)
	fmt.Printf("xt-receive OUT=%02X DIR=%02X\n", p.OUT.Get(), p.DIR.Get())

	// Output:
	// reset      OUT=00 DIR=00 IE=01
	// at-idle    OUT=11 DIR=00
	// at-inhibit OUT=10 DIR=01
	// at-send    OUT=11 DIR=10
	// xt-receive OUT=19 DIR=10
}
