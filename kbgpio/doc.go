// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package kbgpio exposes the five keyboard bus signals of the converter as
// periph.io gpio pins.
//
// The pins are backed by the kbsim wire model, so standard periph tooling
// (gpioreg lookups, header maps, edge waits) works against the converter
// with no hardware attached. Pins can be looked up by signal name through
// periph.io/x/conn/v3/gpio/gpioreg, AT_CLK through XT_SENSE, or by the
// MCU pin name, P1.0 through P1.4.
//
// The two DIN connectors of the board are registered as pin headers named
// AT and XT.
package kbgpio
