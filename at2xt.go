// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package at2xt loads the host-side drivers for the AT to XT keyboard
// converter into the periph.io driver registry.
package at2xt

import (
	"periph.io/x/conn/v3/driver/driverreg"

	// Make sure the converter drivers are registered.
	_ "github.com/retrokbd/at2xt/kbgpio"
)

// Init calls driverreg.Init() and returns it as-is.
//
// The only difference is that by calling at2xt.Init(), you are guaranteed
// to have all the drivers implemented in this module to be implicitly
// loaded.
func Init() (*driverreg.State, error) {
	return driverreg.Init()
}
