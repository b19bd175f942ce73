// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdikb drives the converter's bus signals through an FTDI
// FT232R or FT232H dongle in asynchronous bit-bang mode.
//
// The dongle happens to expose exactly the converter's register model:
// the bit-bang direction mask acts as DIR, the written byte as OUT, and
// the instantaneous pin state as IN. Wire the five bus signals to D0-D4
// of the dongle and the same kbdbus operations that run on the MCU run
// against real keyboards.
//
// The dongle has no interrupt silicon, so Poll emulates the sticky flag
// register in software from consecutive pin reads.
//
// # Datasheets
//
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_232R-01_Bit_Bang_Mode_Available_For_FT232R_and_Ft245R.pdf
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232R.pdf
package ftdikb
