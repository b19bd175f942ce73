// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package msp430 models the 8-bit digital I/O port register block of the
// MSP430G2xx MCU family as an explicit Go type.
//
// Register roles and reset behavior follow the MSP430x2xx Family User's
// Guide (SLAU144K) chapter 8, "Digital I/O":
// https://www.ti.com/lit/ug/slau144k/slau144k.pdf
//
// The block is deliberately a plain struct. On a hosted OS it sits in
// ordinary memory and a peripheral model animates it (see package kbsim);
// PortAt overlays it on the real memory mapped block on targets where the
// address space is the MCU's.
package msp430

import "unsafe"

// Port1Base is the address of the P1 register block on MSP430G2x11 devices,
// P1IN at 0x0020 through P1IE at 0x0025.
const Port1Base uintptr = 0x0020

// setMask returns cur with the bits of mask set and all others untouched.
func setMask(cur, mask uint8) uint8 {
	return cur | mask
}

// clearMask returns cur with the bits of mask cleared and all others
// untouched.
func clearMask(cur, mask uint8) uint8 {
	return cur &^ mask
}

// Reg8 is one 8-bit I/O register.
//
// SetBits and ClearBits are read-modify-write sequences and are not atomic.
// If an interrupt handler can touch the same register, the caller must mask
// the interrupt source around the update; package kbdbus provides the
// masking discipline used by the converter.
type Reg8 uint8

// Get returns the current value of the register.
func (r *Reg8) Get() uint8 {
	return uint8(*r)
}

// Set replaces the whole register with v.
func (r *Reg8) Set(v uint8) {
	*r = Reg8(v)
}

// SetBits sets the bits of mask and leaves the others alone.
func (r *Reg8) SetBits(mask uint8) {
	*r = Reg8(setMask(uint8(*r), mask))
}

// ClearBits clears the bits of mask and leaves the others alone.
func (r *Reg8) ClearBits(mask uint8) {
	*r = Reg8(clearMask(uint8(*r), mask))
}

// Port is the register block of one 8-bit digital I/O port. Fields are in
// address order so the struct overlays the hardware map, P1IN=0x20 through
// P1IE=0x25.
type Port struct {
	IN  Reg8 // input level; read only, hardware ignores writes
	OUT Reg8 // output latch; driven onto a pin only while its DIR bit is 1
	DIR Reg8 // direction, 1=output
	IFG Reg8 // interrupt flag; sticky, software clears it by writing 0
	IES Reg8 // edge select, 1=falling (high to low)
	IE  Reg8 // interrupt enable; gates delivery, not IFG latching
}

// PortAt overlays a Port on the register block at addr. Only meaningful on
// targets where the MCU's peripheral space is the process address space.
func PortAt(addr uintptr) *Port {
	return (*Port)(unsafe.Pointer(addr))
}
