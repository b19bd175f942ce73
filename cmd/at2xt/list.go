// Copyright 2025 The RetroKbd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/retrokbd/at2xt/ftdikb"
	"github.com/retrokbd/at2xt/hidkb"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Enumerate attached converter hardware",
	Long: `Enumerate FTDI dongles visible to the D2XX driver and converter debug
adapters on the USB HID bus. Neither is opened or disturbed.`,
	Run: func(cmd *cobra.Command, args []string) {
		ok := true
		if n, err := ftdikb.NumDevices(); err != nil {
			fmt.Println(err)
			ok = false
		} else {
			fmt.Printf("ftdi: %d device(s)\n", n)
		}
		infos := hidkb.AttachedDevices(hidkb.VID, hidkb.PID)
		fmt.Printf("hid: %d debug adapter(s)\n", len(infos))
		for _, di := range infos {
			fmt.Printf("  %04x:%04x %s %s\n", di.VendorID, di.ProductID, di.Manufacturer, di.Product)
		}
		if !ok {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
