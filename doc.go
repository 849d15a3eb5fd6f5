// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

/*
Package wanglib holds the pieces shared by every instrument driver in the
toolkit: the Bus interface drivers talk through, the InstrumentError type,
and a few parsing helpers.

A Bus is anything that can send a command to one instrument and ask it a
question. A Prologix GPIB adapter address (lib/prologix.Instrument), a raw
RS-232 port (lib/serialbus.Port) and a wrapped linux-gpib handle
(lib/gpibshim.Device) are all buses, so the drivers under lib/ work with
whichever hardware path a bench uses:

	plx, err := prologix.OpenUSB("/dev/ttyUSBgpib")
	if err != nil {
		log.Fatal(err)
	}
	li := lockin.NewSR830(plx.Instrument(8))
	x, err := li.X()

Acquisitions are expressed as iterators of samples (lib/acquire) which can
be plotted while they run (lib/liveplot) or recorded (lib/record).
*/
package wanglib
