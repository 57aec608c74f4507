// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"
)

const sampleRate = beep.SampleRate(44100)

// initAudio opens the default audio device.
func initAudio() error {
	return speaker.Init(sampleRate, sampleRate.N(time.Second/10))
}

// chime plays a short tone. It requires a successful call to initAudio.
func chime() {
	sine, err := generators.SineTone(sampleRate, 660)
	if err != nil {
		return
	}
	speaker.Play(beep.Take(sampleRate.N(80*time.Millisecond), sine))
}
