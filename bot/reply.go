// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tailscale/troopmap"
	"github.com/tailscale/troopmap/player"
)

// A Source provides the dataset and live player state the bot reports on.
type Source interface {
	// Len reports the number of frames in the dataset.
	Len() int

	// Frame returns the frame at index 0 ≤ i < Len.
	Frame(i int) *troopmap.Frame

	// State reports the state of the shared player.
	State() player.State
}

const usage = "Ask me for `status`, `frame` (the current frame), or `frame N`."

// Reply returns the bot's answer to a message. Slack user mentions in text
// are ignored.
func Reply(src Source, text string) string {
	var words []string
	for _, w := range strings.Fields(text) {
		if strings.HasPrefix(w, "<@") {
			continue
		}
		words = append(words, strings.ToLower(w))
	}
	if len(words) == 0 {
		return usage
	}

	switch words[0] {
	case "status":
		return describeState(src)
	case "frame":
		i := src.State().Frame
		if len(words) > 1 {
			n, err := strconv.Atoi(words[1])
			if err != nil {
				return fmt.Sprintf("%q is not a frame number.", words[1])
			}
			i = n
		}
		if i < 0 || i >= src.Len() {
			return fmt.Sprintf("Frame %d is out of range; the dataset has frames 0 to %d.", i, src.Len()-1)
		}
		return describeFrame(i, src.Frame(i))
	default:
		return usage
	}
}

func describeState(src Source) string {
	st := src.State()
	verb := "paused"
	if st.Playing {
		verb = "playing"
	}
	label := ""
	if st.Frame >= 0 && st.Frame < src.Len() {
		label = fmt.Sprintf(" (%s)", src.Frame(st.Frame).Time)
	}
	return fmt.Sprintf("Frame %d of %d%s, %s.", st.Frame, st.Len, label, verb)
}

func describeFrame(i int, f *troopmap.Frame) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Frame %d (%s):", i, f.Time)
	for _, r := range f.Records() {
		sb.WriteString("\n• ")
		sb.WriteString(string(r.Name))
		if r.Located() {
			fmt.Fprintf(&sb, " at %.4f, %.4f", r.Long.Float(), r.Lat.Float())
		} else {
			sb.WriteString(" (position unknown)")
		}
		sb.WriteString(": ")
		for c, n := range r.Population {
			fmt.Fprintf(&sb, "%v %v, ", n, troopmap.Category(c))
		}
		fmt.Fprintf(&sb, "%v total", r.Total)
	}
	return sb.String()
}
