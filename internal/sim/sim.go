// Package sim holds the simulation coordination layer: the event bus, the
// stimulus pipeline, room membership, the action executor and the state
// projector. Every operation takes the *world.World it acts on; callers
// decide which lock (Update or View) surrounds the call.
package sim

import "time"

// Clock returns the current time. Tests substitute a fixed clock; a nil
// Clock reads the wall clock.
type Clock func() time.Time

// Millis returns the current time in Unix milliseconds.
func (c Clock) Millis() int64 {
	if c == nil {
		return time.Now().UnixMilli()
	}
	return c().UnixMilli()
}
