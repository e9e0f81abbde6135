//go:build linux || darwin || freebsd || dragonfly

package reactor

import "os"

// selectDemultiplexer picks the platform demultiplexer unless
// MUDUO_USE_POLL is set, in which case it returns the portable but
// O(n)-per-call poll(2) based one regardless of platform.
func selectDemultiplexer() (demultiplexer, error) {
	if os.Getenv("MUDUO_USE_POLL") != "" {
		return newPollDemultiplexer(), nil
	}
	return newDemultiplexer()
}
