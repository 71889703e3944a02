// brainwaved is the companion daemon for the NBLK-WAX9X EEG wearable. It
// keeps a streaming connection to the headset, reacts to seizure detections
// and serves the local UI over HTTP and WebSocket.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
