// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package control

import (
	"fmt"
	"time"

	"github.com/relabs-tech/motion_logger/internal/sessionlog"
)

// StreamLog sends the session log over n one line at a time, each line
// newline-terminated, pausing delay between lines so the peer's receive
// buffer keeps up. It returns the number of lines sent.
func StreamLog(path string, n Notifier, delay time.Duration) (int, error) {
	sent := 0
	err := sessionlog.EachLine(path, func(line string) error {
		if sent > 0 && delay > 0 {
			time.Sleep(delay)
		}
		if err := n.Notify([]byte(line + "\n")); err != nil {
			return fmt.Errorf("control: notify line %d: %w", sent+1, err)
		}
		sent++
		return nil
	})
	return sent, err
}
