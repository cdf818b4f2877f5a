package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

const (
	minReconnect = 500 * time.Millisecond
	maxReconnect = 30 * time.Second
	maxEventSize = 1 << 20
)

// readEvents parses a text/event-stream body.  Consecutive data lines are
// joined with '\n' and delivered when a blank line ends the event; comment
// lines and other fields are ignored.  It returns nil when the body ends
// cleanly.
func readEvents(r io.Reader, onEvent func([]byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)

	var data []byte
	have := false
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			if have {
				onEvent(data)
			}
			data, have = nil, false
			continue
		}
		if line[0] == ':' {
			continue // heartbeat or other comment
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if have {
			data = append(data, '\n')
		}
		data = append(data, value...)
		have = true
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// nextBackoff doubles d up to maxReconnect.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnect {
		d = maxReconnect
	}
	return d
}

// sleep waits for d or ctx, reporting false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
