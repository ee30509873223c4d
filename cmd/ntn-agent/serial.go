package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

const sttyTimeout = 5 * time.Second

// openSerial puts port into raw 8N1 mode at baud and opens it read-write.
func openSerial(ctx context.Context, port string, baud int) (*os.File, error) {
	if port == "" {
		return nil, fmt.Errorf("serial port not configured")
	}
	sttyCtx, cancel := context.WithTimeout(ctx, sttyTimeout)
	defer cancel()
	out, err := exec.CommandContext(sttyCtx, "stty", "-F", port,
		strconv.Itoa(baud), "raw", "-echo", "-echoe", "-echok",
		"cs8", "-cstopb", "-parenb", "-crtscts").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("stty %s: %w (%s)", port, err, out)
	}

	f, err := os.OpenFile(port, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	return f, nil
}
