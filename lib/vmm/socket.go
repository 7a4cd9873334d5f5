package vmm

import (
	"context"
	"fmt"
	"net"
	"time"
)

// IsSocketInUse checks if a Unix socket is actively being served.
func IsSocketInUse(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitForSocket polls until socketPath accepts connections or timeout passes.
func WaitForSocket(ctx context.Context, socketPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if IsSocketInUse(socketPath) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for socket %s", socketPath)
		case <-ticker.C:
		}
	}
}
