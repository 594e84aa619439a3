package control

import (
	"context"
	"fmt"
	"io"
	"net"
)

// Send issues a single command to the control server at addr and copies the
// whole reply to w.
func Send(ctx context.Context, addr, command string, w io.Writer) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, command+"\n"); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	if _, err := io.Copy(w, conn); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return nil
}
