package auth

import (
	"context"
	"fmt"
	"net"
)

// FreePort reserves an ephemeral TCP port by binding a throwaway listener on
// the IPv4 loopback address and releasing it immediately. Another process can
// still take the port before the caller binds it; the authorizer handles
// that by falling back to an OS-assigned port.
func FreePort(ctx context.Context) (int, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("auth: probing free port: %w", err)
	}
	defer ln.Close()

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("auth: probe listener address is not TCP")
	}

	return tcpAddr.Port, nil
}
