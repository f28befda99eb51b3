package sshsetup

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"
)

// WaitForSSHBanner polls addr until it accepts a TCP connection and the
// first line read back starts with SSHBannerPrefix, or ctx is done. The
// generic layer uses this after C9's bootstrap steps to decide a host has
// reached RUNNING (§4.11).
func WaitForSSHBanner(ctx context.Context, addr string, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if ok := probeBanner(addr); ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func probeBanner(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return len(line) >= len(SSHBannerPrefix) && line[:len(SSHBannerPrefix)] == SSHBannerPrefix
}

// FormatAddr joins host and port the way net.Dial expects.
func FormatAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
