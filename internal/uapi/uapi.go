// Package uapi exposes a running tunnel's state over a local unix socket
// in the same spirit as the reference implementation's configuration
// protocol: a line-oriented, key=value snapshot a separate "stats" process
// can query without sharing memory with the daemon.
package uapi

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"time"

	"wgtun/internal/wgstate"
)

// SocketPath returns the conventional control-socket path for an
// interface, mirroring /var/run/wireguard/<iface>.sock.
func SocketPath(ifaceName string) string {
	return fmt.Sprintf("/var/run/wgtun/%s.sock", ifaceName)
}

// Serve accepts connections on path and writes one snapshot per request
// until it is closed. It removes any stale socket file left by a previous
// run before binding.
func Serve(path string, snapshot func() wgstate.Snapshot) (*net.UnixListener, error) {
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("uapi: failed to resolve socket path: %w", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("uapi: failed to listen on %s: %w", path, err)
	}
	go acceptLoop(ln, snapshot)
	return ln, nil
}

func acceptLoop(ln *net.UnixListener, snapshot func() wgstate.Snapshot) {
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		writeSnapshot(conn, snapshot())
		conn.Close()
	}
}

func writeSnapshot(w *net.UnixConn, snap wgstate.Snapshot) {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "public_key=%s\n", base64.StdEncoding.EncodeToString(snap.PublicKey[:]))
	fmt.Fprintf(bw, "listen_port=%d\n", snap.ListenPort)
	for _, p := range snap.Peers {
		fmt.Fprintf(bw, "peer=%s\n", base64.StdEncoding.EncodeToString(p.PublicKey[:]))
		if p.Endpoint.IsValid() {
			fmt.Fprintf(bw, "endpoint=%s\n", p.Endpoint)
		}
		for _, pfx := range p.AllowedIPs {
			fmt.Fprintf(bw, "allowed_ip=%s\n", pfx)
		}
		if !p.LastHandshake.IsZero() {
			fmt.Fprintf(bw, "last_handshake_time_sec=%d\n", p.LastHandshake.Unix())
		}
		fmt.Fprintf(bw, "tx_bytes=%d\n", p.TxBytes)
		fmt.Fprintf(bw, "rx_bytes=%d\n", p.RxBytes)
		if p.PersistentKeepalive > 0 {
			fmt.Fprintf(bw, "persistent_keepalive_interval=%d\n", int(p.PersistentKeepalive/time.Second))
		}
	}
	bw.Flush()
}

// Query connects to the control socket at path and returns its raw
// key=value report.
func Query(path string) (string, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return "", fmt.Errorf("uapi: failed to connect to %s: %w", path, err)
	}
	defer conn.Close()

	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	return string(out), nil
}
