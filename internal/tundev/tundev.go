// Package tundev wraps golang.zx2c4.com/wireguard/tun to present the TUN
// interface as a single-packet byte read/write device, the narrow
// interface the controller's TUN worker depends on.
package tundev

import (
	"fmt"

	"golang.org/x/sys/unix"
	wgtun "golang.zx2c4.com/wireguard/tun"

	"wgtun/internal/wgconst"
)

// Device is the read/write contract the controller consumes; it does not
// depend on the driver type, only on byte-for-byte IP packets in and out.
type Device interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Name() (string, error)
	Close() error
}

// WireguardTun adapts a golang.zx2c4.com/wireguard/tun.Device (IFF_TUN |
// IFF_NO_PI, non-blocking) to the single-packet Device contract above.
type WireguardTun struct {
	dev   wgtun.Device
	bufs  [][]byte
	sizes []int
}

// Create opens (or creates) a TUN interface. name may be empty to request
// an auto-assigned name; mtu is the interface MTU.
func Create(name string, mtu int) (*WireguardTun, error) {
	if mtu <= 0 {
		mtu = wgconst.MaxUDPPayload
	}
	dev, err := wgtun.CreateTUN(name, mtu)
	if err != nil {
		return nil, fmt.Errorf("tundev: failed to create TUN device: %w", err)
	}
	realName, err := dev.Name()
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("tundev: failed to read interface name: %w", err)
	}
	if err := bringUp(realName); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("tundev: failed to bring %s up: %w", realName, err)
	}
	return &WireguardTun{
		dev:   dev,
		bufs:  [][]byte{make([]byte, mtu+4)},
		sizes: make([]int, 1),
	}, nil
}

// bringUp sets IFF_UP|IFF_RUNNING on the named interface via SIOCSIFFLAGS,
// the same administrative-up step the reference PAL performs with a raw
// ioctl after TUNSETIFF; wireguard/tun.CreateTUN only creates the device
// node, it does not mark the link up.
func bringUp(name string) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("failed to open control socket: %w", err)
	}
	defer unix.Close(fd)

	req, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("failed to build ifreq: %w", err)
	}
	req.SetUint16(unix.IFF_UP | unix.IFF_RUNNING)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, req); err != nil {
		return fmt.Errorf("SIOCSIFFLAGS failed: %w", err)
	}
	return nil
}

func (w *WireguardTun) Read(p []byte) (int, error) {
	n, err := w.dev.Read(w.bufs, w.sizes, 0)
	if err != nil {
		return 0, fmt.Errorf("tundev: read failed: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	copied := copy(p, w.bufs[0][:w.sizes[0]])
	return copied, nil
}

func (w *WireguardTun) Write(p []byte) (int, error) {
	bufs := [][]byte{p}
	n, err := w.dev.Write(bufs, 0)
	if err != nil {
		return n, fmt.Errorf("tundev: write failed: %w", err)
	}
	return len(p), nil
}

func (w *WireguardTun) Name() (string, error) {
	name, err := w.dev.Name()
	if err != nil {
		return "", fmt.Errorf("tundev: failed to read interface name: %w", err)
	}
	return name, nil
}

func (w *WireguardTun) Close() error {
	if err := w.dev.Close(); err != nil {
		return fmt.Errorf("tundev: close failed: %w", err)
	}
	return nil
}
