// Package config loads the YAML interface definition used by the tun
// command: device identity, listen port, and the peer list.
package config

import (
	"encoding/base64"
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"wgtun/internal/noise"
	"wgtun/internal/peer"
)

// PeerConfig is one [Peer] entry in the interface file.
type PeerConfig struct {
	PublicKey           string   `yaml:"public_key"`
	Endpoint            string   `yaml:"endpoint,omitempty"`
	AllowedIPs          []string `yaml:"allowed_ips"`
	PersistentKeepalive int      `yaml:"persistent_keepalive,omitempty"`
}

// File mirrors the on-disk YAML document.
type File struct {
	PrivateKey    string       `yaml:"private_key"`
	PresharedKey  string       `yaml:"preshared_key,omitempty"`
	ListenPort    uint16       `yaml:"listen_port"`
	InterfaceName string       `yaml:"interface_name,omitempty"`
	MTU           int          `yaml:"mtu,omitempty"`
	UDPWorkers    int          `yaml:"udp_workers,omitempty"`
	OnUp          string       `yaml:"on_up,omitempty"`
	OnDown        string       `yaml:"on_down,omitempty"`
	Peers         []PeerConfig `yaml:"peers"`
}

// Config is the parsed, validated form File decodes into.
type Config struct {
	PrivateKey    noise.PrivateKey
	PresharedKey  [32]byte
	ListenPort    uint16
	InterfaceName string
	MTU           int
	UDPWorkers    int
	OnUp          string
	OnDown        string
	Peers         []peer.Info
	PeerEndpoints map[int]netip.AddrPort // index into Peers, for peers with a static endpoint
}

// Load reads and validates the interface file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return f.validate()
}

func (f File) validate() (*Config, error) {
	priv, err := decodeKey(f.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("config: invalid private_key: %w", err)
	}
	c := &Config{
		PrivateKey:    noise.PrivateKey(priv),
		ListenPort:    f.ListenPort,
		InterfaceName: f.InterfaceName,
		MTU:           f.MTU,
		UDPWorkers:    f.UDPWorkers,
		OnUp:          f.OnUp,
		OnDown:        f.OnDown,
		PeerEndpoints: map[int]netip.AddrPort{},
	}
	if f.PresharedKey != "" {
		psk, err := decodeKey(f.PresharedKey)
		if err != nil {
			return nil, fmt.Errorf("config: invalid preshared_key: %w", err)
		}
		c.PresharedKey = psk
	}
	if c.UDPWorkers <= 0 {
		c.UDPWorkers = 1
	}

	for i, p := range f.Peers {
		pub, err := decodeKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("config: peer %d: invalid public_key: %w", i, err)
		}
		if len(p.AllowedIPs) == 0 {
			return nil, fmt.Errorf("config: peer %d: at least one allowed_ips entry required", i)
		}
		prefixes := make([]netip.Prefix, 0, len(p.AllowedIPs))
		for _, cidr := range p.AllowedIPs {
			pfx, err := netip.ParsePrefix(cidr)
			if err != nil {
				return nil, fmt.Errorf("config: peer %d: invalid allowed_ips entry %q: %w", i, cidr, err)
			}
			prefixes = append(prefixes, pfx)
		}
		info := peer.Info{
			PublicKey:  noise.PublicKey(pub),
			AllowedIPs: prefixes,
		}
		if p.PersistentKeepalive > 0 {
			info.PersistentKeepaliveInterval = time.Duration(p.PersistentKeepalive) * time.Second
		}
		c.Peers = append(c.Peers, info)
		if p.Endpoint != "" {
			ap, err := netip.ParseAddrPort(p.Endpoint)
			if err != nil {
				return nil, fmt.Errorf("config: peer %d: invalid endpoint %q: %w", i, p.Endpoint, err)
			}
			c.PeerEndpoints[i] = ap
		}
	}
	return c, nil
}

func decodeKey(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("not valid base64: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
