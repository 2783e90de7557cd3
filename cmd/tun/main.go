// Command tun runs a userspace WireGuard tunnel from a YAML interface
// file, and provides key-management and status subcommands.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wgtun/internal/config"
	"wgtun/internal/controller"
	"wgtun/internal/logging"
	"wgtun/internal/noise"
	"wgtun/internal/peer"
	"wgtun/internal/sysready"
	"wgtun/internal/tundev"
	"wgtun/internal/uapi"
	"wgtun/internal/udpsock"
	"wgtun/internal/wgconst"
	"wgtun/internal/wgstate"
)

// lowDelayTrafficClass is the DSCP marking (IPTOS_LOWDELAY) applied to the
// tunnel's UDP socket, matching the low-latency class real WireGuard
// implementations use for handshake and transport datagrams.
const lowDelayTrafficClass = 0x10

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tun",
		Short: "A userspace WireGuard-protocol tunnel",
	}
	root.AddCommand(newRunCmd(), newGenkeyCmd(), newPubkeyCmd(), newStatsCmd())
	return root
}

func newGenkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			sk, err := noise.GeneratePrivateKey()
			if err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(sk[:]))
			return nil
		},
	}
}

func newPubkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey",
		Short: "Derive a public key from a private key read on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			var b64 string
			if _, err := fmt.Scanln(&b64); err != nil {
				return fmt.Errorf("failed to read private key from stdin: %w", err)
			}
			raw, err := base64.StdEncoding.DecodeString(b64)
			if err != nil || len(raw) != 32 {
				return fmt.Errorf("stdin did not contain a base64-encoded 32-byte key")
			}
			var sk noise.PrivateKey
			copy(sk[:], raw)
			pk, err := sk.Public()
			if err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(pk[:]))
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var configPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bring up a tunnel from an interface file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTunnel(configPath, verbose)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the interface YAML file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <interface>",
		Short: "Print the running tunnel's peer status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := uapi.Query(uapi.SocketPath(args[0]))
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func runTunnel(configPath string, verbose bool) error {
	level := logrus.InfoLevel
	if verbose {
		level = logrus.DebugLevel
	}
	log := logging.New(level)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	privPub, err := cfg.PrivateKey.Public()
	if err != nil {
		return fmt.Errorf("failed to derive local public key: %w", err)
	}

	state := wgstate.New(wgstate.Info{
		PrivateKey:   cfg.PrivateKey,
		PublicKey:    privPub,
		PresharedKey: cfg.PresharedKey,
		ListenPort:   cfg.ListenPort,
	})
	for i, info := range cfg.Peers {
		st := peer.New(info, cfg.PeerEndpoints[i])
		state.AddPeer(st)
	}

	sock, err := udpsock.Listen(cfg.ListenPort)
	if err != nil {
		return fmt.Errorf("failed to bind udp socket: %w", err)
	}
	defer sock.Close()
	if err := sock.SetTrafficClass(lowDelayTrafficClass); err != nil {
		log.Debugf("failed to set socket traffic class: %v", err)
	}

	dev, err := tundev.Create(cfg.InterfaceName, cfg.MTU)
	if err != nil {
		return fmt.Errorf("failed to create tun device: %w", err)
	}
	defer dev.Close()

	ifaceName, err := dev.Name()
	if err != nil {
		return fmt.Errorf("failed to read tun interface name: %w", err)
	}
	log.Printf("tunnel %s listening on udp port %d", ifaceName, cfg.ListenPort)

	ctrl, err := controller.New(state, sock, dev, log, controller.Config{
		InterfaceName: ifaceName,
		UDPWorkers:    cfg.UDPWorkers,
		OnUp:          cfg.OnUp,
		OnDown:        cfg.OnDown,
	}, wgconst.CookieValidTime, noise.DefaultLoadThreshold)
	if err != nil {
		return fmt.Errorf("failed to build controller: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sockPath := uapi.SocketPath(ifaceName)
	ln, err := uapi.Serve(sockPath, state.Snapshot)
	if err != nil {
		log.Warnf("failed to start status socket: %v", err)
	} else {
		defer ln.Close()
	}

	if err := sysready.NotifyReady(); err != nil {
		log.Warnf("systemd readiness notification failed: %v", err)
	}

	err = ctrl.Run(ctx)

	if stopErr := sysready.NotifyStopping(); stopErr != nil {
		log.Warnf("systemd stopping notification failed: %v", stopErr)
	}
	return err
}

