// Command rdps is the RDP sender: it binds a local UDP address,
// initiates a handshake with a peer receiver, and transmits a file.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/rdpproto/rdp/engine"
	"github.com/rdpproto/rdp/internal/rdplog"
	"github.com/rdpproto/rdp/sender"
	"github.com/rdpproto/rdp/transport"
)

func main() {
	cmd := &cobra.Command{
		Use:           "rdps <local_ip> <local_port> <peer_ip> <peer_port> <input_file>",
		Short:         "send a file over RDP",
		Args:          cobra.ExactArgs(5),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          run,
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rdps: %v\n", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	localIP, localPortStr, peerIP, peerPortStr, inputFile := args[0], args[1], args[2], args[3], args[4]
	localPort, err := strconv.Atoi(localPortStr)
	if err != nil {
		return fmt.Errorf("invalid local_port %q: %w", localPortStr, err)
	}
	peerPort, err := strconv.Atoi(peerPortStr)
	if err != nil {
		return fmt.Errorf("invalid peer_port %q: %w", peerPortStr, err)
	}

	peerAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(peerIP, strconv.Itoa(peerPort)))
	if err != nil {
		return fmt.Errorf("invalid peer address: %w", err)
	}

	tr, err := transport.Listen(net.JoinHostPort(localIP, strconv.Itoa(localPort)))
	if err != nil {
		return err
	}
	defer tr.Close()

	source, err := engine.OpenSource(afero.NewOsFs(), inputFile)
	if err != nil {
		return err
	}

	log := rdplog.New(os.Stdout, tr.LocalAddr().String(), peerAddr.String())
	eng := sender.New(sender.Config{
		Source: source,
		Out:    tr,
		Peer:   peerAddr,
		Log:    log,
	})

	if err := eng.Start(); err != nil {
		engine.CloseAll(source)
		return err
	}

	if err := engine.Run(tr, eng, eng.Timeout()); err != nil {
		engine.CloseAll(source)
		return err
	}
	return nil
}
