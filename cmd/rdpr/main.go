// Command rdpr is the RDP receiver: it binds a local UDP address,
// accepts one incoming transfer, and writes the received bytes
// verbatim to an output file.
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
	"github.com/rdpproto/rdp/receiver"
	"github.com/rdpproto/rdp/transport"
)

func main() {
	cmd := &cobra.Command{
		Use:           "rdpr <local_ip> <local_port> <output_file>",
		Short:         "receive a file over RDP",
		Args:          cobra.ExactArgs(3),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          run,
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rdpr: %v\n", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	localIP, localPortStr, outputFile := args[0], args[1], args[2]
	localPort, err := strconv.Atoi(localPortStr)
	if err != nil {
		return fmt.Errorf("invalid local_port %q: %w", localPortStr, err)
	}

	tr, err := transport.Listen(net.JoinHostPort(localIP, strconv.Itoa(localPort)))
	if err != nil {
		return err
	}
	defer tr.Close()

	sink, err := engine.CreateSink(afero.NewOsFs(), outputFile)
	if err != nil {
		return err
	}

	log := rdplog.New(os.Stdout, tr.LocalAddr().String(), "")
	eng := receiver.New(receiver.Config{
		Sink: sink,
		Out:  tr,
		Log:  log,
	})

	if err := engine.Run(tr, eng, 0); err != nil {
		engine.CloseAll(sink)
		return err
	}
	return nil
}
