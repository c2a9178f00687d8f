package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/displayctl/internal/display"
	"github.com/danmuck/displayctl/internal/protocol"
	"github.com/danmuck/displayctl/internal/protocol/session"
)

type sendOptions struct {
	host      string
	port      int
	device    string
	baud      int
	displayID int
	command   string
	data      string
	timeout   time.Duration
	retries   int
}

func sendCmd() *cobra.Command {
	opts := sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one MDC command and print the response data as hex",
		Example: `  displayctl send --host 10.0.0.44 --cmd 0x11 --data 01
  displayctl send --serial /dev/ttyUSB0 --display 1 --cmd 0x00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := runSend(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.host, "host", "", "display host for TCP")
	f.IntVar(&opts.port, "port", protocol.DefaultPort, "display TCP port")
	f.StringVar(&opts.device, "serial", "", "serial device instead of TCP")
	f.IntVar(&opts.baud, "baud", 9600, "serial baud rate")
	f.IntVar(&opts.displayID, "display", 0, "display id (0-255, 254 broadcasts)")
	f.StringVar(&opts.command, "cmd", "", "command byte, decimal or 0x-prefixed hex")
	f.StringVar(&opts.data, "data", "", "payload as hex")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "overall wait for the response")
	f.IntVar(&opts.retries, "retries", protocol.DefaultRetryMaxCount, "transmissions before giving up")
	_ = cmd.MarkFlagRequired("cmd")
	return cmd
}

func runSend(ctx context.Context, opts sendOptions) ([]byte, error) {
	commandID, err := parseByte(opts.command)
	if err != nil {
		return nil, fmt.Errorf("--cmd: %w", err)
	}
	if opts.displayID < 0 || opts.displayID > 0xFF {
		return nil, fmt.Errorf("--display %d out of range", opts.displayID)
	}
	payload, err := hex.DecodeString(strings.ReplaceAll(opts.data, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("--data: %w", err)
	}

	sess := session.DefaultConfig()
	sess.RetryMaxCount = opts.retries
	cfg := display.Config{
		Name:      "send",
		Host:      opts.host,
		Port:      opts.port,
		DisplayID: byte(opts.displayID),
		Session:   sess,
	}
	var clientOpts []display.Option
	switch {
	case opts.device != "":
		serialCfg := display.DefaultSerialConfig()
		serialCfg.Device = opts.device
		serialCfg.BaudRate = opts.baud
		clientOpts = append(clientOpts, display.WithTransport(display.SerialTransport{Config: serialCfg}))
	case opts.host == "":
		return nil, fmt.Errorf("one of --host or --serial is required")
	}

	c, err := display.New(cfg, clientOpts...)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	return c.Send(ctx, commandID, payload)
}

func parseByte(raw string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}
