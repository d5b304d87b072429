// Command wsdump connects to a WebSocket server, relays stdin lines as
// Text messages, and prints received Text messages to stdout.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/yourusername/wsclient/pkg/wsclient"
)

func main() {
	cmd := &cli.Command{
		Name:  "wsdump",
		Usage: "send and receive WebSocket messages from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Usage:    "ws:// or wss:// URL to connect to",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "subprotocol",
				Usage: "offer a Sec-WebSocket-Protocol value (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "handshake-timeout",
				Usage: "timeout for the opening handshake",
				Value: 10 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "linger",
				Usage: "how long to wait for a final reply after stdin reaches EOF",
				Value: 2 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable structured connection diagnostics on stderr",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsdump: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := zerolog.Nop()
	if cmd.Bool("verbose") {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	dialer := &wsclient.Dialer{Config: wsclient.Config{
		Subprotocols:     cmd.StringSlice("subprotocol"),
		HandshakeTimeout: cmd.Duration("handshake-timeout"),
		Logger:           &log,
	}}

	client, err := dialer.Dial(ctx, cmd.String("url"))
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	errs := make(chan error, 2)

	go readLoop(client, errs)
	go writeLoop(ctx, client, cmd.Duration("linger"), errs)

	select {
	case err := <-errs:
		client.Close(wsclient.CloseNormalClosure, "")
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case <-ctx.Done():
		client.Close(wsclient.CloseGoingAway, "interrupted")
		return nil
	}
}

// readLoop prints every received Text message to stdout until the
// connection ends.
func readLoop(client *wsclient.Client, errs chan<- error) {
	for {
		msg, err := client.Receive(context.Background())
		if err != nil {
			if msg.Kind == wsclient.KindClose {
				// The peer closed the connection with a Close frame:
				// a clean close, not a failure.
				err = io.EOF
			}
			errs <- err
			return
		}
		if msg.Kind == wsclient.KindText {
			fmt.Println(string(msg.Payload))
		}
	}
}

// writeLoop sends each stdin line as a Text message. On EOF it waits
// out the linger period, giving any reply still in flight a chance to
// print, before signaling the process to exit.
func writeLoop(ctx context.Context, client *wsclient.Client, linger time.Duration, errs chan<- error) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if err := client.Send(ctx, wsclient.KindText, sc.Bytes()); err != nil {
			errs <- err
			return
		}
	}
	if err := sc.Err(); err != nil {
		errs <- err
		return
	}
	time.Sleep(linger)
	errs <- io.EOF
}
