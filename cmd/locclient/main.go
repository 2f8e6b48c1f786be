// Command locclient is an interactive test peer for the location sync relay.
//
// It connects to the relay, reports a simulated LAN address, sends two random
// transforms every interval and prints every frame it receives. Type "send"
// to push an update immediately or "exit" to quit. Dropped connections are
// retried a fixed number of times before the client gives up.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

const defaultURL = "ws://localhost:3000"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(os.Stdin, os.Stdout).Run(ctx, os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newCommand(in io.Reader, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "locclient",
		Usage: "interactive location sync test peer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "relay address (prompted for when not set)",
				Sources: cli.EnvVars("RELAY_URL"),
			},
			&cli.StringFlag{
				Name:  "client-ip",
				Usage: "address to report (default 192.168.1.<random>)",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: 2 * time.Second,
				Usage: "time between automatic updates",
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Value: 5,
				Usage: "reconnection attempts before giving up",
			},
			&cli.DurationFlag{
				Name:  "retry-delay",
				Value: 3 * time.Second,
				Usage: "delay between reconnection attempts",
			},
			&cli.DurationFlag{
				Name:  "handshake-timeout",
				Value: 5 * time.Second,
				Usage: "maximum time for the opening handshake",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cmd, in, out)
		},
	}
}

func run(ctx context.Context, cmd *cli.Command, in io.Reader, out io.Writer) error {
	level, err := logrus.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	lines := bufio.NewScanner(in)

	url := cmd.String("url")
	if url == "" {
		fmt.Fprintf(out, "Server address (default: %s): ", defaultURL)
		url = readURL(lines)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	clientIP := cmd.String("client-ip")
	if clientIP == "" {
		clientIP = SimulatedIP(rng)
	}

	fmt.Fprintf(out, "Connecting to %s as %s\n", url, clientIP)

	client := NewClient(clientIP,
		WebSocketDialer(url, cmd.Duration("handshake-timeout")),
		WithInterval(cmd.Duration("interval")),
		WithRetries(cmd.Int("max-retries"), cmd.Duration("retry-delay")),
		WithOutput(out),
		WithRand(rng),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		printHelp(out)
		for lines.Scan() {
			if !handleCommand(strings.TrimSpace(lines.Text()), client, cancel, out) {
				return
			}
		}
	}()

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(out, "Connection closed")
	return nil
}

func readURL(lines *bufio.Scanner) string {
	if lines.Scan() {
		if answer := strings.TrimSpace(lines.Text()); answer != "" {
			return answer
		}
	}
	return defaultURL
}

// handleCommand runs one interactive command and reports whether to keep
// reading input.
func handleCommand(input string, client *Client, cancel context.CancelFunc, out io.Writer) bool {
	switch input {
	case "":
		return true
	case "send":
		client.Trigger()
		return true
	case "exit":
		fmt.Fprintln(out, "Closing connection...")
		cancel()
		return false
	default:
		fmt.Fprintln(out, "Unknown command. Available commands: send, exit")
		return true
	}
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "\nCommands:")
	fmt.Fprintln(out, "  send - send a location update now")
	fmt.Fprintln(out, "  exit - quit")
}
