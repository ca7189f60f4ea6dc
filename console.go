package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/krantius/bullycast/bully"
)

// printMessages renders relayed chat messages until the node stops.
func printMessages(w io.Writer, msgs <-chan bully.MessageData) {
	sender := color.New(color.FgYellow, color.Bold)

	for m := range msgs {
		fmt.Fprintf(w, "%s: Chat participant %s says: %s\n",
			time.Now().Format("2006-01-02 15:04:05"), sender.Sprint(m.Sender), m.Payload)
	}
}

// readInput sends every non-empty line of r through send.
func readInput(r io.Reader, w io.Writer, send func(string) error) {
	fmt.Fprintln(w, "Welcome to our P2P Chat Application!")
	fmt.Fprintln(w, "Connecting...")

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := send(line); err != nil {
			if errors.Is(err, bully.ErrNoLeader) {
				color.New(color.FgRed).Fprintln(w, "No leader yet, message not sent")
				continue
			}
			color.New(color.FgRed).Fprintf(w, "Send failed: %v\n", err)
		}
	}
}
