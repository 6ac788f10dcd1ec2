package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

type CliDemo struct {
	CliLink `embed:""`

	Messages    []string      `name:"message" short:"M" help:"Message to send once the channels are open. Repeatable."`
	Stdin       bool          `name:"stdin" help:"Read messages from stdin, one per line."`
	OpenTimeout time.Duration `name:"open-timeout" default:"30s" help:"How long to wait for the link to open and for each message to arrive."`
	Hold        time.Duration `name:"hold" help:"Keep the link up for this long before hanging up."`

	out io.Writer
	in  io.Reader
}

func (c *CliDemo) Run(ctx context.Context) (err error) {
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.in == nil {
		c.in = os.Stdin
	}

	link, cleanup, err := c.newLink()
	if err != nil {
		return err
	}
	defer cleanup()
	return c.run(ctx, link)
}

func (c *CliDemo) run(ctx context.Context, link *Link) (err error) {
	if err = link.Begin(ctx); err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}
	if err = link.Connect(ctx); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer func() {
		if errt := link.Teardown(); errt != nil && err == nil {
			err = fmt.Errorf("teardown failed: %w", errt)
		}
	}()

	octx, cancel := context.WithTimeout(ctx, c.OpenTimeout)
	err = link.WaitOpen(octx)
	cancel()
	if err != nil {
		return fmt.Errorf("link did not open: %w", err)
	}

	if link.cfg.Mode == ModeData {
		if err = c.exchange(ctx, link); err != nil {
			return
		}
	}

	if c.Hold > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(c.Hold):
		}
	}
	return
}

func (c *CliDemo) exchange(ctx context.Context, link *Link) (err error) {
	received := link.Received()
	send := func(msg string) error {
		if err := link.Send([]byte(msg)); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		rctx, cancel := context.WithTimeout(ctx, c.OpenTimeout)
		defer cancel()
		b, err := chanRecv(rctx, received)
		if err != nil {
			return fmt.Errorf("message %q not received: %w", msg, err)
		}
		fmt.Fprintf(c.out, "Received: %s\n", b)
		return nil
	}

	for _, msg := range c.Messages {
		if err = send(msg); err != nil {
			return
		}
	}
	if !c.Stdin {
		return
	}

	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = send(sc.Text()); err != nil {
			return
		}
	}
	return sc.Err()
}
