package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

type CliServe struct {
	CliLink `embed:""`

	ListenAddr string `name:"listen-addr" short:"l" default:":8080" env:"PEERLOOP_LISTEN_ADDR" help:"Address the HTTP control surface listens on."`
}

func (c *CliServe) Run(ctx context.Context) (err error) {
	link, cleanup, err := c.newLink()
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() {
		if err := link.Teardown(); err != nil {
			log.Println("teardown failed:", err)
		}
	}()

	srv := &http.Server{
		Addr:              c.ListenAddr,
		Handler:           NewLinkHandler(link),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Println("listening on:", c.ListenAddr)
	if err = srv.ListenAndServe(); errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return
}
