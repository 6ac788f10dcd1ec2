package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const maxSendBody = 64 * 1024

// NewLinkHandler exposes the lifecycle actions of link as HTTP endpoints and
// streams its trace over a websocket.
func NewLinkHandler(link *Link) *chi.Mux {
	r := chi.NewRouter()

	r.Post("/begin", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, link.Begin(r.Context()))
	})

	r.Post("/connect", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, link.Connect(r.Context()))
	})

	r.Post("/send", func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSendBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		writeResult(w, link.Send(b))
	})

	r.Post("/teardown", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, link.Teardown())
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		if err := json.NewEncoder(w).Encode(link.Status()); err != nil {
			log.Println("encode status failed:", err)
		}
	})

	r.Get("/trace", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		sc, msg := websocket.StatusNormalClosure, "closed"
		defer func() { conn.Close(sc, msg) }()

		entries, stop := link.Tracer().Subscribe()
		defer stop()

		ctx := conn.CloseRead(r.Context())
		for {
			e, err := chanRecv(ctx, entries)
			if err != nil {
				return
			}
			if err = wsjson.Write(ctx, conn, e); err != nil {
				sc, msg = closeStatus(err), err.Error()
				return
			}
		}
	})

	return r
}

// closeStatus reports the status to close the trace stream with after err.
// Errors that carry no close frame map to an internal error.
func closeStatus(err error) websocket.StatusCode {
	if sc := websocket.CloseStatus(err); sc != -1 {
		return sc
	}
	return websocket.StatusInternalError
}

func writeResult(w http.ResponseWriter, err error) {
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	code := http.StatusInternalServerError
	var serr *SessionCreationError
	switch {
	case errors.Is(err, ErrAlreadyConnected),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrChannelNotOpen):
		code = http.StatusConflict
	case errors.Is(err, ErrNoLocalMedia):
		code = http.StatusPreconditionFailed
	case errors.As(err, &serr):
		code = http.StatusServiceUnavailable
	default:
		log.Println("request failed:", err)
	}
	http.Error(w, err.Error(), code)
}
