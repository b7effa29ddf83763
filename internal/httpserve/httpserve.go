// Package httpserve runs the local HTTP endpoints until their context ends.
package httpserve

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/lotas/threadsum/internal/applog"
)

// ListenAndServe listens on addr and serves h until ctx is done. name
// prefixes the start event in the log ("feed" logs "feed.start").
func ListenAndServe(ctx context.Context, name, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, name, ln, h)
}

// Serve serves h on ln until ctx is done. A shutdown caused by ctx is not
// an error.
func Serve(ctx context.Context, name string, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	applog.Info(name+".start", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
