// Package adminhttp serves the operator endpoint: health, the live table
// snapshot and the explicit reset.
package adminhttp

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-table/internal/obslog"
	"github.com/park285/chess-table/pkg/tabledto"
)

type Table interface {
	Snapshot(ctx context.Context) (tabledto.Snapshot, error)
	Reset(ctx context.Context) (tabledto.Snapshot, error)
}

type Server struct {
	table   Table
	timeout time.Duration
	srv     *fasthttp.Server
}

func New(table Table) *Server {
	s := &Server{table: table, timeout: 5 * time.Second}
	s.srv = &fasthttp.Server{
		Handler:      s.Handler,
		Name:         "chess-table-admin",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	obslog.L().Info("admin_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	switch {
	case path == "/healthz" && ctx.IsGet():
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetBodyString("ok")
	case path == "/state" && ctx.IsGet():
		s.serveSnapshot(ctx, s.table.Snapshot)
	case path == "/reset" && ctx.IsPost():
		obslog.L().Info("admin_reset", zap.String("remote", ctx.RemoteAddr().String()))
		s.serveSnapshot(ctx, s.table.Reset)
	case path == "/healthz" || path == "/state" || path == "/reset":
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) serveSnapshot(ctx *fasthttp.RequestCtx, fetch func(context.Context) (tabledto.Snapshot, error)) {
	c, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	snap, err := fetch(c)
	if err != nil {
		obslog.L().Warn("admin_table_unavailable", zap.Error(err))
		ctx.Error("table unavailable", fasthttp.StatusServiceUnavailable)
		return
	}
	body, err := json.Marshal(snap)
	if err != nil {
		ctx.Error("encode snapshot", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
