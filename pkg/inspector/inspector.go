// Package inspector exposes a debug HTTP endpoint over the messaging
// runtime: registered mailboxes, discovered addresses, pool stats and
// the Prometheus metric registry.
package inspector

import (
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/fluxorio/msgmgr/pkg/core"
	"github.com/fluxorio/msgmgr/pkg/msgmgr"
	"github.com/fluxorio/msgmgr/pkg/opm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Inspector serves /status, /mailboxes, /discovery, /pools and /metrics.
type Inspector struct {
	addr    string
	lookup  *msgmgr.LookupService
	pools   *opm.Manager
	logger  core.Logger
	metrics fasthttp.RequestHandler

	mu sync.Mutex
	ln net.Listener
}

// New creates an inspector. pools and registry may be nil, which blanks
// the corresponding endpoints.
func New(addr string, lookup *msgmgr.LookupService, pools *opm.Manager, registry *prometheus.Registry, logger core.Logger) *Inspector {
	if logger == nil {
		logger = core.NewLogger(core.LoggerConfig{Level: "INFO", Subsystem: "inspector"})
	}
	i := &Inspector{
		addr:   addr,
		lookup: lookup,
		pools:  pools,
		logger: logger,
	}
	if registry != nil {
		i.metrics = fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return i
}

// Start binds the listener and serves in a background goroutine.
func (i *Inspector) Start() error {
	ln, err := net.Listen("tcp", i.addr)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.ln = ln
	i.mu.Unlock()

	go func() {
		if err := fasthttp.Serve(ln, i.handle); err != nil && !errors.Is(err, net.ErrClosed) {
			i.logger.Errorf("inspector serve failed: %v", err)
		}
	}()
	i.logger.Infof("inspector listening on %s", ln.Addr())
	return nil
}

// Stop closes the listener.
func (i *Inspector) Stop() {
	i.mu.Lock()
	ln := i.ln
	i.ln = nil
	i.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
}

// Addr returns the bound listener address, useful with ":0".
func (i *Inspector) Addr() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ln == nil {
		return ""
	}
	return i.ln.Addr().String()
}

func (i *Inspector) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/status":
		i.writeJSON(ctx, map[string]interface{}{
			"mailboxes": i.mailboxes(),
			"discovery": i.discovered(),
			"pools":     i.poolStats(),
		})
	case "/mailboxes":
		i.writeJSON(ctx, i.mailboxes())
	case "/discovery":
		i.writeJSON(ctx, i.discovered())
	case "/pools":
		i.writeJSON(ctx, i.poolStats())
	case "/metrics":
		if i.metrics != nil {
			i.metrics(ctx)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (i *Inspector) mailboxes() []msgmgr.MailboxStats {
	if i.lookup == nil {
		return nil
	}
	return i.lookup.Stats()
}

func (i *Inspector) discovered() []string {
	if i.lookup == nil {
		return nil
	}
	// Wildcard on location alone: every remote-type address.
	var out []string
	for _, a := range i.lookup.NonProxyAddresses(msgmgr.MailboxAddress{LocationType: msgmgr.LocationDistributed}) {
		out = append(out, a.String())
	}
	for _, a := range i.lookup.NonProxyAddresses(msgmgr.MailboxAddress{LocationType: msgmgr.LocationGroup}) {
		out = append(out, a.String())
	}
	return out
}

func (i *Inspector) poolStats() []opm.PoolStats {
	if i.pools == nil {
		return nil
	}
	return i.pools.Stats()
}

func (i *Inspector) writeJSON(ctx *fasthttp.RequestCtx, v interface{}) {
	ctx.SetContentType("application/json")
	data, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetBody(data)
}
