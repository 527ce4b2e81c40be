// Command salsa serves the telescopes defined in a YAML file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/w1xm/salsa_interface/config"
	"github.com/w1xm/salsa_interface/internal/metrics"
	"github.com/w1xm/salsa_interface/telescope"
)

var (
	addr           = flag.String("addr", "127.0.0.1:8502", "address to serve HTTP on")
	configPath     = flag.String("config", "telescopes.yaml", "telescope definitions")
	staticDir      = flag.String("static_dir", "static", "directory containing static files")
	updateInterval = flag.Duration("update_interval", telescope.UpdateInterval, "interval between telescope updates and socket pushes")
	rotctld        = flag.String("rotctld", "", "comma separated name=addr pairs to serve the rotctld protocol on")
)

// parseRotctld parses "brage=:4533,vale=:4534".
func parseRotctld(s string) (map[string]string, error) {
	out := make(map[string]string)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, addr, ok := strings.Cut(pair, "=")
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("bad rotctld listener %q", pair)
		}
		out[name] = addr
	}
	return out, nil
}

func main() {
	flag.Parse()

	defs, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	m, err := metrics.NewCollector(nil)
	if err != nil {
		log.Fatal(err)
	}
	c, err := telescope.NewCollection(defs, m)
	if err != nil {
		log.Fatal(err)
	}
	listeners, err := parseRotctld(*rotctld)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s := NewServer(c, *updateInterval)
	srv := &http.Server{
		Handler:      s.Router(m, *staticDir),
		Addr:         *addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(gctx, *updateInterval)
	})
	for name, laddr := range listeners {
		h, ok := c.Get(name)
		if !ok {
			log.Fatalf("rotctld: no telescope %q", name)
		}
		laddr := laddr
		g.Go(func() error {
			return ListenRotctld(gctx, laddr, h)
		})
	}
	g.Go(func() error {
		// Wait for context to be canceled, then stop serving.
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}
