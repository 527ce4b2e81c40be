// Command fakesalsa runs a simulated Rot2Prog controller on a TCP port.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"github.com/w1xm/salsa_interface/rot2prog/simulator"
)

var (
	addr      = flag.String("addr", "127.0.0.1:3001", "address to listen on")
	speed     = flag.Float64("speed", 6, "slew rate in degrees/second")
	rawDigits = flag.Bool("raw_digits", true, "send direction digits as values 0-9 instead of ASCII")
	verbose   = flag.Bool("verbose", false, "log every frame")
)

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sim := simulator.New()
	sim.RawDigits = *rawDigits
	sim.Verbose = *verbose
	sim.SetSpeed(*speed * math.Pi / 180)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sim.Run(gctx)
	})
	g.Go(func() error {
		return sim.ListenAndServe(gctx, *addr)
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}
