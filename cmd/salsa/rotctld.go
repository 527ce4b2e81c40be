package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/w1xm/salsa_interface/coords"
	"github.com/w1xm/salsa_interface/telescope"
)

// ListenRotctld serves the hamlib rotctld protocol for one telescope until
// ctx is canceled.
func ListenRotctld(ctx context.Context, addr string, h *telescope.Handle) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
	}()
	log.Printf("%s: rotctld listening on %s", h.Name(), ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("failed to accept: %v", err)
			continue
		}
		go handleRotctld(conn, h)
	}
}

func handleRotctld(conn net.Conn, h *telescope.Handle) {
	defer conn.Close()
	log.Printf("accepted connection from %v", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Split(cmd, " ")
			cmd = parts[0][2:]
			if len(parts) > 1 {
				args = parts[1:]
			}
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else {
			// Space after command is optional.
			if len(cmd) > 1 {
				args = strings.Fields(strings.TrimLeft(cmd[1:], " "))
			}
			cmd = string(cmd[0])
		}
		log.Printf("%v command: %q args: %#v", conn.RemoteAddr(), cmd, args)
		rprt := -1
		switch cmd {
		case "1", "dump_caps":
			fmt.Fprintf(conn, `Model name: SALSA
Mfg name: SPID
Rot type: Az-El
Min Azimuth: -180.00
Max Aximuth: 180.00
Min Elevation: 0.00
Max Elevation: 90.00
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: Y
Can Reset: Y
Can Move: N
Can get Info: N
`)
			rprt = 0
		case "S", "stop":
			extended = true // always print RPRT
			// Hold the current position.
			dir, err := h.Direction()
			if err != nil {
				break
			}
			rprt = setTarget(h, coords.HorizontalTarget(dir.Azimuth, dir.Altitude))
		case "K", "park":
			extended = true // always print RPRT
			rprt = setTarget(h, coords.ParkedTarget())
		case "R", "reset":
			extended = true // always print RPRT
			if err := h.Restart(); err == nil {
				rprt = 0
			}
		case "P", "set_pos":
			extended = true // always print RPRT
			if len(args) != 2 {
				rprt = -22
				break
			}
			az, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				rprt = -22
				break
			}
			el, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				rprt = -22
				break
			}
			rprt = setTarget(h, coords.HorizontalTarget(
				coords.NormalizeAzimuth(coords.Deg2Rad(az)),
				coords.Deg2Rad(el),
			))
		case "p", "get_pos":
			dir, err := h.Direction()
			if err != nil {
				break
			}
			az := coords.Rad2Deg(dir.Azimuth)
			if az > 180 {
				az -= 360
			}
			el := coords.Rad2Deg(dir.Altitude)
			if extended {
				fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", az, el)
			} else {
				fmt.Fprintf(conn, "%.6f\n%.6f\n", az, el)
			}
			rprt = 0
		}
		if extended || rprt != 0 {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
}

func setTarget(h *telescope.Handle, target telescope.Target) int {
	_, err := h.SetTarget(target)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, telescope.ErrTargetBelowHorizon):
		return -22
	}
	log.Printf("%s: %v", h.Name(), err)
	return -1
}
