// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Command tswift-get opens a static swarm and fetches it to disk, printing a
// console progress bar driven by add_progress_callback until the swarm is
// complete.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/tswift/tswift/bin"
	"github.com/tswift/tswift/config"
	"github.com/tswift/tswift/runtime"
)

func main() {
	var (
		swarmHex   = flag.String("swarm", "", "swarm id (root hash) as hex")
		out        = flag.String("out", "", "directory to write the swarm's content into")
		trackerURL = flag.String("tracker", "", "external tracker URL (optional)")
		listen     = flag.String("listen", "", "UDP listen address (default: all interfaces, random port)")
	)
	flag.Parse()

	if *swarmHex == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "usage: tswift-get -swarm <hex root hash> -out <dir> [-tracker <url>]")
		os.Exit(2)
	}
	swarmID, err := hex.DecodeString(*swarmHex)
	if err != nil {
		log.Fatalf("decoding -swarm: %v", err)
	}

	rt := runtime.New(config.NewConfig())
	if err := rt.Listen(*listen); err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer rt.Close()

	h, err := rt.Open(*out, swarmID, runtime.OpenOptions{TrackerURL: *trackerURL})
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer h.Close(false, false)

	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(1,
		mpb.PrependDecorators(decor.Name(shortHex(*swarmHex))),
		mpb.AppendDecorators(decor.Percentage()),
	)

	updates := make(chan struct{}, 1)
	signalUpdate := func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	}
	token := h.AddProgressCallback(func(bin.Bin) { signalUpdate() }, 0)
	defer h.RemoveProgressCallback(token)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-updates:
			case <-ticker.C:
			}
			size, complete := h.Size(), h.Complete()
			if size > 0 {
				bar.SetTotal(int64(size), false)
				bar.SetCurrent(int64(complete))
				if complete >= size {
					return
				}
			}
		}
	}()
	<-done
	p.Wait()
	fmt.Println("done")
}

func shortHex(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "..."
}
