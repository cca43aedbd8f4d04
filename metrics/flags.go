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

// Package metrics exposes one process's per-swarm counters (bytes complete,
// leecher/seeder counts, up/down speed) through go-ethereum's metrics
// registry, optionally exported to InfluxDB on a timer.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	influxclient "github.com/influxdata/influxdb/client/v2"
	"github.com/tswift/tswift/log"
)

// Options configures metrics collection and, optionally, export.
type Options struct {
	Endpoint      string
	Database      string
	Username      string
	Password      string
	EnableExport  bool
	DataDirectory string
	Tags          map[string]string
}

func init() {
	metrics.RegisterRuntimeMemStats(metrics.DefaultRegistry)
}

// Exporter owns the background goroutines Setup starts; Close stops them.
type Exporter struct {
	stop chan struct{}
}

// Setup starts process/disk metrics collection and, if enabled, a periodic
// InfluxDB exporter, mirroring the teacher's Setup(o Options) entry point.
func Setup(o Options) *Exporter {
	e := &Exporter{stop: make(chan struct{})}
	if !metrics.Enabled {
		return e
	}
	log.Info("enabling metrics collection")
	go metrics.CollectProcessMetrics(4 * time.Second)
	go datadirDiskUsage(e.stop, o.DataDirectory, 4*time.Second)

	if o.EnableExport {
		log.Info("enabling InfluxDB metrics export", "endpoint", o.Endpoint, "database", o.Database)
		go exportLoop(e.stop, o, 10*time.Second)
	}
	return e
}

// Close stops every goroutine Setup started.
func (e *Exporter) Close() { close(e.stop) }

// SetSwarmGauge records one named gauge value (e.g. "swarm.<hex>.complete",
// "swarm.<hex>.speed.down"); runtime calls this from its tick loop so every
// open Handle's Transfer accessors feed the registry without this package
// needing to import runtime itself.
func SetSwarmGauge(name string, value int64) {
	metrics.GetOrRegisterGauge(name, metrics.DefaultRegistry).Update(value)
}

func datadirDiskUsage(stop chan struct{}, path string, d time.Duration) {
	if path == "" {
		return
	}
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			bytes, err := dirSize(path)
			if err != nil {
				log.Trace("cannot get disk space", "err", err)
				continue
			}
			metrics.GetOrRegisterGauge("datadir/usage", nil).Update(bytes)
		}
	}
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return err
	})
	return size, err
}

// exportLoop writes every registered gauge/counter to InfluxDB once per
// interval, using the low-level v1 HTTP client directly rather than
// go-ethereum's own influxdb wrapper (whose exported shape has moved across
// versions) since that client's write API has been stable for years.
func exportLoop(stop chan struct{}, o Options, interval time.Duration) {
	c, err := influxclient.NewHTTPClient(influxclient.HTTPConfig{
		Addr:     o.Endpoint,
		Username: o.Username,
		Password: o.Password,
	})
	if err != nil {
		log.Warn("influxdb client setup failed", "err", err)
		return
	}
	defer c.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := exportOnce(c, o); err != nil {
				log.Warn("influxdb export failed", "err", err)
			}
		}
	}
}

func exportOnce(c influxclient.Client, o Options) error {
	bp, err := influxclient.NewBatchPoints(influxclient.BatchPointsConfig{
		Database:  o.Database,
		Precision: "s",
	})
	if err != nil {
		return err
	}
	now := time.Now()
	metrics.DefaultRegistry.Each(func(name string, i interface{}) {
		g, ok := i.(metrics.Gauge)
		if !ok {
			return
		}
		pt, err := influxclient.NewPoint(name, o.Tags, map[string]interface{}{"value": g.Value()}, now)
		if err != nil {
			return
		}
		bp.AddPoint(pt)
	})
	return c.Write(bp)
}
