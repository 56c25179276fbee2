// Command mvstore-cli exercises an mvstore store from the command line:
// open, put, get, scan, stats, compact, rollback, and an embedded
// Prometheus /metrics endpoint.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/halvorsen/mvstore/internal/logger"
	"github.com/halvorsen/mvstore/pkg/engine"
	"github.com/halvorsen/mvstore/pkg/mvstore"
)

func main() {
	var (
		file        = flag.String("file", "", "store file path (empty = in-memory)")
		mapName     = flag.String("map", "default", "map name to operate on")
		op          = flag.String("op", "stats", "put|get|delete|scan|stats|compact|rollback")
		key         = flag.String("key", "", "key for put/get/delete")
		value       = flag.String("value", "", "value for put")
		compress    = flag.Int("compress", 0, "compress level 0=off 1=fast(S2) 2=high(flate)")
		version     = flag.Uint64("version", 0, "version for rollback")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9100)")
		logLevel    = flag.String("log-level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	logger.InitGlobalLogger(logger.Config{Level: *logLevel, Pretty: true})
	log := logger.GetGlobalLogger()

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Info("serving metrics").Str("addr", *metricsAddr).Msg("")
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Error("metrics server failed").Err(err).Msg("")
			}
		}()
	}

	cfg := mvstore.Config{
		FileName: *file,
		Compress: mvstore.Compress(*compress),
	}
	store, err := engine.Open(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open failed:", err)
		os.Exit(1)
	}
	defer store.Close()

	m, err := store.OpenMap(*mapName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open map failed:", err)
		os.Exit(1)
	}

	switch *op {
	case "put":
		if err := m.Insert([]byte(*key), []byte(*value)); err != nil {
			fmt.Fprintln(os.Stderr, "put failed:", err)
			os.Exit(1)
		}
	case "get":
		v, ok := m.Get([]byte(*key))
		if !ok {
			fmt.Println("(not found)")
			return
		}
		fmt.Println(string(v))
	case "delete":
		m.Delete([]byte(*key))
	case "scan":
		m.Scan(nil, func(k, v []byte) bool {
			fmt.Printf("%s = %s\n", k, v)
			return true
		})
	case "rollback":
		if err := store.RollbackTo(*version); err != nil {
			fmt.Fprintln(os.Stderr, "rollback failed:", err)
			os.Exit(1)
		}
	case "compact":
		if err := store.Compact(5 * time.Second); err != nil {
			fmt.Fprintln(os.Stderr, "compact failed:", err)
			os.Exit(1)
		}
	case "stats":
		st := store.Stats()
		fmt.Printf("total count: %d\n", m.TotalCount())
		fmt.Printf("version: %d, chunks: %d (live %d, dead %d), fill rate: %d%%\n",
			st.CurrentVersion, st.ChunkCount, st.LiveChunkCount, st.DeadChunkCount, st.FillRatePercent)
	default:
		fmt.Fprintln(os.Stderr, "unknown -op:", *op)
		os.Exit(1)
	}
}
