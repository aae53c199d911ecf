// Command ignitedb-bench is a smoke-test binary for the engine, not a
// product CLI: it drives an ignite.Instance through a random write/read
// workload, then reports how many of the keys it wrote are still readable.
// The -memtable-bytes value goes through options.WithMemtableMaxSizeBytes,
// which ignores sizes outside 1 MiB to 256 MiB, so the 4096 default leaves
// the 16 MiB default memtable in place and the default workload fits in it
// without a flush; larger -keys or -value-size values force flushes and
// give the reclaimer disktables to work on. It exists to give this
// module a cmd/ entry point exercising the public package end to end, the
// same role ChinmayNoob/lsm-go's cmd/main.go plays for its db package.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/ignitedb/ignite/pkg/ignite"
	"github.com/ignitedb/ignite/pkg/options"
)

func main() {
	dir := flag.String("dir", "", "data directory (default: a temp dir, removed on exit)")
	keys := flag.Int("keys", 10000, "number of distinct keys to write")
	valueSize := flag.Int("value-size", 30, "size in bytes of each value")
	memtableBytes := flag.Uint64("memtable-bytes", 4096, "memtable max size in bytes; sizes outside 1 MiB-256 MiB are ignored and the 16 MiB default applies")
	targetRatio := flag.Float64("target-ratio", 0.7, "disktable live-ratio reclaim threshold")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	tmp := *dir
	if tmp == "" {
		var err error
		tmp, err = os.MkdirTemp("", "ignitedb-bench-")
		if err != nil {
			fatal(err)
		}
		defer os.RemoveAll(tmp)
	}

	inst, err := ignite.NewInstance(
		context.Background(),
		"ignitedb-bench",
		options.WithDataDir(tmp),
		options.WithMemtableMaxSizeBytes(*memtableBytes),
		options.WithDisktableTargetUsageRatio(*targetRatio),
		options.WithReclaimInterval(50*time.Millisecond),
	)
	if err != nil {
		fatal(err)
	}
	defer inst.Close(context.Background())

	ctx := context.Background()
	rng := rand.New(rand.NewSource(*seed))

	written := make(map[string][]byte, *keys)
	start := time.Now()
	for i := 0; i < *keys; i++ {
		k := fmt.Sprintf("bench-key-%d", i)
		v := randomBytes(rng, *valueSize)
		if err := inst.Set(ctx, k, v); err != nil {
			fatal(err)
		}
		written[k] = v
	}
	writeElapsed := time.Since(start)

	// Give the reclaim loop a few passes to catch up with the flushes the
	// write loop above just triggered.
	time.Sleep(200 * time.Millisecond)

	start = time.Now()
	mismatches := 0
	for k, want := range written {
		got, err := inst.Get(ctx, k)
		if err != nil || string(got) != string(want) {
			mismatches++
		}
	}
	readElapsed := time.Since(start)

	stats, err := inst.Stats(ctx)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("wrote %d keys in %s (%.0f ops/s)\n", *keys, writeElapsed, float64(*keys)/writeElapsed.Seconds())
	fmt.Printf("read back %d keys in %s (%.0f ops/s), %d mismatches\n", len(written), readElapsed, float64(len(written))/readElapsed.Seconds(), mismatches)
	fmt.Printf("disktables=%d totalBytes=%d liveBytes=%d liveRatio=%.3f memtableEntries=%d\n",
		stats.DisktableCount, stats.TotalBytes, stats.LiveBytes, liveRatio(stats.LiveBytes, stats.TotalBytes), stats.MemtableEntries)

	if mismatches > 0 {
		os.Exit(1)
	}
}

func liveRatio(live, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(live) / float64(total)
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Intn(256))
	}
	return b
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
