package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kwray/authreg"
	"github.com/kwray/authreg/registry"
)

func main() {
	var (
		users       = flag.Int("users", 100000, "number of named users to seed")
		keys        = flag.Int("keys", 1000, "number of general keys to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (login + churn)")
		metrics     = flag.Bool("metrics", true, "enable the engine metric counters")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	snap := registry.Snapshot{
		Users:       make([]registry.User, *users),
		GeneralKeys: make([]registry.GeneralKey, *keys),
	}
	fmt.Printf("seeding %d users and %d general keys...\n", *users, *keys)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		snap.Users[i] = registry.User{
			Name:  fmt.Sprintf("user-%d", i),
			Hash:  hashFor(i),
			Perms: i % 11,
		}
	}
	for i := 0; i < *keys; i++ {
		snap.GeneralKeys[i] = registry.GeneralKey{
			Hash:  fmt.Sprintf("gk-%s", hashFor(i)),
			Perms: i % 5,
		}
	}

	engine, err := authreg.New().
		WithSnapshot(snap).
		WithMetricsEnabled(*metrics).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	loginStats := runLoginPhase(ctx, engine, snap, *ops, *concurrency)
	churnStats := runChurnPhase(ctx, engine, snap, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("churn", churnStats)

	if *metrics {
		ms := engine.MetricsSnapshot()
		fmt.Printf("metrics: login_success=%d key_login_success=%d logout_success=%d login_failure=%d\n",
			ms.Counters[authreg.MetricLoginSuccess],
			ms.Counters[authreg.MetricKeyLoginSuccess],
			ms.Counters[authreg.MetricLogoutSuccess],
			ms.Counters[authreg.MetricLoginFailure],
		)
	}

	// The churn phase pairs every login with a logout, so any surviving
	// connection count is a bookkeeping bug.
	drift := 0
	for i := 0; i < *users; i++ {
		if n, ok := engine.Connections(snap.Users[i].Name); ok && n != 0 {
			drift += n
		}
	}
	if drift != 0 {
		fmt.Fprintf(os.Stderr, "FAIL: connection counter drift %d after churn\n", drift)
		os.Exit(1)
	}
	fmt.Println("connection counters drained to zero")
}

// runLoginPhase measures anonymous key logins: pure verification with no
// counter mutation.
func runLoginPhase(ctx context.Context, engine *authreg.Engine, snap registry.Snapshot, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(snap.GeneralKeys))
				t0 := time.Now()
				_, err := engine.Login(ctx, snap.GeneralKeys[idx].Hash, "")
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runChurnPhase measures named login/logout pairs across random users; the
// pairing keeps every per-user connection counter at zero once the phase
// drains.
func runChurnPhase(ctx context.Context, engine *authreg.Engine, snap registry.Snapshot, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(snap.Users))
				u := snap.Users[idx]

				t0 := time.Now()
				_, err := engine.Login(ctx, u.Hash, u.Name)
				if err == nil {
					err = engine.Logout(ctx, u.Hash, u.Name)
				}
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func hashFor(i int) string {
	return fmt.Sprintf("h-%08x-%04x", i*2654435761, (i*7919)&0xFFFF)
}
