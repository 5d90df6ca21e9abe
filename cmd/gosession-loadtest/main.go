package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/principal/memory"
)

type principalState struct {
	pair goSession.TokenPair
	mu   sync.Mutex
}

func main() {
	var (
		principals  = flag.Int("principals", 1000, "number of principals to register")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations in the authenticate phase")
		contenders  = flag.Int("contenders", 8, "concurrent renewals racing for each renewal token")
		rounds      = flag.Int("rounds", 5, "renewal race rounds per principal")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *principals <= 0 || *concurrency <= 0 || *ops <= 0 || *contenders <= 0 || *rounds <= 0 {
		fmt.Fprintln(os.Stderr, "principals, concurrency, ops, contenders and rounds must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := buildEngine(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]principalState, *principals)
	fmt.Printf("registering %d principals...\n", *principals)
	startSeed := time.Now()
	for i := range states {
		res, err := engine.Register(ctx, goSession.RegisterRequest{
			FirstName: "Load",
			LastName:  fmt.Sprintf("Test%d", i),
			Email:     fmt.Sprintf("load-%d@example.com", i),
			Phone:     fmt.Sprintf("%010d", 5550000000+i),
			Password:  "Load-test-pass1",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}
		states[i].pair = res.Tokens
	}
	fmt.Printf("registered in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runAuthenticatePhase(ctx, engine, states, *ops, *concurrency)
	renewStats, violations := runRenewRacePhase(ctx, engine, states, *rounds, *contenders, *concurrency)

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("renew", renewStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("renew failures counted by engine=%d\n", snap.Counters[goSession.MetricRenewFailure])
	if violations > 0 {
		fmt.Fprintf(os.Stderr, "renewal race violated single-winner rotation %d times\n", violations)
		os.Exit(1)
	}
}

func buildEngine(client redis.UniversalClient) (*goSession.Engine, error) {
	cfg := goSession.DefaultConfig()
	cfg.Token.AccessSecret = "loadtest-access-secret-0000000000001"
	cfg.Token.RenewalSecret = "loadtest-renewal-secret-000000000001"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.RegisterMax = 0
	cfg.Metrics.Enabled = true

	return goSession.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrincipalStore(memory.New()).
		Build()
}

func runAuthenticatePhase(ctx context.Context, engine *goSession.Engine, states []principalState, ops, concurrency int) phaseStats {
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
				state := &states[r.Intn(len(states))]
				state.mu.Lock()
				token := state.pair.AccessToken
				state.mu.Unlock()

				t0 := time.Now()
				_, err := engine.Authenticate(ctx, token)
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

// runRenewRacePhase presents each principal's current renewal token to several
// concurrent Renew calls per round. Exactly one may win; the losers must see
// ErrUnauthorized. Failures counts losers, violations counts rounds that broke the rule.
func runRenewRacePhase(ctx context.Context, engine *goSession.Engine, states []principalState, rounds, contenders, concurrency int) (phaseStats, int64) {
	var (
		wg         sync.WaitGroup
		cursor     int64
		failures   int64
		violations int64
		latencies  = make([]time.Duration, 0, len(states)*rounds*contenders)
		mu         sync.Mutex
	)

	jobs := len(states) * rounds
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= jobs {
					return
				}
				state := &states[i%len(states)]

				state.mu.Lock()
				presented := state.pair.RenewalToken
				state.mu.Unlock()

				var (
					race    sync.WaitGroup
					winners int64
					winner  goSession.TokenPair
					wmu     sync.Mutex
				)
				for c := 0; c < contenders; c++ {
					race.Add(1)
					go func() {
						defer race.Done()
						t0 := time.Now()
						pair, err := engine.Renew(ctx, presented)
						d := time.Since(t0)

						switch {
						case err == nil:
							atomic.AddInt64(&winners, 1)
							wmu.Lock()
							winner = pair
							wmu.Unlock()
						case errors.Is(err, goSession.ErrUnauthorized):
							atomic.AddInt64(&failures, 1)
						default:
							atomic.AddInt64(&violations, 1)
						}
						mu.Lock()
						latencies = append(latencies, d)
						mu.Unlock()
					}()
				}
				race.Wait()

				if winners != 1 {
					atomic.AddInt64(&violations, 1)
					continue
				}
				state.mu.Lock()
				state.pair = winner
				state.mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures), violations
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
