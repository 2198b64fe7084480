// Command briefauth-loadtest measures OTP issue and verify throughput of an
// in-process provider against redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bullishbrief/briefauth/directory"
	"github.com/bullishbrief/briefauth/identity"
	"github.com/bullishbrief/briefauth/idp"
)

// codeBook keeps the last code mailed to each address.
type codeBook struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBook) Send(_ context.Context, msg idp.Message) error {
	b.mu.Lock()
	b.codes[msg.To] = msg.Code
	b.mu.Unlock()
	return nil
}

func (b *codeBook) code(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[email]
}

func main() {
	var (
		readers     = flag.Int("readers", 10000, "number of distinct addresses")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "bbaload", "redis key prefix")
	)
	flag.Parse()

	if *readers <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "readers and concurrency must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := idp.DefaultConfig()
	cfg.Session.Secret = "loadtest-secret-0123456789abcdef"
	cfg.RedisPrefix = *prefix
	cfg.Limits.MaxRequests = 0
	cfg.Limits.MaxVerifies = 0
	cfg.OTP.ResendCooldown = 0

	book := &codeBook{codes: make(map[string]string, *readers)}
	provider, err := idp.New(cfg, client, directory.NewMemory(), book, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "provider: %v\n", err)
		os.Exit(1)
	}

	emails := make([]string, *readers)
	for i := range emails {
		emails[i] = fmt.Sprintf("reader%d@loadtest.example.com", i)
	}

	sendStats := runPhase(*concurrency, len(emails), func(i int) error {
		return provider.SendOTP(ctx, identity.SendRequest{
			Email:      emails[i],
			Username:   fmt.Sprintf("reader_%d", i),
			CreateUser: true,
		})
	})
	verifyStats := runPhase(*concurrency, len(emails), func(i int) error {
		_, err := provider.VerifyOTP(ctx, identity.VerifyRequest{Email: emails[i], Token: book.code(emails[i])})
		return err
	})

	fmt.Println("---- results ----")
	printStats("send", sendStats)
	printStats("verify", verifyStats)
}

// runPhase calls op once for every index in [0, ops) across concurrency
// workers.
func runPhase(concurrency, ops int, op func(i int) error) phaseStats {
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
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
