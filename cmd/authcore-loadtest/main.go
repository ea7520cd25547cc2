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

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store/memory"
)

const loadPassword = "load-test-password-123"

type sessionState struct {
	email   string
	access  string
	refresh string
}

func main() {
	var (
		users       = flag.Int("users", 1000, "number of verified users to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		logins      = flag.Int("logins", 2000, "password logins to run (bcrypt bound)")
		ops         = flag.Int("ops", 200000, "operations per token phase (validate, refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 || *logins <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, logins, and ops must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = "authcore-loadtest-secret-0123456789"
	cfg.Password.Cost = password.MinCost
	cfg.Metrics.EnableLatencyHistograms = true
	// Every goroutine shares one client identity; the throttle would measure itself.
	cfg.RateLimit.Enabled = false

	store := memory.New()
	engine, err := authcore.New().WithConfig(cfg).WithStore(store).WithRedis(client).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states, err := seedUsers(ctx, store, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	loginStats := runPhase(*logins, *concurrency, len(states), func(s *sessionState) error {
		res, err := engine.Login(ctx, s.email, loadPassword)
		if err != nil {
			return err
		}
		s.access, s.refresh = res.AccessToken, res.RefreshToken
		return nil
	}, states)

	validateStats := runPhase(*ops, *concurrency, len(states), func(s *sessionState) error {
		if s.access == "" {
			return authcore.ErrTokenInvalid
		}
		_, _, err := engine.ValidateAccess(ctx, s.access)
		return err
	}, states)

	refreshStats := runPhase(*ops, *concurrency, len(states), func(s *sessionState) error {
		if s.refresh == "" {
			return authcore.ErrInvalidRefreshToken
		}
		access, err := engine.Refresh(ctx, s.refresh)
		if err == nil {
			s.access = access
		}
		return err
	}, states)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
}

// seedUsers stores verified accounts sharing one password hash so seeding
// does not pay bcrypt per user.
func seedUsers(ctx context.Context, store *memory.Store, n int) ([]sessionState, error) {
	hasher, err := password.NewBcrypt(password.Config{Cost: password.MinCost})
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	fmt.Printf("seeding %d users...\n", n)
	start := time.Now()
	states := make([]sessionState, n)
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("user-%d@load.test", i)
		if err := store.CreateUser(ctx, authcore.UserRecord{
			ID:              uuid.NewString(),
			Email:           email,
			PasswordHash:    hash,
			IsEmailVerified: true,
			CreatedAt:       time.Now(),
		}); err != nil {
			return nil, err
		}
		states[i] = sessionState{email: email}
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return states, nil
}

func runPhase(ops, concurrency, size int, op func(*sessionState) error, states []sessionState) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
		locks     = make([]sync.Mutex, size)
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
				idx := r.Intn(size)

				locks[idx].Lock()
				t0 := time.Now()
				err := op(&states[idx])
				d := time.Since(t0)
				locks[idx].Unlock()

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
	return samples[(len(samples)-1)*p/100]
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
