package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/syncache/config"
	"github.com/IvanBrykalov/syncache/failure"
	"github.com/IvanBrykalov/syncache/model"
	"github.com/IvanBrykalov/syncache/service"
	"github.com/IvanBrykalov/syncache/transport/transporttest"
)

type runOptions struct {
	workers  int
	duration time.Duration
	readPct  int
	users    uint64
	zipfS    float64
	seed     uint64
	latency  time.Duration
	failPct  int
	size     int
	serve    bool
}

// stats are updated by every worker.
type stats struct {
	reads, writes       atomic.Uint64
	cacheHits, networks atomic.Uint64
	notCached, failed   atomic.Uint64
	rolledBack          atomic.Uint64
}

func newRunCmd(root *rootOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workload and print a summary",
		Long: `Run signs in as the first synthetic user and issues reads with mixed
policies plus optimistic writes against an in-memory backend.

Examples:
  # Ten seconds, 5% backend failures, metrics on the configured address
  syncbench run --duration 10s --fail 5 --serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, cfg, err := root.load()
			if err != nil {
				return err
			}
			return o.run(cmd.Context(), cmd.OutOrStdout(), src, cfg)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.workers, "workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
	f.DurationVar(&o.duration, "duration", 10*time.Second, "benchmark duration")
	f.IntVar(&o.readPct, "reads", 90, "read percentage [0..100]")
	f.Uint64Var(&o.users, "users", 50, "number of synthetic users")
	f.Float64Var(&o.zipfS, "zipf-s", 1.1, "Zipf s > 1 (skew over users)")
	f.Uint64Var(&o.seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	f.DurationVar(&o.latency, "latency", 5*time.Millisecond, "mean backend latency")
	f.IntVar(&o.failPct, "fail", 0, "backend failure percentage [0..100]")
	f.IntVar(&o.size, "size", 20, "items per generated collection")
	f.BoolVar(&o.serve, "serve", false, "serve /metrics on metrics.addr while running")
	return cmd
}

func (o *runOptions) run(ctx context.Context, out io.Writer, src *config.Source, cfg *config.Config) error {
	if o.workers <= 0 || o.users == 0 || o.zipfS <= 1 {
		return errors.New("workers and users must be positive and zipf-s > 1")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	fake := transporttest.NewFake()
	backend{latency: o.latency, failPct: o.failPct, size: o.size}.install(fake)

	e, err := newEngine(ctx, cfg, fake, reg)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()
	stopWatch, err := src.Watch(e.logger, func(c *config.Config) { config.ApplyLive(c, e.level, e.svc) })
	if err != nil {
		return err
	}
	defer stopWatch()

	if o.serve {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			e.logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	if err := e.svc.SignIn(ctx, "user0"); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()
	var st stats
	start := time.Now()
	g, gctx := errgroup.WithContext(wctx)
	for w := range o.workers {
		g.Go(func() error {
			o.worker(gctx, e.svc, w, &st)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)
	e.svc.Scheduler().Wait()

	o.report(out, cfg, &st, e, elapsed)
	return e.svc.SignOut(context.Background())
}

var readPolicies = []service.Policy{
	service.CacheFirst(true), service.CacheFirst(true), service.CacheFirst(true),
	service.CacheFirst(false), service.CacheFirst(false),
	service.APIOnly(),
	service.CacheOnly(),
}

func (o *runOptions) worker(ctx context.Context, svc *service.Service, id int, st *stats) {
	// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
	r := rand.New(rand.NewPCG(o.seed, uint64(id)*9973))
	zipf := rand.NewZipf(r, o.zipfS, 1, o.users-1)
	kinds := model.Kinds()
	self := model.User{ID: "user0", Username: "user0"}

	for ctx.Err() == nil {
		user := fmt.Sprintf("user%d", zipf.Uint64())
		if r.IntN(100) < o.readPct {
			st.reads.Add(1)
			key := model.Key{Kind: kinds[r.IntN(len(kinds))], UserID: user}
			if key.Kind == model.KindActivity {
				key.ActivityID = fmt.Sprintf("a%d", r.IntN(max(o.size, 1)))
			}
			res := svc.ReadAny(ctx, key, readPolicies[r.IntN(len(readPolicies))])
			switch {
			case res.Source == service.SourceCache:
				st.cacheHits.Add(1)
			case res.Source == service.SourceNetwork:
				st.networks.Add(1)
			case res.Kind() == failure.NotCached:
				st.notCached.Add(1)
			case res.Kind() != failure.Cancelled:
				st.failed.Add(1)
			}
			continue
		}

		st.writes.Add(1)
		var op service.WriteOperation
		n := r.IntN(max(o.size, 1))
		other := model.User{ID: fmt.Sprintf("user0-x%d", n)}
		switch r.IntN(4) {
		case 0:
			req := model.FriendRequest{ID: fmt.Sprintf("user0-req%d", n), Sender: model.User{ID: fmt.Sprintf("user0-r%d", n)}, Receiver: self}
			op = service.AcceptFriendRequest(self.ID, req)
		case 1:
			op = service.SendFriendRequest(self, other)
		case 2:
			op = service.ToggleParticipation(self, fmt.Sprintf("a%d", n))
		default:
			op = service.RemoveFriend(self.ID, fmt.Sprintf("user0-f%d", n))
		}
		if res := svc.WriteWithoutResponse(ctx, op); res.Err != nil && res.Kind() != failure.Cancelled {
			st.rolledBack.Add(1)
		}
	}
}

func (o *runOptions) report(out io.Writer, cfg *config.Config, st *stats, e *engine, elapsed time.Duration) {
	reads, writes := st.reads.Load(), st.writes.Load()
	hitRate := 0.0
	if reads > 0 {
		hitRate = float64(st.cacheHits.Load()) / float64(reads) * 100
	}
	_, _ = fmt.Fprintf(out, "workers=%d users=%d dur=%v seed=%d persist=%s invalidation=%s\n",
		o.workers, o.users, elapsed.Round(time.Millisecond), o.seed, cfg.Persist.Backend, cfg.Service.Invalidation)
	_, _ = fmt.Fprintf(out, "ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		reads+writes, float64(reads+writes)/elapsed.Seconds(), reads, writes)
	_, _ = fmt.Fprintf(out, "cache=%d  network=%d  not-cached=%d  failed=%d  hit-rate=%.2f%%\n",
		st.cacheHits.Load(), st.networks.Load(), st.notCached.Load(), st.failed.Load(), hitRate)
	_, _ = fmt.Fprintf(out, "rolled-back=%d  events=%d  dropped=%d  entries=%d\n",
		st.rolledBack.Load(), e.bus.Published(), e.bus.Dropped(), e.svc.Store().Len())
}
