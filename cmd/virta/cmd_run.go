package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/virta/alarms"
	"github.com/yairfalse/virta/arn"
	"github.com/yairfalse/virta/awsclient"
	"github.com/yairfalse/virta/config"
	"github.com/yairfalse/virta/discovery"
	"github.com/yairfalse/virta/exporter"
	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/relations"
	"github.com/yairfalse/virta/scrape"
	"github.com/yairfalse/virta/telemetry"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start scraping and serve the metrics endpoint",
		RunE: func(*cobra.Command, []string) error {
			return runScraper()
		},
	}
}

// scraper bundles the long-lived pieces every task registration needs.
type scraper struct {
	log       zerolog.Logger
	self      *telemetry.Collector
	samples   *exporter.Collector
	limiter   *ratelimit.Limiter
	provider  *awsclient.Provider
	mapper    *arn.Mapper
	scheduler *scrape.Scheduler
}

func runScraper() error {
	log := newLogger()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log.Info().Str("config", configPath).Strs("regions", cfg.Regions()).Msg("starting virta")

	self := telemetry.NewCollector()
	samples := exporter.NewCollector(log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		self,
		samples,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &scraper{
		log:       log,
		self:      self,
		samples:   samples,
		limiter:   ratelimit.NewLimiter(cfg.RateLimit, self),
		provider:  awsclient.NewProvider(log),
		mapper:    arn.NewMapper(),
		scheduler: scrape.NewScheduler(cfg.Workers, log),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Add(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("metrics endpoint listening")
		return server.ListenAndServe()
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	})

	g.Add(func() error {
		s.registerTasks(ctx, cfg)
		ticker := time.NewTicker(cfg.RebuildInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scheduler.Wait()
				return ctx.Err()
			case <-ticker.C:
				// Registration is additive: a reload only arms tasks for
				// keys that appeared since the last pass.
				reloaded, err := config.LoadConfig(configPath)
				if err != nil {
					log.Error().Err(err).Msg("config reload failed, keeping current tasks")
					continue
				}
				s.registerTasks(ctx, reloaded)
			}
		}
	}, func(error) {
		cancel()
	})

	if err := g.Run(); err != nil {
		var sigErr run.SignalError
		if errors.As(err, &sigErr) {
			log.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}

// registerTasks arms one metric task per (region, interval) pair plus the
// per-region alarm, relation and inventory singletons.
func (s *scraper) registerTasks(ctx context.Context, cfg *config.Config) {
	for _, region := range cfg.Regions() {
		for _, interval := range cfg.Intervals() {
			task := scrape.NewMetricTask(cfg, region, interval, s.provider, s.limiter, s.samples, s.self, s.log)
			s.scheduler.EnsureScheduled(ctx, task.Partition(), interval, scrape.AlignInterval, task)
		}

		if cfg.Alarms.Enabled {
			s.registerAlarmPoller(ctx, cfg, region)
		}
		s.registerRelationAggregator(ctx, cfg, region)
		s.registerInventory(ctx, cfg, region)
	}
}

func (s *scraper) registerAlarmPoller(ctx context.Context, cfg *config.Config, region string) {
	key := "alarms/" + region
	if s.scheduler.Scheduled(key) {
		return
	}
	var forwarder alarms.Forwarder
	if cfg.Alarms.ForwardURL != "" {
		forwarder = alarms.NewHTTPForwarder(cfg.Alarms.ForwardURL, s.log)
	}
	poller := alarms.NewPoller(cfg, region, s.provider, s.limiter, s.samples, forwarder, s.log)
	s.scheduler.EnsureScheduled(ctx, key, time.Minute, scrape.AlignMinute, poller)
}

func (s *scraper) registerRelationAggregator(ctx context.Context, cfg *config.Config, region string) {
	key := "relations/" + region
	if s.scheduler.Scheduled(key) {
		return
	}
	aggregator, err := s.buildAggregator(ctx, cfg, region)
	if err != nil {
		s.log.Error().Err(err).Str("region", region).Msg("relation discovery not armed")
		return
	}
	s.scheduler.EnsureScheduled(ctx, key, time.Minute, scrape.AlignMinute, scrape.TaskFunc(aggregator.Run))
}

func (s *scraper) buildAggregator(ctx context.Context, cfg *config.Config, region string) (*relations.Aggregator, error) {
	elb, err := s.provider.ELBV2(ctx, region)
	if err != nil {
		return nil, err
	}
	asgClient, err := s.provider.AutoScaling(ctx, region)
	if err != nil {
		return nil, err
	}
	ec2Client, err := s.provider.EC2(ctx, region)
	if err != nil {
		return nil, err
	}
	ecsClient, err := s.provider.ECS(ctx, region)
	if err != nil {
		return nil, err
	}
	apigwClient, err := s.provider.APIGateway(ctx, region)
	if err != nil {
		return nil, err
	}

	var builders []relations.Builder
	for _, account := range cfg.Accounts {
		if !accountHasRegion(account, region) {
			continue
		}
		tgMapper := relations.NewTargetGroupMapper(elb, s.limiter, s.mapper, account.ID, region, s.log)
		builders = append(builders,
			// The lambda routing builder refreshes the shared target
			// group map at the start of each cycle.
			relations.NewLBToLambdaBuilder(tgMapper, elb, s.limiter, s.mapper, account.ID, region, s.log),
			relations.NewLBToASGBuilder(tgMapper, asgClient, s.limiter, s.mapper, account.ID, region, s.log),
			relations.NewECSRoutingBuilder(tgMapper, ecsClient, s.limiter, s.mapper, account.ID, region, s.log),
			relations.NewVolumeBuilder(ec2Client, s.limiter, account.ID, region, s.log),
			relations.NewENIBuilder(ec2Client, s.limiter, account.ID, region, s.log),
			relations.NewAPIGatewayBuilder(apigwClient, s.limiter, s.mapper, account.ID, region, s.log),
		)
	}
	if len(builders) == 0 {
		return nil, fmt.Errorf("no accounts configured for region %s", region)
	}
	return relations.NewAggregator("relations/"+region, s.samples, s.log, builders...), nil
}

func (s *scraper) registerInventory(ctx context.Context, cfg *config.Config, region string) {
	key := "inventory/" + region
	if s.scheduler.Scheduled(key) {
		return
	}
	inventory := discovery.NewInventory(cfg, region, s.provider, s.limiter, s.mapper, s.samples, s.log)
	s.scheduler.EnsureScheduled(ctx, key, time.Minute, scrape.AlignMinute, inventory)
}

func accountHasRegion(account config.Account, region string) bool {
	for _, r := range account.Regions {
		if r == region {
			return true
		}
	}
	return false
}
