// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/debug"
	"github.com/LeeDigitalWorks/basins3/pkg/env"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/api"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/filter"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service"
	"github.com/LeeDigitalWorks/basins3/pkg/index"
	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/network"
	_ "github.com/LeeDigitalWorks/basins3/pkg/network/memory"
	_ "github.com/LeeDigitalWorks/basins3/pkg/network/s3"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/signature"
	"github.com/LeeDigitalWorks/basins3/pkg/staging"
	"github.com/LeeDigitalWorks/basins3/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type ServeOpts struct {
	Host        string
	Port        int
	DebugPort   int
	Domain      string
	IdleTimeout time.Duration
	LogLevel    string
	SentryDSN   string

	Network       string
	NetworkDriver string
	RPCURL        string
	ObjectAPIURL  string
	S3Endpoint    string
	S3Region      string
	S3Bucket      string
	S3AccessKey   string
	S3SecretKey   string

	// Never log the private or secret keys.
	PrivateKey string
	AccessKey  string
	SecretKey  string
	Region     string

	StagingDir      string
	StagingCapacity string
	MaxUploads      int

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryJitter      float64
	BackendTimeout   time.Duration
	TxRate           float64
	TxBurst          int

	IndexDriver   string
	IndexTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRPS   float64
	RateLimitBurst int
	RateLimitRedis bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the S3 gateway",
	Long: `Start the S3 gateway. Without --private_key the gateway is read-only:
reads are served for any namespace, writes answer NotImplemented.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("host", "127.0.0.1", "Address to bind to")
	f.Int("port", 8014, "S3 API port")
	f.Int("debug_port", 8015, "Debug HTTP port (metrics, health, pprof)")
	f.String("domain", "", "Domain for virtual-hosted style requests")
	f.Duration("idle_timeout", 30*time.Second, "Connection idle timeout, scaled by bytes transferred")
	f.String("log_level", "info", "Log level (debug, info, warn, error)")
	f.String("sentry_dsn", "", "Sentry DSN for error reporting")

	f.String("network", string(network.Testnet), "Network preset (mainnet, testnet, localnet, devnet)")
	f.String("network_driver", "memory", "Network driver (memory, s3)")
	f.String("rpc_url", "", "Network RPC URL (overrides the preset)")
	f.String("object_api_url", "", "Network object API URL (overrides the preset)")
	f.String("s3_endpoint", "", "Endpoint of the s3 driver's backing store")
	f.String("s3_region", "us-east-1", "Region of the s3 driver's backing store")
	f.String("s3_bucket", "", "Bucket of the s3 driver's backing store")
	f.String("s3_access_key", "", "Access key of the s3 driver's backing store")
	f.String("s3_secret_key", "", "Secret key of the s3 driver's backing store")

	f.String("private_key", "", "Hex private key of the gateway wallet; empty runs read-only")
	f.String("access_key", "", "Access key clients must sign with (requires secret_key)")
	f.String("secret_key", "", "Secret key clients must sign with (requires access_key)")
	f.String("region", "us-east-1", "Region returned by GetBucketLocation")

	f.String("staging_dir", staging.DefaultDir, "Directory for staged request bodies")
	f.String("staging_capacity", "10GiB", "Maximum bytes staged at once (0 for unlimited)")
	f.Int("max_uploads", 1000, "Maximum concurrent multipart uploads")

	f.Int("retry_max_attempts", backend.DefaultMaxAttempts, "Network call attempts including the first")
	f.Duration("retry_base_delay", backend.DefaultBaseDelay, "Delay before the first retry")
	f.Duration("retry_max_delay", backend.DefaultMaxDelay, "Cap on the retry delay")
	f.Float64("retry_jitter", backend.DefaultJitter, "Retry delay randomization factor (0 to 1)")
	f.Duration("backend_timeout", backend.DefaultAttemptTimeout, "Deadline of a single network call attempt")
	f.Float64("tx_rate", 0, "Transactions per second (0 for unlimited)")
	f.Int("tx_burst", 1, "Transaction burst")

	f.String("index_driver", "memory", "Metadata index (memory, redis)")
	f.Duration("index_ttl", 10*time.Minute, "Index entry lifetime (0 keeps entries until invalidated)")
	f.String("redis_addr", "localhost:6379", "Redis address for the index and the shared rate limiter")
	f.String("redis_password", "", "Redis password")
	f.Int("redis_db", 0, "Redis database number")

	f.Float64("rate_limit_rps", 0, "Requests per second per client IP (0 disables)")
	f.Int("rate_limit_burst", 0, "Request burst per client IP (0 for twice the rate)")
	f.Bool("rate_limit_redis", false, "Share rate limits between gateways through Redis")

	viper.BindPFlags(f)
}

func loadServeOpts(cmd *cobra.Command) ServeOpts {
	f := NewFlagLoader(cmd)
	return ServeOpts{
		Host:        f.String("host"),
		Port:        f.Int("port"),
		DebugPort:   f.Int("debug_port"),
		Domain:      f.String("domain"),
		IdleTimeout: f.Duration("idle_timeout"),
		LogLevel:    f.String("log_level"),
		SentryDSN:   f.String("sentry_dsn"),

		Network:       f.String("network"),
		NetworkDriver: f.String("network_driver"),
		RPCURL:        f.String("rpc_url"),
		ObjectAPIURL:  f.String("object_api_url"),
		S3Endpoint:    f.String("s3_endpoint"),
		S3Region:      f.String("s3_region"),
		S3Bucket:      f.String("s3_bucket"),
		S3AccessKey:   f.String("s3_access_key"),
		S3SecretKey:   f.String("s3_secret_key"),

		PrivateKey: f.String("private_key"),
		AccessKey:  f.String("access_key"),
		SecretKey:  f.String("secret_key"),
		Region:     f.String("region"),

		StagingDir:      f.String("staging_dir"),
		StagingCapacity: f.String("staging_capacity"),
		MaxUploads:      f.Int("max_uploads"),

		RetryMaxAttempts: f.Int("retry_max_attempts"),
		RetryBaseDelay:   f.Duration("retry_base_delay"),
		RetryMaxDelay:    f.Duration("retry_max_delay"),
		RetryJitter:      f.Float64("retry_jitter"),
		BackendTimeout:   f.Duration("backend_timeout"),
		TxRate:           f.Float64("tx_rate"),
		TxBurst:          f.Int("tx_burst"),

		IndexDriver:   f.String("index_driver"),
		IndexTTL:      f.Duration("index_ttl"),
		RedisAddr:     f.String("redis_addr"),
		RedisPassword: f.String("redis_password"),
		RedisDB:       f.Int("redis_db"),

		RateLimitRPS:   f.Float64("rate_limit_rps"),
		RateLimitBurst: f.Int("rate_limit_burst"),
		RateLimitRedis: f.Bool("rate_limit_redis"),
	}
}

// Validate rejects option combinations the gateway cannot start with.
func (o ServeOpts) Validate() error {
	var errs []error
	if strings.Contains(o.Domain, "/") {
		errs = append(errs, fmt.Errorf("domain %q must be a host name", o.Domain))
	}
	if (o.AccessKey == "") != (o.SecretKey == "") {
		errs = append(errs, errors.New("access_key and secret_key must be set together"))
	}
	if _, err := network.ParsePreset(o.Network); err != nil {
		errs = append(errs, err)
	}
	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", o.Port))
	}
	if o.DebugPort < 0 || o.DebugPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid debug_port %d", o.DebugPort))
	}
	if _, err := o.stagingCapacity(); err != nil {
		errs = append(errs, err)
	}
	if o.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("retry_max_attempts must be at least 1"))
	}
	if o.RetryJitter < 0 || o.RetryJitter > 1 {
		errs = append(errs, errors.New("retry_jitter must be between 0 and 1"))
	}
	switch o.IndexDriver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown index_driver %q", o.IndexDriver))
	}
	if o.RateLimitRPS < 0 {
		errs = append(errs, errors.New("rate_limit_rps must not be negative"))
	}
	return errors.Join(errs...)
}

func (o ServeOpts) stagingCapacity() (int64, error) {
	if o.StagingCapacity == "" || o.StagingCapacity == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(o.StagingCapacity)
	if err != nil {
		return 0, fmt.Errorf("staging_capacity: %w", err)
	}
	return int64(n), nil
}

func (o ServeOpts) networkConfig() network.Config {
	return network.Config{
		Driver:       o.NetworkDriver,
		Network:      network.Preset(o.Network),
		RPCURL:       o.RPCURL,
		ObjectAPIURL: o.ObjectAPIURL,
		S3Endpoint:   o.S3Endpoint,
		S3Region:     o.S3Region,
		S3Bucket:     o.S3Bucket,
		S3AccessKey:  o.S3AccessKey,
		S3SecretKey:  o.S3SecretKey,
	}
}

func (o ServeOpts) retryPolicy() backend.RetryPolicy {
	return backend.RetryPolicy{
		MaxAttempts:    o.RetryMaxAttempts,
		BaseDelay:      o.RetryBaseDelay,
		MaxDelay:       o.RetryMaxDelay,
		Jitter:         o.RetryJitter,
		AttemptTimeout: o.BackendTimeout,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	utils.LoadConfiguration("basins3", false)
	env.Load()
	opts := loadServeOpts(cmd)
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := logger.SetLevelString(opts.LogLevel); err != nil {
		return err
	}

	if opts.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              opts.SentryDSN,
			Environment:      env.Env,
			Release:          Version,
			Debug:            env.IsLocal(),
			SampleRate:       0.1,
			EnableTracing:    true,
			TracesSampleRate: 0.1,
		}); err != nil {
			logger.Warn().Err(err).Msg("failed to initialize sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	debug.SetNotReady()

	client, err := network.New(opts.networkConfig())
	if err != nil {
		return fmt.Errorf("network client: %w", err)
	}

	var signer network.Signer
	if opts.PrivateKey != "" {
		ks, err := network.NewKeySigner(opts.PrivateKey)
		if err != nil {
			client.Close()
			return fmt.Errorf("private_key: %w", err)
		}
		signer = ks
		logger.Info().Str("wallet", ks.Address().Hex()).Msg("gateway wallet loaded")
	} else {
		logger.Warn().Msg("no private key configured, serving read-only")
	}

	adapter := backend.New(backend.Config{
		Client:  client,
		Signer:  signer,
		Retry:   opts.retryPolicy(),
		TxRate:  opts.TxRate,
		TxBurst: opts.TxBurst,
	})
	defer adapter.Close()

	store, err := newIndexStore(opts)
	if err != nil {
		return err
	}
	ix := index.New(store, adapter)
	defer ix.Close()

	capacity, _ := opts.stagingCapacity()
	stager, err := staging.New(staging.Config{Dir: opts.StagingDir, Capacity: capacity})
	if err != nil {
		return err
	}
	debug.AddReadyCheck(func() bool {
		_, err := os.Stat(stager.Dir())
		return err == nil
	})

	svc, err := service.NewService(service.Config{
		Adapter:    adapter,
		Index:      ix,
		Stager:     stager,
		Region:     opts.Region,
		MaxUploads: opts.MaxUploads,
	})
	if err != nil {
		return err
	}

	chain := filter.NewChain()
	chain.AddFilter(filter.NewRequestIDFilter())
	chain.AddFilter(filter.NewParserFilter(opts.Domain))
	chain.AddFilter(filter.NewValidationFilter())
	chain.AddFilter(filter.NewReadOnlyFilter(adapter.ReadOnly()))
	if opts.RateLimitRPS > 0 {
		limiter, closeLimiter := newRateLimiter(opts)
		defer closeLimiter()
		chain.AddFilter(filter.NewRateLimitFilter(limiter))
	}
	if opts.AccessKey != "" {
		chain.AddFilter(filter.NewAuthenticationFilter(signature.StaticCredentials{opts.AccessKey: opts.SecretKey}))
		logger.Info().Str("access_key", opts.AccessKey).Msg("signature v4 authentication enabled")
	}

	server := api.NewServer(api.ServerConfig{Service: svc, Chain: chain})
	defer server.Shutdown()

	debug.RegisterHandlerFunc("/debug/uploads", server.UploadsHandler)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s3Addr := utils.JoinHostPort(opts.Host, opts.Port)
	s3Listener, err := utils.NewListener(s3Addr, opts.IdleTimeout)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s3Addr, err)
	}
	servers := []*http.Server{{Handler: server}}
	listeners := []net.Listener{s3Listener}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", s3Addr).
			Str("network", opts.Network).
			Str("driver", opts.NetworkDriver).
			Bool("read_only", adapter.ReadOnly()).
			Msg("starting S3 gateway")
		return serve(servers[0], s3Listener)
	})
	if opts.DebugPort > 0 {
		debugAddr := utils.JoinHostPort(opts.Host, opts.DebugPort)
		debugListener, err := utils.NewListener(debugAddr, 0)
		if err != nil {
			s3Listener.Close()
			return fmt.Errorf("listen %s: %w", debugAddr, err)
		}
		debugServer := &http.Server{Handler: debug.GetMux()}
		servers = append(servers, debugServer)
		listeners = append(listeners, debugListener)
		g.Go(func() error {
			logger.Info().Str("addr", debugAddr).Msg("starting debug server")
			return serve(debugServer, debugListener)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		debug.SetNotReady()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	debug.SetReady()
	err = g.Wait()
	for _, l := range listeners {
		l.Close()
	}
	return err
}

func serve(s *http.Server, l net.Listener) error {
	if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newIndexStore(opts ServeOpts) (index.Store, error) {
	switch opts.IndexDriver {
	case "redis":
		cfg := index.DefaultRedisConfig()
		cfg.Addr = opts.RedisAddr
		cfg.Password = opts.RedisPassword
		cfg.DB = opts.RedisDB
		cfg.TTL = opts.IndexTTL
		store, err := index.NewRedisStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("redis index: %w", err)
		}
		logger.Info().Str("redis_addr", opts.RedisAddr).Msg("using redis metadata index")
		return store, nil
	default:
		return index.NewMemoryStore(opts.IndexTTL, 0), nil
	}
}

func newRateLimiter(opts ServeOpts) (filter.Limiter, func()) {
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = int(2 * opts.RateLimitRPS)
	}
	if opts.RateLimitRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		cfg := filter.DefaultRedisLimiterConfig()
		cfg.RPS = int64(max(opts.RateLimitRPS, 1))
		cfg.Burst = int64(burst)
		logger.Info().
			Str("redis_addr", opts.RedisAddr).
			Bool("fail_open", cfg.FailOpen).
			Msg("distributed rate limiting enabled via Redis")
		return filter.NewRedisLimiter(client, cfg), func() { client.Close() }
	}
	l := filter.NewLocalLimiter(opts.RateLimitRPS, burst, 10*time.Minute)
	return l, l.Close
}
