package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hierynomus/taipan"
	home "github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rb3ckers/restdispatch/internal/config"
	"github.com/rb3ckers/restdispatch/internal/metrics"
	"github.com/rb3ckers/restdispatch/internal/stats"
	"github.com/rb3ckers/restdispatch/rest"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version string
	Commit  string
	Date    string
)

var EnvPrefix = "RESTDISPATCH"

func RootCommand(cfg *config.Config) *cobra.Command {
	var verbosity int
	var method string
	var repeat int

	cmd := &cobra.Command{
		Use:   "restdispatch [flags] PATH...",
		Short: "Dispatches rate limited REST requests",
		Long: `
Sends requests to a REST API through a pool of workers that share one token
bucket rate limit:
* every PATH is requested --repeat times with --method
* requests are signed with HMAC (api-key/api-secret) or basic auth when configured
* one line is printed per outcome

SIGINT/SIGTERM cancels everything that has not been sent yet.
`,
		Args:    cobra.MinimumNArgs(1),
		Version: fmt.Sprintf("%s (Built on: %s, Commit: %s)", Version, Date, Commit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch verbosity {
			case 0:
				// Nothing to do
			case 1:
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			case 2: //nolint:gomnd
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			default:
				zerolog.SetGlobalLevel(zerolog.TraceLevel)
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			m, ok := rest.ParseMethod(method)
			if !ok {
				return fmt.Errorf("unsupported method '%s'", method)
			}

			return Run(cmd.Context(), cfg, m, args, repeat, cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Print more verbose logging")
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method used for every path")
	cmd.Flags().IntVarP(&repeat, "repeat", "n", 1, "Number of requests per path")

	cmd.Flags().StringP("base-url", "u", "", "Base URL every path is appended to")
	cmd.Flags().IntP("workers", "w", 3, "Number of concurrent workers")                                                //nolint:gomnd
	cmd.Flags().Int("rate-capacity", 0, "Burst size of the rate limit bucket, 0 disables rate limiting")                  //nolint:gomnd
	cmd.Flags().Float64("rate-refill", 0, "Tokens added to the rate limit bucket per second, 0 disables rate limiting") //nolint:gomnd
	cmd.Flags().Int("queue-capacity", 500, "Maximum amount of queued requests, 0 is unbounded")                          //nolint:gomnd
	cmd.Flags().String("backpressure", "block", "What to do when the queue is full: block or reject")
	cmd.Flags().Int("retry-attempts", 0, "Sends per request including retries of 5xx responses, 0 or 1 disables retry") //nolint:gomnd
	cmd.Flags().Int("retry-initial-ms", 500, "Initial backoff between retries")                                          //nolint:gomnd
	cmd.Flags().Int("retry-max-ms", 10000, "Maximum backoff between retries")                                            //nolint:gomnd
	cmd.Flags().Bool("retry-transport-errors", false, "Also retry connection failures and timeouts")
	cmd.Flags().Int("timeout-ms", 20000, "Timeout of a single send")                                                                 //nolint:gomnd
	cmd.Flags().Int("breaker-failures", 0, "Open the circuit after this many consecutive failures, 0 disables the circuit breaker") //nolint:gomnd
	cmd.Flags().Int("breaker-open-seconds", 60, "Time the circuit stays open before a probe is let through")                        //nolint:gomnd
	cmd.Flags().String("username", "", "Username for basic auth.")
	cmd.Flags().String("password", "", "Password for basic auth.")
	cmd.Flags().String("passwordFile", "", "Provide a file that contains username/password for basic auth. Contains 1 username/password combination separated by ':'.")
	cmd.Flags().String("api-key", "", "API key sent with HMAC signed requests")
	cmd.Flags().String("api-secret", "", "Secret used to HMAC sign requests")
	cmd.Flags().String("metrics-address", "", "Address to serve Prometheus metrics on. Leave empty to disable")
	cmd.Flags().String("stats-redis-addr", "", "Redis address to record outcome counters in. Leave empty to disable")
	cmd.Flags().String("stats-prefix", stats.DefaultPrefix, "Key prefix of the Redis outcome counters")

	return cmd
}

// Run dispatches repeat requests for every path and waits for all outcomes.
func Run(ctx context.Context, cfg *config.Config, method rest.Method, paths []string, repeat int, out io.Writer) error {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	logger := log.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	opts.Logger = logger

	reg := prometheus.NewRegistry()
	m := metrics.New()

	var store stats.Store
	var totals func(ctx context.Context) (stats.Counters, error)
	if cfg.StatsRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.StatsRedisAddr})
		defer rdb.Close()

		rs := stats.NewRedisStore(rdb, stats.WithPrefix(cfg.StatsPrefix))
		store, totals = rs, rs.Total
	} else {
		mem := stats.NewMemoryStore()
		store = mem
		totals = func(context.Context) (stats.Counters, error) { return mem.Total(), nil }
	}

	recorder := stats.NewRecorder(store, 0, *logger)
	defer recorder.Close(context.Background()) //nolint:errcheck
	opts.Observer = rest.Observers{m, recorder}

	d, err := rest.New(opts)
	if err != nil {
		return err
	}

	if err := m.Register(reg, d); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	if cfg.MetricsAddress != "" {
		srv := serveMetrics(cfg.MetricsAddress, reg, logger)
		defer srv.Close()
	}

	if err := d.Start(cfg.Workers, cfg.RateLimit()); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		select {
		case sig := <-sigs:
			logger.Warn().Str("signal", sig.String()).Msg("Received signal, cancelling outstanding requests")
			if err := d.Stop(context.Background(), false); err != nil {
				logger.Error().Err(err).Msg("Failed to stop dispatcher")
			}
		case <-d.Done():
		}
	}()

	printer := &outcomePrinter{out: out}
	var submitErr error
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		for i := 0; i < repeat; i++ {
			_, err := d.Submit(&rest.Request{
				Method:    method,
				Path:      p,
				OnSuccess: printer.success,
				OnFailure: printer.failure,
				OnError:   printer.failure,
			})
			if err != nil {
				submitErr = err
				break
			}
		}
		if submitErr != nil {
			break
		}
	}

	if err := d.Stop(context.Background(), true); err != nil {
		return err
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd
	defer cancel()
	if err := recorder.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("Not all stats were recorded")
	}

	fmt.Fprintf(out, "%d succeeded, %d failed\n", printer.succeeded, printer.failed)

	if counters, err := totals(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to read outcome totals")
	} else {
		fmt.Fprintf(out, "outcomes: %s\n", formatCounters(counters))
	}

	// ErrNotRunning means a signal stopped the dispatcher.
	if submitErr != nil && !errors.Is(submitErr, rest.ErrNotRunning) {
		return submitErr
	}

	return nil
}

// formatCounters renders counters as "outcome=count" pairs sorted by outcome.
func formatCounters(c stats.Counters) string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c[k]))
	}
	return strings.Join(parts, " ")
}

func serveMetrics(addr string, g prometheus.Gatherer, logger *zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second} //nolint:gomnd
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", addr).Msg("Metrics server failed")
		}
	}()
	logger.Info().Str("address", addr).Msg("Serving metrics on /metrics")

	return srv
}

// outcomePrinter writes one line per finished request. Callbacks run on many
// goroutines.
type outcomePrinter struct {
	mu        sync.Mutex
	out       io.Writer
	succeeded int
	failed    int
}

func (p *outcomePrinter) success(resp *rest.Response, req *rest.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.succeeded++
	fmt.Fprintf(p.out, "%s %s %d %s (%d attempts)\n", req.Method, req.Path, resp.Status, resp.Duration.Round(time.Millisecond), resp.Attempts)
}

func (p *outcomePrinter) failure(err error, req *rest.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failed++
	fmt.Fprintf(p.out, "%s %s failed: %s\n", req.Method, req.Path, err)
}

func Execute(ctx context.Context) {
	cfg := &config.Config{}
	cmd := RootCommand(cfg)

	homeFolder, err := home.Expand("~/.restdispatch")
	if err != nil {
		fmt.Printf("%s", err)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(zerolog.ErrorLevel)

	taipanConfig := &taipan.Config{
		DefaultConfigName:  "restdispatch",
		ConfigurationPaths: []string{".", homeFolder},
		EnvironmentPrefix:  EnvPrefix,
		AddConfigFlag:      true,
		ConfigObject:       cfg,
		PrefixCommands:     true,
	}

	t := taipan.New(taipanConfig)
	t.Inject(cmd)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Printf("🎃 %s\n", err)
		os.Exit(1)
	}
}
