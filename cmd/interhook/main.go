package main

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/interhook/internal/config"
	"github.com/mattjoyce/interhook/internal/doctor"
	"github.com/mattjoyce/interhook/internal/identity"
	"github.com/mattjoyce/interhook/internal/lock"
	"github.com/mattjoyce/interhook/internal/log"
	"github.com/mattjoyce/interhook/internal/metrics"
	"github.com/mattjoyce/interhook/internal/pipeline"
	"github.com/mattjoyce/interhook/internal/token"
	"github.com/mattjoyce/interhook/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	// Bare invocation and leading flags both mean serve, so the binary can
	// be a container entrypoint with no arguments.
	if len(cliArgs) < 1 || (strings.HasPrefix(cliArgs[0], "-") && cliArgs[0] != "--version" && !isHelpToken(cliArgs[0])) {
		return runServe(cliArgs)
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args)
	case "doctor":
		return runDoctor(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`interhook - webhook receiver that obtains OAuth2 tokens over mTLS

Usage:
  interhook [serve] [--config FILE]
  interhook doctor [--config FILE] [--json]
  interhook version [--json]

Commands:
  serve     Run the webhook receiver (default)
  doctor    Validate configuration and the PKCS#12 bundle offline
  version   Show version information
  help      Show this help message

Configuration is read from environment variables (P12_BASE64, P12_PASSWORD,
INTER_CLIENT_ID, INTER_CLIENT_SECRET, SCOPE, INTER_TOKEN_URL, PORT, ...)
layered over an optional YAML file (--config or INTERHOOK_CONFIG).
Send SIGHUP to reload the PKCS#12 bundle without restarting.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: interhook version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("interhook %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// configFlag registers --config with INTERHOOK_CONFIG as its default.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", os.Getenv(config.EnvConfigPath), "Path to an optional YAML configuration file")
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

// service is the wired receiver. It is rebuilt from nothing but a config.
type service struct {
	provider *identity.Provider
	cache    *token.Cache
	pipeline *pipeline.Pipeline
	server   *webhook.Server
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func newService(cfg *config.Config, roots *x509.CertPool, logger *slog.Logger) (*service, error) {
	m := metrics.New()

	provider := identity.NewProvider(identity.Options{
		RootCAs: roots,
		Timeout: cfg.OAuth.Timeout,
	}, log.WithComponent("identity"), m)

	if !cfg.MTLSAvailable() {
		logger.Warn("mTLS credentials not configured; POST / will answer 403", "missing", cfg.MissingCredentials())
	}
	if missing := cfg.MissingOAuth(); len(missing) > 0 {
		logger.Warn("OAuth settings not configured; POST / will fail", "missing", missing)
	}
	// A failed build is kept as the provider state and surfaces per request.
	_, _ = provider.Rebuild(identity.CredentialsFrom(cfg))

	svc := &service{provider: provider, metrics: m, logger: logger}

	var tokens token.Acquirer = token.NewClient(log.WithComponent("token"), m)
	if cfg.OAuth.Cache {
		svc.cache = token.NewCache(tokens, cfg.OAuth.RenewalBuffer, m)
		tokens = svc.cache
		logger.Info("token cache enabled", "renewal_buffer", cfg.OAuth.RenewalBuffer)
	}

	svc.pipeline = pipeline.New(cfg, provider, tokens, log.WithComponent("pipeline"))

	webhookConfig, err := webhook.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure webhook server: %w", err)
	}
	svc.server = webhook.New(webhookConfig, svc.pipeline, m, log.WithComponent("webhook"))

	return svc, nil
}

// reload rotates the client identity from a freshly loaded config. OAuth and
// listener settings are fixed for the life of the process.
func (s *service) reload(configPath string) {
	cfg, err := config.Load(configPath, os.LookupEnv)
	if err != nil {
		s.logger.Error("reload failed; keeping current identity", "error", err)
		return
	}
	if _, err := s.provider.Rebuild(identity.CredentialsFrom(cfg)); err != nil {
		s.logger.Error("reload produced no usable identity", "error", err)
	}
	if s.cache != nil {
		s.cache.Purge()
	}
	s.logger.Info("reload complete",
		"built_at", s.provider.BuiltAt(),
		"breaker", s.pipeline.BreakerState(),
	)
}

func (s *service) handler() http.Handler {
	return s.server.Handler()
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("interhook starting", "version", version, "config", cfg.SourcePath, "listen", cfg.ListenAddr())

	if cfg.Service.PIDFile != "" {
		pidLock, err := lock.Acquire(cfg.Service.PIDFile)
		if err != nil {
			logger.Error("failed to acquire PID lock", "path", cfg.Service.PIDFile, "error", err)
			return 1
		}
		defer func() { _ = pidLock.Release() }()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	roots, err := identity.LoadRootCAs(cfg.Credentials.CAFile)
	if err != nil {
		logger.Error("failed to load CA file", "path", cfg.Credentials.CAFile, "error", err)
		return 1
	}

	svc, err := newService(cfg, roots, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.server.Start(ctx)
	}()

	logger.Info("interhook running (press Ctrl+C to stop)")

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received reload signal")
				svc.reload(*configPath)
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
			if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("shutdown incomplete", "error", err)
				return 1
			}
			logger.Info("interhook stopped")
			return 0
		case err := <-errCh:
			logger.Error("webhook server failed", "error", err)
			return 1
		}
	}
}
