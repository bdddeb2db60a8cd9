// Command matrixminer is the CLI entry point (§6): parses flags/config
// and hands off to the crawl engine, following the teacher's
// cmd/*/main.go convention of a minimal wiring layer with no business
// logic of its own.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/manuroe/matrixminer/internal/config"
	"github.com/manuroe/matrixminer/internal/crawldb"
	"github.com/manuroe/matrixminer/internal/logging"
	"github.com/manuroe/matrixminer/internal/metrics"
	"github.com/manuroe/matrixminer/internal/mxclient"
	"github.com/manuroe/matrixminer/internal/orchestrator"
	"github.com/manuroe/matrixminer/internal/process"
	"github.com/manuroe/matrixminer/internal/stats"
	"github.com/manuroe/matrixminer/internal/window"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run wires config -> mxclient -> orchestrator -> document output and
// returns the process exit code. Exit code 0 covers any successful
// completion including partial per-room errors; non-zero is reserved
// for account-level setup failures or an invalid window string (§6).
func run(args []string) int {
	// Accept both "crawl <window> ..." and the bare "<window> ..." form.
	if len(args) > 0 && args[0] == "crawl" {
		args = args[1:]
	}

	fs := flag.NewFlagSet("matrixminer", flag.ContinueOnError)
	userID := fs.String("user-id", "", "account to crawl; defaults to the sole configured account")
	formats := fs.String("formats", "", "comma-separated report formats handed to the external renderer (e.g. md,html)")
	output := fs.String("output", "", "directory the statistics document and rendered reports are written to")
	configPath := fs.String("config", "", "path to the YAML config file; defaults to $MY_DATA_DIR/config.yaml")
	const usage = "usage: matrixminer [crawl] <window> [--user-id <id>] [--formats md[,html]] [--output <dir>]"
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	windowArg := fs.Arg(0)
	// flag stops at the first positional argument; parse the flags that
	// follow the window as well.
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	win, err := window.Parse(windowArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	log := logging.Configure(cfg.Logging, os.Stderr)
	metrics.Register()

	account, err := selectAccount(cfg, *userID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	proc := process.New(context.Background())
	defer proc.ShutdownAndWait()

	accountLog := logging.ForAccount(log, account.UserID)
	doc, err := crawlAccount(proc.Context(), cfg, account, win, accountLog)
	if err != nil {
		accountLog.WithError(err).Error("account crawl failed")
		return 1
	}

	if err := writeDocument(doc, cfg, account, *output); err != nil {
		accountLog.WithError(err).Error("failed to write statistics document")
		return 1
	}

	if *formats != "" {
		accountLog.WithField("formats", *formats).Info("report rendering is handled by an external renderer; statistics document written")
	}

	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		dataDir := os.Getenv("MY_DATA_DIR")
		if dataDir == "" {
			dataDir = ".my"
		}
		path = filepath.Join(dataDir, "config.yaml")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &config.Config{}
		cfg.Defaults(config.DefaultOpts{})
		return cfg, nil
	}
	return config.Load(path)
}

func selectAccount(cfg *config.Config, userID string) (config.Account, error) {
	if userID != "" {
		for _, a := range cfg.Accounts {
			if a.UserID == userID {
				return a, nil
			}
		}
		return config.Account{}, fmt.Errorf("unknown user id: %q", userID)
	}
	if len(cfg.Accounts) != 1 {
		return config.Account{}, fmt.Errorf("--user-id is required when more than one account is configured")
	}
	return cfg.Accounts[0], nil
}

// crawlAccount wires the facade, the metadata store, and the
// orchestrator for one account and returns its statistics document.
func crawlAccount(ctx context.Context, cfg *config.Config, account config.Account, win window.Scope, log *logrus.Entry) (*stats.Document, error) {
	accountDir := cfg.AccountDir(account.UserID)

	token, err := loadAccessToken(accountDir)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	client, err := mxclient.New(account.Homeserver, account.UserID, token, "")
	if err != nil {
		return nil, fmt.Errorf("construct client: %w", err)
	}

	store, err := crawldb.Init(filepath.Join(accountDir, "db.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("init metadata store: %w", err)
	}
	defer store.Close()

	acct := stats.Account{UserID: account.UserID, DisplayName: account.DisplayName}
	opts := orchestrator.Options{
		MaxConcurrency:  cfg.Crawl.MaxConcurrency,
		PaginationBatch: cfg.Crawl.PaginationBatch,
		DiscoveryBatch:  cfg.Crawl.DiscoveryBatch,
	}

	return orchestrator.Run(ctx, client, store, win, acct, opts, log)
}

// credentials mirrors meta/credentials.json (§6's on-disk layout).
// Interactive login and credential storage themselves are out of scope
// (§1); this only reads what an external login step already wrote.
type credentials struct {
	AccessToken string `json:"access_token"`
}

func loadAccessToken(accountDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(accountDir, "meta", "credentials.json"))
	if err != nil {
		return "", err
	}
	var c credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return "", err
	}
	return c.AccessToken, nil
}

func writeDocument(doc *stats.Document, cfg *config.Config, account config.Account, outputDir string) error {
	if outputDir == "" {
		outputDir = cfg.AccountDir(account.UserID)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("stats-%s-%s.json", doc.Scope.Kind, strings.ReplaceAll(doc.Scope.Key, "/", "_"))
	return os.WriteFile(filepath.Join(outputDir, name), data, 0o644)
}
