package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NethermindEth/starknet.go/account"
	"github.com/NethermindEth/starknet.go/rpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"starknet-shoot/internal/blockwatch"
	"starknet-shoot/internal/config"
	"starknet-shoot/internal/feltutil"
	"starknet-shoot/internal/hostinfo"
	"starknet-shoot/internal/metrics"
	"starknet-shoot/internal/report"
	"starknet-shoot/internal/rpcfacade"
	"starknet-shoot/internal/setup"
	"starknet-shoot/internal/shooter"
	"starknet-shoot/internal/signer"
)

func main() {
	app := &cli.App{
		Name:  "shoot",
		Usage: "load-test a Starknet JSON-RPC sequencer",
		Commands: []*cli.Command{
			{
				Name:  "shoot",
				Usage: "run setup then the configured load phase",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Required: true,
						Usage:    "path to the benchmark config YAML",
					},
				},
				Action: func(c *cli.Context) error {
					return run(c.String("config"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("[shoot] %v", err)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := hostinfo.Capture()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	client, err := rpcfacade.New(ctx, rpcfacade.Config{
		URL:      cfg.RPC.URL,
		MaxConns: int(cfg.Run.Concurrency + cfg.Run.EffectiveVerifyConcurrency()),
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.RPC.URL, err)
	}

	provider, err := rpc.NewProvider(cfg.RPC.URL)
	if err != nil {
		return fmt.Errorf("connecting provider to %s: %w", cfg.RPC.URL, err)
	}

	chainID := feltutil.FromASCII(cfg.Setup.ChainID)
	deployerSigningKey := feltutil.MustHex(cfg.Deployer.SigningKey)
	deployerPub, err := account.PublicKeyFromPrivateKey(deployerSigningKey)
	if err != nil {
		return fmt.Errorf("deriving deployer public key: %w", err)
	}
	deployer, err := signer.New(
		provider,
		feltutil.MustHex(cfg.Deployer.Address),
		deployerSigningKey,
		deployerPub,
		chainID,
		cfg.Deployer.LegacyAccount,
		0,
	)
	if err != nil {
		return fmt.Errorf("building deployer account: %w", err)
	}
	if nonce, err := client.GetNonce(ctx, deployer.Address); err == nil {
		deployer.SyncNonce(nonce)
	}

	log.Printf("[shoot] running setup")
	orc := setup.New(client, provider, cfg, deployer)
	setupResult, err := orc.Run(ctx)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	for _, acc := range setupResult.Accounts {
		if n, err := client.GetNonce(ctx, acc.Address); err == nil {
			acc.SyncNonce(n)
		}
	}

	channelCap := 2 * int(cfg.Run.Concurrency+cfg.Run.EffectiveVerifyConcurrency())
	agg := metrics.NewAggregator(channelCap, int(cfg.Report.NumBlocks))
	aggDone := make(chan struct{})
	go func() { agg.Run(); close(aggDone) }()

	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.EffectiveListenAddr()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(agg.Registry(), promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			log.Printf("[shoot] metrics endpoint listening on %s/metrics", addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[shoot] metrics server error: %v", err)
			}
		}()
		defer metricsSrv.Close()
	}

	maxWait := time.Duration(cfg.Run.EffectiveMaxWaitMS()) * time.Millisecond
	blockTime := time.Duration(cfg.Run.EffectiveBlockTimeMS()) * time.Millisecond

	loadCtx, abortLoad := context.WithCancel(ctx)
	defer abortLoad()
	watchCtx, stopWatch := context.WithCancel(ctx)
	watcher := blockwatch.New(client, blockTime, maxWait, agg.Events())
	watchDone := make(chan error, 1)
	go func() {
		err := watcher.Run(watchCtx)
		if err != nil {
			log.Printf("[shoot] block watcher failed, aborting the load phase: %v", err)
			abortLoad()
		}
		watchDone <- err
	}()

	opts := shooter.Options{
		Concurrency:       cfg.Run.Concurrency,
		VerifyConcurrency: cfg.Run.EffectiveVerifyConcurrency(),
		MaxWait:           maxWait,
	}

	for _, sc := range cfg.Run.Shooters {
		var sh shooter.Shooter
		switch sc.Name {
		case "transfer":
			sh = shooter.NewTransfer(sc.Name, sc.Shoot, setupResult.ERC20Address.String(), transferAmount())
		case "mint":
			sh = shooter.NewMint(sc.Name, sc.Shoot, setupResult.ERC721Address.String())
		default:
			return fmt.Errorf("unknown shooter %q", sc.Name)
		}
		log.Printf("[shoot] running shooter %q (%d ops)", sh.Name, sh.Amount)
		shooter.Run(loadCtx, sh, setupResult.Accounts, client, agg.Events(), opts)
	}

	for _, rb := range cfg.Run.ReadBenches {
		params, err := loadReadParams(rb.ParametersLocation)
		if err != nil {
			return fmt.Errorf("read_bench %q: %w", rb.Name, err)
		}
		sh := shooter.NewRead(rb.Name, rb.NumRequests, rb.Method, params)
		log.Printf("[shoot] running read bench %q (%d ops)", sh.Name, sh.Amount)
		shooter.Run(loadCtx, sh, setupResult.Accounts, client, agg.Events(), opts)
	}

	stopWatch()
	<-watchDone

	close(agg.Events())
	<-aggDone

	doc := report.Document{
		Users:          len(setupResult.Accounts),
		AllBenchReport: agg.AllBenchReport(),
		Extra:          host,
	}
	for _, name := range agg.ShooterNames() {
		doc.Benches = append(doc.Benches, agg.Report(name))
	}

	if err := report.Write(cfg.Report.OutputLocation, doc); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	log.Printf("[shoot] done, report written to %s", cfg.Report.OutputLocation)
	return nil
}

// transferAmount is the fixed per-task transfer size for the "transfer"
// shooter; small enough that funding sized in setup.perAccountBudget never
// runs dry over a long benchmark.
func transferAmount() *big.Int { return big.NewInt(1) }

func loadReadParams(path string) ([]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var params []any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return params, nil
}
