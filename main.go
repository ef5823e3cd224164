package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rahuls2764/Skill/pkg/config"
	"github.com/rahuls2764/Skill/pkg/ipfs"
	"github.com/rahuls2764/Skill/pkg/logger"
	"github.com/rahuls2764/Skill/pkg/server"
	"github.com/rahuls2764/Skill/pkg/tui"
	"github.com/rahuls2764/Skill/pkg/wallet"
)

// Version should be set during build
var Version = "dev"

func main() {
	testFlag := flag.Bool("t", false, "Test configuration and exit")
	testLongFlag := flag.Bool("test", false, "Test configuration and exit")
	jsonFlag := flag.Bool("json", false, "Output test results as JSON")
	dryRunFlag := flag.Bool("dry-run", false, "Perform a trial run with no changes made")
	configFlag := flag.String("config", "", "Path to configuration file")
	restoreFlag := flag.Bool("restore", false, "Restore the most recent configuration backup and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	serverFlag := flag.Bool("server", false, "Run the upload backend in headless server mode")
	portFlag := flag.Int("port", 0, "Port for API server (default from PORT or 8000)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: skillbridge [flags] [command]\n\nCommands:\n  %s\n\nFlags:\n", commandUsage())
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("skillbridge version %s\n", Version)
		os.Exit(0)
	}

	cmd, cmdArgs, isCmd, err := lookupCommand(flag.Args())
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	cfgInput := *configFlag
	if cfgInput == "" && !isCmd && len(flag.Args()) > 0 {
		cfgInput = flag.Args()[0]
	}
	path, err := config.GetConfigPath(cfgInput)
	if err != nil {
		fmt.Printf("Error determining config path: %v\n", err)
		os.Exit(1)
	}

	if *restoreFlag {
		if err := config.RestoreLastBackup(path); err != nil {
			fmt.Printf("Failed to restore %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Restored %s from its latest backup.\n", path)
		os.Exit(0)
	}

	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		fmt.Printf("Error loading config from %s: %v\n", path, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *testFlag || *testLongFlag {
		var out io.Writer = os.Stdout
		if *jsonFlag {
			out = io.Discard
		}
		report := testConfig(ctx, cfg, path, *dryRunFlag, out)
		if *jsonFlag {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(report)
		}
		if !reportOK(report) {
			os.Exit(1)
		}
		os.Exit(0)
	}

	var log *logger.Logger
	if !*serverFlag && !isCmd && cfg.LogFile == "" {
		// The UI owns the terminal.
		log = logger.Nop()
	} else if log, err = logger.New(cfg.LogMode, cfg.LogFile); err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Printf("Error: %s\n", p)
		}
		fmt.Printf("Please fix the config file at %s (run with -t to test it).\n", path)
		os.Exit(1)
	}

	if *serverFlag {
		if err := runServer(ctx, cfg, *portFlag, log); err != nil {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	a, err := newApp(ctx, cfg, log, !isCmd)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if isCmd {
		if err := runCommand(ctx, a, cmd, cmdArgs, os.Stdout); err != nil {
			fmt.Printf("%s failed: %v\n", cmd.name, err)
			os.Exit(1)
		}
		return
	}

	a.run(ctx)
	err = tui.Start(ctx, tui.Deps{
		Session:  a.sessions,
		Balances: a.balances,
		Actions:  a.orch,
		Wallet:   a.wallet,
		Prompts:  promptStream(a),
		Bus:      a.bus,
		Config:   cfg,
	}, Version)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// runServer runs the upload backend. When the node is reachable the core
// runs alongside it so the status route and feed carry live data.
func runServer(ctx context.Context, cfg config.Config, port int, log *logger.Logger) error {
	scfg := config.LoadServerConfig()
	if port == 0 {
		port = scfg.Port
	}

	var pinner ipfs.Pinner
	if scfg.PinataJWT != "" {
		pinner = ipfs.NewPinata(scfg.PinataAPIURL, scfg.PinataJWT, log.With("component", "pinata"))
	} else {
		log.Warn("PINATA_JWT not set, upload routes are disabled")
	}

	opts := server.Options{
		Pinner:      pinner,
		MaxUploadMB: scfg.MaxUploadMB,
		Log:         log.With("component", "server"),
	}
	a, err := newApp(ctx, cfg, log, false)
	if err != nil {
		log.Warn("Running without chain state", "error", err)
	} else {
		defer a.close()
		a.run(ctx)
		opts.Bus = a.bus
		opts.Session = a.sessions
		opts.Balances = a.balances
		opts.Pending = a.orch
	}

	fmt.Printf("Running in server mode on port %d...\n", port)
	return server.NewServer(opts).Start(ctx, port)
}

func promptStream(a *app) <-chan wallet.Prompt {
	if a.prompts == nil {
		return nil
	}
	return a.prompts.Prompts()
}
