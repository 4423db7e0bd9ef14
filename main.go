package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ndsec/lib"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		role       = flag.String("role", "host", "host|router")
		listenAddr = flag.String("listen", "::", "IPv6 address to bind (typically ::)")
		ifaceName  = flag.String("iface", "", "Optional interface name to restrict reads (best-effort)")
		logLevel   = flag.String("log-level", "info", "debug|info|warn|error")
		window     = flag.Duration("window", 15*time.Minute, "Sliding window duration for stats")
		refresh    = flag.Duration("refresh", 2*time.Second, "Dashboard refresh interval")

		sendRA  = flag.Bool("send-ra", true, "enable RA emission (router)")
		sendNA  = flag.Bool("send-na", true, "enable NA emission (router)")
		sendNS  = flag.Bool("send-ns", true, "enable NS emission (host)")
		ra6co   = flag.Bool("ra-6co", true, "include 6CO options in RAs (hosts process received 6CO regardless)")
		raAbro  = flag.Bool("ra-abro", true, "include ABRO in RAs (no ABRO is configured here, so none is sent)")
		raRDNSS = flag.Bool("ra-rdnss", true, "RDNSS flag (RAs carry no RDNSS; hosts process received RDNSS regardless)")
		nsAuth  = flag.Bool("ns-auth", true, "include/verify the Authentication option (the router verifies it only with -ns-nonce)")
		nsNonce = flag.Bool("ns-nonce", true, "include/verify the Nonce option")
		maxDAD  = flag.Int("max-dad-ns", 0, "DAD attempts (0 in EUI-64 profile)")
		regLife = flag.Duration("registration-lifetime", 60*time.Minute, "default NS-ARO lifetime")

		dashboard = flag.Bool("dashboard", false, "run the live TUI dashboard (logs always go to ndsec.log)")
	)
	flag.Parse()

	level := parseLogLevel(*logLevel)

	logFile, err := os.OpenFile("ndsec.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	handler := slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With("component", "ndsec")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfgRole := lib.RoleHost
	if *role == "router" {
		cfgRole = lib.RoleRouter
	}

	net6, err := lib.NewSocketNetwork(*listenAddr, logger.With("component", "netio"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open icmpv6 socket: %v\n", err)
		os.Exit(1)
	}
	defer net6.Close()

	stats := lib.NewStats(*window)

	ifc := lib.NewInterface(lib.Config{
		Role:                 cfgRole,
		SendRA:               *sendRA,
		SendNA:               *sendNA,
		SendNS:               *sendNS,
		RA6CO:                *ra6co,
		RAABRO:               *raAbro,
		RARDNSS:              *raRDNSS,
		NSAuth:               *nsAuth,
		NSNonce:              *nsNonce,
		MaxDADNS:             *maxDAD,
		RegistrationLifetime: *regLife,
	}, lib.Deps{
		Net:    net6,
		Logger: logger.With("component", "node"),
		Stats:  stats,
	})

	if err := ifc.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize interface: %v\n", err)
		os.Exit(1)
	}

	var ifIndex int
	if *ifaceName != "" {
		if ifi, e := net.InterfaceByName(*ifaceName); e == nil {
			ifIndex = ifi.Index
		} else {
			logger.Warn("interface not found; continuing without restriction", "iface", *ifaceName, "err", e)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// mu keeps the receive and periodic entry points from running at the
	// same time; the node's tables carry no lock of their own.
	var mu sync.Mutex

	g.Go(func() error {
		return net6.Listen(gctx, ifIndex, func(f lib.Frame) {
			mu.Lock()
			defer mu.Unlock()
			ifc.HandleICMP(f)
		})
	})

	g.Go(func() error {
		ticker := time.NewTicker(lib.DS6Period)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				mu.Lock()
				ifc.Periodic()
				mu.Unlock()
				stats.Prune()
			}
		}
	})

	if *dashboard {
		m := lib.NewModel(ifc, stats, *refresh)
		p := tea.NewProgram(m, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
		cancel()
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("node error", "err", err)
		os.Exit(1)
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
