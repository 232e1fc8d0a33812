// Command msgmgrd hosts a standalone messaging node: it joins the
// discovery group, registers any configured distributed mailboxes and
// serves the debug inspector. Other platform processes embed the
// framework directly; this daemon exists for bring-up and testing.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxorio/msgmgr/pkg/config"
	"github.com/fluxorio/msgmgr/pkg/core"
	"github.com/fluxorio/msgmgr/pkg/inspector"
	"github.com/fluxorio/msgmgr/pkg/metrics"
	"github.com/fluxorio/msgmgr/pkg/msgmgr"
	"github.com/fluxorio/msgmgr/pkg/opm"
)

// daemonConfig is the YAML layout for msgmgrd.
type daemonConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogJSON   bool   `yaml:"log_json"`
	Inspector struct {
		Addr string `yaml:"addr"`
	} `yaml:"inspector"`
	Discovery struct {
		IP                string `yaml:"ip"`
		Port              uint16 `yaml:"port"`
		MulticastTTL      int    `yaml:"multicastttl"`
		MulticastLoopback bool   `yaml:"multicastloopback"`
	} `yaml:"discovery"`
	Mailboxes []struct {
		Name string `yaml:"name"`
		IP   string `yaml:"ip"`
		Port uint16 `yaml:"port"`
	} `yaml:"mailboxes"`
}

func defaultConfig() daemonConfig {
	var cfg daemonConfig
	cfg.LogLevel = "INFO"
	cfg.Inspector.Addr = ":12700"
	cfg.Discovery.IP = msgmgr.DiscoveryManagerIPAddress
	cfg.Discovery.Port = msgmgr.DiscoveryManagerPort
	cfg.Discovery.MulticastTTL = 1
	cfg.Discovery.MulticastLoopback = true
	return cfg
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		if err := config.LoadWithEnv(*configPath, "MSGMGR", &cfg); err != nil {
			log.Fatalf("loading config: %v", err)
		}
	} else if err := config.ApplyEnvOverrides("MSGMGR", &cfg); err != nil {
		log.Fatalf("applying env overrides: %v", err)
	}

	logger := core.NewLogger(core.LoggerConfig{
		Level:     cfg.LogLevel,
		JSONOutput: cfg.LogJSON,
		Subsystem: "msgmgrd",
	})

	registry, registerer := metrics.NewRegistry("msgmgr")
	m := metrics.New(registerer)

	pools := opm.NewManager(logger)
	lookup := msgmgr.NewLookupService(logger, m, msgmgr.ProxyOptions{
		MulticastTTL:      cfg.Discovery.MulticastTTL,
		MulticastLoopback: cfg.Discovery.MulticastLoopback,
	})

	factory := msgmgr.NewMessageFactory(logger)
	disco := msgmgr.NewDiscoveryManager(msgmgr.DiscoveryConfig{
		GroupAddress: msgmgr.GroupAddress(
			msgmgr.DiscoveryManagerMailboxName, cfg.Discovery.IP, cfg.Discovery.Port),
		MulticastTTL:      cfg.Discovery.MulticastTTL,
		MulticastLoopback: cfg.Discovery.MulticastLoopback,
	}, lookup, factory, logger, m)
	if err := disco.Start(); err != nil {
		log.Fatalf("starting discovery manager: %v", err)
	}
	lookup.AttachDiscovery(disco)

	var owners []*msgmgr.MailboxOwnerHandle
	for _, mc := range cfg.Mailboxes {
		owner := msgmgr.NewDistributedMailbox(
			msgmgr.DistributedAddress(mc.Name, mc.IP, mc.Port),
			msgmgr.MailboxConfig{Factory: factory, Logger: logger, Metrics: m})
		if err := owner.Activate(); err != nil {
			log.Fatalf("activating mailbox %q: %v", mc.Name, err)
		}
		if err := lookup.Register(owner); err != nil {
			log.Fatalf("registering mailbox %q: %v", mc.Name, err)
		}
		owners = append(owners, owner)
	}

	insp := inspector.New(cfg.Inspector.Addr, lookup, pools, registry, logger)
	if err := insp.Start(); err != nil {
		log.Fatalf("starting inspector: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	insp.Stop()
	for _, owner := range owners {
		owner.Deactivate()
		owner.Release()
	}
	disco.Stop()
}
