// Command centauri runs the Counter-UAS C2 core: sensor drivers, fusion,
// engagement, the gunner broadcast service, and the HTTP snapshot/command
// API, wired together by the orchestration bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/louwxander-cell/Centauri-C2/internal/api"
	"github.com/louwxander-cell/Centauri-C2/internal/config"
	"github.com/louwxander-cell/Centauri-C2/internal/engagement"
	"github.com/louwxander-cell/Centauri-C2/internal/fusion"
	"github.com/louwxander-cell/Centauri-C2/internal/gnss"
	"github.com/louwxander-cell/Centauri-C2/internal/gunner"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
	"github.com/louwxander-cell/Centauri-C2/internal/orchestrator"
	"github.com/louwxander-cell/Centauri-C2/internal/radar"
	"github.com/louwxander-cell/Centauri-C2/internal/rfsensor"
	"github.com/louwxander-cell/Centauri-C2/internal/store"
	"github.com/louwxander-cell/Centauri-C2/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	configFile    = flag.String("config", config.DefaultConfigPath, "Path to JSON sensor/threshold configuration file")
	radarCfgPath  = flag.String("radar-config", "radar_config.json", "Path to persisted radar configuration file")
	dbPathFlag    = flag.String("db-path", "centauri_journal.db", "Path to sqlite journal DB file")
	broadcastAddr = flag.String("gunner-broadcast", "255.255.255.255", "Broadcast address for the gunner track stream")
	trackPort     = flag.Int("gunner-track-port", gunner.DefaultTrackPort, "UDP port for the gunner track stream")
	statusPort    = flag.Int("gunner-status-port", gunner.DefaultStatusPort, "UDP port for gunner status reports")
	autoConnect   = flag.Bool("auto-connect", false, "Connect and start enabled sensors on startup")
	versionFlag   = flag.Bool("version", false, "Print version information and exit")
	versionShort  = flag.Bool("v", false, "Print version information and exit (shorthand)")
)

const measurementQueueCapacity = 512

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *versionFlag || *versionShort {
		fmt.Printf("centauri %s (%s) built %s\n", version.Version, version.GitSHA, version.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	journal, err := store.Open(*dbPathFlag)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	events := orchestrator.MultiSink{journal}

	engine := fusion.NewEngine(cfg.Thresholds, events, log.Printf)
	controller := engagement.New(cfg.Thresholds.HysteresisBonus, events, log.Printf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var radarDriver *radar.Driver
	if cfg.RadarEnabled() {
		radarDriver = radar.New(radar.Options{
			Host:        cfg.RadarHost(),
			CommandPort: cfg.RadarCommandPort(),
			Thresholds:  cfg.Thresholds,
			DataTimeout: 10 * time.Second,
			Sink:        engine.NewQueue(measurementQueueCapacity),
			Events:      events,
		})
	}

	var rfDriver *rfsensor.Driver
	if cfg.RFEnabled() {
		rfDriver = rfsensor.New(rfsensor.Options{
			Host:           cfg.RFHost(),
			Port:           cfg.RFPort(),
			ClientCertPath: deref(cfg.Network.RF.ClientCert),
			ClientKeyPath:  deref(cfg.Network.RF.ClientKey),
			CACertPath:     deref(cfg.Network.RF.CACert),
			Sink:           engine.NewQueue(measurementQueueCapacity),
			Events:         events,
		})
		go func() {
			if err := rfDriver.Run(ctx); err != nil {
				log.Printf("[rf] driver stopped: %v", err)
			}
		}()
	}

	var gnssDriver *gnss.Driver
	if cfg.GPSEnabled() {
		gnssDriver = gnss.New(gnss.Options{
			PortName:       gpsPort(cfg),
			BaudRate:       cfg.GPSBaudRate(),
			FixTimeout:     time.Duration(cfg.Thresholds.GPSFixTimeoutSeconds * float64(time.Second)),
			BaselineMeters: cfg.GPSBaselineMeters(),
			Events:         events,
		})
		go func() {
			if err := gnssDriver.Run(ctx); err != nil {
				log.Printf("[gnss] driver stopped: %v", err)
			}
		}()
	}

	bridge, err := orchestrator.New(orchestrator.Options{
		Config:       cfg,
		RadarCfgPath: *radarCfgPath,
		Radar:        radarDriver,
		RF:           rfDriver,
		GNSS:         gnssDriver,
		Engine:       engine,
		Controller:   controller,
		Events:       events,
	})
	if err != nil {
		log.Fatalf("build orchestration bridge: %v", err)
	}

	gunnerSvc, err := gunner.NewService(gunner.Options{
		BroadcastAddr: *broadcastAddr,
		TrackPort:     *trackPort,
		StatusPort:    *statusPort,
		StaleAfter:    time.Duration(cfg.Thresholds.GunnerStaleSeconds * float64(time.Second)),
		Tracks:        engine.Snapshot,
		Engaged:       controller.Engaged,
		AutoDisengage: func(id int) {
			log.Printf("[gunner] engaged track %d missing from snapshot, disengaging", id)
			controller.Disengage()
		},
		Ownship: func() (model.OwnShip, bool) {
			return bridge.Ownship()
		},
		RadarOnline: func() bool { return bridge.Health()["radar"] == model.HealthOnline },
		RFOnline:    func() bool { return bridge.Health()["rf"] == model.HealthOnline },
		StatusCallback: func(st model.GunnerStatus) {
			if err := journal.RecordGunnerStatus(st); err != nil {
				log.Printf("[gunner] journal status: %v", err)
			}
		},
		Events: events,
	})
	if err != nil {
		log.Fatalf("start gunner service: %v", err)
	}
	gunnerSvc.Run(ctx)
	defer gunnerSvc.Close()

	go bridge.Run(ctx)

	if *autoConnect && radarDriver != nil {
		if err := bridge.ConnectRadar(); err != nil {
			log.Printf("[radar] auto-connect: %v", err)
		} else if err := bridge.StartRadar(); err != nil {
			log.Printf("[radar] auto-start: %v", err)
		}
	}

	server := api.NewServer(bridge, engine, gnssDriver, journal, log.Printf)
	go func() {
		if err := server.Start(*listen); err != nil {
			log.Fatalf("http server: %v", err)
		}
	}()

	log.Printf("centauri %s up: radar=%v rf=%v gps=%v", version.Version,
		cfg.RadarEnabled(), cfg.RFEnabled(), cfg.GPSEnabled())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("shutting down")
	cancel()
	if radarDriver != nil {
		radarDriver.Disconnect()
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// gpsPort picks the platform-appropriate serial port name.
func gpsPort(cfg *config.Config) string {
	if runtime.GOOS == "linux" {
		if p := deref(cfg.GPS.PortLinux); p != "" {
			return p
		}
	}
	if p := deref(cfg.GPS.Port); p != "" {
		return p
	}
	return "/dev/ttyUSB0"
}
