package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"

	"github.com/hailostream/eventd/internal/accel"
	"github.com/hailostream/eventd/internal/config"
	"github.com/hailostream/eventd/internal/ingest"
	"github.com/hailostream/eventd/internal/log"
	"github.com/hailostream/eventd/internal/manager"
	"github.com/hailostream/eventd/internal/publish"
	"github.com/hailostream/eventd/internal/registry"
	"github.com/hailostream/eventd/internal/snapshot"
	"github.com/hailostream/eventd/internal/stream"
	"github.com/hailostream/eventd/internal/types"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("eventd", "Hardware-accelerated RTSP inference and event daemon")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file", Default: "./eventd.yaml"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		fmt.Printf("Failed to load config %v: %v\n", *configFile, err)
		os.Exit(1)
	}

	level := log.Info
	switch cfg.Log.Level {
	case "debug":
		level = log.Debug
	case "warn":
		level = log.Warn
	case "error":
		level = log.Error
	}
	logger, err := log.NewCyclopcamLog(level)
	if err != nil {
		fmt.Printf("cyclopcam logger unavailable, falling back to stdout: %v\n", err)
		logger = log.New(level)
	}

	session, err := accel.Get(logger)
	if err != nil {
		logger.Criticalf("failed to open accelerator device: %v", err)
		os.Exit(1)
	}
	defer session.Shutdown()

	reg := registry.New(cfg.Models.ModelsDir)
	if err := reg.Rescan(); err != nil {
		logger.Warnf("initial model registry scan failed: %v", err)
	}

	pub := publish.New(cfg.Nats.URL, cfg.Nats.ReconnectInterval(), logger)
	if err := pub.Connect(); err != nil {
		logger.Warnf("initial NATS connect failed, will retry in background: %v", err)
	}

	mgr := manager.New(logger, session, snapshot.New(), pub, newIngestFactory(logger, cfg), cfg.Performance.MaxStreams)
	mgr.SetBatchSize(cfg.Accelerator.BatchSize)

	for _, sd := range cfg.Streams {
		info := types.StreamInfo{StreamID: sd.StreamID, RTSPUrl: sd.RTSPUrl, ModelID: sd.ModelID, Config: types.DefaultStreamConfig()}
		info.Config.ConfidenceThreshold = cfg.Stream.ConfidenceThreshold
		info.Config.ClassFilter = sd.ClassFilter
		if sd.ModelID != "" {
			hefPath, task, numKeypoints, labels, err := reg.GetModelPaths(sd.ModelID)
			if err != nil {
				logger.Errorf("stream %q: %v, starting video-only", sd.StreamID, err)
			} else {
				info.HEFPath, info.Task, info.NumKeypoints, info.Labels = hefPath, task, numKeypoints, labels
			}
		}
		if err := mgr.AddStream(info); err != nil {
			logger.Errorf("AddStream(%s) failed: %v", sd.StreamID, err)
		}
	}

	check(daemon.SdNotify(false, daemon.SdNotifyReady))
	logger.Infof("eventd ready, max_streams=%d", cfg.Performance.MaxStreams)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Infof("shutting down")
	mgr.Stop()
	pub.Disconnect()
}

func newIngestFactory(logger log.Log, cfg config.DaemonConfig) manager.IngestFactory {
	return func() stream.Ingest {
		return ingest.New(logger, cfg.Performance.RTSPLatencyMs, cfg.Performance.RTSPTimeoutUs, cfg.Performance.RTSPRetry)
	}
}
