package main

import (
	"context"
	"flag"
	"log"
	"math/rand"

	"main/internal/audit"
	"main/internal/broker"
	"main/internal/bus"
	"main/internal/engine"
	"main/internal/feed"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/strategy"
	"main/internal/universe"
	"main/pkg/conn"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	seed := flag.Int64("seed", 0, "Feed RNG seed (0=time-based)")
	profile := flag.Bool("profile", false, "Enable pyroscope profiling")
	profileAddr := flag.String("profile-addr", "http://localhost:4040", "Pyroscope server address")
	flag.Parse()

	if *profile {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "quant/engine",
			ServerAddress:   *profileAddr,
			Tags: map[string]string{
				"env": "local",
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rng *rand.Rand
	if *seed != 0 {
		rng = rand.New(rand.NewSource(*seed))
	}

	auditLog := audit.NewLog(loaded.Audit.RingSize)
	if loaded.Audit.KafkaEnabled {
		sink := audit.NewKafkaSink(loaded.KafkaBrokers, loaded.Audit.KafkaTopic)
		defer sink.Close()
		auditLog.Attach(sink)
	}
	if loaded.Audit.ArchiveEnabled {
		client, err := conn.New(loaded.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres connect failed: %v", err)
		}
		defer client.Close()
		archive, err := audit.NewArchive(client)
		if err != nil {
			log.Fatalf("audit archive init failed: %v", err)
		}
		auditLog.Attach(archive)
	}

	uni := universe.New(loaded.Instruments, rng)

	var source feed.Source
	if loaded.Feed.Live {
		live := feed.NewLiveSource(ctx, loaded.Feed.URL, uni, loaded.Macro)
		if err := live.Start(ctx); err != nil {
			log.Fatalf("live feed start failed: %v", err)
		}
		defer live.Close()
		ids := make([]string, 0, len(loaded.Instruments))
		for _, inst := range loaded.Instruments {
			ids = append(ids, inst.ID)
		}
		if err := live.Subscribe(ctx, ids); err != nil {
			log.Fatalf("live feed subscribe failed: %v", err)
		}
		source = live
	} else {
		source = feed.NewSimSource(uni, loaded.Macro, rng)
	}

	var brk broker.Broker
	if loaded.BrokerReady {
		client := broker.NewClient(loaded.Broker)
		if err := client.IssueToken(ctx); err != nil {
			log.Fatalf("broker token issue failed: %v", err)
		}
		brk = client
	}

	eng := engine.New(loaded.Engine, engine.Deps{
		Universe:  uni,
		Ledger:    ledger.New(loaded.InitialCash),
		Queue:     bus.NewIntentQueue(),
		Evaluator: strategy.New(loaded.Strategy),
		Source:    source,
		Broker:    brk,
		Audit:     auditLog,
		Metrics:   obs.NewMetrics(),
	})
	if err := eng.SetAllocations(loaded.Allocations); err != nil {
		log.Fatalf("set allocations failed: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("engine start failed: %v", err)
	}

	<-sys.Shutdown()
	logs.Info("shutdown signal received")
	eng.Stop()
}
