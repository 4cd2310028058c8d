package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/kawasedo/joyboot/pkg/dolphin"
	"github.com/kawasedo/joyboot/pkg/joybus"
	"github.com/kawasedo/joyboot/pkg/linkstats"
	"github.com/kawasedo/joyboot/pkg/multiboot"
	"github.com/kawasedo/joyboot/pkg/romimage"
)

func main() {
	target := flag.String("target", "127.0.0.1", "IPv4 address of the Dolphin bridge host")
	metricsAddr := flag.String("metrics-addr", ":18080", "address to serve /metrics on")
	outPath := flag.String("out", romimage.DefaultPath, "path to write the reconstructed ROM image to")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Fatal("could not determine hostname")
	}

	collector := linkstats.NewCollector(prometheus.Labels{
		"app":      "joyboot-client",
		"hostname": hostname,
	})
	prometheus.MustRegister(collector)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.WithError(err).Warn("metrics listener exited")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge, err := dolphin.Connect(ctx, *target, dolphin.Options{
		Logger:    log,
		Collector: collector,
	})
	if err != nil {
		log.WithError(err).Fatalf("could not connect to bridge at %s", *target)
	}
	defer bridge.Close()

	client := multiboot.NewClient(log)
	client.OnComplete = func(ewram []uint32) {
		if err := romimage.Write(*outPath, ewram); err != nil {
			log.WithError(err).Fatal("could not write ROM image")
		}
		log.WithField("path", *outPath).Info("multiboot transfer complete")
		os.Exit(0)
	}

	engine := joybus.NewEngine(client)
	bridge.Attach(engine)

	log.WithField("target", *target).Info("connected; waiting for multiboot handshake")
	if err := bridge.Run(ctx); err != nil {
		log.WithError(err).Fatal("bridge run loop exited")
	}
}
