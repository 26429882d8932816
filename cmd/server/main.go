package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"goredis/internal/logging"
	"goredis/internal/metrics"
	"goredis/internal/replication"
	"goredis/internal/server"
	"goredis/internal/storage"
)

var log = logging.For("main")

func main() {
	port := flag.Int("port", 6379, "Port to listen on")
	replicaof := flag.String("replicaof", "", `Primary to replicate from, as "<host> <port>"`)
	dir := flag.String("dir", "", "Directory reported by CONFIG GET dir")
	dbfilename := flag.String("dbfilename", "", "Filename reported by CONFIG GET dbfilename")
	metricsPort := flag.Int("metrics-port", 0, "Prometheus metrics port; 0 disables the endpoint")
	flag.Parse()

	cfg := server.Config{
		Host:       "0.0.0.0",
		Port:       *port,
		Dir:        *dir,
		DBFilename: *dbfilename,
	}

	if *replicaof != "" {
		host, primaryPort, err := parseReplicaOf(*replicaof)
		if err != nil {
			log.WithError(err).Fatal("invalid --replicaof")
		}
		cfg.PrimaryHost = host
		cfg.PrimaryPort = primaryPort
	}

	if *metricsPort != 0 {
		cfg.MetricsAddr = fmt.Sprintf("127.0.0.1:%d", *metricsPort)
	}

	store := storage.NewStore()
	coordinator := replication.NewCoordinator(store)
	go coordinator.Run()

	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr)
	}

	if cfg.IsReplica() {
		primaryAddr := fmt.Sprintf("%s:%d", cfg.PrimaryHost, cfg.PrimaryPort)
		client := replication.NewClient(primaryAddr, cfg.Port, coordinator)
		go func() {
			if err := client.Run(); err != nil {
				log.WithError(err).Error("replica client stopped")
			}
		}()
	}

	srv := server.New(cfg, coordinator)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		srv.Shutdown()
	}()

	log.WithField("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)).Info("starting goredis")
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func parseReplicaOf(value string) (host string, port int, err error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("expected \"<host> <port>\", got %q", value)
	}
	port, err = strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", fields[1], err)
	}
	return fields[0], port, nil
}
