package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidemq/broker/internal/broker"
	"github.com/tidemq/broker/internal/config"
	"github.com/tidemq/broker/internal/listeners"
	"github.com/tidemq/broker/internal/logging"
)

// version is the broker's static version string, surfaced on
// $SYS/broker/version and in the startup log line.
const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to the broker's TOML configuration file")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("usage: broker --config PATH")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, closeLog, err := logging.New(cfg.LogDest, cfg.LogLevel)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer closeLog()

	auth, err := broker.NewAuthenticator(broker.AuthConfig{
		BrokerID:            cfg.BrokerID,
		AnonymousAllowed:    cfg.AnonymousAllowed,
		AuthFilePath:        cfg.AuthFile,
		AuthEndpoint:        cfg.AuthEndpoint,
		AuthEndpointTimeout: cfg.AuthEndpointTimeoutDuration(),
		ACLCacheSize:        cfg.ACLCacheSize,
	})
	if err != nil {
		logger.Error("building authenticator", "error", err)
		os.Exit(1)
	}

	b := broker.New(broker.Config{
		MaxConnections:  cfg.MaxConnections,
		ConnectTimeout:  10 * time.Second,
		MaxPacketSize:   uint32(cfg.MaxPacketSize),
		MaxInflight:     cfg.MaxInflight,
		MaxSessionQueue: cfg.MaxSessionQueue,
		SysInterval:     cfg.SysTopicsInterval(),
		BrokerID:        cfg.BrokerID,
		Version:         version,
	}, auth, logger)
	b.Start()

	tcp := &listeners.TCP{Broker: b}
	if err := tcp.Listen(cfg.TCPAddr); err != nil {
		logger.Error("starting tcp listener", "addr", cfg.TCPAddr, "error", err)
		os.Exit(1)
	}
	logger.Info("tcp listener started", "addr", cfg.TCPAddr)

	var tlsListener *listeners.TCP
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			logger.Error("loading tls certificate", "error", err)
			os.Exit(1)
		}
		tlsListener = &listeners.TCP{
			Broker:    b,
			TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12},
		}
		if err := tlsListener.Listen(cfg.TLSAddr); err != nil {
			logger.Error("starting tls listener", "addr", cfg.TLSAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("tls listener started", "addr", cfg.TLSAddr)
	}

	var ws *listeners.WebSocket
	if cfg.WSPort != 0 {
		ws = &listeners.WebSocket{Broker: b, Path: cfg.WSPath}
		addr := fmt.Sprintf(":%d", cfg.WSPort)
		if err := ws.Listen(addr); err != nil {
			logger.Error("starting websocket listener", "addr", addr, "error", err)
			os.Exit(1)
		}
		logger.Info("websocket listener started", "addr", addr, "path", cfg.WSPath)
	}

	var adminAPI *broker.AdminAPI
	if cfg.AdminAPIPort != 0 {
		addr := fmt.Sprintf(":%d", cfg.AdminAPIPort)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Error("starting admin api", "addr", addr, "error", err)
			os.Exit(1)
		}
		adminAPI = broker.NewAdminAPI(b, addr)
		adminAPI.Start(ln)
		logger.Info("admin api started", "addr", addr)
	}

	logger.Info("broker ready", "broker_id", cfg.BrokerID, "version", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tcp.Close()
	if tlsListener != nil {
		tlsListener.Close()
	}
	if ws != nil {
		ws.Close()
	}
	if adminAPI != nil {
		adminAPI.Shutdown(ctx)
	}

	if err := b.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("broker stopped")
}
