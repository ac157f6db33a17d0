package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/gordonklaus/portaudio"

	"mixconsole/server/internal/aes67"
	"mixconsole/server/internal/audioengine"
	"mixconsole/server/internal/httpapi"
	"mixconsole/server/internal/master"
	"mixconsole/server/internal/mixer"
	"mixconsole/server/internal/sap"
	"mixconsole/server/internal/store"
	"mixconsole/server/internal/ws"
)

// Version is the server release string, reported by the "version" CLI
// subcommand. The server_info payload (and /api/info) carries its own fixed
// "1.0" version string instead.
var Version = "0.1.0-dev"

func main() {
	// Check for CLI subcommands before parsing flags.
	if len(os.Args) > 1 {
		cliDB := "mixconsole.db"
		if RunCLI(os.Args[1:], cliDB) {
			return
		}
	}

	addr := flag.String("addr", ":8080", "REST/WebSocket control-plane listen address")
	useTLS := flag.Bool("tls", false, "serve the control plane over HTTPS/WSS with a self-signed certificate")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	dbPath := flag.String("db", "mixconsole.db", "SQLite database path for the audit log and discovery history")
	serverName := flag.String("server-name", "Mixer Console", "server name reported to connecting clients")
	sampleRate := flag.Float64("sample-rate", 48000, "audio engine sample rate in Hz")
	bufferSize := flag.Int("buffer-size", 256, "audio engine callback buffer size in frames")
	inputChannels := flag.Int("channels", 8, "number of mixer input channels")
	outputChannels := flag.Int("output-channels", 2, "number of mixer output buses")
	enableAES67 := flag.Bool("aes67", true, "enable the AES67 network audio backend (PTP clock, SAP discovery, RTP transport)")
	aes67Iface := flag.String("aes67-interface", "", "network interface used for the PTP clock and AES67 multicast traffic (empty selects the default route)")
	metricsInterval := flag.Duration("metrics-interval", 5*time.Second, "interval between metrics log lines")
	flag.Parse()

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	m := mixer.New(*inputChannels, *outputChannels)
	masterSection := master.New()

	engine := audioengine.New(*sampleRate, *bufferSize)
	engine.SetMixer(m)
	engine.SetMaster(masterSection)

	var backend *aes67.AES67Backend
	if *enableAES67 {
		backend = aes67.New(*aes67Iface)
		if err := backend.Init(); err != nil {
			log.Fatalf("[aes67] %v", err)
		}
		backend.Discovery().OnEvent(func(sessionID string, deletion bool, stream sap.Stream) {
			event := "announced"
			if deletion {
				event = "withdrawn"
			}
			if err := st.RecordDiscoveryEvent(store.DiscoveryEvent{
				SessionID:     sessionID,
				Event:         event,
				Name:          stream.Name,
				MulticastAddr: stream.MulticastAddr,
				Port:          stream.Port,
				Channels:      stream.Channels,
				SampleRate:    stream.SampleRate,
				SDP:           stream.SDP,
			}); err != nil {
				slog.Warn("discovery history write failed", "session_id", sessionID, "err", err)
			}
		})
		engine.SetAES67Backend(backend)
		defer backend.Shutdown()
	}

	if err := portaudio.Initialize(); err != nil {
		log.Fatalf("[audio] initialize portaudio: %v", err)
	}
	defer portaudio.Terminate()

	if err := engine.Start(); err != nil {
		log.Fatalf("[audio] %v", err)
	}
	defer engine.Stop()

	hub := ws.NewHub()
	handler := ws.NewHandler(ws.Config{
		Hub:          hub,
		Mixer:        m,
		Master:       masterSection,
		Backend:      backend,
		Engine:       engine,
		Audit:        st,
		ServerName:   *serverName,
		SampleRate:   uint32(*sampleRate),
		AudioBackend: "local",
	})

	api := httpapi.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	go RunMetrics(ctx, hub, backend, *metricsInterval)

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				engine.ProcessCommands()
			}
		}
	}()

	if *useTLS {
		hostname := ""
		if host, _, err := net.SplitHostPort(*addr); err == nil && host != "" {
			hostname = host
		}
		tlsConfig, fingerprint, err := generateTLSConfig(*certValidity, hostname)
		if err != nil {
			log.Fatalf("[server] %v", err)
		}
		slog.Info("tls certificate generated", "fingerprint", fingerprint)
		if err := RunTLS(ctx, api.Echo(), *addr, tlsConfig); err != nil {
			log.Fatalf("[server] %v", err)
		}
		return
	}

	if err := api.Run(ctx, *addr); err != nil {
		log.Fatalf("[server] %v", err)
	}
}
