package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gordonklaus/portaudio"

	"github.com/liuscraft/orion-stt/internal/audio"
	"github.com/liuscraft/orion-stt/internal/audio/source"
	"github.com/liuscraft/orion-stt/internal/client"
	"github.com/liuscraft/orion-stt/internal/config"
	"github.com/liuscraft/orion-stt/internal/logging"
	"github.com/liuscraft/orion-stt/internal/protocol"
	"github.com/liuscraft/orion-stt/internal/vad"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "config file path")
	lang := flag.String("lang", "", "language code (overrides config)")
	serverURL := flag.String("server", "", "server URL, e.g. ws://localhost:8000")
	sourceKind := flag.String("source", "", "audio source: microphone, loopback or file")
	device := flag.String("device", "", "input device name (partial match)")
	file := flag.String("file", "", "WAV file to stream (implies -source file)")
	realtime := flag.Bool("realtime", false, "pace file playback in real time")
	listDevices := flag.Bool("list-devices", false, "list input devices and exit")
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cc := &appConfig.Client
	if *lang != "" {
		cc.Language = *lang
	}
	if *serverURL != "" {
		cc.ServerURL = *serverURL
	}
	if *sourceKind != "" {
		cc.Source.Kind = *sourceKind
	}
	if *device != "" {
		cc.Source.Device = *device
	}
	if *file != "" {
		cc.Source.Kind = config.SourceFile
		cc.Source.File = *file
	}
	if *realtime {
		cc.Source.Realtime = true
	}
	cc.Source.Kind = strings.ToLower(strings.TrimSpace(cc.Source.Kind))
	if err := appConfig.ValidateClient(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{
		Level:  appConfig.Logging.Level,
		Format: appConfig.Logging.Format,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()
	logging.SetTraceID(logging.NewTraceID())

	if *listDevices || cc.Source.Kind != config.SourceFile {
		// Initialize PortAudio once for every capture component
		if err := portaudio.Initialize(); err != nil {
			logging.Fatalf("Failed to initialize PortAudio: %v", err)
		}
		defer portaudio.Terminate()
	}
	if *listDevices {
		printDevices()
		return
	}

	src, err := openSource(cc)
	if err != nil {
		logging.Fatalf("Failed to open audio source: %v", err)
	}

	oracle, err := vad.New(vad.Config{
		Engine:          cc.VAD.Engine,
		SampleRate:      cc.SampleRate,
		FrameMs:         cc.FrameMs,
		Aggressiveness:  cc.VAD.Aggressiveness,
		EnergyThreshold: cc.VAD.EnergyThreshold,
	})
	if err != nil {
		logging.Fatalf("Failed to create VAD: %v", err)
	}

	frameBytes := audio.FrameBytes(cc.SampleRate, 1, cc.FrameMs)
	toggle := audio.NewToggleFlag("mic", true)
	pipeline := audio.NewPipeline(
		audio.NewFrameSegmenter(frameBytes),
		audio.NewVoiceActivityGate(oracle, frameBytes, audio.SilenceThresholdFrames(cc.SilenceMs, cc.FrameMs)),
		toggle,
		audio.NewTransmissionQueue(cc.QueueCapacity),
	)

	url, err := protocol.StreamURL(cc.ServerURL, cc.Language)
	if err != nil {
		logging.Fatalf("Invalid server URL: %v", err)
	}

	transcript := &client.Transcript{}
	session, err := client.NewSession(client.Options{
		URL:       url,
		Source:    src,
		Pipeline:  pipeline,
		Handler:   client.Handlers(client.NewConsoleDisplay(os.Stdout), transcript),
		FinalWait: cc.FinalWait(),
	})
	if err != nil {
		logging.Fatalf("Failed to create session: %v", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	keys := client.NewKeyListener(os.Stdin, os.Stdout, toggle, cancel)
	if err := keys.Start(); err != nil {
		if errors.Is(err, client.ErrNotTerminal) {
			logging.Infof("Key controls disabled: stdin is not a terminal")
		} else {
			logging.Warnf("Key controls disabled: %v", err)
		}
	}

	logging.Infof("Streaming %s audio to %s (language=%s, frame=%dms, vad=%s)",
		cc.Source.Kind, url, cc.Language, cc.FrameMs, cc.VAD.Engine)
	runErr := session.Run(ctx)
	keys.Stop()

	if cc.Source.Kind == config.SourceFile {
		fmt.Printf("\nTranscript: %s\n", transcript.Text())
	}
	if runErr != nil {
		logging.Errorf("Session failed: %v", runErr)
		logging.Sync()
		os.Exit(1)
	}
}

func openSource(cc *config.ClientConfig) (client.AudioSource, error) {
	if cc.Source.Kind == config.SourceFile {
		src, err := source.NewFileSource(source.FileConfig{
			Path:       cc.Source.File,
			SampleRate: cc.SampleRate,
			BlockMs:    cc.BlockMs,
			Realtime:   cc.Source.Realtime,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	src, err := source.NewMicrophoneSource(source.MicrophoneConfig{
		SampleRate:  cc.SampleRate,
		BlockMs:     cc.BlockMs,
		Device:      cc.Source.Device,
		Loopback:    cc.Source.Kind == config.SourceLoopback,
		HighLatency: cc.Source.HighLatency,
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

func printDevices() {
	devices, err := source.ListInputDevices()
	if err != nil {
		logging.Fatalf("Failed to list devices: %v", err)
	}
	fmt.Printf("=== Input Devices (%d) ===\n\n", len(devices))
	for _, dev := range devices {
		marker := ""
		if dev.Default {
			marker += " [DEFAULT]"
		}
		if dev.Loopback {
			marker += " [LOOPBACK]"
		}
		fmt.Printf("[%d] %s%s\n", dev.Index, dev.Name, marker)
		fmt.Printf("    Host API: %s, channels: %d, default rate: %.0f Hz\n", dev.HostAPI, dev.MaxInputChannels, dev.DefaultSampleRate)
		fmt.Printf("    Input latency: low=%.1fms high=%.1fms\n",
			dev.LowLatency.Seconds()*1000, dev.HighLatency.Seconds()*1000)
	}
}
