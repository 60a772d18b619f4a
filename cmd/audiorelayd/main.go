// Command audiorelayd receives audio streamed from a remote device,
// decodes and time-aligns it against the host's clock, and plays it out
// through a virtual microphone.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	audiorelay "github.com/rustyguts/audiorelay"
	"github.com/rustyguts/audiorelay/internal/audiosystem"
	"github.com/rustyguts/audiorelay/internal/config"
)

// tickInterval paces the pipeline's cooperative Update loop, short enough
// to keep playout latency low without busy-spinning a core.
const tickInterval = 5 * time.Millisecond

func main() {
	cfg := config.Load()

	listenAddr := pflag.StringP("listen", "l", cfg.ListenAddr, "address of the sending device to connect to")
	outputDevice := pflag.IntP("output-device", "o", cfg.OutputDeviceID, "output device id, -1 for system default")
	queueMaxMS := pflag.IntP("queue-ms", "q", int(cfg.QueueMaxDuration/time.Millisecond), "maximum buffered playout audio, in milliseconds")
	saveConfig := pflag.Bool("save-config", false, "persist the resolved flags as the new default config")
	help := pflag.Bool("help", false, "display help text")
	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}

	cfg.ListenAddr = *listenAddr
	cfg.OutputDeviceID = *outputDevice
	cfg.QueueMaxDuration = time.Duration(*queueMaxMS) * time.Millisecond

	if *saveConfig {
		if err := config.Save(cfg); err != nil {
			log.Printf("[config] failed to save: %v", err)
		}
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hostClock := audiosystem.NewSystemClock()
	mic := audiosystem.NewPortAudioSink()
	slaveClk := audiosystem.NewSlaveClock(hostClock, hostClock)

	pipeline := audiosystem.NewPipeline(
		audiosystem.NewOpusDecoder(),
		mic,
		hostClock,
		slaveClk,
		audiosystem.ClockTimeFromDuration(cfg.QueueMaxDuration),
	)
	sys := audiosystem.NewSystem(pipeline, audiorelay.LogNotification)

	if err := sys.Start(); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	defer sys.Stop()

	link := audiorelay.NewLink()
	stream, err := link.Connect(ctx, cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer link.Disconnect()

	go func() {
		if err := link.Pump(ctx, stream, sys); err != nil {
			log.Printf("[audio] link closed: %v", err)
			cancel()
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sys.Tick(); err != nil {
				return fmt.Errorf("pipeline tick: %w", err)
			}
		}
	}
}
