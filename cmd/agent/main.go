package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"remora.dev/agent/bufferqueue"
	"remora.dev/agent/c2"
	"remora.dev/agent/c2/httppoll"
	"remora.dev/agent/c2/wstream"
	"remora.dev/agent/config"
	"remora.dev/agent/logger"
)

var (
	configPath   string
	logLevel     string
	printVersion bool
)

const (
	defaultConfigPath = "/etc/remora/agent.toml"
)

var agentVersion = "0.0.0-dev"

// channelHost receives reachability signals and inbound command data from
// every channel. Command interpretation lives above this binary; the host
// logs state transitions and accounts for inbound traffic.
type channelHost struct {
	logger *logger.Logger

	reachable    atomic.Bool
	inboundBytes atomic.Int64
}

func (h *channelHost) Reachable() {
	if h.reachable.CompareAndSwap(false, true) {
		h.logger.Info("controller is reachable")
	}
}

func (h *channelHost) Unreachable() {
	if h.reachable.CompareAndSwap(true, false) {
		h.logger.Info("controller is unreachable")
	}
}

func (h *channelHost) DeliverInbound(queue *bufferqueue.Queue) {
	data := queue.DrainAll()
	h.inboundBytes.Add(int64(len(data)))
	h.logger.Debugf("received %d bytes of command data", len(data))
}

func main() {
	parseFlags()

	if printVersion {
		fmt.Println(agentVersion)
		return
	}

	conf, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("ERROR: failed to load config: %s\n", err)
		os.Exit(1)
	}

	if logLevel == "" {
		logLevel = conf.LogLevel
	}

	log, err := logger.New(&logger.Config{
		ConsoleWriters: []io.Writer{os.Stdout},
		FilePath:       conf.LogPath,
		LogLevel:       logger.ToLogLevel(logLevel),
	})
	if err != nil {
		fmt.Printf("ERROR: failed to set up logging: %s\n", err)
		os.Exit(1)
	}
	log.AddAgentVersion(agentVersion)

	log.Info("starting up the remora agent")

	registry := c2.NewRegistry(log)
	httppoll.Register(registry)
	wstream.Register(registry)

	host := &channelHost{logger: log.GetComponentLogger("Host")}

	channels := make([]*c2.Channel, 0, len(conf.Channels))
	for _, assigned := range conf.Channels {
		channel, err := registry.NewChannel(host, assigned.Address)
		if err != nil {
			log.Errorf("skipping channel: %s", err)
			continue
		}
		if err := channel.Start(); err != nil {
			log.Errorf("failed to start %s channel %s: %s", channel.Scheme, channel.Id, err)
			continue
		}
		channels = append(channels, channel)
	}

	if len(channels) == 0 {
		log.Errorf("no channels could be started")
		os.Exit(1)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown

	log.Infof("received %s, shutting down", sig)
	for _, channel := range channels {
		channel.Stop()
	}
	for _, channel := range channels {
		channel.Close(fmt.Errorf("agent shutting down"))
	}

	log.Infof("agent exiting after relaying %d inbound bytes", host.inboundBytes.Load())
}

func parseFlags() {
	flag.BoolVar(&printVersion, "version", false, "Print current version of the agent")
	flag.StringVar(&configPath, "config", defaultConfigPath, "Path to the agent config file")
	flag.StringVar(&logLevel, "logLevel", "", "Override the configured log level")

	flag.Parse()
}
