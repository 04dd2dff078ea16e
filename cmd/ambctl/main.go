package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/angelodlfrtr/go-can"
	"github.com/angelodlfrtr/go-can/transports"
	"gopkg.in/ini.v1"

	amb "github.com/jaster-prj/go-amb"
	"github.com/jaster-prj/go-amb/recorder/clickhouse"
	"github.com/jaster-prj/go-amb/recorder/influxdb"
	"github.com/jaster-prj/go-amb/transport/gocan"
	"github.com/jaster-prj/go-amb/transport/sim"
	"github.com/jaster-prj/go-amb/transport/socketcan"
)

const usage = `usage: ambctl [flags] <command> [args]

commands:
  monitor    <channel> <node> <rca>
  command    <channel> <node> <rca> <hex data>
  find-nodes <channel>
`

func main() {
	configFile := flag.String("config", "", "Path to INI configuration file")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, file, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	tr, err := buildTransport(file.Section("transport"))
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}

	opts := []amb.Option{amb.WithLogger(logger)}
	rec, closeRecorder, err := buildRecorder(file.Section("recorder"), logger)
	if err != nil {
		log.Fatalf("Failed to create recorder: %v", err)
	}
	if rec != nil {
		opts = append(opts, amb.WithRecorder(rec))
	}

	iface, err := amb.New(cfg, tr, opts...)
	if err != nil {
		log.Fatalf("Failed to create interface: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := run(ctx, iface, flag.Args())
	stop()

	if err := iface.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	if closeRecorder != nil {
		if err := closeRecorder(); err != nil {
			log.Printf("Error closing recorder: %v", err)
		}
	}
	if runErr != nil {
		log.Fatal(runErr)
	}
}

func loadConfig(path string) (amb.Config, *ini.File, error) {
	if path == "" {
		return amb.DefaultConfig(), ini.Empty(), nil
	}
	return amb.LoadConfig(path)
}

func run(ctx context.Context, iface *amb.Interface, args []string) error {
	switch args[0] {
	case "monitor":
		if len(args) != 4 {
			return fmt.Errorf("monitor: want <channel> <node> <rca>")
		}
		ch, node, rca, err := parseTarget(args[1:4])
		if err != nil {
			return err
		}
		data, err := iface.Monitor(ctx, ch, node, rca)
		if err != nil {
			return fmt.Errorf("monitor 0x%X/0x%X: %w", node, rca, err)
		}
		fmt.Printf("data=%s", hex.EncodeToString(data))
		if n := len(data); n > 1 && (data[n-1] == 0 || amb.LikelyStatus(data[n-1])) {
			value, st, _ := amb.SplitStatus(data, n-1)
			fmt.Printf(" value=%s femc_status=%q", hex.EncodeToString(value), st.String())
		}
		fmt.Println()
		return nil

	case "command":
		if len(args) != 5 {
			return fmt.Errorf("command: want <channel> <node> <rca> <hex data>")
		}
		ch, node, rca, err := parseTarget(args[1:4])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(strings.TrimPrefix(args[4], "0x"))
		if err != nil {
			return fmt.Errorf("command: bad data: %w", err)
		}
		if err := iface.Command(ctx, ch, node, rca, data); err != nil {
			return fmt.Errorf("command 0x%X/0x%X: %w", node, rca, err)
		}
		fmt.Println("ok")
		return nil

	case "find-nodes":
		if len(args) != 2 {
			return fmt.Errorf("find-nodes: want <channel>")
		}
		ch, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("find-nodes: bad channel: %w", err)
		}
		nodes, err := iface.FindNodes(ctx, ch)
		if err != nil {
			return fmt.Errorf("find-nodes: %w", err)
		}
		for _, n := range nodes {
			fmt.Println(n)
		}
		fmt.Printf("%d node(s) on channel %d\n", len(nodes), ch)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func parseTarget(args []string) (int, uint16, uint32, error) {
	ch, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad channel %q: %w", args[0], err)
	}
	node, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad node %q: %w", args[1], err)
	}
	rca, err := strconv.ParseUint(args[2], 0, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad rca %q: %w", args[2], err)
	}
	return ch, uint16(node), uint32(rca), nil
}

func buildTransport(sec *ini.Section) (amb.Transport, error) {
	switch kind := sec.Key("kind").MustString("sim"); kind {
	case "sim":
		return demoBus(), nil
	case "socketcan":
		tr := socketcan.New(sec.Key("interface_format").MustString(socketcan.DefaultInterfaceFormat))
		names, err := channelKeys(sec, "interface.")
		if err != nil {
			return nil, err
		}
		for ch, name := range names {
			tr.Interfaces[ch] = name
		}
		return tr, nil
	case "usbcan":
		ports, err := channelKeys(sec, "port.")
		if err != nil {
			return nil, err
		}
		baud := sec.Key("baud_rate").MustInt(2000000)
		return gocan.New(func(channel int) (can.Transport, error) {
			port, ok := ports[channel]
			if !ok {
				return nil, fmt.Errorf("no port.%d configured", channel)
			}
			return &transports.USBCanAnalyzer{Port: port, BaudRate: baud}, nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// channelKeys collects keys named prefix+N into a channel-indexed map.
func channelKeys(sec *ini.Section, prefix string) (map[int]string, error) {
	out := make(map[int]string)
	for _, key := range sec.Keys() {
		if ch, ok := strings.CutPrefix(key.Name(), prefix); ok {
			n, err := strconv.Atoi(ch)
			if err != nil {
				return nil, fmt.Errorf("bad key %s: %w", key.Name(), err)
			}
			out[n] = key.String()
		}
	}
	return out, nil
}

// demoBus is a simulated channel 0 with one node at 0x13.
func demoBus() *sim.Bus {
	bus := sim.NewBus()
	d := bus.AddDevice(0, 0x13, [8]byte{0x10, 0x00, 0x00, 0x00, 0x13, 0x37, 0x00, 0x01})
	d.SetMonitor(0x0, []byte{0x00, 0x00, 0x00, 0x00})
	d.SetMonitor(0x20001, amb.PackFloat(4.25))
	return bus
}

func buildRecorder(sec *ini.Section, logger *slog.Logger) (amb.Recorder, func() error, error) {
	batchSize := sec.Key("batch_size").MustInt(100)

	switch kind := sec.Key("kind").MustString("none"); kind {
	case "none":
		return nil, nil, nil
	case "clickhouse":
		w, err := clickhouse.New(clickhouse.Config{
			Host:     sec.Key("host").MustString("localhost"),
			Port:     sec.Key("port").MustInt(9000),
			Database: sec.Key("database").MustString("default"),
			Username: sec.Key("username").MustString("default"),
			Password: sec.Key("password").String(),
			Table:    sec.Key("table").MustString("amb_transactions"),
		}, batchSize, logger)
		if err != nil {
			return nil, nil, err
		}
		w.Start()
		return w, w.Close, nil
	case "influxdb":
		w, err := influxdb.New(influxdb.Config{
			URL:      sec.Key("url").MustString("http://localhost:8181"),
			Token:    sec.Key("token").String(),
			Database: sec.Key("database").MustString("amb"),
		}, batchSize, logger)
		if err != nil {
			return nil, nil, err
		}
		w.Start()
		return w, w.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown recorder %q", kind)
	}
}
