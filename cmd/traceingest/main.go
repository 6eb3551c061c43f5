// Command traceingest subscribes to a NATS subject carrying interval
// events and inserts each one into a tiled back-end.
package main

import (
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/tracekeep/statehist/internal/config"
	"github.com/tracekeep/statehist/internal/history"
	"github.com/tracekeep/statehist/pkg/natsclient"
)

// wireEvent is the JSON payload published on the ingest subject.
type wireEvent struct {
	Start int64   `json:"start"`
	End   int64   `json:"end"`
	Quark int32   `json:"quark"`
	Kind  string  `json:"kind"`
	I     int64   `json:"i,omitempty"`
	F     float64 `json:"f,omitempty"`
	S     string  `json:"s,omitempty"`
}

func (e wireEvent) toValue() (history.Value, error) {
	switch e.Kind {
	case "null":
		return history.NullValue(), nil
	case "int32":
		return history.Int32Value(int32(e.I)), nil
	case "int64":
		return history.Int64Value(e.I), nil
	case "float64":
		return history.Float64Value(e.F), nil
	case "string":
		return history.StringValue(e.S), nil
	default:
		return history.Value{}, history.ErrCorrupt
	}
}

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cclog.Abortf("[TRACEINGEST]> loading configuration: %s\n", err.Error())
	}
	if cfg.NatsURL == "" || cfg.NatsSubject == "" {
		cclog.Abortf("[TRACEINGEST]> config is missing natsUrl/natsSubject\n")
	}

	storage, err := history.OpenLocalStorage(cfg.HistoryPath)
	if err != nil {
		cclog.Abortf("[TRACEINGEST]> opening tile file: %s\n", err.Error())
	}
	defer storage.Close()

	resolutions := cfg.Resolutions
	backend, err := history.OpenNew(storage, cfg.HistoryPath, cfg.ProviderVersion, 0, cfg.NPixels, resolutions)
	if err != nil {
		cclog.Abortf("[TRACEINGEST]> opening back-end: %s\n", err.Error())
	}
	defer backend.Dispose()

	client, err := natsclient.Connect(cfg.NatsURL)
	if err != nil {
		cclog.Abortf("[TRACEINGEST]> connecting to nats: %s\n", err.Error())
	}
	defer client.Close()

	var lastEnd int64
	sub, err := client.Subscribe(cfg.NatsSubject, func(subject string, data []byte) {
		var ev wireEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			cclog.Warnf("[TRACEINGEST]> dropping malformed event: %s", err.Error())
			return
		}
		value, err := ev.toValue()
		if err != nil {
			cclog.Warnf("[TRACEINGEST]> dropping event with unknown kind %q", ev.Kind)
			return
		}
		if err := backend.Insert(ev.Start, ev.End, history.Quark(ev.Quark), value); err != nil {
			cclog.Warnf("[TRACEINGEST]> insert failed: %s", err.Error())
			return
		}
		lastEnd = ev.End
	})
	if err != nil {
		cclog.Abortf("[TRACEINGEST]> subscribing: %s\n", err.Error())
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	sub.Unsubscribe()
	if err := backend.FinishedBuilding(lastEnd); err != nil {
		cclog.Abortf("[TRACEINGEST]> finishing build: %s\n", err.Error())
	}
	cclog.Infof("[TRACEINGEST]> ingest stopped cleanly at endTime=%d", lastEnd)
}
