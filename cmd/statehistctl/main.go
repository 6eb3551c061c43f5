// Command statehistctl opens a tile file and answers point queries
// against it from the command line.
package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"

	"github.com/tracekeep/statehist/internal/config"
	"github.com/tracekeep/statehist/internal/history"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	query := flag.String("query", "", "timestamp to point-query, e.g. 1500")
	quarks := flag.String("quarks", "", "comma-separated quark list to query (default: all known)")
	useGops := flag.Bool("gops", false, "expose a gops diagnostics agent")
	flag.Parse()

	if *useGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Abortf("[STATEHISTCTL]> gops agent failed to start: %s\n", err.Error())
		}
		defer agent.Close()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		cclog.Abortf("[STATEHISTCTL]> loading configuration: %s\n", err.Error())
	}

	storage, err := history.OpenLocalStorage(cfg.HistoryPath)
	if err != nil {
		cclog.Abortf("[STATEHISTCTL]> opening tile file: %s\n", err.Error())
	}
	defer storage.Close()

	backend, err := history.OpenExisting(storage, cfg.HistoryPath, cfg.ProviderVersion)
	if err != nil {
		cclog.Abortf("[STATEHISTCTL]> opening back-end: %s\n", err.Error())
	}
	defer backend.Dispose()

	if *query == "" {
		fmt.Println("statehistctl: pass -query <timestamp> to run a point query")
		return
	}

	t, err := strconv.ParseInt(*query, 10, 64)
	if err != nil {
		cclog.Abortf("[STATEHISTCTL]> parsing -query: %s\n", err.Error())
	}

	qs, err := parseQuarks(*quarks)
	if err != nil {
		cclog.Abortf("[STATEHISTCTL]> parsing -quarks: %s\n", err.Error())
	}

	result, err := backend.PointQuery(t, qs)
	if err != nil {
		cclog.Abortf("[STATEHISTCTL]> point query failed: %s\n", err.Error())
	}

	for q, iv := range result {
		fmt.Printf("quark %d: [%d,%d] %s\n", q, iv.Start, iv.End, describeValue(iv.Value))
	}
}

func describeValue(v history.Value) string {
	switch v.Kind() {
	case history.KindNull:
		return "null"
	case history.KindInt32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case history.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case history.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case history.KindUtf8:
		return strconv.Quote(v.String())
	case history.KindCustom:
		return fmt.Sprintf("<%d bytes>", len(v.Bytes()))
	default:
		return "<unknown>"
	}
}

func parseQuarks(s string) ([]history.Quark, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]history.Quark, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid quark %q: %w", p, err)
		}
		out = append(out, history.Quark(v))
	}
	return out, nil
}
