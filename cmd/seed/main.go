// Command seed mirrors threat and node records into the Redis upstream.
//
// The threats file holds one record per line, "value [level]". Values that
// parse as IPv4 become IP records, anything else a DOMAIN record. The nodes
// file holds "address:port [wallet]" lines and replaces the node list.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/orasrs/orasrs-core/internal/addr"
	"github.com/orasrs/orasrs-core/internal/types"
	"github.com/orasrs/orasrs-core/internal/upstream"
)

func main() {
	var threatsFile string
	var nodesFile string
	var redisURL string
	var prefix string
	var source string
	flag.StringVar(&threatsFile, "threats", "", "path to threats file")
	flag.StringVar(&nodesFile, "nodes", "", "path to nodes file")
	flag.StringVar(&redisURL, "redis", "redis://127.0.0.1:6379/0", "redis URL")
	flag.StringVar(&prefix, "prefix", "orasrs", "redis key prefix")
	flag.StringVar(&source, "source", "seed", "source tag stored on each threat")
	flag.Parse()
	if threatsFile == "" && nodesFile == "" {
		fmt.Fprintln(os.Stderr, "missing -threats or -nodes")
		os.Exit(1)
	}

	ctx := context.Background()
	r, err := upstream.NewRedis(ctx, redisURL, prefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redis:", err)
		os.Exit(1)
	}
	defer r.Close()

	if threatsFile != "" {
		n, err := seedThreats(ctx, r, threatsFile, source)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("seeded", n, "threats under", prefix)
	}
	if nodesFile != "" {
		n, err := seedNodes(ctx, r, nodesFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("replaced node list with", n, "nodes under", prefix)
	}
}

func lines(path string, fn func(fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(strings.Fields(line)); err != nil {
			return err
		}
	}
	return sc.Err()
}

func seedThreats(ctx context.Context, r *upstream.Redis, path, source string) (int, error) {
	now := time.Now().UTC().Unix()
	n := 0
	err := lines(path, func(fields []string) error {
		rec := types.ThreatRecord{
			Kind:         types.KindDomain,
			Value:        fields[0],
			Level:        3,
			DiscoveredAt: now,
			Source:       source,
		}
		if _, err := addr.Encode(fields[0]); err == nil {
			rec.Kind = types.KindIP
			rec.Value = fields[0]
		}
		if len(fields) > 1 {
			if lvl, err := strconv.Atoi(fields[1]); err == nil && lvl > 0 && lvl < 256 {
				rec.Level = uint8(lvl)
			}
		}
		if err := r.SeedThreat(ctx, rec.ClampLevel()); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func seedNodes(ctx context.Context, r *upstream.Redis, path string) (int, error) {
	var nodes []types.NodeRecord
	err := lines(path, func(fields []string) error {
		host, portStr, err := net.SplitHostPort(fields[0])
		if err != nil {
			return fmt.Errorf("node %q: %w", fields[0], err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || port == 0 {
			return fmt.Errorf("node %q: bad port", fields[0])
		}
		n := types.NodeRecord{Address: host, Port: uint16(port)}
		if len(fields) > 1 {
			n.WalletID = fields[1]
		}
		nodes = append(nodes, n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(nodes), r.ReplaceNodes(ctx, nodes)
}
