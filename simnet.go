package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/config"
	"github.com/go-i2p/go-onionpath/lib/crypto"
	"github.com/go-i2p/go-onionpath/lib/metrics"
	"github.com/go-i2p/go-onionpath/lib/path"
	"github.com/go-i2p/go-onionpath/lib/router"
	"github.com/go-i2p/go-onionpath/lib/selector"
	"github.com/go-i2p/go-onionpath/lib/transport"
	"github.com/go-i2p/go-onionpath/lib/transport/mempipe"
	"github.com/go-i2p/go-onionpath/lib/util"
	"github.com/go-i2p/go-onionpath/lib/util/signals"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

type simnetOptions struct {
	relays  int
	paths   int
	hops    int
	wait    time.Duration
	hold    bool
	metrics bool
}

func newSimnetCmd() *cobra.Command {
	var opts simnetOptions
	cmd := &cobra.Command{
		Use:   "simnet",
		Short: "Build paths across an in-memory network of relays",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimnet(cmd.Context(), cmd.OutOrStdout(), config.CurrentConfig(), opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.relays, "relays", 12, "number of relays")
	f.IntVar(&opts.paths, "paths", 3, "paths to keep established")
	f.IntVar(&opts.hops, "hops", 0, "hops per path (default from config)")
	f.DurationVar(&opts.wait, "wait", 15*time.Second, "how long to wait for paths")
	f.BoolVar(&opts.hold, "hold", false, "keep running until interrupted")
	f.BoolVar(&opts.metrics, "metrics", false, "serve prometheus metrics while running")
	return cmd
}

func runSimnet(ctx context.Context, out io.Writer, cfg config.ConfigDefaults, opts simnetOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.hops > 0 {
		cfg.Path.Hops = opts.hops
	}
	cfg.Path.DesiredPaths = opts.paths
	if opts.relays < cfg.Path.Hops*opts.paths {
		return oops.Errorf("%d relays cannot carry %d disjoint paths of %d hops", opts.relays, opts.paths, cfg.Path.Hops)
	}

	net := mempipe.NewNetwork()
	db := selector.NewNodeDB()
	defer util.CloseAll()

	relayCfg := cfg
	relayCfg.Profiling.Enabled = false
	relayCfg.Clock.NTPEnabled = false
	for i := 0; i < opts.relays; i++ {
		r, err := newSimRouter(net, db, relayCfg, nil, fmt.Sprintf("relay-%02d", i))
		if err != nil {
			return err
		}
		r.Start()
	}

	var m *metrics.Metrics
	if opts.metrics || cfg.Metrics.Enabled {
		m = metrics.New()
	}
	client, err := newSimRouter(net, db, cfg, m, "client")
	if err != nil {
		return err
	}
	set := client.NewPathSet("simnet", path.RoleTunnel)
	client.Start()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if m != nil {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Address) })
	}

	waitForPaths(gctx, client, set, opts.paths, opts.wait)
	if err := printPaths(out, db, client, set); err != nil {
		return err
	}

	if opts.hold {
		w := signals.NewWatcher(0)
		w.OnReload(func() {
			if err := printPaths(out, db, client, set); err != nil {
				log.WithError(err).Warn("could not print paths")
			}
		})
		w.OnShutdown(signals.Handler(cancel))
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
		<-gctx.Done()
	}
	cancel()
	return g.Wait()
}

func newSimRouter(net *mempipe.Network, db *selector.NodeDB, cfg config.ConfigDefaults, m *metrics.Metrics, nick string) (*router.Router, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	ep := net.Attach(common.RouterID(kp.Public))
	r, err := router.CreateRouter(cfg, router.Deps{Identity: kp, Transport: transport.Mux(ep), NodeDB: db, Metrics: m})
	if err != nil {
		return nil, err
	}
	desc := r.Descriptor()
	desc.Nickname = nick
	db.Add(desc)
	util.RegisterCloser(r)
	return r, nil
}

func waitForPaths(ctx context.Context, r *router.Router, set *path.PathSet, want int, limit time.Duration) {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		var n int
		if err := r.Sync(func() { n = len(set.Established()) }); err != nil || n >= want {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			log.WithFields(logger.Fields{
				"at":          "waitForPaths",
				"established": n,
				"want":        want,
			}).Warn("gave up waiting for paths")
			return
		case <-ticker.C:
		}
	}
}

type pathRow struct {
	id      string
	route   string
	state   string
	latency string
	ok      bool
}

func printPaths(out io.Writer, db *selector.NodeDB, r *router.Router, set *path.PathSet) error {
	var rows []pathRow
	var stats path.BuildStats
	err := r.Sync(func() {
		now := r.Context().Now()
		for _, p := range set.Established() {
			names := make([]string, 0, p.HopCount())
			for _, h := range p.Hops() {
				names = append(names, nickname(db, h))
			}
			rows = append(rows, pathRow{
				id:      p.ID().Short(),
				route:   strings.Join(names, " > "),
				state:   p.State().String(),
				latency: p.Latency().Round(time.Microsecond).String(),
				ok:      p.IsReady(now),
			})
		}
		stats = set.Stats()
	})
	if err != nil {
		return err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })

	cols := [][]string{{"PATH"}, {"ROUTE"}, {"STATE"}, {"LATENCY"}}
	for _, row := range rows {
		style := okStyle
		if !row.ok {
			style = failStyle
		}
		cols[0] = append(cols[0], row.id)
		cols[1] = append(cols[1], row.route)
		cols[2] = append(cols[2], style.Render(row.state))
		cols[3] = append(cols[3], row.latency)
	}
	rendered := make([]string, len(cols))
	for i, c := range cols {
		c[0] = headerStyle.Render(c[0])
		rendered[i] = cellStyle.Render(lipgloss.JoinVertical(lipgloss.Left, c...))
	}
	fmt.Fprintln(out, lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
	fmt.Fprintf(out, "\nbuilds: %d attempted, %d established, %d failed, %d timed out (%.0f%% success)\n",
		stats.Attempts, stats.Success, stats.Fails, stats.Timeouts, stats.SuccessRatio()*100)
	return nil
}

func nickname(db *selector.NodeDB, id common.RouterID) string {
	if d, ok := db.FindRouter(id); ok && d.Nickname != "" {
		return d.Nickname
	}
	return id.Short()
}
