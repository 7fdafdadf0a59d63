// Package main 提供 notifnet 演示节点
//
// 节点在一个通知协议上与保留节点及发现的节点建立子流，周期性地向所有
// 已打开的节点广播问候，并打印收到的事件。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	notifnet "github.com/dep2p/go-notifnet"
	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/util/logger"
	"github.com/dep2p/go-notifnet/pkg/types"
)

var log = logger.Logger("cmd")

// version 构建时通过 -ldflags 注入
var version = "dev"

var (
	configFile   = flag.String("config", "", "配置文件路径（JSON）")
	port         = flag.Int("port", 30333, "TCP 监听端口（0 = 随机端口）")
	identityFile = flag.String("identity", "", "身份密钥文件路径")
	protocolName = flag.String("protocol", "/notifnet/demo/1", "通知协议名")
	reserved     = flag.String("reserved", "", "保留节点，逗号分隔的 <multiaddr>/p2p/<peer-id>")
	interval     = flag.Duration("interval", 5*time.Second, "广播间隔")
	metricsAddr  = flag.String("metrics", "", "Prometheus 指标监听地址，如 127.0.0.1:9615")
	showVersion  = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	if *showVersion {
		fmt.Printf("notifnet %s\n", version)
		return nil
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	reg := prometheus.NewRegistry()
	svc, err := notifnet.New(cfg, notifnet.WithRegisterer(reg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("关闭失败", "error", err)
		}
	}()

	fmt.Printf("节点 ID: %s\n", svc.LocalPeerID())
	for _, addr := range svc.ListenAddresses() {
		fmt.Printf("监听: %s\n", addr.WithPeerID(svc.LocalPeerID()))
	}

	if *metricsAddr != "" {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("指标服务退出", "error", err)
			}
		}()
		defer srv.Close()
	}

	events, err := svc.EventStream("cmd")
	if err != nil {
		return err
	}
	defer events.Close()

	proto := types.ProtocolName(*protocolName)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var seq int
	for {
		select {
		case <-ctx.Done():
			fmt.Println("正在关闭...")
			return nil
		case <-ticker.C:
			seq++
			msg := []byte(fmt.Sprintf("hello #%d from %s", seq, svc.LocalPeerID().ShortString()))
			for _, peer := range svc.OpenPeers(proto) {
				svc.WriteNotification(peer, proto, msg)
			}
		case ev, ok := <-events.Out():
			if !ok {
				return events.Err()
			}
			printEvent(ev)
		}
	}
}

func buildConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if len(cfg.ListenAddresses) == 0 {
		cfg.ListenAddresses = []types.Multiaddr{types.Multiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", *port))}
	}
	if *identityFile != "" {
		cfg.Identity.KeyFile = *identityFile
	}
	if len(cfg.ExtraSets) == 0 {
		cfg.ExtraSets = []config.NonDefaultSetConfig{
			config.NewNonDefaultSetConfig(types.ProtocolName(*protocolName), 1<<20),
		}
	}
	for _, s := range strings.Split(*reserved, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		addr, err := types.ParseMultiaddrWithPeerID(s)
		if err != nil {
			return nil, fmt.Errorf("reserved %q: %w", s, err)
		}
		cfg.DefaultPeersSet.ReservedNodes = append(cfg.DefaultPeersSet.ReservedNodes, addr)
	}
	return cfg, nil
}

func printEvent(ev types.Event) {
	switch e := ev.(type) {
	case types.StreamOpened:
		if e.HasFallback() {
			fmt.Printf("[打开] %s %s (回退 %s)\n", e.Remote.ShortString(), e.Protocol, e.NegotiatedFallback)
		} else {
			fmt.Printf("[打开] %s %s\n", e.Remote.ShortString(), e.Protocol)
		}
	case types.StreamClosed:
		fmt.Printf("[关闭] %s %s\n", e.Remote.ShortString(), e.Protocol)
	case types.NotificationsReceived:
		for _, m := range e.Messages {
			fmt.Printf("[收到] %s %s: %s\n", e.Remote.ShortString(), m.Protocol, m.Payload)
		}
	case types.DhtEvent:
		fmt.Printf("[发现] %v\n", e.Payload)
	}
}
