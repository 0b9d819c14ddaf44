package main

import (
	"context"
	"flag"
	"log"

	"github.com/hajimehoshi/ebiten/v2"

	"posesync/internal/client"
	"posesync/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	cfg.RegisterFlags(flag.CommandLine)
	owner := flag.Int("owner", 1, "本地模式下的拥有者 ID，负数表示不拥有关键点")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置无效: %v", err)
	}

	nc, err := client.ConnectRelay(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	tracker := client.NewTracker(cfg, client.OwnerOptions(*owner, nc))
	if err := tracker.Start(context.Background()); err != nil {
		log.Fatalf("启动追踪失败: %v", err)
	}
	defer tracker.Close()

	title := "PoseSync"
	if nc != nil {
		title += " [" + nc.JoinCode() + "]"
	}

	// 设置窗口选项
	ebiten.SetWindowSize(cfg.ScreenWidth, cfg.ScreenHeight)
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(cfg.TickRate)

	if err := ebiten.RunGame(client.NewPreview(tracker, cfg.TickRate)); err != nil {
		log.Fatal(err)
	}
}
