package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"posesync/internal/client"
	"posesync/internal/config"
)

// 无窗口的追踪进程：读取姿态流，驱动关键点并同步到中继
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	cfg.RegisterFlags(flag.CommandLine)
	owner := flag.Int("owner", 1, "本地模式下的拥有者 ID，负数表示不拥有关键点")
	statsEvery := flag.Duration("stats", 5*time.Second, "统计日志间隔，0 表示关闭")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置无效: %v", err)
	}

	nc, err := client.ConnectRelay(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := client.NewTracker(cfg, client.OwnerOptions(*owner, nc))
	if err := tracker.Start(ctx); err != nil {
		log.Fatalf("启动追踪失败: %v", err)
	}
	defer tracker.Close()

	log.Printf("追踪中: 姿态流=%s 帧率=%d 关键点=%d", cfg.PoseURL, cfg.TickRate, cfg.NumberOfLandmarks)

	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()

	var stats <-chan time.Time
	if *statsEvery > 0 {
		statsTicker := time.NewTicker(*statsEvery)
		defer statsTicker.Stop()
		stats = statsTicker.C
	}

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Println("正在退出...")
			return
		case now := <-ticker.C:
			tracker.Update(now.Sub(last).Seconds())
			last = now
		case <-stats:
			res := tracker.LastTick()
			log.Printf("姿态流 connected=%v 已接收=%d 格式错误=%d 待处理=%d 已丢弃=%d 远端=%d",
				tracker.Stream().Connected(), tracker.Stream().Received(), tracker.Stream().Malformed(),
				res.Pending, tracker.Queue.Dropped(), tracker.RemoteCount())
		}
	}
}
