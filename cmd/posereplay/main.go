package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"posesync/internal/config"
	"posesync/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	flag.StringVar(&cfg.ReplayAddr, "listen", cfg.ReplayAddr, "WebSocket 监听地址")
	flag.StringVar(&cfg.ReplayFile, "file", cfg.ReplayFile, "录制文件（每行一个 JSON 帧），为空时生成合成骨架")
	flag.Float64Var(&cfg.ReplayRate, "rate", cfg.ReplayRate, "每秒发送帧数")
	flag.IntVar(&cfg.ReplayPoseID, "pose-id", cfg.ReplayPoseID, "覆盖姿态来源 ID，负数表示保留录制中的 ID")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置无效: %v", err)
	}

	var newSource func() server.FrameSource
	source := "合成骨架"
	if cfg.ReplayFile != "" {
		frames, err := server.LoadRecording(cfg.ReplayFile)
		if err != nil {
			log.Fatalf("加载录制失败: %v", err)
		}
		source = cfg.ReplayFile
		newSource = func() server.FrameSource { return server.NewRecording(frames, cfg.ReplayPoseID) }
	} else {
		poseID := max(cfg.ReplayPoseID, 0)
		newSource = func() server.FrameSource {
			return server.NewSyntheticSkeleton(poseID, cfg.NumberOfLandmarks, cfg.ReplayRate)
		}
	}

	replay := server.NewPoseReplayServer(cfg.ReplayAddr, cfg.ReplayRate, newSource)
	if err := replay.Listen(); err != nil {
		log.Fatalf("监听失败: %v", err)
	}
	go func() {
		if err := replay.Serve(); err != nil {
			log.Fatalf("回放服务器异常退出: %v", err)
		}
	}()

	log.Printf("姿态回放: ws://%s 数据源=%s 频率=%.0f fps", replay.Addr(), source, cfg.ReplayRate)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := replay.Shutdown(ctx); err != nil {
		log.Printf("关闭回放服务器失败: %v", err)
	}
	log.Println("回放服务器已关闭")
}
