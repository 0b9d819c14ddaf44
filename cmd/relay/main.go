package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"posesync/internal/config"
	"posesync/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	// 命令行参数
	cfg.RegisterFlags(flag.CommandLine)
	flag.IntVar(&cfg.RelayTPS, "relay-tps", cfg.RelayTPS, "中继快照频率")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置无效: %v", err)
	}
	if cfg.JWTSecret == config.DevJWTSecret {
		log.Println("警告: 使用开发环境 JWT 密钥，请设置 JWT_SECRET")
	}

	relay := server.NewRelayServer(cfg)
	if err := relay.Listen(); err != nil {
		log.Fatalf("监听失败: %v", err)
	}

	// 启动服务器（在新的 goroutine 中）
	go func() {
		if err := relay.Start(); err != nil {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	log.Println("========================================")
	log.Println("  PoseSync 中继服务器")
	log.Println("========================================")
	log.Printf("监听地址: %s (%s)", relay.Addr(), cfg.RelayProto)
	log.Printf("每个分配最大连接数: %d", cfg.MaxConnections)
	log.Printf("中继 TPS: %d", cfg.RelayTPS)
	log.Println("========================================")
	log.Println("服务器正在运行...")
	log.Println("按 Ctrl+C 停止服务器")

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("正在关闭服务器...")
	relay.Shutdown()

	log.Println("服务器已关闭，再见！")
}
