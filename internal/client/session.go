package client

import (
	"fmt"
	"log"

	"posesync/internal/config"
)

// ConnectRelay 按配置连接中继并创建或加入分配
// 既不是房主也没有加入码时返回 nil，表示只在本地运行
func ConnectRelay(cfg config.Config) (*NetworkClient, error) {
	if !cfg.Host && cfg.JoinCode == "" {
		return nil, nil
	}

	nc := NewNetworkClient(cfg.RelayAddr, cfg.RelayProto)
	if err := nc.Connect(); err != nil {
		return nil, err
	}

	var err error
	if cfg.Host {
		_, err = nc.Host(cfg.PlayerName, cfg.MaxConnections)
	} else {
		_, err = nc.Join(cfg.PlayerName, cfg.JoinCode)
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("连接中继 %s 失败: %w", cfg.RelayAddr, err)
	}

	if nc.IsHost() {
		log.Printf("已创建分配，加入码: %s", nc.JoinCode())
	} else {
		log.Printf("已加入分配 %s，客户端 ID: %d", nc.JoinCode(), nc.ClientID())
	}
	return nc, nil
}

// OwnerOptions 本地模式的拥有者参数，owner 小于 0 表示不拥有关键点
func OwnerOptions(owner int, nc *NetworkClient) TrackerOptions {
	return TrackerOptions{
		Owner:         owner >= 0,
		OwnerClientID: owner,
		Network:       nc,
	}
}
