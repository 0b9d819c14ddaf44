package client

import "time"

// ===== 中继连接配置 =====
const (
	DialTimeout  = 5 * time.Second
	WriteTimeout = time.Second
	JoinTimeout  = 10 * time.Second
	PingInterval = 2 * time.Second

	// 未消费的快照缓冲，满时丢弃最旧的
	SnapshotBufferSize = 64
)

// ===== 远端化身插值配置 =====
const (
	// 插值缓冲延迟（毫秒）：远端关键点渲染时间滞后于服务器时间
	// 值越大越平滑，但延迟感越强
	DefaultInterpolationDelayMs int64 = 100
	MinInterpolationDelayMs     int64 = 50
	MaxInterpolationDelayMs     int64 = 300

	// 插值缓冲区大小：存储最近 N 个快照
	InterpolationBufferSize = 30

	// 航位推测最大时长（毫秒）：超过此时间未收到新快照则停在最后位置
	DeadReckoningMaxMs int64 = 250
)

// ===== 本地追踪 =====
const (
	// 色相循环速度，与精灵颜色一致
	MarkerColourSpeed      = 20.0
	MarkerColourSaturation = 0.5
)
