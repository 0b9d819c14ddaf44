package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"posesync/pkg/core"
	"posesync/pkg/protocol"
)

// 环境变量前缀
const envPrefix = "POSESYNC_"

// DevJWTSecret 开发环境默认密钥，生产环境应设置 JWT_SECRET
const DevJWTSecret = "posesync-dev-secret-change-in-production"

var ErrInvalidConfig = errors.New("配置无效")

// Config 所有可执行程序共用的配置
type Config struct {
	// 姿态流
	PoseURL        string
	PoseOffset     float64
	MirrorX        bool
	QueueCapacity  int
	ReconnectDelay time.Duration // 0 表示不重连

	// 关键点与插值
	NumberOfLandmarks int
	SmoothingSpeed    float64
	TickRate          int

	// 相机
	ScreenWidth  int
	ScreenHeight int
	FOVDegrees   float64
	NearClip     float64
	FarClip      float64

	// 中继
	RelayAddr      string
	RelayProto     string
	PlayerName     string
	JoinCode       string
	Host           bool
	MaxConnections int
	RelayTPS       int
	PublishHz      float64
	JWTSecret      string

	// 场景
	WallSpeed  float64
	WallStartZ float64

	// 回放
	ReplayAddr   string
	ReplayFile   string
	ReplayRate   float64
	ReplayPoseID int
}

// Default 默认配置
func Default() Config {
	return Config{
		PoseURL:           "ws://localhost:8765",
		MirrorX:           true,
		ReconnectDelay:    2 * time.Second,
		NumberOfLandmarks: core.DefaultNumberOfLandmarks,
		SmoothingSpeed:    core.DefaultSmoothingSpeed,
		TickRate:          60,
		ScreenWidth:       core.DefaultScreenWidth,
		ScreenHeight:      core.DefaultScreenHeight,
		FOVDegrees:        core.DefaultFOVDegrees,
		NearClip:          core.DefaultNearClip,
		FarClip:           core.DefaultFarClip,
		RelayAddr:         "127.0.0.1:8080",
		RelayProto:        "tcp",
		PlayerName:        "player",
		MaxConnections:    3,
		RelayTPS:          30,
		PublishHz:         20,
		JWTSecret:         DevJWTSecret,
		WallSpeed:         core.DefaultWallSpeed,
		WallStartZ:        core.DefaultWallStartZ,
		ReplayAddr:        ":8765",
		ReplayRate:        30,
	}
}

// Load 读取可选的 .env 文件，再用环境变量覆盖默认值
// 进程环境变量优先于文件中的值，文件不会写回进程环境
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	fileValues := make(map[string]string)
	for _, name := range envFiles {
		values, err := godotenv.Read(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("读取 %s 失败: %w", name, err)
		}
		for k, v := range values {
			if _, seen := fileValues[k]; !seen {
				fileValues[k] = v
			}
		}
		log.Printf("已加载环境文件: %s", name)
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileValues[key]
		return v, ok
	}

	cfg := Default()
	if err := cfg.apply(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv 只使用进程环境变量
func FromEnv() (Config, error) {
	cfg := Default()
	if err := cfg.apply(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) apply(lookup lookupFunc) error {
	p := envParser{lookup: lookup}

	p.str("POSE_URL", &c.PoseURL)
	p.float("POSE_OFFSET", &c.PoseOffset)
	p.boolean("MIRROR_X", &c.MirrorX)
	p.integer("QUEUE_CAPACITY", &c.QueueCapacity)
	p.duration("RECONNECT_DELAY", &c.ReconnectDelay)

	p.integer("LANDMARKS", &c.NumberOfLandmarks)
	p.float("SMOOTHING_SPEED", &c.SmoothingSpeed)
	p.integer("TICK_RATE", &c.TickRate)

	p.integer("SCREEN_WIDTH", &c.ScreenWidth)
	p.integer("SCREEN_HEIGHT", &c.ScreenHeight)
	p.float("FOV", &c.FOVDegrees)
	p.float("NEAR_CLIP", &c.NearClip)
	p.float("FAR_CLIP", &c.FarClip)

	p.str("RELAY_ADDR", &c.RelayAddr)
	p.str("RELAY_PROTO", &c.RelayProto)
	p.str("PLAYER_NAME", &c.PlayerName)
	p.str("JOIN_CODE", &c.JoinCode)
	p.boolean("HOST", &c.Host)
	p.integer("MAX_CONNECTIONS", &c.MaxConnections)
	p.integer("RELAY_TPS", &c.RelayTPS)
	p.float("PUBLISH_HZ", &c.PublishHz)

	p.float("WALL_SPEED", &c.WallSpeed)
	p.float("WALL_START_Z", &c.WallStartZ)

	p.str("REPLAY_ADDR", &c.ReplayAddr)
	p.str("REPLAY_FILE", &c.ReplayFile)
	p.float("REPLAY_RATE", &c.ReplayRate)
	p.integer("REPLAY_POSE_ID", &c.ReplayPoseID)

	// JWT_SECRET 沿用无前缀的变量名
	if v, ok := lookup("JWT_SECRET"); ok && v != "" {
		c.JWTSecret = v
	}

	return errors.Join(p.errs...)
}

// envParser 解析带前缀的环境变量，收集所有错误
type envParser struct {
	lookup lookupFunc
	errs   []error
}

func (p *envParser) value(key string) (string, bool) {
	v, ok := p.lookup(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *envParser) fail(key, raw string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidConfig, envPrefix, key, raw, err))
}

func (p *envParser) str(key string, dst *string) {
	if v, ok := p.value(key); ok {
		*dst = v
	}
}

func (p *envParser) integer(key string, dst *int) {
	if v, ok := p.value(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *envParser) float(key string, dst *float64) {
	if v, ok := p.value(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (p *envParser) boolean(key string, dst *bool) {
	if v, ok := p.value(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (p *envParser) duration(key string, dst *time.Duration) {
	if v, ok := p.value(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}

// Validate 检查不可能的取值
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.NumberOfLandmarks > 0, "关键点数量必须为正: %d", c.NumberOfLandmarks)
	check(c.SmoothingSpeed >= 0, "插值速度不能为负: %v", c.SmoothingSpeed)
	check(c.QueueCapacity >= 0, "队列容量不能为负: %d", c.QueueCapacity)
	check(c.ReconnectDelay >= 0, "重连间隔不能为负: %v", c.ReconnectDelay)
	check(c.TickRate > 0, "帧率必须为正: %d", c.TickRate)
	check(c.ScreenWidth > 0 && c.ScreenHeight > 0, "屏幕尺寸必须为正: %dx%d", c.ScreenWidth, c.ScreenHeight)
	check(c.FOVDegrees > 0 && c.FOVDegrees < 180, "视角必须在 (0,180) 内: %v", c.FOVDegrees)
	check(c.NearClip > 0 && c.FarClip > c.NearClip, "裁剪面无效: near=%v far=%v", c.NearClip, c.FarClip)
	check(c.RelayProto == "tcp" || c.RelayProto == "kcp", "不支持的协议: %s", c.RelayProto)
	check(c.MaxConnections > 0, "最大连接数必须为正: %d", c.MaxConnections)
	check(c.RelayTPS > 0, "中继 TPS 必须为正: %d", c.RelayTPS)
	check(c.PublishHz > 0, "上报频率必须为正: %v", c.PublishHz)
	check(c.ReplayRate > 0, "回放频率必须为正: %v", c.ReplayRate)
	check(c.JWTSecret != "", "JWT 密钥不能为空")
	if c.MaxConnections > 0 && c.NumberOfLandmarks > 0 {
		size := protocol.SnapshotSizeBound(c.MaxConnections+1, c.NumberOfLandmarks)
		check(size <= protocol.MaxPacketSize, "快照可能达到 %d bytes，超过 %d: 减少连接数或关键点数", size, protocol.MaxPacketSize)
	}

	return errors.Join(errs...)
}

// TickInterval 每帧时长
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// RegisterFlags 将常用字段绑定到命令行参数，命令行优先于环境变量
func (c *Config) RegisterFlags(flags *flag.FlagSet) {
	flags.StringVar(&c.PoseURL, "pose-url", c.PoseURL, "姿态数据 WebSocket 地址")
	flags.Float64Var(&c.PoseOffset, "offset", c.PoseOffset, "姿态水平偏移（像素）")
	flags.BoolVar(&c.MirrorX, "mirror", c.MirrorX, "水平镜像")
	flags.IntVar(&c.QueueCapacity, "queue", c.QueueCapacity, "队列容量，0 表示不限")
	flags.DurationVar(&c.ReconnectDelay, "reconnect", c.ReconnectDelay, "姿态流重连间隔，0 表示不重连")
	flags.Float64Var(&c.SmoothingSpeed, "speed", c.SmoothingSpeed, "插值速度")
	flags.IntVar(&c.TickRate, "tps", c.TickRate, "本地帧率")
	flags.StringVar(&c.RelayAddr, "addr", c.RelayAddr, "中继服务器地址")
	flags.StringVar(&c.RelayProto, "proto", c.RelayProto, "中继协议 (tcp/kcp)")
	flags.StringVar(&c.PlayerName, "name", c.PlayerName, "玩家名称")
	flags.StringVar(&c.JoinCode, "join", c.JoinCode, "加入码")
	flags.BoolVar(&c.Host, "host", c.Host, "作为房主创建分配")
	flags.IntVar(&c.MaxConnections, "max-conn", c.MaxConnections, "房主之外的最大连接数")
}
