package client

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/time/rate"

	"posesync/internal/config"
	"posesync/pkg/core"
	"posesync/pkg/protocol"
)

// TrackerOptions 追踪会话参数
type TrackerOptions struct {
	// 本地模式下是否拥有关键点，以及拥有者 ID
	// 加入中继后由客户端 ID 决定：非房主客户端拥有自己的关键点
	Owner         bool
	OwnerClientID int

	// 为空时只在本地运行
	Network *NetworkClient
}

// RemoteAvatar 远端客户端的关键点
type RemoteAvatar struct {
	ClientID int32
	Points   []core.LandmarkPoint
	smoother *RemoteSmoother
}

// Tracker 追踪会话：姿态流 -> 队列 -> 逐帧驱动 -> 中继
type Tracker struct {
	Queue      *core.FrameQueue
	Registry   *core.Registry
	Camera     *core.PerspectiveCamera
	Mapper     *core.Mapper
	Reconciler *core.Reconciler
	Colours    *core.ColourCycler

	stream  *PoseStream
	network *NetworkClient
	opts    TrackerOptions

	publisher *rate.Limiter
	remotes   map[int32]*RemoteAvatar

	// 本地时钟到服务器时钟的偏移（毫秒）
	clockOffset int64
	hasClock    bool

	wallZ          float64
	serverTick     int32
	sessionStarted bool
	last           core.TickResult
	started        bool

	now func() time.Time
}

// NewTracker 按配置组装各组件
func NewTracker(cfg config.Config, opts TrackerOptions) *Tracker {
	camera := core.NewPerspectiveCamera(cfg.ScreenWidth, cfg.ScreenHeight)
	camera.FOVDegrees = cfg.FOVDegrees
	camera.Near = cfg.NearClip
	camera.Far = cfg.FarClip

	queue := core.NewFrameQueue(cfg.QueueCapacity)
	registry := core.NewRegistry(cfg.NumberOfLandmarks)
	mapper := core.NewMapper(camera, core.NewTransform(), cfg.PoseOffset, cfg.MirrorX)
	reconciler := core.NewReconciler(queue, registry, mapper)
	reconciler.SmoothingSpeed = cfg.SmoothingSpeed

	publishHz := cfg.PublishHz
	if publishHz <= 0 {
		publishHz = 20
	}

	return &Tracker{
		Queue:      queue,
		Registry:   registry,
		Camera:     camera,
		Mapper:     mapper,
		Reconciler: reconciler,
		Colours:    core.NewColourCycler(MarkerColourSpeed, MarkerColourSaturation),
		stream:     NewPoseStream(cfg.PoseURL, queue, cfg.ReconnectDelay),
		network:    opts.Network,
		opts:       opts,
		publisher:  rate.NewLimiter(rate.Limit(publishHz), 1),
		remotes:    make(map[int32]*RemoteAvatar),
		wallZ:      cfg.WallStartZ,
		now:        time.Now,
	}
}

// Start 注册本地关键点并在后台连接姿态流
func (t *Tracker) Start(ctx context.Context) error {
	if t.started {
		return nil
	}
	t.started = true

	owner, ownerID := t.opts.Owner, t.opts.OwnerClientID
	if t.network != nil {
		id := t.network.ClientID()
		owner = id > 0
		ownerID = int(id)
	}

	if err := t.Registry.RegisterAll(owner, ownerID, mgl64.Vec3{}); err != nil {
		return err
	}
	if owner {
		log.Printf("注册 %d 个关键点，拥有者 %d", t.Registry.Len(), ownerID)
	} else {
		log.Printf("未拥有关键点，只显示远端化身")
	}

	t.stream.Start(ctx)
	return nil
}

// Update 每帧调用一次，dt 为秒
func (t *Tracker) Update(dt float64) core.TickResult {
	t.last = t.Reconciler.Tick(dt)

	if t.network != nil {
		t.publish()
		t.drainNetwork()
		t.updateRemotes()
	}

	t.Colours.Step()
	return t.last
}

// publish 按 PublishHz 限速上报本地关键点
func (t *Tracker) publish() {
	if t.Registry.Len() == 0 || !t.publisher.AllowN(t.now(), 1) {
		return
	}
	state := protocol.RegistryToLandmarkState(t.network.ClientID(), 0, t.Registry)
	if err := t.network.SendLandmarks(state); err != nil {
		log.Printf("上报关键点失败: %v", err)
	}
}

func (t *Tracker) drainNetwork() {
	for start := t.network.ReceiveSessionStart(); start != nil; start = t.network.ReceiveSessionStart() {
		t.sessionStarted = true
		t.syncClock(start.ServerTime)
		log.Printf("会话开始 (tick %d)", start.Tick)
	}

	self := t.network.ClientID()
	for snap := t.network.ReceiveSnapshot(); snap != nil; snap = t.network.ReceiveSnapshot() {
		t.syncClock(snap.ServerTime)
		t.serverTick = snap.Tick
		t.wallZ = snap.WallZ

		for _, st := range snap.States {
			if st == nil || st.ClientID == self {
				continue
			}
			avatar, ok := t.remotes[st.ClientID]
			if !ok {
				avatar = &RemoteAvatar{ClientID: st.ClientID, smoother: NewRemoteSmoother()}
				t.remotes[st.ClientID] = avatar
				log.Printf("远端客户端 %d 出现", st.ClientID)
			}
			avatar.smoother.AddSnapshot(snap.ServerTime, protocol.LandmarkStateToPoints(st))
		}
	}

	for id := t.network.ReceivePlayerLeave(); id >= 0; id = t.network.ReceivePlayerLeave() {
		if _, ok := t.remotes[id]; ok {
			delete(t.remotes, id)
			log.Printf("远端客户端 %d 离开", id)
		}
	}
}

// syncClock 记录服务器时间偏移，取最小值以排除网络延迟抖动
func (t *Tracker) syncClock(serverTime int64) {
	offset := serverTime - t.now().UnixMilli()
	if !t.hasClock || offset < t.clockOffset {
		t.clockOffset = offset
		t.hasClock = true
	}
}

// ServerTime 估算的服务器时间（毫秒）
func (t *Tracker) ServerTime() int64 {
	return t.now().UnixMilli() + t.clockOffset
}

func (t *Tracker) updateRemotes() {
	serverNow := t.ServerTime()
	for _, avatar := range t.remotes {
		avatar.Points = avatar.smoother.Sample(serverNow)
	}
}

// LocalPoints 本地关键点当前位置（根节点本地坐标）
func (t *Tracker) LocalPoints() []core.LandmarkPoint {
	return t.Registry.Points()
}

// Remotes 远端化身，按客户端 ID 排序
func (t *Tracker) Remotes() []RemoteAvatar {
	out := make([]RemoteAvatar, 0, len(t.remotes))
	for _, avatar := range t.remotes {
		out = append(out, *avatar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// RemoteCount 远端化身数量
func (t *Tracker) RemoteCount() int {
	return len(t.remotes)
}

// Stream 姿态流
func (t *Tracker) Stream() *PoseStream {
	return t.stream
}

// Network 中继客户端，本地模式为 nil
func (t *Tracker) Network() *NetworkClient {
	return t.network
}

// LastTick 最近一次 Update 的结果
func (t *Tracker) LastTick() core.TickResult {
	return t.last
}

// WallZ 服务器同步的墙体深度
func (t *Tracker) WallZ() float64 {
	return t.wallZ
}

// ServerTick 最近快照的 tick
func (t *Tracker) ServerTick() int32 {
	return t.serverTick
}

// SessionStarted 是否已收到会话开始
func (t *Tracker) SessionStarted() bool {
	return t.sessionStarted
}

// Close 关闭姿态流和中继连接
func (t *Tracker) Close() {
	t.stream.Close()
	if t.network != nil {
		t.network.Close()
	}
	log.Printf("追踪会话已关闭 (入队 %d 帧，丢弃 %d 帧)", t.stream.Received(), t.Queue.Dropped())
}
