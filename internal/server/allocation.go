package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"posesync/pkg/core"
	"posesync/pkg/protocol"
)

// HostClientID 房主的客户端 ID，加入者从 1 开始编号
const HostClientID int32 = 0

// ReconnectGrace 断开后保留客户端 ID 的时长
const ReconnectGrace = 30 * time.Second

var (
	ErrAllocationFull   = errors.New("分配已满")
	ErrAllocationClosed = errors.New("分配已关闭")
	ErrNotHost          = errors.New("只有房主可以开始会话")
	ErrSessionStarted   = errors.New("会话已开始")
	ErrClientNotFound   = errors.New("客户端不存在或已过期")
	ErrInvalidState     = errors.New("关键点状态无效")
)

// AllocationOptions 创建分配的参数
type AllocationOptions struct {
	ID             string
	JoinCode       string
	MaxConnections int // 房主之外的连接数
	TPS            int
	WallSpeed      float64
	WallStartZ     float64
	MaxLandmarks   int // 每个客户端状态的关键点上限，ID 范围 [0, MaxLandmarks)
}

// Allocation 一个房主及其加入者组成的中继会话
type Allocation struct {
	ID             string
	JoinCode       string
	MaxConnections int

	ctx    context.Context
	cancel context.CancelFunc
	tps    int

	maxLandmarks int

	wall    *core.Wall
	started bool
	tick    int32

	sessions     map[int32]Session
	names        map[int32]string
	latest       map[int32]*protocol.LandmarkState
	departed     map[int32]departedClient
	nextClientID int32

	clientCount atomic.Int32
	emptySince  atomic.Int64 // UnixNano，0 表示有客户端

	joinCh      chan joinRequest
	reconnectCh chan reconnectRequest
	leaveCh     chan leaveRequest
	stateCh     chan *LandmarkEvent
	startCh     chan startRequest
	done        chan struct{}
}

type departedClient struct {
	name string
	at   time.Time
}

type joinRequest struct {
	session Session
	name    string
	respCh  chan joinResult
}

type joinResult struct {
	clientID int32
	err      error
}

type reconnectRequest struct {
	session  Session
	clientID int32
	respCh   chan error
}

type leaveRequest struct {
	clientID int32
	session  Session
}

type startRequest struct {
	clientID int32
	respCh   chan error
}

// NewAllocation 创建分配，需要调用 Run 启动循环
func NewAllocation(parent context.Context, opts AllocationOptions) *Allocation {
	ctx, cancel := context.WithCancel(parent)
	if opts.TPS <= 0 {
		opts.TPS = 30
	}
	if opts.MaxLandmarks <= 0 {
		opts.MaxLandmarks = core.DefaultNumberOfLandmarks
	}

	a := &Allocation{
		ID:             opts.ID,
		JoinCode:       opts.JoinCode,
		MaxConnections: opts.MaxConnections,
		ctx:            ctx,
		cancel:         cancel,
		tps:            opts.TPS,
		maxLandmarks:   opts.MaxLandmarks,
		wall:           core.NewWall(opts.WallSpeed, opts.WallStartZ),
		sessions:       make(map[int32]Session),
		names:          make(map[int32]string),
		latest:         make(map[int32]*protocol.LandmarkState),
		departed:       make(map[int32]departedClient),
		nextClientID:   HostClientID,
		joinCh:         make(chan joinRequest),
		reconnectCh:    make(chan reconnectRequest),
		leaveCh:        make(chan leaveRequest, 64),
		stateCh:        make(chan *LandmarkEvent, 256),
		startCh:        make(chan startRequest),
		done:           make(chan struct{}),
	}
	a.emptySince.Store(time.Now().UnixNano())
	return a
}

// Run 分配循环，所有状态只在此 goroutine 中修改
func (a *Allocation) Run(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(a.done)

	ticker := time.NewTicker(time.Second / time.Duration(a.tps))
	defer ticker.Stop()

	log.Printf("分配 %s (%s): 循环启动 %d TPS", a.JoinCode, a.ID, a.tps)

	for {
		select {
		case <-a.ctx.Done():
			a.closeAllSessions()
			log.Printf("分配 %s: 循环停止", a.JoinCode)
			return

		case req := <-a.joinCh:
			id, err := a.handleJoin(req.session, req.name)
			req.respCh <- joinResult{clientID: id, err: err}

		case req := <-a.reconnectCh:
			req.respCh <- a.handleReconnect(req.session, req.clientID)

		case req := <-a.leaveCh:
			a.handleLeave(req.clientID, req.session)

		case ev := <-a.stateCh:
			a.handleState(ev)

		case req := <-a.startCh:
			req.respCh <- a.handleStart(req.clientID)

		case <-ticker.C:
			a.step()
		}
	}
}

// Shutdown 停止分配循环
func (a *Allocation) Shutdown() {
	a.cancel()
}

// Done 循环退出后关闭
func (a *Allocation) Done() <-chan struct{} {
	return a.done
}

// ClientCount 当前连接数
func (a *Allocation) ClientCount() int {
	return int(a.clientCount.Load())
}

// EmptyFor 无客户端的持续时长，有客户端时为 0
func (a *Allocation) EmptyFor(now time.Time) time.Duration {
	since := a.emptySince.Load()
	if since == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, since))
}

// Join 加入分配，第一个加入者是房主
func (a *Allocation) Join(session Session, name string) (int32, error) {
	respCh := make(chan joinResult, 1)

	select {
	case <-a.ctx.Done():
		return -1, ErrAllocationClosed
	case a.joinCh <- joinRequest{session: session, name: name, respCh: respCh}:
	}

	select {
	case <-a.ctx.Done():
		return -1, ErrAllocationClosed
	case res := <-respCh:
		return res.clientID, res.err
	}
}

// Reconnect 将已有客户端 ID 绑定到新连接
func (a *Allocation) Reconnect(session Session, clientID int32) error {
	respCh := make(chan error, 1)

	select {
	case <-a.ctx.Done():
		return ErrAllocationClosed
	case a.reconnectCh <- reconnectRequest{session: session, clientID: clientID, respCh: respCh}:
	}

	select {
	case <-a.ctx.Done():
		return ErrAllocationClosed
	case err := <-respCh:
		return err
	}
}

// Leave 客户端断开，session 不是当前绑定的连接时忽略
func (a *Allocation) Leave(clientID int32, session Session) {
	select {
	case <-a.ctx.Done():
	case a.leaveCh <- leaveRequest{clientID: clientID, session: session}:
	}
}

// SubmitState 提交客户端最新关键点，队列满时丢弃
func (a *Allocation) SubmitState(ev *LandmarkEvent) {
	if ev == nil || ev.State == nil {
		return
	}
	select {
	case a.stateCh <- ev:
	default:
		log.Printf("分配 %s: 状态队列满，丢弃客户端 %d 的关键点", a.JoinCode, ev.ClientID)
	}
}

// StartSession 房主开始会话
func (a *Allocation) StartSession(clientID int32) error {
	respCh := make(chan error, 1)

	select {
	case <-a.ctx.Done():
		return ErrAllocationClosed
	case a.startCh <- startRequest{clientID: clientID, respCh: respCh}:
	}

	select {
	case <-a.ctx.Done():
		return ErrAllocationClosed
	case err := <-respCh:
		return err
	}
}

func (a *Allocation) handleJoin(session Session, name string) (int32, error) {
	if len(a.sessions) >= a.MaxConnections+1 {
		return -1, fmt.Errorf("%w (%d/%d)", ErrAllocationFull, len(a.sessions), a.MaxConnections+1)
	}

	clientID := a.nextClientID
	a.nextClientID++

	session.SetClientID(clientID)
	a.sessions[clientID] = session
	a.names[clientID] = name
	a.updateCount()

	log.Printf("分配 %s: 客户端 %d (%s) 加入，当前 %d 人", a.JoinCode, clientID, name, len(a.sessions))

	if a.started {
		a.sendTo(session, protocol.NewSessionStartPacket(a.tick, time.Now().UnixMilli()))
	}
	return clientID, nil
}

func (a *Allocation) handleReconnect(session Session, clientID int32) error {
	if old, ok := a.sessions[clientID]; ok {
		// 旧连接尚未超时，直接替换
		if old != session {
			old.CloseWithoutNotify()
		}
	} else {
		gone, ok := a.departed[clientID]
		if !ok || time.Since(gone.at) > ReconnectGrace {
			return fmt.Errorf("%w: %d", ErrClientNotFound, clientID)
		}
		if len(a.sessions) >= a.MaxConnections+1 {
			return fmt.Errorf("%w (%d/%d)", ErrAllocationFull, len(a.sessions), a.MaxConnections+1)
		}
		a.names[clientID] = gone.name
		delete(a.departed, clientID)
	}

	session.SetClientID(clientID)
	a.sessions[clientID] = session
	a.updateCount()

	log.Printf("分配 %s: 客户端 %d 重连", a.JoinCode, clientID)

	if a.started {
		a.sendTo(session, protocol.NewSessionStartPacket(a.tick, time.Now().UnixMilli()))
	}
	return nil
}

func (a *Allocation) handleLeave(clientID int32, session Session) {
	current, ok := a.sessions[clientID]
	if !ok || current != session {
		return
	}

	delete(a.sessions, clientID)
	delete(a.latest, clientID)
	a.departed[clientID] = departedClient{name: a.names[clientID], at: time.Now()}
	delete(a.names, clientID)
	a.updateCount()

	log.Printf("分配 %s: 客户端 %d 离开，当前 %d 人", a.JoinCode, clientID, len(a.sessions))

	a.broadcast(protocol.NewPlayerLeavePacket(clientID))
}

func (a *Allocation) handleState(ev *LandmarkEvent) {
	if _, ok := a.sessions[ev.ClientID]; !ok {
		return
	}
	if err := a.validateState(ev.State); err != nil {
		log.Printf("分配 %s: 丢弃客户端 %d 的状态: %v", a.JoinCode, ev.ClientID, err)
		return
	}
	if prev, ok := a.latest[ev.ClientID]; ok && ev.State.Seq != 0 && ev.State.Seq < prev.Seq {
		return // 乱序的旧状态
	}
	ev.State.ClientID = ev.ClientID
	a.latest[ev.ClientID] = ev.State
}

// validateState 限制关键点数量和 ID 范围，保证快照不超过 MaxPacketSize
func (a *Allocation) validateState(st *protocol.LandmarkState) error {
	if st == nil {
		return fmt.Errorf("%w: 空状态", ErrInvalidState)
	}
	if len(st.Landmarks) > a.maxLandmarks {
		return fmt.Errorf("%w: %d 个关键点，上限 %d", ErrInvalidState, len(st.Landmarks), a.maxLandmarks)
	}
	seen := make([]bool, a.maxLandmarks)
	for _, lm := range st.Landmarks {
		if lm == nil || lm.ID < 0 || int(lm.ID) >= a.maxLandmarks {
			return fmt.Errorf("%w: 关键点 ID 越界", ErrInvalidState)
		}
		if seen[lm.ID] {
			return fmt.Errorf("%w: 关键点 %d 重复", ErrInvalidState, lm.ID)
		}
		seen[lm.ID] = true
	}
	return nil
}

func (a *Allocation) handleStart(clientID int32) error {
	if clientID != HostClientID {
		return ErrNotHost
	}
	if a.started {
		return ErrSessionStarted
	}

	a.started = true
	a.wall.Reset()
	log.Printf("分配 %s: 会话开始 (tick %d)", a.JoinCode, a.tick)

	a.broadcast(protocol.NewSessionStartPacket(a.tick, time.Now().UnixMilli()))
	return nil
}

// step 每个 tick 推进墙体并广播快照
func (a *Allocation) step() {
	a.tick++
	if a.started {
		a.wall.Step()
	}

	for id, gone := range a.departed {
		if time.Since(gone.at) > ReconnectGrace {
			delete(a.departed, id)
		}
	}

	if len(a.sessions) == 0 {
		return
	}
	a.broadcast(protocol.NewRelaySnapshotPacket(a.snapshot()))
}

func (a *Allocation) snapshot() *protocol.RelaySnapshot {
	snap := &protocol.RelaySnapshot{
		Tick:       a.tick,
		ServerTime: time.Now().UnixMilli(),
		WallZ:      a.wall.Z(),
		States:     make([]*protocol.LandmarkState, 0, len(a.latest)),
	}
	for _, st := range a.latest {
		snap.States = append(snap.States, st)
	}
	sort.Slice(snap.States, func(i, j int) bool {
		return snap.States[i].ClientID < snap.States[j].ClientID
	})
	return snap
}

func (a *Allocation) broadcast(pkt *protocol.Packet) {
	data := protocol.MarshalPacket(pkt)
	if len(data) > protocol.MaxPacketSize {
		log.Printf("分配 %s: %s 消息过大 (%d bytes)，未发送", a.JoinCode, pkt.Type, len(data))
		return
	}
	for id, s := range a.sessions {
		if err := s.Send(data); err != nil {
			log.Printf("分配 %s: 发送 %s 到客户端 %d 失败: %v", a.JoinCode, pkt.Type, id, err)
		}
	}
}

func (a *Allocation) sendTo(s Session, pkt *protocol.Packet) {
	if err := s.Send(protocol.MarshalPacket(pkt)); err != nil {
		log.Printf("分配 %s: 发送 %s 到客户端 %d 失败: %v", a.JoinCode, pkt.Type, s.ClientID(), err)
	}
}

func (a *Allocation) updateCount() {
	a.clientCount.Store(int32(len(a.sessions)))
	if len(a.sessions) == 0 {
		a.emptySince.Store(time.Now().UnixNano())
	} else {
		a.emptySince.Store(0)
	}
}

func (a *Allocation) closeAllSessions() {
	for _, s := range a.sessions {
		s.CloseWithoutNotify()
	}
}
