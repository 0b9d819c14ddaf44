package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"

	"posesync/internal/server"
	"posesync/pkg/protocol"
)

var (
	ErrNotConnected   = errors.New("未连接到中继服务器")
	ErrJoinRejected   = errors.New("加入被拒绝")
	ErrJoinTimeout    = errors.New("等待加入响应超时")
	ErrSendQueueFull  = errors.New("发送队列满")
	ErrAlreadyInRelay = errors.New("已加入分配")
)

// NetworkClient 中继客户端
type NetworkClient struct {
	conn       net.Conn
	serverAddr string
	proto      string

	// 分配信息，加入成功后设置
	mu           sync.Mutex
	joined       bool
	clientID     int32
	joinCode     string
	allocationID string
	sessionToken string

	// 网络
	connected atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// 消息队列
	joinChan         chan *protocol.JoinResponse
	snapshotChan     chan *protocol.RelaySnapshot
	sessionStartChan chan *protocol.SessionStart
	playerLeaveChan  chan int32

	// 发送队列
	seq      atomic.Int32
	sendChan chan []byte

	rtt     atomic.Int64
	errChan chan error
}

// NewNetworkClient 创建中继客户端，proto 为 tcp 或 kcp
func NewNetworkClient(serverAddr, proto string) *NetworkClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &NetworkClient{
		serverAddr:       serverAddr,
		proto:            proto,
		clientID:         -1,
		ctx:              ctx,
		cancel:           cancel,
		joinChan:         make(chan *protocol.JoinResponse, 1),
		snapshotChan:     make(chan *protocol.RelaySnapshot, SnapshotBufferSize),
		sessionStartChan: make(chan *protocol.SessionStart, 1),
		playerLeaveChan:  make(chan int32, 16),
		sendChan:         make(chan []byte, 256),
		errChan:          make(chan error, 1),
	}
}

// Connect 连接到中继服务器
func (nc *NetworkClient) Connect() error {
	log.Printf("连接到中继服务器: %s (%s)", nc.serverAddr, nc.proto)

	conn, err := nc.dial()
	if err != nil {
		return fmt.Errorf("连接服务器失败: %w", err)
	}

	nc.conn = conn
	nc.connected.Store(true)

	log.Printf("已连接到中继服务器: %s", conn.RemoteAddr())

	nc.wg.Add(3)
	go nc.receiveLoop()
	go nc.sendLoop()
	go nc.pingLoop()
	return nil
}

func (nc *NetworkClient) dial() (net.Conn, error) {
	switch nc.proto {
	case "", "tcp":
		return net.DialTimeout("tcp", nc.serverAddr, DialTimeout)
	case "kcp":
		conn, err := kcp.DialWithOptions(nc.serverAddr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		server.ConfigureKCP(conn)
		return conn, nil
	default:
		return nil, fmt.Errorf("不支持的协议: %s", nc.proto)
	}
}

// Close 关闭连接
func (nc *NetworkClient) Close() {
	nc.closeOnce.Do(func() {
		nc.connected.Store(false)
		nc.cancel()

		if nc.conn != nil {
			nc.conn.Close()
		}

		nc.wg.Wait()
		log.Printf("中继客户端已关闭")
	})
}

// IsConnected 检查是否已连接
func (nc *NetworkClient) IsConnected() bool {
	return nc.connected.Load()
}

// ========== 分配 ==========

// Host 创建分配并成为房主，maxConnections 为 0 时使用服务器默认值
func (nc *NetworkClient) Host(playerName string, maxConnections int) (*protocol.JoinResponse, error) {
	return nc.requestJoin(protocol.NewHostRequestPacket(playerName, int32(maxConnections)))
}

// Join 凭加入码加入分配
func (nc *NetworkClient) Join(playerName, joinCode string) (*protocol.JoinResponse, error) {
	return nc.requestJoin(protocol.NewJoinRequestPacket(playerName, joinCode))
}

// Reconnect 凭会话 Token 恢复原客户端 ID
func (nc *NetworkClient) Reconnect(sessionToken string) (*protocol.JoinResponse, error) {
	return nc.requestJoin(protocol.NewReconnectRequestPacket(sessionToken))
}

func (nc *NetworkClient) requestJoin(pkt *protocol.Packet) (*protocol.JoinResponse, error) {
	nc.mu.Lock()
	joined := nc.joined
	nc.mu.Unlock()
	if joined {
		return nil, ErrAlreadyInRelay
	}

	if err := nc.sendPacket(pkt); err != nil {
		return nil, err
	}

	select {
	case resp := <-nc.joinChan:
		if !resp.Success {
			return resp, fmt.Errorf("%w: %s", ErrJoinRejected, resp.ErrorMessage)
		}
		nc.mu.Lock()
		nc.joined = true
		nc.clientID = resp.ClientID
		nc.joinCode = resp.JoinCode
		nc.allocationID = resp.AllocationID
		nc.sessionToken = resp.SessionToken
		nc.mu.Unlock()
		log.Printf("已加入分配 %s，客户端 ID: %d", resp.JoinCode, resp.ClientID)
		return resp, nil

	case err := <-nc.errChan:
		return nil, err

	case <-nc.ctx.Done():
		return nil, ErrNotConnected

	case <-time.After(JoinTimeout):
		return nil, ErrJoinTimeout
	}
}

// StartSession 房主开始会话
func (nc *NetworkClient) StartSession() error {
	return nc.sendPacket(protocol.NewStartSessionPacket())
}

// SendLandmarks 上报本地关键点，客户端 ID 和序号由客户端填写
func (nc *NetworkClient) SendLandmarks(state *protocol.LandmarkState) error {
	if state == nil {
		return nil
	}
	state.ClientID = nc.ClientID()
	state.Seq = nc.seq.Add(1)
	return nc.sendPacket(protocol.NewLandmarkStatePacket(state))
}

// ClientID 分配的客户端 ID，未加入时为 -1
func (nc *NetworkClient) ClientID() int32 {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.clientID
}

// IsHost 是否为房主
func (nc *NetworkClient) IsHost() bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.joined && nc.clientID == server.HostClientID
}

// JoinCode 当前分配的加入码
func (nc *NetworkClient) JoinCode() string {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.joinCode
}

// SessionToken 用于重连的会话 Token
func (nc *NetworkClient) SessionToken() string {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.sessionToken
}

// RTT 最近一次心跳往返时间（毫秒）
func (nc *NetworkClient) RTT() int64 {
	return nc.rtt.Load()
}

// ========== 消息接收 ==========

// receiveLoop 接收循环
func (nc *NetworkClient) receiveLoop() {
	defer nc.wg.Done()

	for {
		data, err := protocol.ReadFrame(nc.conn)
		if err != nil {
			if errors.Is(err, protocol.ErrEmptyPacket) {
				continue
			}
			if nc.ctx.Err() == nil {
				if !errors.Is(err, io.EOF) {
					log.Printf("读取失败: %v", err)
				}
				nc.reportError(fmt.Errorf("%w: %w", ErrNotConnected, err))
			}
			nc.connected.Store(false)
			return
		}

		if err := nc.handleMessage(data); err != nil {
			log.Printf("处理消息失败: %v", err)
		}
	}
}

// handleMessage 处理接收到的消息
func (nc *NetworkClient) handleMessage(data []byte) error {
	pkt, err := protocol.UnmarshalPacket(data)
	if err != nil {
		return fmt.Errorf("反序列化失败: %w", err)
	}

	switch pkt.Type {
	case protocol.MessageTypeJoinResponse:
		resp, err := protocol.ParseJoinResponse(pkt)
		if err != nil {
			return err
		}
		select {
		case nc.joinChan <- resp:
		default:
		}

	case protocol.MessageTypeRelaySnapshot:
		snap, err := protocol.ParseRelaySnapshot(pkt)
		if err != nil {
			return err
		}
		// 队列满时丢弃最旧的快照
		for {
			select {
			case nc.snapshotChan <- snap:
				return nil
			default:
			}
			select {
			case <-nc.snapshotChan:
			default:
			}
		}

	case protocol.MessageTypeSessionStart:
		start, err := protocol.ParseSessionStart(pkt)
		if err != nil {
			return err
		}
		select {
		case nc.sessionStartChan <- start:
		default:
		}

	case protocol.MessageTypePlayerLeave:
		leave, err := protocol.ParsePlayerLeave(pkt)
		if err != nil {
			return err
		}
		select {
		case nc.playerLeaveChan <- leave.ClientID:
		default:
		}

	case protocol.MessageTypePing:
		ping, err := protocol.ParsePing(pkt)
		if err != nil {
			return err
		}
		return nc.sendPacket(protocol.NewPongPacket(ping.ClientTime, time.Now().UnixMilli()))

	case protocol.MessageTypePong:
		pong, err := protocol.ParsePong(pkt)
		if err != nil {
			return err
		}
		if pong.ClientTime > 0 {
			nc.rtt.Store(time.Now().UnixMilli() - pong.ClientTime)
		}

	default:
		return fmt.Errorf("未知消息类型: %s", pkt.Type)
	}

	return nil
}

func (nc *NetworkClient) reportError(err error) {
	select {
	case nc.errChan <- err:
	default:
	}
}

// ========== 消息发送 ==========

// sendLoop 发送循环
func (nc *NetworkClient) sendLoop() {
	defer nc.wg.Done()

	for {
		select {
		case <-nc.ctx.Done():
			return

		case data := <-nc.sendChan:
			_ = nc.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := protocol.WriteFrame(nc.conn, data); err != nil {
				log.Printf("发送数据失败: %v", err)
				nc.connected.Store(false)
				return
			}
		}
	}
}

// pingLoop 定期发送心跳测量往返时间
func (nc *NetworkClient) pingLoop() {
	defer nc.wg.Done()

	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-nc.ctx.Done():
			return
		case <-ticker.C:
			_ = nc.sendPacket(protocol.NewPingPacket(time.Now().UnixMilli()))
		}
	}
}

// sendPacket 编码并放入发送队列
func (nc *NetworkClient) sendPacket(pkt *protocol.Packet) error {
	if !nc.connected.Load() {
		return ErrNotConnected
	}
	select {
	case nc.sendChan <- protocol.MarshalPacket(pkt):
		return nil
	default:
		return ErrSendQueueFull
	}
}

// ========== 状态接收 ==========

// ReceiveSnapshot 接收中继快照（非阻塞）
func (nc *NetworkClient) ReceiveSnapshot() *protocol.RelaySnapshot {
	select {
	case snap := <-nc.snapshotChan:
		return snap
	default:
		return nil
	}
}

// ReceiveSessionStart 接收会话开始（非阻塞）
func (nc *NetworkClient) ReceiveSessionStart() *protocol.SessionStart {
	select {
	case start := <-nc.sessionStartChan:
		return start
	default:
		return nil
	}
}

// ReceivePlayerLeave 接收客户端离开（非阻塞），没有时返回 -1
func (nc *NetworkClient) ReceivePlayerLeave() int32 {
	select {
	case clientID := <-nc.playerLeaveChan:
		return clientID
	default:
		return -1
	}
}
