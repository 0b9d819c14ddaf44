package server

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

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"posesync/pkg/protocol"
)

const (
	readTimeout  = 5 * time.Second // 读取超时
	writeTimeout = 1 * time.Second // 写入超时

	// 入站限速：关键点上报 20Hz + 心跳，留足余量
	inboundRate  = 120
	inboundBurst = 60
)

var (
	ErrSendQueueFull    = errors.New("发送队列满")
	ErrConnectionClosed = errors.New("连接已关闭")
)

// relayHandler 连接把会话类消息交给服务器处理
type relayHandler interface {
	handleHost(c *Connection, ev *HostEvent) error
	handleJoin(c *Connection, ev *JoinEvent) error
	handleReconnect(c *Connection, ev *ReconnectEvent) error
}

// Connection 表示一个客户端连接
type Connection struct {
	id       string
	conn     net.Conn
	handler  relayHandler
	clientID int32

	allocation atomic.Pointer[Allocation]
	limiter    *rate.Limiter
	dropped    atomic.Int64

	// 发送队列
	sendChan chan []byte
	closeCh  chan struct{}
	closed   bool
	closeMu  sync.Mutex

	lastRecvTime atomic.Value
	rtt          atomic.Int64
}

// NewConnection 创建新连接
func NewConnection(conn net.Conn, handler relayHandler) *Connection {
	c := &Connection{
		id:       uuid.NewString(),
		conn:     conn,
		handler:  handler,
		clientID: -1,                     // -1 表示未分配
		limiter:  rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
		sendChan: make(chan []byte, 256), // 发送队列缓冲区
		closeCh:  make(chan struct{}),
	}
	c.lastRecvTime.Store(time.Now())
	return c
}

// Handle 处理连接，直到上下文取消或连接关闭
func (c *Connection) Handle(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	log.Printf("连接 %s: 处理开始 (%s)", c.id, c.conn.RemoteAddr())

	wg.Add(3)
	go c.startHeartbeat(ctx, wg)
	go c.sendLoop(ctx, wg)
	go c.receiveLoop(ctx, wg)

	select {
	case <-ctx.Done():
	case <-c.closeCh:
	}

	c.Close()
}

// Close 关闭连接并通知所在分配
func (c *Connection) Close() {
	c.closeWithNotify(true)
}

// CloseWithoutNotify 关闭连接但不触发离开逻辑
func (c *Connection) CloseWithoutNotify() {
	c.closeWithNotify(false)
}

func (c *Connection) closeWithNotify(notify bool) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	close(c.closeCh)
	if c.conn != nil {
		c.conn.Close()
	}
	close(c.sendChan)
	c.closeMu.Unlock()

	if notify {
		if alloc := c.allocation.Load(); alloc != nil {
			alloc.Leave(c.ClientID(), c)
		}
	}

	if n := c.dropped.Load(); n > 0 {
		log.Printf("连接 %s: 已关闭 (客户端 %d, 限速丢弃 %d 条)", c.id, c.ClientID(), n)
		return
	}
	log.Printf("连接 %s: 已关闭 (客户端 %d)", c.id, c.ClientID())
}

// Send 发送数据（异步）
func (c *Connection) Send(data []byte) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.sendChan <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendPacket 编码并发送
func (c *Connection) SendPacket(pkt *protocol.Packet) error {
	return c.Send(protocol.MarshalPacket(pkt))
}

// sendLoop 发送循环
func (c *Connection) sendLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case data, ok := <-c.sendChan:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := protocol.WriteFrame(c.conn, data); err != nil {
				log.Printf("连接 %s: 发送失败: %v", c.id, err)
				c.Close()
				return
			}
		}
	}
}

// receiveLoop 接收循环
func (c *Connection) receiveLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		data, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if errors.Is(err, protocol.ErrEmptyPacket) {
				continue
			}
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Printf("连接 %s: 读取超时", c.id)
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				log.Printf("连接 %s: 读取失败: %v", c.id, err)
			}
			c.Close()
			return
		}

		c.onMessageReceived()
		if !c.limiter.Allow() {
			if n := c.dropped.Add(1); n%100 == 1 {
				log.Printf("连接 %s: 超出速率限制，丢弃消息 (累计 %d)", c.id, n)
			}
			continue
		}
		if err := c.handleMessage(data); err != nil {
			log.Printf("连接 %s: 处理消息失败: %v", c.id, err)
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Connection) handleMessage(data []byte) error {
	event, err := DecodePacket(data)
	if err != nil {
		return fmt.Errorf("反序列化失败: %w", err)
	}

	switch event.Kind {
	case EventHost:
		if c.allocation.Load() != nil {
			return fmt.Errorf("客户端 %d 已在分配中", c.ClientID())
		}
		return c.handler.handleHost(c, event.Host)

	case EventJoin:
		if c.allocation.Load() != nil {
			return fmt.Errorf("客户端 %d 已在分配中", c.ClientID())
		}
		return c.handler.handleJoin(c, event.Join)

	case EventReconnect:
		if c.allocation.Load() != nil {
			return fmt.Errorf("客户端 %d 已在分配中", c.ClientID())
		}
		return c.handler.handleReconnect(c, event.Reconnect)

	case EventStartSession:
		alloc := c.allocation.Load()
		if alloc == nil {
			return errNotInAllocation
		}
		return alloc.StartSession(c.ClientID())

	case EventLandmarks:
		alloc := c.allocation.Load()
		if alloc == nil {
			return errNotInAllocation
		}
		event.Landmarks.ClientID = c.ClientID()
		alloc.SubmitState(event.Landmarks)
		return nil

	case EventPing:
		return c.SendPacket(protocol.NewPongPacket(event.Ping.ClientTime, time.Now().UnixMilli()))

	case EventPong:
		c.handlePong(event.Pong)
		return nil

	default:
		return fmt.Errorf("未知消息类型: %s", event.Type)
	}
}

var errNotInAllocation = errors.New("尚未加入分配")

// String 返回连接的字符串表示
func (c *Connection) String() string {
	if id := c.ClientID(); id >= 0 {
		return fmt.Sprintf("Connection{%d, %s}", id, c.conn.RemoteAddr())
	}
	return fmt.Sprintf("Connection{%s}", c.conn.RemoteAddr())
}

// ID 连接的唯一标识
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) ClientID() int32 {
	return atomic.LoadInt32(&c.clientID)
}

func (c *Connection) SetClientID(id int32) {
	atomic.StoreInt32(&c.clientID, id)
}

// attach 记录连接所在的分配，客户端 ID 由分配循环设置
func (c *Connection) attach(alloc *Allocation) {
	c.allocation.Store(alloc)
}

// RTT 最近一次心跳往返时间（毫秒）
func (c *Connection) RTT() int64 {
	return c.rtt.Load()
}

const (
	heartbeatInterval = 2 * time.Second
	heartbeatTimeout  = 10 * time.Second
)

func (c *Connection) startHeartbeat(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case <-ticker.C:
			lastRecv, _ := c.lastRecvTime.Load().(time.Time)
			if !lastRecv.IsZero() && time.Since(lastRecv) > heartbeatTimeout {
				log.Printf("连接 %s: 心跳超时", c.id)
				c.Close()
				return
			}
			_ = c.SendPacket(protocol.NewPingPacket(time.Now().UnixMilli()))
		}
	}
}

func (c *Connection) handlePong(pong *PongEvent) {
	if pong == nil || pong.ClientTime <= 0 {
		return
	}
	c.rtt.Store(time.Now().UnixMilli() - pong.ClientTime)
}

func (c *Connection) onMessageReceived() {
	c.lastRecvTime.Store(time.Now())
}

func (c *Connection) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}
