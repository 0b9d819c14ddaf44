package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"posesync/pkg/core"
	"posesync/pkg/pose"
)

const (
	poseDialTimeout  = 5 * time.Second
	poseCloseTimeout = time.Second
	poseReadLimit    = 64 * 1024

	// 日志中保留的原始消息长度
	poseSnippetLength = 80
)

// PoseStream 连接姿态追踪服务，解码后写入帧队列
type PoseStream struct {
	url            string
	queue          *core.FrameQueue
	reconnectDelay time.Duration // 0 表示断开后不重连
	dialer         *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	connected atomic.Bool
	received  atomic.Int64
	malformed atomic.Int64
}

// NewPoseStream 创建姿态流，调用 Start 后开始连接
func NewPoseStream(url string, queue *core.FrameQueue, reconnectDelay time.Duration) *PoseStream {
	return &PoseStream{
		url:            url,
		queue:          queue,
		reconnectDelay: reconnectDelay,
		dialer: &websocket.Dialer{
			HandshakeTimeout: poseDialTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
	}
}

// Start 在后台连接并接收，连接失败只记录日志
func (p *PoseStream) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || p.closed {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()
}

func (p *PoseStream) run() {
	defer p.wg.Done()

	var limiter *rate.Limiter
	if p.reconnectDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(p.reconnectDelay), 1)
	}

	for {
		if limiter != nil {
			if err := limiter.Wait(p.ctx); err != nil {
				return
			}
		}

		conn, err := p.dial()
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Printf("连接姿态服务失败: %s: %v", p.url, err)
		} else {
			p.readLoop(conn)
		}

		if limiter == nil || p.ctx.Err() != nil {
			return
		}
		log.Printf("%v 后重连姿态服务", p.reconnectDelay)
	}
}

func (p *PoseStream) dial() (*websocket.Conn, error) {
	conn, _, err := p.dialer.DialContext(p.ctx, p.url, nil)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return nil, context.Canceled
	}
	p.conn = conn
	p.mu.Unlock()

	conn.SetReadLimit(poseReadLimit)
	p.connected.Store(true)
	log.Printf("已连接姿态服务: %s", p.url)
	return conn, nil
}

// readLoop 每条文本消息是一帧，格式错误的消息丢弃
func (p *PoseStream) readLoop(conn *websocket.Conn) {
	defer func() {
		p.connected.Store(false)
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
		}
		p.mu.Unlock()
		conn.Close()
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if p.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("姿态服务连接断开: %v", err)
			} else {
				log.Printf("姿态服务连接已关闭")
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		frame, err := pose.Decode(data)
		if err != nil {
			if n := p.malformed.Add(1); n%100 == 1 {
				log.Printf("丢弃姿态消息 (累计 %d): %v: %s", n, err, pose.Snippet(data, poseSnippetLength))
			}
			continue
		}
		p.queue.Enqueue(frame)
		p.received.Add(1)
	}
}

// Close 发送关闭帧并断开，不等待对端确认
func (p *PoseStream) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conn := p.conn
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(poseCloseTimeout)); err != nil &&
			!errors.Is(err, websocket.ErrCloseSent) {
			log.Printf("发送关闭帧失败: %v", err)
		}
		conn.Close()
	}
	p.wg.Wait()
}

// Connected 当前是否已连接
func (p *PoseStream) Connected() bool {
	return p.connected.Load()
}

// Received 已入队的帧数
func (p *PoseStream) Received() int64 {
	return p.received.Load()
}

// Malformed 丢弃的格式错误消息数
func (p *PoseStream) Malformed() int64 {
	return p.malformed.Load()
}
