package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"posesync/pkg/core"
	"posesync/pkg/pose"
)

// FrameSource 按顺序产出姿态帧
type FrameSource interface {
	Next() pose.Frame
}

// Recording 循环播放录制的帧
type Recording struct {
	frames []pose.Frame
	next   int
}

// LoadRecording 读取 JSON Lines 文件，每行一帧，跳过空行
func LoadRecording(path string) ([]pose.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frames []pose.Frame
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		frame, err := pose.Decode([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s: 没有可回放的帧", path)
	}
	return frames, nil
}

// NewRecording 创建回放源，poseID >= 0 时覆盖帧中的 id
func NewRecording(frames []pose.Frame, poseID int) *Recording {
	copied := make([]pose.Frame, len(frames))
	for i, f := range frames {
		copied[i] = f
		if poseID >= 0 {
			copied[i].ID = poseID
		}
	}
	return &Recording{frames: copied}
}

func (r *Recording) Next() pose.Frame {
	f := r.frames[r.next]
	r.next = (r.next + 1) % len(r.frames)
	return f
}

// SyntheticSkeleton 左右摇摆的合成骨架
type SyntheticSkeleton struct {
	PoseID    int
	Landmarks int
	Period    time.Duration
	step      int
	rate      float64
}

// NewSyntheticSkeleton rate 为每秒帧数，用于换算摇摆相位
func NewSyntheticSkeleton(poseID, landmarks int, rate float64) *SyntheticSkeleton {
	if landmarks <= 0 {
		landmarks = core.DefaultNumberOfLandmarks
	}
	if rate <= 0 {
		rate = 30
	}
	return &SyntheticSkeleton{PoseID: poseID, Landmarks: landmarks, Period: 4 * time.Second, rate: rate}
}

func (s *SyntheticSkeleton) Next() pose.Frame {
	t := float64(s.step) / s.rate
	s.step++
	sway := 0.15 * math.Sin(2*math.Pi*t/s.Period.Seconds())

	frame := pose.Frame{ID: s.PoseID, Landmarks: make([]pose.Landmark, s.Landmarks)}
	for i := range frame.Landmarks {
		// 从头到脚排成一列，越往上摆动越大
		height := float64(i) / float64(s.Landmarks)
		frame.Landmarks[i] = pose.Landmark{
			ID: i,
			X:  clampUnit(0.5 + sway*(1-height) + 0.05*math.Sin(float64(i))),
			Y:  clampUnit(0.1 + 0.8*height),
		}
	}
	return frame
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// PoseReplayServer 通过 WebSocket 推送姿态帧，替代摄像头追踪进程
type PoseReplayServer struct {
	addr      string
	rate      float64
	newSource func() FrameSource

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	mu      sync.Mutex
	clients int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPoseReplayServer 每个客户端获得独立的帧源
func NewPoseReplayServer(addr string, rate float64, newSource func() FrameSource) *PoseReplayServer {
	if rate <= 0 {
		rate = 30
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &PoseReplayServer{
		addr:      addr,
		rate:      rate,
		newSource: newSource,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 本地开发用，允许任意来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	mux := http.NewServeMux()
	mux.Handle("/", s)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Listen 打开监听端口
func (s *PoseReplayServer) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	s.listener = ln
	log.Printf("姿态回放服务监听中: ws://%s/", ln.Addr())
	return nil
}

// Addr 实际监听地址
func (s *PoseReplayServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve 阻塞直到 Shutdown
func (s *PoseReplayServer) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接受连接并结束所有推送
func (s *PoseReplayServer) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// Clients 当前连接数
func (s *PoseReplayServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients
}

func (s *PoseReplayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket 升级失败: %v", err)
		return
	}

	s.wg.Add(1)
	s.mu.Lock()
	s.clients++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.clients--
		s.mu.Unlock()
		s.wg.Done()
	}()

	log.Printf("姿态客户端已连接: %s", conn.RemoteAddr())
	s.stream(conn, s.newSource())
	log.Printf("姿态客户端已断开: %s", conn.RemoteAddr())
}

// stream 按固定频率写帧，读循环只用于感知关闭
func (s *PoseReplayServer) stream(conn *websocket.Conn, source FrameSource) {
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.rate))
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			return
		case <-ticker.C:
			data, err := pose.Encode(source.Next())
			if err != nil {
				log.Printf("编码姿态帧失败: %v", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
