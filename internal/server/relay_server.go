package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"posesync/internal/config"
	"posesync/pkg/protocol"
)

// RelayServer 中继服务器：房主创建分配，其他客户端凭加入码加入
type RelayServer struct {
	manager *AllocationManager
	tokens  *TokenIssuer
	cfg     config.Config

	// 网络
	listener net.Listener
	addr     string
	proto    string

	// 控制
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewRelayServer 创建中继服务器，监听 cfg.RelayAddr
func NewRelayServer(cfg config.Config) *RelayServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &RelayServer{
		manager: NewAllocationManager(ctx, ManagerOptions{
			MaxConnections: cfg.MaxConnections,
			TPS:            cfg.RelayTPS,
			WallSpeed:      cfg.WallSpeed,
			WallStartZ:     cfg.WallStartZ,
			MaxLandmarks:   cfg.NumberOfLandmarks,
		}),
		tokens:   NewTokenIssuer(cfg.JWTSecret, SessionTTL),
		cfg:      cfg,
		addr:     cfg.RelayAddr,
		proto:    cfg.RelayProto,
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}
}

// Listen 打开监听端口，Start 之前可单独调用以获取实际地址
func (s *RelayServer) Listen() error {
	if s.listener != nil {
		return nil
	}
	listener, err := newListener(s.proto, s.addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	s.listener = listener
	log.Printf("中继服务器监听中: %s (%s)", listener.Addr(), s.proto)
	return nil
}

// Addr 实际监听地址
func (s *RelayServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start 启动服务器，阻塞直到 Shutdown
func (s *RelayServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.manager.Run()

	s.wg.Add(1)
	go s.acceptLoop()

	<-s.shutdown
	return nil
}

// Shutdown 优雅关闭服务器
func (s *RelayServer) Shutdown() {
	s.shutdownOnce.Do(func() {
		log.Println("正在关闭中继服务器...")

		s.cancel()
		s.manager.Shutdown()
		if s.listener != nil {
			s.listener.Close()
		}
		close(s.shutdown)

		s.wg.Wait()
		log.Println("中继服务器已关闭")
	})
}

// Allocations 分配管理器
func (s *RelayServer) Allocations() *AllocationManager {
	return s.manager
}

// acceptLoop 接受客户端连接
func (s *RelayServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				log.Println("停止接受新连接")
				return
			default:
				log.Printf("接受连接失败: %v", err)
				continue
			}
		}

		connection := NewConnection(conn, s)
		s.wg.Add(1)
		go connection.Handle(s.ctx, &s.wg)
	}
}

// handleHost 创建分配，连接成为房主
func (s *RelayServer) handleHost(c *Connection, ev *HostEvent) error {
	alloc, clientID, err := s.manager.Host(c, ev.PlayerName, int(ev.MaxConnections))
	if err != nil {
		_ = c.SendPacket(protocol.NewJoinErrorPacket(err.Error()))
		return fmt.Errorf("创建分配失败: %w", err)
	}
	return s.completeJoin(c, alloc, clientID)
}

// handleJoin 凭加入码加入分配
func (s *RelayServer) handleJoin(c *Connection, ev *JoinEvent) error {
	alloc, clientID, err := s.manager.Join(c, ev.PlayerName, ev.JoinCode)
	if err != nil {
		_ = c.SendPacket(protocol.NewJoinErrorPacket(err.Error()))
		return fmt.Errorf("加入分配失败: %w", err)
	}
	return s.completeJoin(c, alloc, clientID)
}

// handleReconnect 凭会话 Token 重连
func (s *RelayServer) handleReconnect(c *Connection, ev *ReconnectEvent) error {
	claims, err := s.tokens.Verify(ev.SessionToken)
	if err != nil {
		_ = c.SendPacket(protocol.NewJoinErrorPacket(err.Error()))
		return err
	}

	alloc, ok := s.manager.ByID(claims.AllocationID)
	if !ok {
		_ = c.SendPacket(protocol.NewJoinErrorPacket(ErrAllocationClosed.Error()))
		return fmt.Errorf("%w: %s", ErrAllocationClosed, claims.AllocationID)
	}
	if err := alloc.Reconnect(c, claims.ClientID); err != nil {
		_ = c.SendPacket(protocol.NewJoinErrorPacket(err.Error()))
		return fmt.Errorf("重连失败: %w", err)
	}
	return s.completeJoin(c, alloc, claims.ClientID)
}

func (s *RelayServer) completeJoin(c *Connection, alloc *Allocation, clientID int32) error {
	c.attach(alloc)
	if c.isClosed() {
		// 加入期间连接已断开，补发离开
		alloc.Leave(clientID, c)
		return ErrConnectionClosed
	}

	token, err := s.tokens.Generate(clientID, alloc.JoinCode, alloc.ID)
	if err != nil {
		return fmt.Errorf("生成会话 Token 失败: %w", err)
	}

	log.Printf("客户端 %d 进入分配 %s", clientID, alloc.JoinCode)
	return c.SendPacket(protocol.NewJoinResponsePacket(&protocol.JoinResponse{
		Success:        true,
		ClientID:       clientID,
		JoinCode:       alloc.JoinCode,
		AllocationID:   alloc.ID,
		SessionToken:   token,
		MaxConnections: int32(alloc.MaxConnections),
	}))
}
