package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JoinCodeLength         = 6
	joinCodeAlphabet       = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // 去掉易混淆的 I O 0 1
	MaxAllocations         = 100
	AllocationEmptyTimeout = 60 * time.Second
	cleanupInterval        = 10 * time.Second
)

var (
	ErrTooManyAllocations = errors.New("分配数量已达上限")
	ErrUnknownJoinCode    = errors.New("加入码无效")
)

// ManagerOptions 分配管理器参数
type ManagerOptions struct {
	MaxConnections int // 默认的房主之外连接数
	TPS            int
	WallSpeed      float64
	WallStartZ     float64
	MaxLandmarks   int
}

// AllocationManager 按加入码管理分配
type AllocationManager struct {
	ctx   context.Context
	opts  ManagerOptions
	byID  map[string]*Allocation
	codes map[string]*Allocation // 加入码 -> 分配
	mu    sync.RWMutex
	wg    sync.WaitGroup
	stop  chan struct{}
	once  sync.Once
}

// NewAllocationManager 创建分配管理器
func NewAllocationManager(ctx context.Context, opts ManagerOptions) *AllocationManager {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 3
	}
	return &AllocationManager{
		ctx:   ctx,
		opts:  opts,
		byID:  make(map[string]*Allocation),
		codes: make(map[string]*Allocation),
		stop:  make(chan struct{}),
	}
}

// Run 启动空分配清理
func (m *AllocationManager) Run() {
	m.wg.Add(1)
	go m.cleanupLoop()
}

func (m *AllocationManager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.cleanupEmpty(now)
		}
	}
}

// cleanupEmpty 关闭空置超时的分配
func (m *AllocationManager) cleanupEmpty(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, alloc := range m.byID {
		if alloc.ClientCount() == 0 && alloc.EmptyFor(now) > AllocationEmptyTimeout {
			log.Printf("清理空分配: %s (%s)", alloc.JoinCode, id)
			alloc.Shutdown()
			delete(m.byID, id)
			delete(m.codes, alloc.JoinCode)
			removed++
		}
	}
	return removed
}

// Create 创建分配并启动其循环，maxConnections 不超过服务器上限
func (m *AllocationManager) Create(maxConnections int) (*Allocation, error) {
	if maxConnections <= 0 || maxConnections > m.opts.MaxConnections {
		maxConnections = m.opts.MaxConnections
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.byID) >= MaxAllocations {
		return nil, ErrTooManyAllocations
	}

	code, err := m.uniqueJoinCode()
	if err != nil {
		return nil, err
	}

	alloc := NewAllocation(m.ctx, AllocationOptions{
		ID:             uuid.NewString(),
		JoinCode:       code,
		MaxConnections: maxConnections,
		TPS:            m.opts.TPS,
		WallSpeed:      m.opts.WallSpeed,
		WallStartZ:     m.opts.WallStartZ,
		MaxLandmarks:   m.opts.MaxLandmarks,
	})
	m.byID[alloc.ID] = alloc
	m.codes[code] = alloc

	m.wg.Add(1)
	go alloc.Run(&m.wg)

	log.Printf("创建分配: %s (%s)，最大连接数 %d", code, alloc.ID, maxConnections)
	return alloc, nil
}

// Host 创建分配并让 session 作为房主加入
func (m *AllocationManager) Host(session Session, name string, maxConnections int) (*Allocation, int32, error) {
	alloc, err := m.Create(maxConnections)
	if err != nil {
		return nil, -1, err
	}
	clientID, err := alloc.Join(session, name)
	if err != nil {
		m.remove(alloc)
		return nil, -1, err
	}
	return alloc, clientID, nil
}

// Join 通过加入码加入，不区分大小写
func (m *AllocationManager) Join(session Session, name, joinCode string) (*Allocation, int32, error) {
	alloc, ok := m.ByJoinCode(joinCode)
	if !ok {
		return nil, -1, fmt.Errorf("%w: %q", ErrUnknownJoinCode, joinCode)
	}
	clientID, err := alloc.Join(session, name)
	if err != nil {
		return nil, -1, err
	}
	return alloc, clientID, nil
}

// ByJoinCode 查找分配
func (m *AllocationManager) ByJoinCode(joinCode string) (*Allocation, bool) {
	code := NormalizeJoinCode(joinCode)
	m.mu.RLock()
	defer m.mu.RUnlock()
	alloc, ok := m.codes[code]
	return alloc, ok
}

// ByID 按分配 ID 查找
func (m *AllocationManager) ByID(id string) (*Allocation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alloc, ok := m.byID[id]
	return alloc, ok
}

// Len 当前分配数量
func (m *AllocationManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func (m *AllocationManager) remove(alloc *Allocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alloc.Shutdown()
	delete(m.byID, alloc.ID)
	delete(m.codes, alloc.JoinCode)
}

// uniqueJoinCode 调用方持有锁
func (m *AllocationManager) uniqueJoinCode() (string, error) {
	for attempt := 0; attempt < 16; attempt++ {
		code, err := GenerateJoinCode()
		if err != nil {
			return "", err
		}
		if _, taken := m.codes[code]; !taken {
			return code, nil
		}
	}
	return "", errors.New("无法生成唯一加入码")
}

// Shutdown 关闭所有分配并等待循环退出
func (m *AllocationManager) Shutdown() {
	m.once.Do(func() { close(m.stop) })

	m.mu.Lock()
	log.Printf("关闭 %d 个分配...", len(m.byID))
	for _, alloc := range m.byID {
		alloc.Shutdown()
	}
	m.mu.Unlock()

	m.wg.Wait()
	log.Println("所有分配已关闭")
}

// GenerateJoinCode 生成随机加入码
func GenerateJoinCode() (string, error) {
	var sb strings.Builder
	limit := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := 0; i < JoinCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("生成加入码失败: %w", err)
		}
		sb.WriteByte(joinCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeJoinCode 去空白并转为大写
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
