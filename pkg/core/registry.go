package core

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	ErrLandmarkOutOfRange = errors.New("关键点 ID 超出范围")
	ErrLandmarkRegistered = errors.New("关键点已注册")
)

// LandmarkEntity 单个关键点实体（本地坐标系）
type LandmarkEntity struct {
	ID            int
	OwnerClientID int // 创建时确定，之后不变
	Current       mgl64.Vec3
	Target        mgl64.Vec3
	Scale         float64
	Handle        any // 外部持有的可视对象
}

// Registry 关键点注册表，按 ID 索引的定长数组
type Registry struct {
	entities []*LandmarkEntity
	count    int
}

// NewRegistry 创建容量为 numberOfLandmarks 的注册表
func NewRegistry(numberOfLandmarks int) *Registry {
	if numberOfLandmarks < 0 {
		numberOfLandmarks = 0
	}
	return &Registry{
		entities: make([]*LandmarkEntity, numberOfLandmarks),
	}
}

// Capacity 可注册的关键点数量
func (r *Registry) Capacity() int {
	return len(r.entities)
}

// Len 已注册数量
func (r *Registry) Len() int {
	return r.count
}

// Register 注册关键点，初始目标等于初始位置
func (r *Registry) Register(id, ownerClientID int, initial mgl64.Vec3, handle any) error {
	if id < 0 || id >= len(r.entities) {
		return fmt.Errorf("%w: %d", ErrLandmarkOutOfRange, id)
	}
	if r.entities[id] != nil {
		return fmt.Errorf("%w: %d", ErrLandmarkRegistered, id)
	}

	r.entities[id] = &LandmarkEntity{
		ID:            id,
		OwnerClientID: ownerClientID,
		Current:       initial,
		Target:        initial,
		Scale:         DefaultVisibleScale,
		Handle:        handle,
	}
	r.count++
	return nil
}

// RegisterAll 仅当本端是拥有者时注册 0..n-1 全部关键点
// 非拥有者保持空表，不是错误
func (r *Registry) RegisterAll(owner bool, ownerClientID int, initial mgl64.Vec3) error {
	if !owner {
		return nil
	}
	for id := range r.entities {
		if err := r.Register(id, ownerClientID, initial, nil); err != nil {
			return err
		}
	}
	return nil
}

// Entity 按 ID 查找
func (r *Registry) Entity(id int) (*LandmarkEntity, bool) {
	if id < 0 || id >= len(r.entities) {
		return nil, false
	}
	e := r.entities[id]
	return e, e != nil
}

// Target 获取目标位置
func (r *Registry) Target(id int) (mgl64.Vec3, bool) {
	e, ok := r.Entity(id)
	if !ok {
		return mgl64.Vec3{}, false
	}
	return e.Target, true
}

// SetTarget 设置目标位置，未注册的 ID 返回 false
func (r *Registry) SetTarget(id int, pos mgl64.Vec3) bool {
	e, ok := r.Entity(id)
	if !ok {
		return false
	}
	e.Target = pos
	return true
}

// ForEach 按 ID 顺序遍历已注册实体
func (r *Registry) ForEach(fn func(e *LandmarkEntity)) {
	for _, e := range r.entities {
		if e != nil {
			fn(e)
		}
	}
}

// LandmarkPoint 关键点的只读快照，用于网络同步与绘制
type LandmarkPoint struct {
	ID       int
	Position mgl64.Vec3
	Scale    float64
}

// Points 当前位置快照
func (r *Registry) Points() []LandmarkPoint {
	points := make([]LandmarkPoint, 0, r.count)
	r.ForEach(func(e *LandmarkEntity) {
		points = append(points, LandmarkPoint{ID: e.ID, Position: e.Current, Scale: e.Scale})
	})
	return points
}
