package core

import (
	"log"

	"github.com/go-gl/mathgl/mgl64"
)

// TickResult 单次更新的统计
type TickResult struct {
	FrameApplied bool
	PoseID       int
	Updated      int // 成功更新目标的关键点数
	Skipped      int // 未注册或映射失败的关键点数
	Pending      int // 更新后队列中剩余的帧数
}

// Reconciler 逐帧驱动：出队一帧 -> 更新目标 -> 插值 -> 可见性
type Reconciler struct {
	Queue          *FrameQueue
	Registry       *Registry
	Mapper         *Mapper
	SmoothingSpeed float64
	VisibleScale   float64
	Logger         *log.Logger
}

// NewReconciler 创建驱动器
func NewReconciler(queue *FrameQueue, registry *Registry, mapper *Mapper) *Reconciler {
	return &Reconciler{
		Queue:          queue,
		Registry:       registry,
		Mapper:         mapper,
		SmoothingSpeed: DefaultSmoothingSpeed,
		VisibleScale:   DefaultVisibleScale,
		Logger:         log.Default(),
	}
}

// Tick 每帧调用一次
func (r *Reconciler) Tick(deltaTime float64) TickResult {
	var result TickResult

	// 1. 每帧最多处理一帧姿态数据
	if frame, ok := r.Queue.TryDequeue(); ok {
		result.FrameApplied = true
		result.PoseID = frame.ID

		// 2. 更新目标位置，单个关键点失败不影响其他关键点
		for _, lm := range frame.Landmarks {
			if _, exists := r.Registry.Entity(lm.ID); !exists {
				result.Skipped++
				continue
			}
			target, err := r.Mapper.Map(lm, frame.ID)
			if err != nil {
				r.Logger.Printf("跳过关键点 %d: %v", lm.ID, err)
				result.Skipped++
				continue
			}
			r.Registry.SetTarget(lm.ID, target)
			result.Updated++
		}
		if result.Skipped > 0 && result.Updated == 0 {
			r.Logger.Printf("姿态 %d: %d 个关键点均未更新", frame.ID, result.Skipped)
		}
	}

	// 3. 向目标插值
	t := Clamp01(deltaTime * r.SmoothingSpeed)
	r.Registry.ForEach(func(e *LandmarkEntity) {
		e.Current = Lerp(e.Current, e.Target, t)

		// 4. 按拥有者决定可见性
		world := r.Mapper.Root.LocalToWorld(e.Current)
		e.Scale = VisibilityScale(e.OwnerClientID, world.X(), r.VisibleScale)
	})

	result.Pending = r.Queue.Len()
	return result
}

// Clamp01 限制到 [0,1]
func Clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Lerp 线性插值，t >= 1 时精确返回 b
func Lerp(a, b mgl64.Vec3, t float64) mgl64.Vec3 {
	if t >= 1 {
		return b
	}
	if t <= 0 {
		return a
	}
	return a.Add(b.Sub(a).Mul(t))
}

// VisibilityScale 双人遮挡规则
// 拥有者 1 在 x > 0 时隐藏，拥有者 2 在 x < 0 时隐藏，其他拥有者始终可见
func VisibilityScale(ownerClientID int, worldX, visible float64) float64 {
	switch ownerClientID {
	case LeftOwnerClientID:
		if worldX > 0 {
			return 0
		}
	case RightOwnerClientID:
		if worldX < 0 {
			return 0
		}
	}
	return visible
}
