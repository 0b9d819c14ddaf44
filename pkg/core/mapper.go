package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"posesync/pkg/pose"
)

// OffsetPoseID 使用 +Offset 的姿态来源 ID，其余来源使用 -Offset
// 仅支持两个同时在场的姿态来源
const OffsetPoseID = 1

// Mapper 将归一化 2D 关键点映射到化身根节点的本地 3D 坐标
type Mapper struct {
	Camera  Camera
	Root    Transform
	Offset  float64 // 水平像素偏移量
	MirrorX bool    // x 翻转为 1-x
}

// NewMapper 创建映射器
func NewMapper(camera Camera, root Transform, offset float64, mirrorX bool) *Mapper {
	return &Mapper{
		Camera:  camera,
		Root:    root,
		Offset:  offset,
		MirrorX: mirrorX,
	}
}

// ScreenPoint 计算投影前的屏幕坐标（像素，左下角原点）
func (m *Mapper) ScreenPoint(lm pose.Landmark, poseID int) mgl64.Vec3 {
	width, height := m.Camera.Viewport()

	x := lm.X
	if m.MirrorX {
		x = 1 - x
	}
	y := 1 - lm.Y

	px := x * float64(width)
	py := y * float64(height)

	if poseID == OffsetPoseID {
		px += m.Offset
	} else {
		px -= m.Offset
	}

	return mgl64.Vec3{px, py, m.Camera.NearClip() + DepthAheadOfNearClip}
}

// Map 屏幕坐标 -> 世界坐标 -> 根节点本地坐标
func (m *Mapper) Map(lm pose.Landmark, poseID int) (mgl64.Vec3, error) {
	world, err := m.Camera.ScreenToWorld(m.ScreenPoint(lm, poseID))
	if err != nil {
		return mgl64.Vec3{}, fmt.Errorf("关键点 %d 投影失败: %w", lm.ID, err)
	}

	local, err := m.Root.WorldToLocal(world)
	if err != nil {
		return mgl64.Vec3{}, fmt.Errorf("关键点 %d 转换本地坐标失败: %w", lm.ID, err)
	}
	return local, nil
}
