package core

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

var ErrSingularTransform = errors.New("变换矩阵不可逆")

// Camera 屏幕到世界坐标的投影服务（由外部注入）
// 屏幕坐标原点在左下角，z 为距相机的深度
type Camera interface {
	Viewport() (width, height int)
	NearClip() float64
	ScreenToWorld(screen mgl64.Vec3) (mgl64.Vec3, error)
}

// PerspectiveCamera 透视相机
type PerspectiveCamera struct {
	Eye        mgl64.Vec3
	Center     mgl64.Vec3
	Up         mgl64.Vec3
	FOVDegrees float64
	Near       float64
	Far        float64
	Width      int
	Height     int
}

// NewPerspectiveCamera 创建位于 (0,0,10) 朝向原点的默认相机，屏幕右方对应世界 +x
func NewPerspectiveCamera(width, height int) *PerspectiveCamera {
	return &PerspectiveCamera{
		Eye:        mgl64.Vec3{0, 0, 10},
		Center:     mgl64.Vec3{0, 0, 0},
		Up:         mgl64.Vec3{0, 1, 0},
		FOVDegrees: DefaultFOVDegrees,
		Near:       DefaultNearClip,
		Far:        DefaultFarClip,
		Width:      width,
		Height:     height,
	}
}

// SetViewport 更新视口尺寸（窗口大小变化时调用）
func (c *PerspectiveCamera) SetViewport(width, height int) {
	c.Width = width
	c.Height = height
}

// Viewport 实现 Camera
func (c *PerspectiveCamera) Viewport() (int, int) {
	return c.Width, c.Height
}

// NearClip 实现 Camera
func (c *PerspectiveCamera) NearClip() float64 {
	return c.Near
}

func (c *PerspectiveCamera) view() mgl64.Mat4 {
	return mgl64.LookAtV(c.Eye, c.Center, c.Up)
}

func (c *PerspectiveCamera) projection() mgl64.Mat4 {
	aspect := 1.0
	if c.Height > 0 {
		aspect = float64(c.Width) / float64(c.Height)
	}
	return mgl64.Perspective(mgl64.DegToRad(c.FOVDegrees), aspect, c.Near, c.Far)
}

// depthToWindowZ 把线性深度转换为 [0,1] 深度缓冲值
func (c *PerspectiveCamera) depthToWindowZ(depth float64) float64 {
	n, f := c.Near, c.Far
	a := (f + n) / (n - f)
	b := 2 * f * n / (n - f)
	ndcZ := (a*(-depth) + b) / depth
	return (ndcZ + 1) / 2
}

// ScreenToWorld 实现 Camera：screen.X/Y 为像素，screen.Z 为距相机的深度
func (c *PerspectiveCamera) ScreenToWorld(screen mgl64.Vec3) (mgl64.Vec3, error) {
	if c.Width <= 0 || c.Height <= 0 {
		return mgl64.Vec3{}, fmt.Errorf("视口尺寸无效: %dx%d", c.Width, c.Height)
	}
	if screen.Z() <= 0 {
		return mgl64.Vec3{}, fmt.Errorf("深度必须为正: %f", screen.Z())
	}

	win := mgl64.Vec3{screen.X(), screen.Y(), c.depthToWindowZ(screen.Z())}
	world, err := mgl64.UnProject(win, c.view(), c.projection(), 0, 0, c.Width, c.Height)
	if err != nil {
		return mgl64.Vec3{}, fmt.Errorf("反投影失败: %w", err)
	}
	return world, nil
}

// WorldToScreen 世界坐标投影到屏幕像素（左下角原点），z 为深度缓冲值
func (c *PerspectiveCamera) WorldToScreen(world mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Project(world, c.view(), c.projection(), 0, 0, c.Width, c.Height)
}

// Transform 化身根节点变换（平移 * 旋转 * 缩放）
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
	Scale    mgl64.Vec3
}

// NewTransform 单位变换
func NewTransform() Transform {
	return Transform{
		Rotation: mgl64.QuatIdent(),
		Scale:    mgl64.Vec3{1, 1, 1},
	}
}

// Matrix 本地到世界的矩阵
func (t Transform) Matrix() mgl64.Mat4 {
	translate := mgl64.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	scale := mgl64.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	return translate.Mul4(t.Rotation.Normalize().Mat4()).Mul4(scale)
}

// LocalToWorld 本地坐标转世界坐标
func (t Transform) LocalToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return mgl64.TransformCoordinate(local, t.Matrix())
}

// WorldToLocal 世界坐标转本地坐标
func (t Transform) WorldToLocal(world mgl64.Vec3) (mgl64.Vec3, error) {
	m := t.Matrix()
	if m.Det() == 0 {
		return mgl64.Vec3{}, ErrSingularTransform
	}
	return mgl64.TransformCoordinate(world, m.Inv()), nil
}
