package core

import (
	"image/color"

	"github.com/go-gl/mathgl/mgl64"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// Wall 沿 -z 方向匀速滚动的墙体
type Wall struct {
	Speed    float64 // 每帧移动距离
	StartZ   float64
	Position mgl64.Vec3
}

// NewWall 创建墙体并放到起点
func NewWall(speed, startZ float64) *Wall {
	w := &Wall{Speed: speed, StartZ: startZ}
	w.Reset()
	return w
}

// Reset 回到起点
func (w *Wall) Reset() {
	w.Position = mgl64.Vec3{0, WallBaseY, w.StartZ}
}

// Step 前进一帧
func (w *Wall) Step() {
	w.Position = w.Position.Add(mgl64.Vec3{0, 0, -w.Speed})
}

// Z 当前深度
func (w *Wall) Z() float64 {
	return w.Position.Z()
}

// ColourCycler 色相循环
type ColourCycler struct {
	Speed      float64
	Saturation float64
	Value      float64
	hue        float64 // [0,1)
}

// NewColourCycler 文字/图片用 s=1，精灵用 s=0.5
func NewColourCycler(speed, saturation float64) *ColourCycler {
	return &ColourCycler{Speed: speed, Saturation: saturation, Value: 1}
}

// Step 色相前进 Speed/10000，达到 1 时归零
func (c *ColourCycler) Step() {
	c.hue += c.Speed / 10000
	if c.hue >= 1 {
		c.hue = 0
	}
}

// Hue 当前色相 [0,1)
func (c *ColourCycler) Hue() float64 {
	return c.hue
}

// Colour 当前颜色
func (c *ColourCycler) Colour() color.RGBA {
	col := colorful.Hsv(c.hue*360, c.Saturation, c.Value).Clamped()
	r, g, b := col.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
