package client

import (
	"fmt"
	"image/color"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/basicfont"

	"posesync/pkg/core"
)

var hudFont = text.NewGoXFace(basicfont.Face7x13)

var (
	backgroundColour = color.RGBA{18, 22, 30, 255}
	remoteColour     = color.RGBA{120, 200, 255, 255}
	hudColour        = color.RGBA{200, 210, 220, 255}
	midlineColour    = color.RGBA{60, 70, 90, 255}
)

// 标记半径 = 缩放 * markerPixelsPerScale，可见缩放 0.1 对应 6 像素
const markerPixelsPerScale = 60

type keyTracker struct {
	prev map[ebiten.Key]bool
}

func (k *keyTracker) JustPressed(key ebiten.Key) bool {
	if k.prev == nil {
		k.prev = make(map[ebiten.Key]bool)
	}
	now := ebiten.IsKeyPressed(key)
	prev := k.prev[key]
	k.prev[key] = now
	return now && !prev
}

// Preview 调试窗口，由 ebiten 驱动逐帧更新
type Preview struct {
	tracker  *Tracker
	tps      int
	input    keyTracker
	showHUD  bool
	lastNote string
}

// NewPreview 创建预览，tps 与 ebiten.SetTPS 一致
func NewPreview(tracker *Tracker, tps int) *Preview {
	if tps <= 0 {
		tps = 60
	}
	return &Preview{tracker: tracker, tps: tps, showHUD: true}
}

// Update 每帧推进一次追踪
func (p *Preview) Update() error {
	p.tracker.Update(1 / float64(p.tps))

	if p.input.JustPressed(ebiten.KeyH) {
		p.showHUD = !p.showHUD
	}
	if p.input.JustPressed(ebiten.KeyEnter) {
		p.startSession()
	}
	return nil
}

func (p *Preview) startSession() {
	nc := p.tracker.Network()
	switch {
	case nc == nil:
		p.lastNote = "local mode"
	case !nc.IsHost():
		p.lastNote = "only the host can start"
	default:
		if err := nc.StartSession(); err != nil {
			p.lastNote = err.Error()
			return
		}
		p.lastNote = ""
	}
}

// Draw 绘制本地与远端关键点
func (p *Preview) Draw(screen *ebiten.Image) {
	screen.Fill(backgroundColour)

	_, height := p.tracker.Camera.Viewport()
	mid := p.project(mgl64.Vec3{})
	vector.StrokeLine(screen, mid[0], 0, mid[0], float32(height), 1, midlineColour, false)

	local := p.tracker.Colours.Colour()
	for _, pt := range p.tracker.LocalPoints() {
		p.drawMarker(screen, pt, local)
	}
	for _, avatar := range p.tracker.Remotes() {
		for _, pt := range avatar.Points {
			p.drawMarker(screen, pt, remoteColour)
		}
	}

	if p.showHUD {
		y := 16
		for _, line := range p.hudLines() {
			drawText(screen, 8, y, line, hudColour)
			y += 16
		}
		if p.lastNote != "" {
			drawText(screen, 8, height-8, p.lastNote, color.RGBA{255, 120, 120, 255})
		}
	}
}

func (p *Preview) drawMarker(screen *ebiten.Image, pt core.LandmarkPoint, clr color.Color) {
	radius := markerRadius(pt.Scale)
	if radius <= 0 {
		return
	}
	pos := p.project(pt.Position)
	vector.DrawFilledCircle(screen, pos[0], pos[1], radius, clr, true)
}

// project 根节点本地坐标 -> 窗口像素（左上角原点）
func (p *Preview) project(local mgl64.Vec3) [2]float32 {
	world := p.tracker.Mapper.Root.LocalToWorld(local)
	win := p.tracker.Camera.WorldToScreen(world)
	_, height := p.tracker.Camera.Viewport()
	return [2]float32{float32(win.X()), float32(float64(height) - win.Y())}
}

func (p *Preview) hudLines() []string {
	t := p.tracker
	last := t.LastTick()
	lines := []string{
		fmt.Sprintf("pose: connected=%v received=%d malformed=%d", t.Stream().Connected(), t.Stream().Received(), t.Stream().Malformed()),
		fmt.Sprintf("queue: pending=%d dropped=%d  tick: updated=%d skipped=%d", last.Pending, t.Queue.Dropped(), last.Updated, last.Skipped),
		fmt.Sprintf("local landmarks: %d  remote avatars: %d", t.Registry.Len(), t.RemoteCount()),
	}
	if nc := t.Network(); nc != nil {
		lines = append(lines,
			fmt.Sprintf("relay: code=%s client=%d rtt=%dms", nc.JoinCode(), nc.ClientID(), nc.RTT()),
			fmt.Sprintf("session: started=%v tick=%d wall z=%.2f", t.SessionStarted(), t.ServerTick(), t.WallZ()),
		)
	}
	lines = append(lines, "H: toggle HUD  Enter: start session (host)")
	return lines
}

// Layout 窗口尺寸即相机视口
func (p *Preview) Layout(outsideWidth, outsideHeight int) (int, int) {
	p.tracker.Camera.SetViewport(outsideWidth, outsideHeight)
	return outsideWidth, outsideHeight
}

func markerRadius(scale float64) float32 {
	if scale <= 0 {
		return 0
	}
	return float32(scale * markerPixelsPerScale)
}

func drawText(screen *ebiten.Image, x, y int, msg string, clr color.Color) {
	options := &text.DrawOptions{}
	options.GeoM.Translate(float64(x), float64(y))
	options.ColorScale.ScaleWithColor(clr)
	text.Draw(screen, msg, hudFont, options)
}
