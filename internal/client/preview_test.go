package client

import (
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"posesync/pkg/pose"
)

func TestMarkerRadius(t *testing.T) {
	if markerRadius(0) != 0 || markerRadius(-1) != 0 {
		t.Fatalf("hidden markers must have zero radius")
	}
	if r := markerRadius(0.1); math.Abs(float64(r)-6) > 1e-6 {
		t.Fatalf("expected 6px radius for visible scale, got %v", r)
	}
}

func TestPreviewProjectsThroughCamera(t *testing.T) {
	tr := NewTracker(testConfig(), TrackerOptions{})
	p := NewPreview(tr, 60)

	w, h := p.Layout(640, 480)
	if w != 640 || h != 480 {
		t.Fatalf("unexpected layout %dx%d", w, h)
	}
	if cw, ch := tr.Camera.Viewport(); cw != 640 || ch != 480 {
		t.Fatalf("layout should update camera viewport, got %dx%d", cw, ch)
	}

	// 屏幕中心在窗口中心
	centre := p.project(mgl64.Vec3{})
	if math.Abs(float64(centre[0])-320) > 1e-3 || math.Abs(float64(centre[1])-240) > 1e-3 {
		t.Fatalf("origin should project to window centre, got %v", centre)
	}

	// 映射器产生的坐标投影回原像素，y 轴向下
	world, err := tr.Mapper.Map(pose.Landmark{ID: 0, X: 0.25, Y: 0.25}, 1)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	px := p.project(world)
	if math.Abs(float64(px[1])-120) > 1e-3 {
		t.Fatalf("expected y=120 for top quarter, got %v", px[1])
	}
}

func TestPreviewHUD(t *testing.T) {
	tr := NewTracker(testConfig(), TrackerOptions{})
	p := NewPreview(tr, 0)
	if p.tps != 60 {
		t.Fatalf("expected default tps 60, got %d", p.tps)
	}

	lines := p.hudLines()
	if len(lines) != 4 {
		t.Fatalf("local mode HUD should have 4 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[2], "local landmarks: 0") {
		t.Fatalf("unexpected HUD line %q", lines[2])
	}

	p.startSession()
	if p.lastNote != "local mode" {
		t.Fatalf("unexpected note %q", p.lastNote)
	}
}
