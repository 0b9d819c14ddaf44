package protocol

import (
	"github.com/go-gl/mathgl/mgl64"

	"posesync/pkg/core"
)

// ========== Landmark 转换 ==========

// CorePointToProto 将 core.LandmarkPoint 转换为 Landmark
func CorePointToProto(p core.LandmarkPoint) *Landmark {
	return &Landmark{
		ID:    int32(p.ID),
		X:     p.Position.X(),
		Y:     p.Position.Y(),
		Z:     p.Position.Z(),
		Scale: p.Scale,
	}
}

// ProtoLandmarkToCore 将 Landmark 转换为 core.LandmarkPoint
func ProtoLandmarkToCore(l *Landmark) core.LandmarkPoint {
	if l == nil {
		return core.LandmarkPoint{}
	}
	return core.LandmarkPoint{
		ID:       int(l.ID),
		Position: mgl64.Vec3{l.X, l.Y, l.Z},
		Scale:    l.Scale,
	}
}

// ========== 批量转换辅助函数 ==========

// RegistryToLandmarkState 将注册表当前位置打包为上报消息
func RegistryToLandmarkState(clientID, seq int32, registry *core.Registry) *LandmarkState {
	state := &LandmarkState{ClientID: clientID, Seq: seq}
	if registry == nil {
		return state
	}
	points := registry.Points()
	state.Landmarks = make([]*Landmark, 0, len(points))
	for _, p := range points {
		state.Landmarks = append(state.Landmarks, CorePointToProto(p))
	}
	return state
}

// LandmarkStateToPoints 解包上报消息，丢弃 ID 为负的关键点
func LandmarkStateToPoints(state *LandmarkState) []core.LandmarkPoint {
	if state == nil {
		return nil
	}
	points := make([]core.LandmarkPoint, 0, len(state.Landmarks))
	for _, l := range state.Landmarks {
		if l == nil || l.ID < 0 {
			continue
		}
		points = append(points, ProtoLandmarkToCore(l))
	}
	return points
}
