package client

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"posesync/pkg/core"
)

// landmarkSnapshot 远端关键点快照（客户端插值缓冲）
type landmarkSnapshot struct {
	timestamp int64
	points    map[int]core.LandmarkPoint
}

// RemoteSmoother 远端关键点插值与航位推测
type RemoteSmoother struct {
	buffer               []landmarkSnapshot
	velocity             map[int]mgl64.Vec3 // 每毫秒位移
	lastUpdateTimestamp  int64
	interpolationDelayMs int64
}

// NewRemoteSmoother 创建插值缓冲器
func NewRemoteSmoother() *RemoteSmoother {
	return &RemoteSmoother{
		buffer:               make([]landmarkSnapshot, 0, InterpolationBufferSize),
		velocity:             make(map[int]mgl64.Vec3),
		interpolationDelayMs: DefaultInterpolationDelayMs,
	}
}

// SetInterpolationDelay 设置插值延迟（毫秒）
func (s *RemoteSmoother) SetInterpolationDelay(delayMs int64) {
	if delayMs < MinInterpolationDelayMs {
		delayMs = MinInterpolationDelayMs
	}
	if delayMs > MaxInterpolationDelayMs {
		delayMs = MaxInterpolationDelayMs
	}
	s.interpolationDelayMs = delayMs
}

// InterpolationDelay 当前插值延迟（毫秒）
func (s *RemoteSmoother) InterpolationDelay() int64 {
	return s.interpolationDelayMs
}

// Len 缓冲的快照数
func (s *RemoteSmoother) Len() int {
	return len(s.buffer)
}

// AddSnapshot 添加快照，时间戳不晚于最新快照的直接丢弃
func (s *RemoteSmoother) AddSnapshot(timestamp int64, points []core.LandmarkPoint) {
	if len(s.buffer) > 0 && timestamp <= s.buffer[len(s.buffer)-1].timestamp {
		return
	}

	snapshot := landmarkSnapshot{
		timestamp: timestamp,
		points:    make(map[int]core.LandmarkPoint, len(points)),
	}
	for _, p := range points {
		snapshot.points[p.ID] = p
	}

	// 计算速度（用于航位推测）
	if len(s.buffer) > 0 {
		last := s.buffer[len(s.buffer)-1]
		dt := float64(timestamp - last.timestamp)
		for id, p := range snapshot.points {
			if prev, ok := last.points[id]; ok {
				s.velocity[id] = p.Position.Sub(prev.Position).Mul(1 / dt)
			} else {
				delete(s.velocity, id)
			}
		}
	}
	s.lastUpdateTimestamp = timestamp

	s.buffer = append(s.buffer, snapshot)
	if len(s.buffer) > InterpolationBufferSize {
		s.buffer = s.buffer[1:]
	}
}

// Sample 计算 serverTimeMs 时刻应显示的关键点，按 ID 排序
func (s *RemoteSmoother) Sample(serverTimeMs int64) []core.LandmarkPoint {
	if len(s.buffer) == 0 {
		return nil
	}

	// 渲染时间 = 服务器时间 - 插值延迟
	renderTime := serverTimeMs - s.interpolationDelayMs

	var prev, next *landmarkSnapshot
	for i := 0; i < len(s.buffer)-1; i++ {
		if s.buffer[i].timestamp <= renderTime && s.buffer[i+1].timestamp >= renderTime {
			prev = &s.buffer[i]
			next = &s.buffer[i+1]
			break
		}
	}

	var out []core.LandmarkPoint
	switch {
	case prev != nil && next != nil:
		alpha := float64(renderTime-prev.timestamp) / float64(next.timestamp-prev.timestamp)
		out = make([]core.LandmarkPoint, 0, len(next.points))
		for id, n := range next.points {
			p, ok := prev.points[id]
			if !ok {
				out = append(out, n)
				continue
			}
			out = append(out, core.LandmarkPoint{
				ID:       id,
				Position: core.Lerp(p.Position, n.Position, alpha),
				Scale:    n.Scale,
			})
		}

	case renderTime < s.buffer[0].timestamp:
		// 缓冲尚未覆盖渲染时间，先显示最早的快照
		out = pointsOf(s.buffer[0])

	default:
		// 渲染时间超出缓冲，使用航位推测
		last := s.buffer[len(s.buffer)-1]
		elapsed := renderTime - last.timestamp
		if elapsed > DeadReckoningMaxMs {
			elapsed = DeadReckoningMaxMs
		}
		out = make([]core.LandmarkPoint, 0, len(last.points))
		for id, p := range last.points {
			if v, ok := s.velocity[id]; ok && elapsed > 0 {
				p.Position = p.Position.Add(v.Mul(float64(elapsed)))
			}
			out = append(out, p)
		}
	}

	s.cleanupOldSnapshots(renderTime)

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func pointsOf(snapshot landmarkSnapshot) []core.LandmarkPoint {
	out := make([]core.LandmarkPoint, 0, len(snapshot.points))
	for _, p := range snapshot.points {
		out = append(out, p)
	}
	return out
}

func (s *RemoteSmoother) cleanupOldSnapshots(renderTime int64) {
	// 找到最后一个 <= renderTime 的快照索引
	cutoff := -1
	for i := 0; i < len(s.buffer); i++ {
		if s.buffer[i].timestamp <= renderTime {
			cutoff = i
		} else {
			break
		}
	}

	// 保留 cutoff 及之后的快照（cutoff 用于插值的 prev）
	if cutoff > 0 {
		s.buffer = s.buffer[cutoff:]
	}
}
