package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"posesync/pkg/core"
	"posesync/pkg/protocol"
)

// fakeSession 记录收到的数据包
type fakeSession struct {
	mu       sync.Mutex
	clientID int32
	packets  []*protocol.Packet
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{clientID: -1}
}

func (s *fakeSession) ClientID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *fakeSession) SetClientID(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID = id
}

func (s *fakeSession) Send(data []byte) error {
	pkt, err := protocol.UnmarshalPacket(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrConnectionClosed
	}
	s.packets = append(s.packets, pkt)
	return nil
}

func (s *fakeSession) Close() { s.CloseWithoutNotify() }

func (s *fakeSession) CloseWithoutNotify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) ofType(t protocol.MessageType) []*protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.Packet
	for _, p := range s.packets {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// waitFor 轮询直到出现满足条件的数据包
func (s *fakeSession) waitFor(t *testing.T, typ protocol.MessageType, match func(*protocol.Packet) bool) *protocol.Packet {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range s.ofType(typ) {
			if match == nil || match(p) {
				return p
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", typ)
	return nil
}

func newTestAllocation(t *testing.T, maxConnections int) *Allocation {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewAllocation(ctx, AllocationOptions{
		ID:             "alloc-test",
		JoinCode:       "ABCDEF",
		MaxConnections: maxConnections,
		TPS:            100,
		WallSpeed:      0.5,
		WallStartZ:     20,
	})
}

func testState(seq int32, x float64) *protocol.LandmarkState {
	return &protocol.LandmarkState{
		Seq:       seq,
		Landmarks: []*protocol.Landmark{{ID: 0, X: x, Y: 1, Z: 2, Scale: 0.1}},
	}
}

func TestAllocationJoinAssignsHostFirst(t *testing.T) {
	a := newTestAllocation(t, 2)

	sessions := []*fakeSession{newFakeSession(), newFakeSession(), newFakeSession()}
	for want, s := range sessions {
		id, err := a.handleJoin(s, "player")
		if err != nil {
			t.Fatalf("join %d: %v", want, err)
		}
		if id != int32(want) || s.ClientID() != int32(want) {
			t.Fatalf("expected client id %d, got %d (session %d)", want, id, s.ClientID())
		}
	}
	if a.ClientCount() != 3 {
		t.Fatalf("expected 3 clients, got %d", a.ClientCount())
	}
	if a.EmptyFor(time.Now()) != 0 {
		t.Fatalf("occupied allocation should not report empty time")
	}

	if _, err := a.handleJoin(newFakeSession(), "late"); !errors.Is(err, ErrAllocationFull) {
		t.Fatalf("expected ErrAllocationFull, got %v", err)
	}
}

func TestAllocationStartSessionHostOnly(t *testing.T) {
	a := newTestAllocation(t, 2)
	host, guest := newFakeSession(), newFakeSession()
	_, _ = a.handleJoin(host, "host")
	_, _ = a.handleJoin(guest, "guest")

	if err := a.handleStart(1); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := a.handleStart(HostClientID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.handleStart(HostClientID); !errors.Is(err, ErrSessionStarted) {
		t.Fatalf("expected ErrSessionStarted, got %v", err)
	}

	for _, s := range []*fakeSession{host, guest} {
		if n := len(s.ofType(protocol.MessageTypeSessionStart)); n != 1 {
			t.Fatalf("client %d: expected 1 SESSION_START, got %d", s.ClientID(), n)
		}
	}

	late := newFakeSession()
	if _, err := a.handleJoin(late, "late"); err != nil {
		t.Fatalf("late join: %v", err)
	}
	if n := len(late.ofType(protocol.MessageTypeSessionStart)); n != 1 {
		t.Fatalf("late joiner should receive SESSION_START, got %d", n)
	}
}

func TestAllocationSnapshotKeepsNewestState(t *testing.T) {
	a := newTestAllocation(t, 2)
	host, guest := newFakeSession(), newFakeSession()
	_, _ = a.handleJoin(host, "host")
	_, _ = a.handleJoin(guest, "guest")

	a.handleState(&LandmarkEvent{ClientID: 1, State: testState(1, 5)})
	a.handleState(&LandmarkEvent{ClientID: 0, State: testState(2, 7)})
	a.handleState(&LandmarkEvent{ClientID: 0, State: testState(1, 99)})
	// 未加入的客户端被忽略
	a.handleState(&LandmarkEvent{ClientID: 9, State: testState(1, 1)})

	snap := a.snapshot()
	if len(snap.States) != 2 {
		t.Fatalf("expected 2 states, got %d", len(snap.States))
	}
	if snap.States[0].ClientID != 0 || snap.States[1].ClientID != 1 {
		t.Fatalf("states not sorted by client id: %d, %d", snap.States[0].ClientID, snap.States[1].ClientID)
	}
	if got := snap.States[0].Landmarks[0].X; got != 7 {
		t.Fatalf("stale state overwrote newer one: x=%v", got)
	}
	if snap.WallZ != 20 {
		t.Fatalf("wall should not move before the session starts, z=%v", snap.WallZ)
	}
}

func fullState(seq int32, n int) *protocol.LandmarkState {
	st := &protocol.LandmarkState{Seq: seq}
	for i := 0; i < n; i++ {
		st.Landmarks = append(st.Landmarks, &protocol.Landmark{ID: int32(i), X: float64(i), Y: 1, Z: 2, Scale: 0.1})
	}
	return st
}

func TestAllocationRejectsInvalidStates(t *testing.T) {
	a := newTestAllocation(t, 2)
	host, honest, greedy := newFakeSession(), newFakeSession(), newFakeSession()
	_, _ = a.handleJoin(host, "host")
	_, _ = a.handleJoin(honest, "honest")
	_, _ = a.handleJoin(greedy, "greedy")

	a.handleState(&LandmarkEvent{ClientID: 1, State: fullState(1, core.DefaultNumberOfLandmarks)})
	a.handleState(&LandmarkEvent{ClientID: 2, State: fullState(1, 400)})
	a.step()

	snaps := host.ofType(protocol.MessageTypeRelaySnapshot)
	if len(snaps) != 1 {
		t.Fatalf("snapshots must keep flowing, got %d", len(snaps))
	}
	if size := len(protocol.MarshalPacket(snaps[0])); size > protocol.MaxPacketSize {
		t.Fatalf("snapshot of %d bytes exceeds MaxPacketSize", size)
	}
	snap, err := protocol.ParseRelaySnapshot(snaps[0])
	if err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	if len(snap.States) != 1 || snap.States[0].ClientID != 1 {
		t.Fatalf("only the valid state should be relayed, got %d states", len(snap.States))
	}

	outOfRange := testState(2, 1)
	outOfRange.Landmarks[0].ID = int32(core.DefaultNumberOfLandmarks)
	duplicate := fullState(3, 2)
	duplicate.Landmarks[1].ID = 0
	for _, st := range []*protocol.LandmarkState{outOfRange, duplicate, {Seq: 4, Landmarks: []*protocol.Landmark{nil}}} {
		if err := a.validateState(st); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	}
	if err := a.validateState(nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for nil state, got %v", err)
	}

	// 无效状态不覆盖之前的有效状态
	a.handleState(&LandmarkEvent{ClientID: 1, State: duplicate})
	if got := len(a.latest[1].Landmarks); got != core.DefaultNumberOfLandmarks {
		t.Fatalf("valid state replaced by invalid one, %d landmarks", got)
	}
}

func TestAllocationStepAdvancesWallAndBroadcasts(t *testing.T) {
	a := newTestAllocation(t, 1)
	host := newFakeSession()
	_, _ = a.handleJoin(host, "host")

	a.step()
	if err := a.handleStart(HostClientID); err != nil {
		t.Fatalf("start: %v", err)
	}
	a.step()
	a.step()

	snaps := host.ofType(protocol.MessageTypeRelaySnapshot)
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	last, err := protocol.ParseRelaySnapshot(snaps[2])
	if err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	if last.Tick != 3 {
		t.Fatalf("expected tick 3, got %d", last.Tick)
	}
	if last.WallZ != 19 {
		t.Fatalf("expected wall at 19, got %v", last.WallZ)
	}
}

func TestAllocationLeave(t *testing.T) {
	a := newTestAllocation(t, 2)
	host, guest := newFakeSession(), newFakeSession()
	_, _ = a.handleJoin(host, "host")
	_, _ = a.handleJoin(guest, "guest")
	a.handleState(&LandmarkEvent{ClientID: 1, State: testState(1, 5)})

	// 非当前绑定的连接离开时忽略
	a.handleLeave(1, newFakeSession())
	if a.ClientCount() != 2 {
		t.Fatalf("leave from stale session must be ignored")
	}

	a.handleLeave(1, guest)
	if a.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", a.ClientCount())
	}
	if len(a.snapshot().States) != 0 {
		t.Fatalf("departed client's state should be dropped")
	}

	leaves := host.ofType(protocol.MessageTypePlayerLeave)
	if len(leaves) != 1 {
		t.Fatalf("expected 1 PLAYER_LEAVE, got %d", len(leaves))
	}
	msg, err := protocol.ParsePlayerLeave(leaves[0])
	if err != nil || msg.ClientID != 1 {
		t.Fatalf("unexpected leave message %+v (%v)", msg, err)
	}

	a.handleLeave(HostClientID, host)
	if a.EmptyFor(time.Now().Add(time.Second)) <= 0 {
		t.Fatalf("empty allocation should report empty time")
	}
}

func TestAllocationReconnect(t *testing.T) {
	a := newTestAllocation(t, 2)
	host, guest := newFakeSession(), newFakeSession()
	_, _ = a.handleJoin(host, "host")
	_, _ = a.handleJoin(guest, "guest")

	// 旧连接仍在线：替换并关闭旧连接
	replacement := newFakeSession()
	if err := a.handleReconnect(replacement, 1); err != nil {
		t.Fatalf("reconnect live client: %v", err)
	}
	if !guest.isClosed() {
		t.Fatalf("replaced session should be closed")
	}
	if replacement.ClientID() != 1 || a.ClientCount() != 2 {
		t.Fatalf("unexpected state after replace: id=%d count=%d", replacement.ClientID(), a.ClientCount())
	}

	// 离开后宽限期内恢复
	a.handleLeave(1, replacement)
	back := newFakeSession()
	if err := a.handleReconnect(back, 1); err != nil {
		t.Fatalf("reconnect departed client: %v", err)
	}
	if a.names[1] != "guest" {
		t.Fatalf("expected name restored, got %q", a.names[1])
	}

	if err := a.handleReconnect(newFakeSession(), 7); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}

	// 宽限期过后不能恢复
	a.handleLeave(1, back)
	a.departed[1] = departedClient{name: "guest", at: time.Now().Add(-ReconnectGrace - time.Second)}
	if err := a.handleReconnect(newFakeSession(), 1); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound after grace, got %v", err)
	}
}

func TestAllocationRunLoop(t *testing.T) {
	a := newTestAllocation(t, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go a.Run(&wg)

	host := newFakeSession()
	id, err := a.Join(host, "host")
	if err != nil || id != HostClientID {
		t.Fatalf("join: id=%d err=%v", id, err)
	}
	if err := a.StartSession(HostClientID); err != nil {
		t.Fatalf("start: %v", err)
	}

	a.SubmitState(&LandmarkEvent{ClientID: HostClientID, State: testState(1, 3)})
	host.waitFor(t, protocol.MessageTypeRelaySnapshot, func(p *protocol.Packet) bool {
		snap, err := protocol.ParseRelaySnapshot(p)
		return err == nil && len(snap.States) == 1 && snap.States[0].ClientID == HostClientID
	})

	a.Shutdown()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("allocation loop did not stop")
	}
	wg.Wait()

	if !host.isClosed() {
		t.Fatalf("sessions should be closed on shutdown")
	}
	if _, err := a.Join(newFakeSession(), "late"); !errors.Is(err, ErrAllocationClosed) {
		t.Fatalf("expected ErrAllocationClosed, got %v", err)
	}
}
