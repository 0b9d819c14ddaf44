package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"posesync/internal/config"
	"posesync/internal/server"
	"posesync/pkg/core"
	"posesync/pkg/pose"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PoseURL = "ws://127.0.0.1:1"
	cfg.ReconnectDelay = 0
	cfg.PublishHz = 1000
	return cfg
}

func skeletonFrame(poseID, n int, x float64) pose.Frame {
	frame := pose.Frame{ID: poseID}
	for i := 0; i < n; i++ {
		frame.Landmarks = append(frame.Landmarks, pose.Landmark{ID: i, X: x, Y: 0.5})
	}
	return frame
}

func TestTrackerLocalOwner(t *testing.T) {
	tr := NewTracker(testConfig(), TrackerOptions{Owner: true, OwnerClientID: 1})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Close()

	if tr.Registry.Len() != core.DefaultNumberOfLandmarks {
		t.Fatalf("owner should register all landmarks, got %d", tr.Registry.Len())
	}

	tr.Queue.Enqueue(skeletonFrame(1, 3, 0.5))
	res := tr.Update(1)
	if !res.FrameApplied || res.Updated != 3 {
		t.Fatalf("unexpected tick result %+v", res)
	}

	want, err := tr.Mapper.Map(pose.Landmark{ID: 0, X: 0.5, Y: 0.5}, 1)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	points := tr.LocalPoints()
	if !points[0].Position.ApproxEqualThreshold(want, 1e-9) {
		t.Fatalf("expected landmark 0 at %v, got %v", want, points[0].Position)
	}
	if tr.LastTick() != res {
		t.Fatalf("last tick not recorded")
	}
	if tr.Colours.Hue() == 0 {
		t.Fatalf("colour cycler should advance every update")
	}
}

func TestTrackerNonOwnerStaysEmpty(t *testing.T) {
	tr := NewTracker(testConfig(), TrackerOptions{})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Close()

	tr.Queue.Enqueue(skeletonFrame(1, 3, 0.5))
	res := tr.Update(1)
	if res.Updated != 0 || res.Skipped != 3 || len(tr.LocalPoints()) != 0 {
		t.Fatalf("non-owner should not move landmarks: %+v", res)
	}
}

func TestTrackerReadsPoseStream(t *testing.T) {
	replay := server.NewPoseReplayServer("127.0.0.1:0", 100, func() server.FrameSource {
		return server.NewSyntheticSkeleton(2, core.DefaultNumberOfLandmarks, 100)
	})
	if err := replay.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = replay.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = replay.Shutdown(ctx)
	})

	cfg := testConfig()
	cfg.PoseURL = "ws://" + replay.Addr().String() + "/"
	tr := NewTracker(cfg, TrackerOptions{Owner: true, OwnerClientID: 2})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Close()

	waitUntil(t, "pose frames", func() bool { return tr.Queue.Len() > 0 })
	res := tr.Update(1.0 / 60)
	if !res.FrameApplied || res.PoseID != 2 || res.Updated != core.DefaultNumberOfLandmarks {
		t.Fatalf("unexpected tick result %+v", res)
	}
}

func TestTrackerRelaysBetweenClients(t *testing.T) {
	addr := startRelay(t)
	cfg := testConfig()

	hostNet := connectClient(t, addr)
	resp, err := hostNet.Host("host", 0)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	guestNet := connectClient(t, addr)
	if _, err := guestNet.Join("guest", resp.JoinCode); err != nil {
		t.Fatalf("join: %v", err)
	}

	host := NewTracker(cfg, TrackerOptions{Owner: true, OwnerClientID: 7, Network: hostNet})
	guest := NewTracker(cfg, TrackerOptions{Network: guestNet})
	for _, tr := range []*Tracker{host, guest} {
		if err := tr.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		t.Cleanup(tr.Close)
	}

	// 中继模式下房主不拥有关键点，加入者拥有
	if host.Registry.Len() != 0 {
		t.Fatalf("host should not own landmarks, got %d", host.Registry.Len())
	}
	e, ok := guest.Registry.Entity(0)
	if !ok || e.OwnerClientID != 1 {
		t.Fatalf("guest should own landmarks as client 1")
	}

	if err := hostNet.StartSession(); err != nil {
		t.Fatalf("start session: %v", err)
	}

	guest.Queue.Enqueue(skeletonFrame(1, core.DefaultNumberOfLandmarks, 0.25))
	waitUntil(t, "remote avatar", func() bool {
		guest.Update(1)
		host.Update(1.0 / 60)
		remotes := host.Remotes()
		return len(remotes) == 1 && remotes[0].ClientID == 1 && len(remotes[0].Points) == core.DefaultNumberOfLandmarks
	})
	if host.RemoteCount() != 1 || guest.RemoteCount() != 0 {
		t.Fatalf("unexpected remote counts host=%d guest=%d", host.RemoteCount(), guest.RemoteCount())
	}
	if lines := (&Preview{tracker: host}).hudLines(); !strings.Contains(lines[2], "remote avatars: 1") {
		t.Fatalf("HUD should report the remote avatar, got %q", lines[2])
	}

	remote := host.Remotes()[0].Points[0]
	local := guest.LocalPoints()[0]
	if !remote.Position.ApproxEqualThreshold(local.Position, 1e-6) {
		t.Fatalf("remote landmark %v does not match sender %v", remote.Position, local.Position)
	}
	waitUntil(t, "session start", func() bool {
		host.Update(1.0 / 60)
		return host.SessionStarted()
	})
	if host.WallZ() == cfg.WallStartZ && host.ServerTick() == 0 {
		t.Fatalf("snapshot metadata not applied")
	}
	if host.Remotes()[0].Points[0].Scale != local.Scale {
		t.Fatalf("remote visibility scale should be relayed")
	}
}
