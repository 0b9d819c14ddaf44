package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T, maxConnections int) *AllocationManager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m := NewAllocationManager(ctx, ManagerOptions{MaxConnections: maxConnections, TPS: 50, WallSpeed: 0.1, WallStartZ: 10})
	t.Cleanup(func() {
		m.Shutdown()
		cancel()
	})
	return m
}

func TestGenerateJoinCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateJoinCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != JoinCodeLength {
			t.Fatalf("expected length %d, got %q", JoinCodeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(joinCodeAlphabet, r) {
				t.Fatalf("code %q contains %q outside alphabet", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("join codes look non-random: %d unique of 50", len(seen))
	}
}

func TestNormalizeJoinCode(t *testing.T) {
	if got := NormalizeJoinCode("  abc2x9\n"); got != "ABC2X9" {
		t.Fatalf("unexpected normalized code %q", got)
	}
}

func TestManagerHostAndJoin(t *testing.T) {
	m := newTestManager(t, 1)

	host := newFakeSession()
	alloc, hostID, err := m.Host(host, "host", 0)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	if hostID != HostClientID || alloc.MaxConnections != 1 {
		t.Fatalf("unexpected host result: id=%d max=%d", hostID, alloc.MaxConnections)
	}
	if got, ok := m.ByID(alloc.ID); !ok || got != alloc {
		t.Fatalf("allocation not registered by id")
	}

	guest := newFakeSession()
	joined, guestID, err := m.Join(guest, "guest", " "+strings.ToLower(alloc.JoinCode)+" ")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined != alloc || guestID != 1 {
		t.Fatalf("unexpected join result: id=%d", guestID)
	}

	if _, _, err := m.Join(newFakeSession(), "third", alloc.JoinCode); !errors.Is(err, ErrAllocationFull) {
		t.Fatalf("expected ErrAllocationFull, got %v", err)
	}
	// O 和 0 不在字母表中，不可能被生成
	if _, _, err := m.Join(newFakeSession(), "lost", "NOPE00"); !errors.Is(err, ErrUnknownJoinCode) {
		t.Fatalf("expected ErrUnknownJoinCode, got %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 allocation, got %d", m.Len())
	}
}

func TestManagerCleanupEmpty(t *testing.T) {
	m := newTestManager(t, 3)

	alloc, err := m.Create(0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if alloc.MaxConnections != 3 {
		t.Fatalf("expected default max connections, got %d", alloc.MaxConnections)
	}

	if n := m.cleanupEmpty(time.Now()); n != 0 {
		t.Fatalf("fresh allocation must not be cleaned, removed %d", n)
	}
	if n := m.cleanupEmpty(time.Now().Add(AllocationEmptyTimeout + time.Second)); n != 1 {
		t.Fatalf("expected 1 removed allocation, got %d", n)
	}
	if _, ok := m.ByJoinCode(alloc.JoinCode); ok {
		t.Fatalf("cleaned allocation still reachable by join code")
	}
	select {
	case <-alloc.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("cleaned allocation loop did not stop")
	}
}

func TestManagerCapsMaxConnections(t *testing.T) {
	m := newTestManager(t, 2)
	for _, tc := range []struct{ requested, want int }{{0, 2}, {1, 1}, {50, 2}} {
		alloc, err := m.Create(tc.requested)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if alloc.MaxConnections != tc.want {
			t.Fatalf("requested %d: expected %d, got %d", tc.requested, tc.want, alloc.MaxConnections)
		}
	}
}
