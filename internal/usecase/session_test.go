package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
)

func testPrincipal(id string) *domain.Principal {
	return &domain.Principal{
		ID:       id,
		Username: "traveler",
		Email:    fmt.Sprintf("%s@example.com", id),
	}
}

func TestCreateSessionEvictsOldestWhenOverLimit(t *testing.T) {
	ctx := context.Background()
	principal := testPrincipal("p1")
	sessions := newFakeSessionRepo()
	publisher := &fakePublisher{}

	service := NewSessionService(sessions, newFakePrincipalRepo(principal), publisher, nil)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	current := base
	service.WithClock(func() time.Time { return current })

	var created []*domain.Session
	for i := 0; i < 6; i++ {
		current = base.Add(time.Duration(i) * time.Minute)
		session, err := service.CreateSession(ctx, principal.ID, fmt.Sprintf("token-%d", i), "", "10.0.0.1", "Mozilla/5.0 Chrome")
		if err != nil {
			t.Fatalf("CreateSession %d: %v", i, err)
		}
		created = append(created, session)
	}

	count, err := sessions.CountActiveByPrincipal(ctx, principal.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Fatalf("active sessions = %d, want 5", count)
	}

	oldest, err := sessions.GetByID(ctx, created[0].ID)
	if err != nil {
		t.Fatalf("get oldest: %v", err)
	}
	if oldest.Active {
		t.Fatal("oldest session should have been evicted")
	}
	if oldest.TerminationReason == nil || *oldest.TerminationReason != ReasonSessionLimit {
		t.Fatalf("termination reason = %v, want %q", oldest.TerminationReason, ReasonSessionLimit)
	}

	newest, err := sessions.GetByID(ctx, created[5].ID)
	if err != nil {
		t.Fatalf("get newest: %v", err)
	}
	if !newest.Active {
		t.Fatal("newest session should stay active")
	}

	if len(publisher.terminated) != 1 {
		t.Fatalf("terminated events = %d, want 1", len(publisher.terminated))
	}
	if publisher.terminated[0].SessionID != created[0].ID {
		t.Fatalf("terminated event session = %s, want %s", publisher.terminated[0].SessionID, created[0].ID)
	}
}

func TestTerminateSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	principal := testPrincipal("p1")
	sessions := newFakeSessionRepo()
	publisher := &fakePublisher{}

	service := NewSessionService(sessions, newFakePrincipalRepo(principal), publisher, nil)
	service.WithClock(func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) })

	session, err := service.CreateSession(ctx, principal.ID, "token-1", "", "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := service.TerminateSession(ctx, session.ID, "logout"); err != nil {
		t.Fatalf("first terminate: %v", err)
	}
	if err := service.TerminateSession(ctx, session.ID, "admin action"); err != nil {
		t.Fatalf("second terminate: %v", err)
	}

	stored, err := sessions.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.TerminationReason == nil || *stored.TerminationReason != "logout" {
		t.Fatalf("termination reason = %v, want first reason kept", stored.TerminationReason)
	}
	if len(publisher.terminated) != 1 {
		t.Fatalf("terminated events = %d, want 1", len(publisher.terminated))
	}
}

func TestIsSessionValid(t *testing.T) {
	ctx := context.Background()
	principal := testPrincipal("p1")
	sessions := newFakeSessionRepo()

	service := NewSessionService(sessions, newFakePrincipalRepo(principal), &fakePublisher{}, nil)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	current := base
	service.WithClock(func() time.Time { return current })

	if _, err := service.CreateSession(ctx, principal.ID, "token-1", "", "", ""); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	valid, err := service.IsSessionValid(ctx, "token-1")
	if err != nil {
		t.Fatalf("IsSessionValid: %v", err)
	}
	if !valid {
		t.Fatal("fresh session should be valid")
	}

	// Past absolute expiry but before any cleanup sweep.
	current = base.Add(25 * time.Hour)
	valid, err = service.IsSessionValid(ctx, "token-1")
	if err != nil {
		t.Fatalf("IsSessionValid after expiry: %v", err)
	}
	if valid {
		t.Fatal("expired session should fail validation even before the sweep runs")
	}

	valid, err = service.IsSessionValid(ctx, "no-such-token")
	if err != nil {
		t.Fatalf("IsSessionValid unknown token: %v", err)
	}
	if valid {
		t.Fatal("unknown token should be invalid, not an error")
	}
}

func TestTerminateAllForPrincipal(t *testing.T) {
	ctx := context.Background()
	principal := testPrincipal("p1")
	other := testPrincipal("p2")
	sessions := newFakeSessionRepo()
	publisher := &fakePublisher{}

	service := NewSessionService(sessions, newFakePrincipalRepo(principal, other), publisher, nil)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	current := base
	service.WithClock(func() time.Time { return current })

	for i := 0; i < 3; i++ {
		current = base.Add(time.Duration(i) * time.Minute)
		if _, err := service.CreateSession(ctx, principal.ID, fmt.Sprintf("p1-token-%d", i), "", "", ""); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	if _, err := service.CreateSession(ctx, other.ID, "p2-token", "", "", ""); err != nil {
		t.Fatalf("CreateSession other: %v", err)
	}

	count, err := service.TerminateAllForPrincipal(ctx, principal.ID, "password changed")
	if err != nil {
		t.Fatalf("TerminateAllForPrincipal: %v", err)
	}
	if count != 3 {
		t.Fatalf("terminated = %d, want 3", count)
	}

	remaining, err := sessions.CountActiveByPrincipal(ctx, other.ID)
	if err != nil {
		t.Fatalf("count other: %v", err)
	}
	if remaining != 1 {
		t.Fatal("other principal's session should be untouched")
	}
	if len(publisher.terminated) != 3 {
		t.Fatalf("terminated events = %d, want 3", len(publisher.terminated))
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	ctx := context.Background()
	principal := testPrincipal("p1")
	sessions := newFakeSessionRepo()

	service := NewSessionService(sessions, newFakePrincipalRepo(principal), &fakePublisher{}, nil)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	current := base
	service.WithClock(func() time.Time { return current })

	fresh, err := service.CreateSession(ctx, principal.ID, "fresh", "", "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	stale := domain.Session{
		ID:          "stale",
		PrincipalID: principal.ID,
		Token:       "stale-token",
		Active:      true,
		CreatedAt:   base.Add(-48 * time.Hour),
		ExpiresAt:   base.Add(-24 * time.Hour),
	}
	if err := sessions.Create(ctx, stale); err != nil {
		t.Fatalf("seed stale session: %v", err)
	}

	count, err := service.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if count != 1 {
		t.Fatalf("cleaned = %d, want 1", count)
	}

	kept, err := sessions.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if !kept.Active {
		t.Fatal("unexpired session should survive the sweep")
	}

	swept, err := sessions.GetByID(ctx, "stale")
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if swept.Active {
		t.Fatal("expired session should be terminated")
	}
	if swept.TerminationReason == nil || *swept.TerminationReason != ReasonExpired {
		t.Fatalf("termination reason = %v, want %q", swept.TerminationReason, ReasonExpired)
	}
}

func TestDetectSuspiciousActivity(t *testing.T) {
	ctx := context.Background()
	principal := testPrincipal("p1")
	sessions := newFakeSessionRepo()

	service := NewSessionService(sessions, newFakePrincipalRepo(principal), &fakePublisher{}, nil)
	service.WithClock(func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) })

	session, err := service.CreateSession(ctx, principal.ID, "token-1", "", "10.0.0.1", "Mozilla/5.0 Chrome")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	changed, err := service.DetectSuspiciousActivity(ctx, "token-1", "10.0.0.1", "Mozilla/5.0 Chrome")
	if err != nil {
		t.Fatalf("DetectSuspiciousActivity: %v", err)
	}
	if changed {
		t.Fatal("matching fingerprint should not be suspicious")
	}

	changed, err = service.DetectSuspiciousActivity(ctx, "token-1", "203.0.113.9", "Mozilla/5.0 Chrome")
	if err != nil {
		t.Fatalf("DetectSuspiciousActivity: %v", err)
	}
	if !changed {
		t.Fatal("changed ip should flag the fingerprint")
	}

	// Advisory only: the session must remain active.
	stored, err := sessions.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !stored.Active {
		t.Fatal("detection must not terminate the session")
	}
}

func TestWithLifetimesControlsExpiry(t *testing.T) {
	ctx := context.Background()
	principal := testPrincipal("p1")

	service := NewSessionService(newFakeSessionRepo(), newFakePrincipalRepo(principal), &fakePublisher{}, nil).
		WithLifetimes(2*time.Hour, 48*time.Hour)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return base })

	session, err := service.CreateSession(ctx, principal.ID, "token-1", "refresh-1", "10.0.0.1", "Mozilla/5.0 Chrome")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if want := base.Add(2 * time.Hour); !session.ExpiresAt.Equal(want) {
		t.Fatalf("expires at = %s, want %s", session.ExpiresAt, want)
	}
	if want := base.Add(48 * time.Hour); !session.RefreshExpiresAt.Equal(want) {
		t.Fatalf("refresh expires at = %s, want %s", session.RefreshExpiresAt, want)
	}
}

func TestLimitEvictionsFeedMetrics(t *testing.T) {
	ctx := context.Background()
	principal := testPrincipal("p1")
	metrics := newFakeMetrics()

	service := NewSessionService(newFakeSessionRepo(), newFakePrincipalRepo(principal), &fakePublisher{}, nil).
		WithSessionLimit(2).
		WithMetrics(metrics)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	current := base
	service.WithClock(func() time.Time { return current })

	for i := 0; i < 4; i++ {
		current = base.Add(time.Duration(i) * time.Minute)
		if _, err := service.CreateSession(ctx, principal.ID, fmt.Sprintf("token-%d", i), "", "10.0.0.1", "Mozilla/5.0 Chrome"); err != nil {
			t.Fatalf("CreateSession %d: %v", i, err)
		}
	}

	if metrics.evicted != 2 {
		t.Fatalf("evicted count = %d, want 2", metrics.evicted)
	}
}
