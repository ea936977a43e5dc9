package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/repository"
)

type fakePrincipalRepo struct {
	mu          sync.Mutex
	principals  map[string]*domain.Principal
	unlockBatch [][]string

	// beforeIncrement, when set, runs just before IncrementFailedLogins
	// mutates the counter. Tests use it to interleave a concurrent write.
	beforeIncrement func()
}

func newFakePrincipalRepo(principals ...*domain.Principal) *fakePrincipalRepo {
	repo := &fakePrincipalRepo{principals: make(map[string]*domain.Principal)}
	for _, principal := range principals {
		repo.principals[principal.ID] = principal
	}
	return repo
}

func (r *fakePrincipalRepo) Create(_ context.Context, principal domain.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.principals {
		if strings.EqualFold(existing.Email, principal.Email) && !existing.Deleted {
			return repository.ErrConflict
		}
	}
	clone := principal
	r.principals[principal.ID] = &clone
	return nil
}

func (r *fakePrincipalRepo) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[id]
	if !ok || principal.Deleted {
		return nil, repository.ErrNotFound
	}
	clone := *principal
	return &clone, nil
}

func (r *fakePrincipalRepo) GetByExternalID(_ context.Context, externalID string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, principal := range r.principals {
		if principal.ExternalID != nil && *principal.ExternalID == externalID && !principal.Deleted {
			clone := *principal
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakePrincipalRepo) GetByEmail(_ context.Context, email string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, principal := range r.principals {
		if strings.EqualFold(principal.Email, email) && !principal.Deleted {
			clone := *principal
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakePrincipalRepo) LinkExternalID(_ context.Context, id, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	principal.ExternalID = &externalID
	return nil
}

func (r *fakePrincipalRepo) UpdateProfile(_ context.Context, id, username, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	principal.Username = username
	principal.Email = email
	return nil
}

func (r *fakePrincipalRepo) UpdateLock(_ context.Context, id string, locked bool, reason *string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	principal.Locked = locked
	principal.LockReason = reason
	principal.LockExpiresAt = expiresAt
	return nil
}

func (r *fakePrincipalRepo) UpdateFailedLogins(_ context.Context, id string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	principal.FailedLogins = count
	return nil
}

func (r *fakePrincipalRepo) IncrementFailedLogins(_ context.Context, id string) (int, error) {
	if r.beforeIncrement != nil {
		r.beforeIncrement()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	principal.FailedLogins++
	return principal.FailedLogins, nil
}

func (r *fakePrincipalRepo) SetTwoFactorEnabled(_ context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	principal.TwoFactor = enabled
	return nil
}

func (r *fakePrincipalRepo) GrantRole(_ context.Context, id, roleName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, role := range principal.Roles {
		if strings.EqualFold(role.Name, roleName) {
			return nil
		}
	}
	principal.Roles = append(principal.Roles, domain.Role{ID: fmt.Sprintf("role-%s", roleName), Name: roleName})
	return nil
}

func (r *fakePrincipalRepo) RevokeRole(_ context.Context, id, roleName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	kept := principal.Roles[:0]
	for _, role := range principal.Roles {
		if !strings.EqualFold(role.Name, roleName) {
			kept = append(kept, role)
		}
	}
	principal.Roles = kept
	return nil
}

func (r *fakePrincipalRepo) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	principal, ok := r.principals[id]
	if !ok {
		return repository.ErrNotFound
	}
	principal.Deleted = true
	return nil
}

func (r *fakePrincipalRepo) ListLockExpired(_ context.Context, before time.Time) ([]domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []domain.Principal
	for _, principal := range r.principals {
		if principal.Locked && principal.LockExpiresAt != nil && principal.LockExpiresAt.Before(before) {
			expired = append(expired, *principal)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

func (r *fakePrincipalRepo) UnlockBatch(_ context.Context, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unlockBatch = append(r.unlockBatch, ids)
	count := 0
	for _, id := range ids {
		principal, ok := r.principals[id]
		if !ok || !principal.Locked {
			continue
		}
		principal.Unlock()
		count++
	}
	return count, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *fakeSessionRepo) Create(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (r *fakeSessionRepo) GetByToken(_ context.Context, token string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.Token == token {
			clone := *session
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeSessionRepo) Touch(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	session.LastActivity = at
	return nil
}

func (r *fakeSessionRepo) CountActiveByPrincipal(_ context.Context, principalID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, session := range r.sessions {
		if session.PrincipalID == principalID && session.Active {
			count++
		}
	}
	return count, nil
}

func (r *fakeSessionRepo) OldestActiveByPrincipal(_ context.Context, principalID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *domain.Session
	for _, session := range r.sessions {
		if session.PrincipalID != principalID || !session.Active {
			continue
		}
		if oldest == nil || session.CreatedAt.Before(oldest.CreatedAt) {
			oldest = session
		}
	}
	if oldest == nil {
		return nil, repository.ErrNotFound
	}
	clone := *oldest
	return &clone, nil
}

func (r *fakeSessionRepo) ListActiveByPrincipal(_ context.Context, principalID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []domain.Session
	for _, session := range r.sessions {
		if session.PrincipalID == principalID && session.Active {
			active = append(active, *session)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
	return active, nil
}

func (r *fakeSessionRepo) Terminate(_ context.Context, sessionID, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	session.Terminate(at, reason)
	return nil
}

func (r *fakeSessionRepo) TerminateAllForPrincipal(_ context.Context, principalID, reason string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, session := range r.sessions {
		if session.PrincipalID == principalID && session.Terminate(at, reason) {
			count++
		}
	}
	return count, nil
}

func (r *fakeSessionRepo) MarkSuspicious(_ context.Context, sessionID string, riskScore int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	session.Suspicious = true
	session.RiskScore = riskScore
	return nil
}

func (r *fakeSessionRepo) TerminateExpired(_ context.Context, before time.Time, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, session := range r.sessions {
		if session.Active && session.ExpiresAt.Before(before) && session.Terminate(before, reason) {
			count++
		}
	}
	return count, nil
}

type fakeTwoFactorRepo struct {
	mu          sync.Mutex
	enrollments map[string]*domain.TwoFactorEnrollment
}

func newFakeTwoFactorRepo(enrollments ...*domain.TwoFactorEnrollment) *fakeTwoFactorRepo {
	repo := &fakeTwoFactorRepo{enrollments: make(map[string]*domain.TwoFactorEnrollment)}
	for _, enrollment := range enrollments {
		repo.enrollments[enrollment.ID] = enrollment
	}
	return repo
}

func (r *fakeTwoFactorRepo) Create(_ context.Context, enrollment domain.TwoFactorEnrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.enrollments {
		if existing.PrincipalID == enrollment.PrincipalID && existing.Method == enrollment.Method {
			return repository.ErrConflict
		}
	}
	clone := enrollment
	r.enrollments[enrollment.ID] = &clone
	return nil
}

func (r *fakeTwoFactorRepo) GetByPrincipalAndMethod(_ context.Context, principalID string, method domain.TwoFactorMethod) (*domain.TwoFactorEnrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, enrollment := range r.enrollments {
		if enrollment.PrincipalID == principalID && enrollment.Method == method {
			clone := *enrollment
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeTwoFactorRepo) ListByPrincipal(_ context.Context, principalID string) ([]domain.TwoFactorEnrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []domain.TwoFactorEnrollment
	for _, enrollment := range r.enrollments {
		if enrollment.PrincipalID == principalID {
			list = append(list, *enrollment)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *fakeTwoFactorRepo) MarkVerified(_ context.Context, enrollmentID string, primary bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	enrollment, ok := r.enrollments[enrollmentID]
	if !ok {
		return repository.ErrNotFound
	}
	enrollment.Verified = true
	enrollment.Active = true
	enrollment.Primary = primary
	enrollment.VerifiedAt = &at
	return nil
}

func (r *fakeTwoFactorRepo) UpdateLastUsed(_ context.Context, enrollmentID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	enrollment, ok := r.enrollments[enrollmentID]
	if !ok {
		return repository.ErrNotFound
	}
	enrollment.LastUsedAt = &at
	return nil
}

func (r *fakeTwoFactorRepo) ReplaceBackupCodes(_ context.Context, enrollmentID string, codes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	enrollment, ok := r.enrollments[enrollmentID]
	if !ok {
		return repository.ErrNotFound
	}
	enrollment.BackupCodes = append([]string(nil), codes...)
	return nil
}

func (r *fakeTwoFactorRepo) DeactivateAllForPrincipal(_ context.Context, principalID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, enrollment := range r.enrollments {
		if enrollment.PrincipalID == principalID && enrollment.Active {
			enrollment.Active = false
			count++
		}
	}
	return count, nil
}

type fakeSyncQueue struct {
	mu     sync.Mutex
	events map[string]*domain.SyncEvent
}

func newFakeSyncQueue() *fakeSyncQueue {
	return &fakeSyncQueue{events: make(map[string]*domain.SyncEvent)}
}

func (q *fakeSyncQueue) Insert(_ context.Context, event domain.SyncEvent) (*domain.SyncEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, existing := range q.events {
		if existing.IdempotencyKey == event.IdempotencyKey && existing.Status != domain.SyncStatusSuccess {
			clone := *existing
			return &clone, repository.ErrConflict
		}
	}
	clone := event
	q.events[event.ID] = &clone
	result := clone
	return &result, nil
}

func (q *fakeSyncQueue) GetByID(_ context.Context, id string) (*domain.SyncEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	event, ok := q.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *event
	return &clone, nil
}

func (q *fakeSyncQueue) ListByStatus(_ context.Context, status domain.SyncStatus, limit int) ([]domain.SyncEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var list []domain.SyncEvent
	for _, event := range q.events {
		if event.Status == status {
			list = append(list, *event)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (q *fakeSyncQueue) ListRetryable(_ context.Context, maxRetries int, limit int) ([]domain.SyncEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var list []domain.SyncEvent
	for _, event := range q.events {
		if event.Retryable(maxRetries) {
			list = append(list, *event)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (q *fakeSyncQueue) MarkProcessing(_ context.Context, id string, at time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	event, ok := q.events[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if event.Status != domain.SyncStatusPending && event.Status != domain.SyncStatusFailed {
		return false, nil
	}
	event.Status = domain.SyncStatusProcessing
	event.UpdatedAt = at
	return true, nil
}

func (q *fakeSyncQueue) MarkSuccess(_ context.Context, id string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	event, ok := q.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	event.Status = domain.SyncStatusSuccess
	event.UpdatedAt = at
	event.ProcessedAt = &at
	return nil
}

func (q *fakeSyncQueue) MarkFailed(_ context.Context, id string, lastError string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	event, ok := q.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	event.Status = domain.SyncStatusFailed
	event.LastError = &lastError
	event.RetryCount++
	event.UpdatedAt = at
	return nil
}

func (q *fakeSyncQueue) ReclaimStuck(_ context.Context, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, event := range q.events {
		if event.Status == domain.SyncStatusProcessing && event.UpdatedAt.Before(olderThan) {
			event.Status = domain.SyncStatusPending
			count++
		}
	}
	return count, nil
}

type fakeDirectory struct {
	mu        sync.Mutex
	nextID    int
	created   []port.DirectoryPrincipal
	updated   []port.DirectoryPrincipal
	deleted   []string
	assigned  map[string][]string
	removed   map[string][]string
	createErr error
	records   map[string]*port.DirectoryPrincipal
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		assigned: make(map[string][]string),
		removed:  make(map[string][]string),
		records:  make(map[string]*port.DirectoryPrincipal),
	}
}

func (d *fakeDirectory) CreatePrincipal(_ context.Context, principal port.DirectoryPrincipal) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return "", d.createErr
	}
	d.nextID++
	externalID := fmt.Sprintf("ext-%d", d.nextID)
	principal.ExternalID = externalID
	d.created = append(d.created, principal)
	clone := principal
	d.records[externalID] = &clone
	return externalID, nil
}

func (d *fakeDirectory) UpdatePrincipal(_ context.Context, principal port.DirectoryPrincipal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updated = append(d.updated, principal)
	return nil
}

func (d *fakeDirectory) DeletePrincipal(_ context.Context, externalID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, externalID)
	delete(d.records, externalID)
	return nil
}

func (d *fakeDirectory) AssignRole(_ context.Context, externalID, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assigned[externalID] = append(d.assigned[externalID], role)
	return nil
}

func (d *fakeDirectory) RemoveRole(_ context.Context, externalID, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed[externalID] = append(d.removed[externalID], role)
	return nil
}

func (d *fakeDirectory) GetPrincipal(_ context.Context, externalID string) (*port.DirectoryPrincipal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	record, ok := d.records[externalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

type fakePublisher struct {
	mu         sync.Mutex
	registered []domain.PrincipalRegisteredEvent
	terminated []domain.SessionTerminatedEvent
	locked     []domain.AccountLockedEvent
	unlocked   []domain.AccountUnlockedEvent
	synced     []domain.PrincipalSyncedEvent
	twoFactor  []domain.TwoFactorChangedEvent
}

func (p *fakePublisher) PublishPrincipalRegistered(_ context.Context, event domain.PrincipalRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, event)
	return nil
}

func (p *fakePublisher) PublishSessionTerminated(_ context.Context, event domain.SessionTerminatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = append(p.terminated, event)
	return nil
}

func (p *fakePublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = append(p.locked, event)
	return nil
}

func (p *fakePublisher) PublishAccountUnlocked(_ context.Context, event domain.AccountUnlockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocked = append(p.unlocked, event)
	return nil
}

func (p *fakePublisher) PublishPrincipalSynced(_ context.Context, event domain.PrincipalSyncedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synced = append(p.synced, event)
	return nil
}

func (p *fakePublisher) PublishTwoFactorChanged(_ context.Context, event domain.TwoFactorChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.twoFactor = append(p.twoFactor, event)
	return nil
}

// fakeMetrics counts telemetry callbacks in place of the Prometheus recorder.
type fakeMetrics struct {
	mu           sync.Mutex
	evicted      int
	locked       int
	unlocked     int
	syncOutcomes map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{syncOutcomes: make(map[string]int)}
}

func (m *fakeMetrics) SessionEvicted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted++
}

func (m *fakeMetrics) AccountLocked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked++
}

func (m *fakeMetrics) AccountUnlocked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocked++
}

func (m *fakeMetrics) ObserveSyncEvent(eventType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncOutcomes[eventType+"/"+status]++
}

func (m *fakeMetrics) syncOutcome(eventType, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncOutcomes[eventType+"/"+status]
}
