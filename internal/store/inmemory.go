package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu           sync.RWMutex
	users        map[string]User
	usersByEmail map[string]string
	usage        map[string]UsageLimits
	counted      map[string]map[string]bool
	scenarios    map[string]CustomScenario
	scheduled    map[string]ScheduledCall
	records      map[string]CallRecord
	recordsBySID map[string]string
	numbers      map[string][]UserPhoneNumber
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:        make(map[string]User),
		usersByEmail: make(map[string]string),
		usage:        make(map[string]UsageLimits),
		counted:      make(map[string]map[string]bool),
		scenarios:    make(map[string]CustomScenario),
		scheduled:    make(map[string]ScheduledCall),
		records:      make(map[string]CallRecord),
		recordsBySID: make(map[string]string),
		numbers:      make(map[string][]UserPhoneNumber),
	}
}

func (s *InMemoryStore) CreateUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.usersByEmail[key]; ok {
		return ErrConflict
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	s.usersByEmail[key] = u.ID
	return nil
}

func (s *InMemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *InMemoryStore) GetUsage(_ context.Context, userID string) (UsageLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usage[userID]
	if !ok {
		u = defaultUsage(userID, time.Now().UTC())
		s.usage[userID] = u
	}
	return u, nil
}

func (s *InMemoryStore) SaveUsage(_ context.Context, u UsageLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[u.UserID] = u
	return nil
}

func (s *InMemoryStore) MarkCallCounted(_ context.Context, userID, providerSID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.counted[userID]
	if !ok {
		set = make(map[string]bool)
		s.counted[userID] = set
	}
	if set[providerSID] {
		return false, nil
	}
	set[providerSID] = true
	return true, nil
}

func (s *InMemoryStore) UnmarkCallCounted(_ context.Context, userID, providerSID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.counted[userID]; ok {
		delete(set, providerSID)
	}
	return nil
}

func (s *InMemoryStore) CreateCustomScenario(_ context.Context, cs CustomScenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenarios[cs.ID]; ok {
		return ErrConflict
	}
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = time.Now().UTC()
	}
	s.scenarios[cs.ID] = cs
	return nil
}

func (s *InMemoryStore) GetCustomScenario(_ context.Context, id string) (CustomScenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.scenarios[id]
	if !ok {
		return CustomScenario{}, ErrNotFound
	}
	return cs, nil
}

func (s *InMemoryStore) ListCustomScenarios(_ context.Context, ownerID string) ([]CustomScenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CustomScenario
	for _, cs := range s.scenarios {
		if cs.OwnerID == ownerID {
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) UpdateCustomScenario(_ context.Context, cs CustomScenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.scenarios[cs.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.OwnerID != cs.OwnerID {
		return ErrForbidden
	}
	cs.CreatedAt = cur.CreatedAt
	s.scenarios[cs.ID] = cs
	return nil
}

func (s *InMemoryStore) DeleteCustomScenario(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.scenarios[id]
	if !ok {
		return ErrNotFound
	}
	if cur.OwnerID != ownerID {
		return ErrForbidden
	}
	delete(s.scenarios, id)
	return nil
}

func (s *InMemoryStore) CreateScheduledCall(_ context.Context, sc ScheduledCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scheduled[sc.ID]; ok {
		return ErrConflict
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	s.scheduled[sc.ID] = sc
	return nil
}

func (s *InMemoryStore) DueScheduledCalls(_ context.Context, now time.Time) ([]ScheduledCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ScheduledCall
	for _, sc := range s.scheduled {
		if !sc.DueAt.After(now) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out, nil
}

func (s *InMemoryStore) ListScheduledCalls(_ context.Context, ownerID string) ([]ScheduledCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ScheduledCall
	for _, sc := range s.scheduled {
		if sc.OwnerID == ownerID {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *InMemoryStore) DeleteScheduledCall(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scheduled[id]; !ok {
		return ErrNotFound
	}
	delete(s.scheduled, id)
	return nil
}

func (s *InMemoryStore) CreateCallRecord(_ context.Context, r CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recordsBySID[r.ProviderSID]; ok && r.ProviderSID != "" {
		return ErrConflict
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	s.records[r.ID] = r
	if r.ProviderSID != "" {
		s.recordsBySID[r.ProviderSID] = r.ID
	}
	return nil
}

func (s *InMemoryStore) GetCallRecordBySID(_ context.Context, providerSID string) (CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.recordsBySID[providerSID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return s.records[id], nil
}

func (s *InMemoryStore) UpdateCallRecord(_ context.Context, r CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		return ErrNotFound
	}
	s.records[r.ID] = r
	return nil
}

func (s *InMemoryStore) ListCallRecords(_ context.Context, ownerID string, limit int) ([]CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CallRecord
	for _, r := range s.records {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListPhoneNumbers(_ context.Context, ownerID string) ([]UserPhoneNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]UserPhoneNumber(nil), s.numbers[ownerID]...), nil
}

// AddPhoneNumber seeds a provisioned number; used by tests and dev tooling.
func (s *InMemoryStore) AddPhoneNumber(n UserPhoneNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers[n.OwnerID] = append(s.numbers[n.OwnerID], n)
}

func (s *InMemoryStore) Close() error { return nil }

// defaultUsage is the lazily initialized trial row for a new user.
func defaultUsage(userID string, now time.Time) UsageLimits {
	return UsageLimits{
		UserID:              userID,
		Tier:                TierTrial,
		TrialCallsRemaining: 3,
		WeekAnchor:          now,
		MonthAnchor:         now,
	}
}
