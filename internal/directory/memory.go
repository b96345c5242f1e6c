package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type linkKey struct {
	guardianID string
	studentID  string
}

// Memory is an in-process directory for development and tests.
type Memory struct {
	mu      sync.RWMutex
	people  map[string]Person
	byBadge map[string]string
	links   map[linkKey]GuardianLink
}

func NewMemory() *Memory {
	return &Memory{
		people:  make(map[string]Person),
		byBadge: make(map[string]string),
		links:   make(map[linkKey]GuardianLink),
	}
}

func (m *Memory) UpsertPerson(_ context.Context, p Person) (Person, error) {
	if err := p.Validate(); err != nil {
		return Person{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if owner, ok := m.byBadge[p.BadgeID]; ok && owner != p.ID {
		return Person{}, ErrDuplicateBadge
	}
	if prev, ok := m.people[p.ID]; ok {
		p.CreatedAt = prev.CreatedAt
		delete(m.byBadge, prev.BadgeID)
	} else {
		p.CreatedAt = time.Now().UTC()
	}
	m.people[p.ID] = p
	m.byBadge[p.BadgeID] = p.ID
	return p, nil
}

func (m *Memory) Person(_ context.Context, id string) (Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[id]
	if !ok {
		return Person{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) PersonByBadge(_ context.Context, badgeID string) (Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byBadge[badgeID]
	if !ok {
		return Person{}, ErrNotFound
	}
	return m.people[id], nil
}

func (m *Memory) People(_ context.Context, role Role) ([]Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Person
	for _, p := range m.people {
		if role == "" || p.Role == role {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) LinkGuardian(_ context.Context, guardianID, studentID, email string) (GuardianLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	guardian, ok := m.people[guardianID]
	if !ok {
		return GuardianLink{}, ErrNotFound
	}
	student, ok := m.people[studentID]
	if !ok {
		return GuardianLink{}, ErrNotFound
	}
	if err := checkLinkRoles(guardian, student); err != nil {
		return GuardianLink{}, err
	}
	addr, err := resolveLinkEmail(guardian, email)
	if err != nil {
		return GuardianLink{}, err
	}

	link := GuardianLink{
		GuardianID:        guardianID,
		GuardianName:      guardian.Name,
		StudentID:         studentID,
		NotificationEmail: addr,
		UpdatedAt:         time.Now().UTC(),
	}
	m.links[linkKey{guardianID, studentID}] = link
	return link, nil
}

func (m *Memory) GuardiansOf(_ context.Context, personID string) ([]GuardianLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []GuardianLink
	for k, l := range m.links {
		if k.studentID == personID {
			l.GuardianName = m.people[k.guardianID].Name
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuardianID < out[j].GuardianID })
	return out, nil
}
