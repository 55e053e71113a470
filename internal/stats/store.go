package stats

import (
	"math"
	"strings"
	"sync"

	"github.com/spigell/careerhub/internal/activity"
)

// AnonymousIdentity owns every event that arrives without an identity, so
// the global counters always equal the sum of the per-identity ones.
const AnonymousIdentity = "anonymous"

const (
	DefaultGlobalActivity = 20
	DefaultUserActivity   = 200
)

// Record is a point-in-time copy of one set of counters and its feed.
type Record struct {
	Resumes    int              `json:"resumes"`
	Interviews int              `json:"interviews"`
	Courses    int              `json:"courses"`
	Skills     int              `json:"skills"`
	Activities []activity.Entry `json:"activities"`
}

// Get returns the value of the counter m. Unknown metrics read as zero.
func (r Record) Get(m Metric) int {
	switch m {
	case MetricResumes:
		return r.Resumes
	case MetricInterviews:
		return r.Interviews
	case MetricCourses:
		return r.Courses
	case MetricSkills:
		return r.Skills
	}
	return 0
}

// Change describes the effect of an Increment.
type Change struct {
	Identity string
	Metric   Metric
	// Value is the identity's counter after the update.
	Value int
	// Applied is the delta that actually landed after the zero clamp.
	Applied int
}

type counters struct {
	values map[Metric]int
	log    *activity.Log[activity.Entry]
	// touched is false while the record only exists because it was read.
	touched bool
}

func newCounters(capacity int) *counters {
	return &counters{
		values: make(map[Metric]int, len(Metrics)),
		log:    activity.NewLog[activity.Entry](capacity),
	}
}

func (c *counters) record() Record {
	return Record{
		Resumes:    c.values[MetricResumes],
		Interviews: c.values[MetricInterviews],
		Courses:    c.values[MetricCourses],
		Skills:     c.values[MetricSkills],
		Activities: c.log.Snapshot(),
	}
}

// Store holds the per-identity records and the global aggregate.
// Writes are expected to come from a single owner; reads may happen from
// any goroutine.
type Store struct {
	mu           sync.RWMutex
	global       *counters
	users        map[string]*counters
	userCapacity int
}

// NewStore creates a store whose global feed keeps globalCapacity entries and
// each identity feed keeps userCapacity entries.
func NewStore(globalCapacity, userCapacity int) *Store {
	if globalCapacity <= 0 {
		globalCapacity = DefaultGlobalActivity
	}
	if userCapacity <= 0 {
		userCapacity = DefaultUserActivity
	}
	return &Store{
		global:       newCounters(globalCapacity),
		users:        make(map[string]*counters),
		userCapacity: userCapacity,
	}
}

// CanonicalIdentity is the single spelling of an identity used as a key in
// memory and on disk. Identities are case-insensitive e-mail addresses.
func CanonicalIdentity(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NormalizeIdentity canonicalizes id and maps the empty identity to
// AnonymousIdentity.
func NormalizeIdentity(id string) string {
	id = CanonicalIdentity(id)
	if id == "" {
		return AnonymousIdentity
	}
	return id
}

// AddClamped returns value+amount kept within [0, math.MaxInt]. It never
// wraps around.
func AddClamped(value, amount int) int {
	switch {
	case amount > 0 && value > math.MaxInt-amount:
		return math.MaxInt
	case value+amount < 0:
		return 0
	}
	return value + amount
}

// user must be called with mu held for writing.
func (s *Store) user(id string) *counters {
	c, ok := s.users[id]
	if !ok {
		c = newCounters(s.userCapacity)
		s.users[id] = c
	}
	return c
}

// Increment adds amount to the identity's counter m, never letting it drop
// below zero, and moves the global counter by the same applied delta.
func (s *Store) Increment(identity string, m Metric, amount int) (Change, error) {
	if err := m.Validate(); err != nil {
		return Change{}, err
	}
	identity = NormalizeIdentity(identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(identity)
	u.touched = true
	before := u.values[m]
	after := AddClamped(before, amount)
	applied := after - before
	u.values[m] = after

	s.global.values[m] = AddClamped(s.global.values[m], applied)

	return Change{Identity: identity, Metric: m, Value: after, Applied: applied}, nil
}

// RecordActivity pushes entry onto the global feed and, when identity is not
// empty, onto that identity's feed.
func (s *Store) RecordActivity(identity string, entry activity.Entry) {
	identity = CanonicalIdentity(identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.global.log.Push(entry)
	if identity != "" {
		u := s.user(identity)
		u.touched = true
		u.log.Push(entry)
	}
}

// Snapshot returns the global record for an empty identity and the
// identity's record otherwise. Unknown identities get an empty record.
func (s *Store) Snapshot(identity string) Record {
	identity = CanonicalIdentity(identity)
	if identity == "" {
		return s.Global()
	}

	s.mu.RLock()
	c, ok := s.users[identity]
	if ok {
		defer s.mu.RUnlock()
		return c.record()
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user(identity).record()
}

func (s *Store) Global() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global.record()
}

// Known reports whether the identity's record in memory holds any state.
// Records created by reading an unknown identity do not count.
func (s *Store) Known(identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[NormalizeIdentity(identity)]
	return ok && u.touched
}

// Seed creates the identity's record from a previously stored one and adds
// its counters to the global record. It does nothing and returns false when
// the identity is already known, so a record is seeded at most once.
// rec.Activities is newest-first.
func (s *Store) Seed(identity string, rec Record) bool {
	identity = NormalizeIdentity(identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(identity)
	if u.touched {
		return false
	}
	u.touched = true

	for _, m := range Metrics {
		value := AddClamped(0, rec.Get(m))
		u.values[m] = value
		s.global.values[m] = AddClamped(s.global.values[m], value)
	}
	for i := len(rec.Activities) - 1; i >= 0; i-- {
		u.log.Push(rec.Activities[i])
	}
	return true
}

// Identities returns the number of identities seen so far.
func (s *Store) Identities() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Consistent reports whether every global counter equals the sum of the
// per-identity counters.
func (s *Store) Consistent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range Metrics {
		sum := 0
		for _, u := range s.users {
			sum += u.values[m]
		}
		if sum != s.global.values[m] {
			return false
		}
	}
	return true
}
