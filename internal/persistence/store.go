package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/careerhub/internal/activity"
	"github.com/spigell/careerhub/internal/stats"
)

const DefaultActivityLimit = 200

var (
	ErrNotFound = errors.New("user record not found")
	// ErrPersistence wraps every storage failure surfaced by this package.
	ErrPersistence = errors.New("persistence failure")
)

// UserStats is the durable copy of a user's counters and recent activity.
type UserStats struct {
	Resumes    int              `json:"resumes"`
	Interviews int              `json:"interviews"`
	Courses    int              `json:"courses"`
	Skills     int              `json:"skills"`
	Activities []activity.Entry `json:"activities"`
}

func (s *UserStats) add(m stats.Metric, amount int) {
	var field *int
	switch m {
	case stats.MetricResumes:
		field = &s.Resumes
	case stats.MetricInterviews:
		field = &s.Interviews
	case stats.MetricCourses:
		field = &s.Courses
	case stats.MetricSkills:
		field = &s.Skills
	default:
		return
	}
	*field = stats.AddClamped(*field, amount)
}

// User is the durable record stored per identity.
type User struct {
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Stats     UserStats `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record converts the durable stats into the in-memory record shape.
func (s UserStats) Record() stats.Record {
	return stats.Record{
		Resumes:    s.Resumes,
		Interviews: s.Interviews,
		Courses:    s.Courses,
		Skills:     s.Skills,
		Activities: append([]activity.Entry(nil), s.Activities...),
	}
}

// Update is applied to a user record in a single transaction. Prepend puts
// the entries in front of the existing activity list, keeping their order.
type Update struct {
	Increments map[stats.Metric]int
	Prepend    []activity.Entry
}

// UserStore is a document store keyed by identity.
type UserStore interface {
	Find(ctx context.Context, identity string) (*User, error)
	// Apply atomically increments counters and prepends activity, creating
	// the record when it does not exist yet.
	Apply(ctx context.Context, identity string, update Update) (*User, error)
	Close() error
}
