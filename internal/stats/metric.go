package stats

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMetric is returned for counter keys outside the recognized set.
var ErrUnknownMetric = errors.New("unknown metric")

// Metric names one of the tracked usage counters.
type Metric string

const (
	MetricResumes    Metric = "resumes"
	MetricInterviews Metric = "interviews"
	MetricCourses    Metric = "courses"
	MetricSkills     Metric = "skills"
)

// Metrics lists every recognized counter.
var Metrics = []Metric{MetricResumes, MetricInterviews, MetricCourses, MetricSkills}

// ParseMetric normalizes s and checks it against the recognized counters.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

func (m Metric) Validate() error {
	switch m {
	case MetricResumes, MetricInterviews, MetricCourses, MetricSkills:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMetric, string(m))
	}
}
