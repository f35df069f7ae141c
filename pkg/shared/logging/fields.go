// Package logging provides a small structured-field builder shared by every
// component so logrus call sites stay consistent.
package logging

import "time"

// Fields is a logrus.Fields-compatible builder with named helpers for the
// dimensions the engine logs most often.
type Fields map[string]interface{}

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(kind, name string) Fields {
	f["resource_type"] = kind
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) EpisodeID(id string) Fields {
	f["episode_id"] = id
	return f
}

func (f Fields) PatternID(id string) Fields {
	f["pattern_id"] = id
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}
