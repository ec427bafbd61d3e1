package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eklind/gravitytiming/internal/race"
)

// Scenario describes one timing flow end to end: an event built from a
// template, its start list, the punch feed and any status changes.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Template is the event template to apply, built-in or saved.
	Template string `yaml:"template"`

	Event   EventSpec   `yaml:"event"`
	Entries []EntrySpec `yaml:"entries"`

	// Punches is the chip feed in chronological order.
	Punches []PunchStep `yaml:"punches,omitempty"`

	// Statuses runs after the feed. A step with a stage number marks
	// the rider's latest attempt there; without one it marks the
	// whole entry.
	Statuses []StatusStep `yaml:"statuses,omitempty"`
}

// EventSpec names the event the scenario creates.
type EventSpec struct {
	Name     string `yaml:"name"`
	Date     string `yaml:"date"`
	Location string `yaml:"location,omitempty"`
}

// EntrySpec is one start list row. The first chip becomes the primary.
type EntrySpec struct {
	Bib   int     `yaml:"bib"`
	First string  `yaml:"first,omitempty"`
	Last  string  `yaml:"last"`
	Club  string  `yaml:"club,omitempty"`
	Class string  `yaml:"class"`
	Chips []int64 `yaml:"chips"`
}

// PunchStep is one chip reading. Time uses the wire layout
// (YYYY-MM-DD HH:MM:SS, UTC); source defaults to roc.
type PunchStep struct {
	Chip   int64  `yaml:"chip"`
	Code   int    `yaml:"code"`
	Time   string `yaml:"time"`
	Source string `yaml:"source,omitempty"`
}

// StatusStep marks a rider dns, dnf or dsq.
type StatusStep struct {
	Bib    int    `yaml:"bib"`
	Stage  int    `yaml:"stage,omitempty"`
	Status string `yaml:"status"`
}

// LoadScenario reads and validates a scenario YAML file. Unknown fields
// are rejected so typos fail loudly instead of silently dropping steps.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Template == "" {
		return fmt.Errorf("template is required")
	}
	if s.Event.Name == "" {
		return fmt.Errorf("event.name is required")
	}
	if s.Event.Date == "" {
		return fmt.Errorf("event.date is required")
	}
	if _, err := time.Parse("2006-01-02", s.Event.Date); err != nil {
		return fmt.Errorf("event.date %q: want YYYY-MM-DD", s.Event.Date)
	}
	if len(s.Entries) == 0 {
		return fmt.Errorf("entries list must not be empty")
	}

	bibs := make(map[int]bool, len(s.Entries))
	chips := make(map[int64]bool)
	for i, e := range s.Entries {
		if e.Bib <= 0 {
			return fmt.Errorf("entries[%d]: bib must be positive", i)
		}
		if bibs[e.Bib] {
			return fmt.Errorf("entries[%d]: duplicate bib %d", i, e.Bib)
		}
		bibs[e.Bib] = true
		if e.Last == "" {
			return fmt.Errorf("entries[%d]: last name is required", i)
		}
		if e.Class == "" {
			return fmt.Errorf("entries[%d]: class is required", i)
		}
		if len(e.Chips) == 0 {
			return fmt.Errorf("entries[%d]: at least one chip is required", i)
		}
		for _, c := range e.Chips {
			if c <= 0 {
				return fmt.Errorf("entries[%d]: chip ids must be positive", i)
			}
			if chips[c] {
				return fmt.Errorf("entries[%d]: chip %d assigned twice", i, c)
			}
			chips[c] = true
		}
	}

	// Punches from chips outside the start list are allowed: spectator
	// and crew chips show up in real feeds and the engine keeps them as
	// raw data.
	for i, p := range s.Punches {
		if p.Chip <= 0 {
			return fmt.Errorf("punches[%d]: chip must be positive", i)
		}
		if p.Code <= 0 {
			return fmt.Errorf("punches[%d]: code must be positive", i)
		}
		if _, err := race.ParsePunchTime(p.Time); err != nil {
			return fmt.Errorf("punches[%d]: %w", i, err)
		}
		switch race.Source(p.Source) {
		case "", race.SourceUSB, race.SourceSIRAP, race.SourceROC, race.SourceManual:
		default:
			return fmt.Errorf("punches[%d]: unknown source %q", i, p.Source)
		}
	}

	for i, st := range s.Statuses {
		if !bibs[st.Bib] {
			return fmt.Errorf("statuses[%d]: bib %d is not on the start list", i, st.Bib)
		}
		if st.Stage < 0 {
			return fmt.Errorf("statuses[%d]: stage must not be negative", i)
		}
		switch race.RunStatus(st.Status) {
		case race.StatusDNS, race.StatusDNF, race.StatusDSQ:
		default:
			return fmt.Errorf("statuses[%d]: status must be dns, dnf or dsq", i)
		}
	}
	return nil
}
