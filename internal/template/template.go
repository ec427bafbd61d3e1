// Package template defines the portable event structure document: the
// controls, stages, courses and classes of an event referenced by
// control code, stage number and course name instead of database ids,
// so a document applies cleanly to any event. Eight built-in templates
// cover the usual gravity formats; user documents are JSON validated
// against an embedded CUE schema before anything touches the store.
package template

import (
	_ "embed"
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/eklind/gravitytiming/internal/race"
)

//go:embed schema.cue
var schemaSource []byte

// ErrNotFound reports a template name that is neither built in nor
// saved in the store.
var ErrNotFound = errors.New("template not found")

// Document is one event structure. Stages bind to controls by code,
// courses to stages by number, classes to courses by name.
type Document struct {
	Format           race.Format     `json:"format"`
	StageOrder       race.StageOrder `json:"stage_order"`
	TimePrecision    race.Precision  `json:"time_precision"`
	DualSlalomWindow *float64        `json:"dual_slalom_window,omitempty"`
	Controls         []ControlSpec   `json:"controls"`
	Stages           []StageSpec     `json:"stages"`
	Courses          []CourseSpec    `json:"courses"`
	Classes          []ClassSpec     `json:"classes"`
}

// ControlSpec is one timing beacon.
type ControlSpec struct {
	Code int              `json:"code"`
	Name string           `json:"name"`
	Type race.ControlType `json:"type"`
}

// StageSpec is one stage, bounded by control codes.
type StageSpec struct {
	StageNumber       int    `json:"stage_number"`
	Name              string `json:"name"`
	StartControlCode  int    `json:"start_control_code"`
	FinishControlCode int    `json:"finish_control_code"`
	IsTimed           bool   `json:"is_timed"`
	RunsToCount       int    `json:"runs_to_count"`
	MaxRuns           *int   `json:"max_runs,omitempty"`
}

// CourseSpec is one course with its stages listed by number.
type CourseSpec struct {
	Name           string `json:"name"`
	Laps           int    `json:"laps"`
	StagesAnyOrder bool   `json:"stages_any_order"`
	AllowRepeat    bool   `json:"allow_repeat"`
	StageNumbers   []int  `json:"stage_numbers"`
}

// ClassSpec is one competitor class bound to a course by name.
type ClassSpec struct {
	Name          string  `json:"name"`
	CourseName    string  `json:"course_name"`
	MassStartTime *string `json:"mass_start_time,omitempty"`
}

// Parse validates raw JSON against the document schema and decodes it.
// Schema defaults fill omitted fields: is_timed true, runs_to_count 1,
// laps 1. Unknown fields and out-of-range values are rejected with the
// schema's error text.
func Parse(data []byte) (*Document, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Document"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("lookup document definition: %w", err)
	}

	val := ctx.CompileBytes(data, cue.Filename("document.json"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("parse document: %s", cueerrors.Details(err, nil))
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid structure document: %s", cueerrors.Details(err, nil))
	}

	doc := &Document{}
	if err := unified.Decode(doc); err != nil {
		return nil, fmt.Errorf("decode structure document: %w", err)
	}
	return doc, nil
}
