package template

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/store"
)

// ApplyStats reports what Apply created and which document references
// could not be honored.
type ApplyStats struct {
	Created  int
	Warnings []string
}

// Resolve returns the named template: built-ins take precedence, then
// documents saved in the store. Saved documents are validated on the
// way out, so a template written by an older build still has to pass
// the current schema.
func Resolve(ctx context.Context, s *store.Store, name string) (*Document, error) {
	if doc := Builtin(name); doc != nil {
		return doc, nil
	}
	saved, err := s.GetTemplate(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	return Parse(saved.Data)
}

// Apply rebuilds an event's structure from a document. Existing
// structural entities are cleared first: the clear refuses while
// entries or runs still reference them, leaving the event untouched.
// Then the event's format fields are rewritten and controls, stages,
// courses and classes are created in dependency order. Dangling
// references and in-document duplicates produce warnings and skip the
// item rather than failing the whole apply.
func Apply(ctx context.Context, s *store.Store, eventID int64, doc *Document) (*ApplyStats, error) {
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}

	if err := s.ClearStructure(ctx, eventID); err != nil {
		return nil, err
	}

	ev.Format = doc.Format
	ev.StageOrder = doc.StageOrder
	ev.TimePrecision = doc.TimePrecision
	ev.DualSlalomWindow = nil
	if doc.DualSlalomWindow != nil {
		w := *doc.DualSlalomWindow
		ev.DualSlalomWindow = &w
	}
	if err := s.UpdateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}

	stats := &ApplyStats{}

	controlIDs := make(map[int]int64, len(doc.Controls))
	for _, c := range doc.Controls {
		if _, dup := controlIDs[c.Code]; dup {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("Dubblett kontrollkod: %d", c.Code))
			continue
		}
		ctrl := &race.Control{EventID: eventID, Code: c.Code, Name: c.Name, Type: c.Type}
		if err := s.CreateControl(ctx, ctrl); err != nil {
			return nil, fmt.Errorf("create control %d: %w", c.Code, err)
		}
		controlIDs[c.Code] = ctrl.ID
		stats.Created++
	}

	stageIDs := make(map[int]int64, len(doc.Stages))
	for _, sp := range doc.Stages {
		startID, ok := controlIDs[sp.StartControlCode]
		if !ok {
			stats.Warnings = append(stats.Warnings,
				fmt.Sprintf("Stage %d: startkontroll %d saknas", sp.StageNumber, sp.StartControlCode))
			continue
		}
		finishID, ok := controlIDs[sp.FinishControlCode]
		if !ok {
			stats.Warnings = append(stats.Warnings,
				fmt.Sprintf("Stage %d: målkontroll %d saknas", sp.StageNumber, sp.FinishControlCode))
			continue
		}
		if _, dup := stageIDs[sp.StageNumber]; dup {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("Dubblett stage-nummer: %d", sp.StageNumber))
			continue
		}
		stage := &race.Stage{
			EventID:         eventID,
			StageNumber:     sp.StageNumber,
			Name:            sp.Name,
			StartControlID:  startID,
			FinishControlID: finishID,
			IsTimed:         sp.IsTimed,
			RunsToCount:     sp.RunsToCount,
		}
		if sp.MaxRuns != nil {
			m := *sp.MaxRuns
			stage.MaxRuns = &m
		}
		if err := s.CreateStage(ctx, stage); err != nil {
			return nil, fmt.Errorf("create stage %d: %w", sp.StageNumber, err)
		}
		stageIDs[sp.StageNumber] = stage.ID
		stats.Created++
	}

	courseIDs := make(map[string]int64, len(doc.Courses))
	firstCourse := ""
	for _, cs := range doc.Courses {
		if _, dup := courseIDs[cs.Name]; dup {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("Dubblett bana: %s", cs.Name))
			continue
		}
		course := &race.Course{
			EventID:        eventID,
			Name:           cs.Name,
			Laps:           cs.Laps,
			StagesAnyOrder: cs.StagesAnyOrder,
			AllowRepeat:    cs.AllowRepeat,
		}
		if err := s.CreateCourse(ctx, course); err != nil {
			return nil, fmt.Errorf("create course %q: %w", cs.Name, err)
		}
		courseIDs[cs.Name] = course.ID
		if firstCourse == "" {
			firstCourse = cs.Name
		}
		stats.Created++

		for i, sn := range cs.StageNumbers {
			sid, ok := stageIDs[sn]
			if !ok {
				stats.Warnings = append(stats.Warnings, fmt.Sprintf("Bana '%s': stage %d saknas", cs.Name, sn))
				continue
			}
			if err := s.LinkCourseStage(ctx, course.ID, sid, i+1); err != nil {
				return nil, fmt.Errorf("link stage %d to course %q: %w", sn, cs.Name, err)
			}
		}
	}

	classSeen := make(map[string]bool, len(doc.Classes))
	for _, cl := range doc.Classes {
		courseID, ok := courseIDs[cl.CourseName]
		if !ok {
			if firstCourse == "" {
				stats.Warnings = append(stats.Warnings, fmt.Sprintf("Klass '%s': ingen bana finns", cl.Name))
				continue
			}
			stats.Warnings = append(stats.Warnings,
				fmt.Sprintf("Klass '%s': bana '%s' saknas, använder '%s'", cl.Name, cl.CourseName, firstCourse))
			courseID = courseIDs[firstCourse]
		}
		if classSeen[cl.Name] {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("Dubblett klass: %s", cl.Name))
			continue
		}
		class := &race.Class{EventID: eventID, Name: cl.Name, CourseID: courseID}
		if cl.MassStartTime != nil {
			m := *cl.MassStartTime
			class.MassStartTime = &m
		}
		if err := s.CreateClass(ctx, class); err != nil {
			return nil, fmt.Errorf("create class %q: %w", cl.Name, err)
		}
		classSeen[cl.Name] = true
		stats.Created++
	}

	return stats, nil
}

// Export captures an event's structure as a portable document: the
// inverse of Apply, keyed by codes, numbers and names.
func Export(ctx context.Context, s *store.Store, eventID int64) (*Document, error) {
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}

	controls, err := s.ListControls(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list controls: %w", err)
	}
	stages, err := s.ListStages(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	courses, err := s.ListCourses(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	classes, err := s.ListClasses(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}

	doc := &Document{
		Format:        ev.Format,
		StageOrder:    ev.StageOrder,
		TimePrecision: ev.TimePrecision,
		Controls:      make([]ControlSpec, 0, len(controls)),
		Stages:        make([]StageSpec, 0, len(stages)),
		Courses:       make([]CourseSpec, 0, len(courses)),
		Classes:       make([]ClassSpec, 0, len(classes)),
	}
	if ev.DualSlalomWindow != nil {
		w := *ev.DualSlalomWindow
		doc.DualSlalomWindow = &w
	}

	codeByControl := make(map[int64]int, len(controls))
	for _, c := range controls {
		codeByControl[c.ID] = c.Code
		doc.Controls = append(doc.Controls, ControlSpec{Code: c.Code, Name: c.Name, Type: c.Type})
	}

	numberByStage := make(map[int64]int, len(stages))
	for _, st := range stages {
		numberByStage[st.ID] = st.StageNumber
		sp := StageSpec{
			StageNumber:       st.StageNumber,
			Name:              st.Name,
			StartControlCode:  codeByControl[st.StartControlID],
			FinishControlCode: codeByControl[st.FinishControlID],
			IsTimed:           st.IsTimed,
			RunsToCount:       st.RunsToCount,
		}
		if st.MaxRuns != nil {
			m := *st.MaxRuns
			sp.MaxRuns = &m
		}
		doc.Stages = append(doc.Stages, sp)
	}

	nameByCourse := make(map[int64]string, len(courses))
	for _, c := range courses {
		nameByCourse[c.ID] = c.Name
		links, err := s.ListCourseStages(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("list stages of course %q: %w", c.Name, err)
		}
		numbers := make([]int, 0, len(links))
		for _, link := range links {
			numbers = append(numbers, numberByStage[link.StageID])
		}
		doc.Courses = append(doc.Courses, CourseSpec{
			Name:           c.Name,
			Laps:           c.Laps,
			StagesAnyOrder: c.StagesAnyOrder,
			AllowRepeat:    c.AllowRepeat,
			StageNumbers:   numbers,
		})
	}

	for _, cl := range classes {
		sp := ClassSpec{Name: cl.Name, CourseName: nameByCourse[cl.CourseID]}
		if cl.MassStartTime != nil {
			m := *cl.MassStartTime
			sp.MassStartTime = &m
		}
		doc.Classes = append(doc.Classes, sp)
	}

	return doc, nil
}
