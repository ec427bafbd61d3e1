package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eklind/gravitytiming/internal/race"
)

// ErrInUse is returned by safe deletes when other rows still reference the
// target. Callers unwrap it to distinguish refusal from failure.
var ErrInUse = errors.New("in use")

// CreateControl inserts a timing control and sets c.ID.
// Fails if the (event, code) pair already exists.
func (s *Store) CreateControl(ctx context.Context, c *race.Control) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO controls (event_id, code, name, type) VALUES (?, ?, ?, ?)
	`, c.EventID, c.Code, c.Name, string(c.Type))
	if err != nil {
		return fmt.Errorf("create control: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("create control id: %w", err)
	}
	c.ID = id
	return nil
}

// ListControls returns all controls for an event ordered by code.
func (s *Store) ListControls(ctx context.Context, eventID int64) ([]race.Control, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, code, name, type
		FROM controls
		WHERE event_id = ?
		ORDER BY code ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query controls: %w", err)
	}
	defer rows.Close()

	var controls []race.Control
	for rows.Next() {
		var c race.Control
		if err := rows.Scan(&c.ID, &c.EventID, &c.Code, &c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("scan control: %w", err)
		}
		controls = append(controls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate controls: %w", err)
	}
	if controls == nil {
		controls = []race.Control{}
	}
	return controls, nil
}

// UpdateControl rewrites a control's code, name and type.
func (s *Store) UpdateControl(ctx context.Context, c *race.Control) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE controls SET code = ?, name = ?, type = ? WHERE id = ?
	`, c.Code, c.Name, string(c.Type), c.ID)
	if err != nil {
		return fmt.Errorf("update control: %w", err)
	}
	return nil
}

// DeleteControl removes a control. Refuses with ErrInUse while any stage
// uses it as a boundary.
func (s *Store) DeleteControl(ctx context.Context, controlID int64) error {
	var stageID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM stages WHERE start_control_id = ? OR finish_control_id = ? LIMIT 1
	`, controlID, controlID).Scan(&stageID)
	if err == nil {
		return fmt.Errorf("control is used by a stage, remove the stage first: %w", ErrInUse)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check control references: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM controls WHERE id = ?`, controlID); err != nil {
		return fmt.Errorf("delete control: %w", err)
	}
	return nil
}

// CreateStage inserts a stage and sets st.ID.
// Fails if the (event, stage_number) pair already exists.
func (s *Store) CreateStage(ctx context.Context, st *race.Stage) error {
	if st.RunsToCount == 0 {
		st.RunsToCount = 1
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stages (event_id, stage_number, name, start_control_id,
			finish_control_id, is_timed, runs_to_count, max_runs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, st.EventID, st.StageNumber, st.Name, st.StartControlID,
		st.FinishControlID, st.IsTimed, st.RunsToCount, st.MaxRuns)
	if err != nil {
		return fmt.Errorf("create stage: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("create stage id: %w", err)
	}
	st.ID = id
	return nil
}

// ListStages returns all stages for an event ordered by stage number.
func (s *Store) ListStages(ctx context.Context, eventID int64) ([]race.Stage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, stage_number, name, start_control_id,
			finish_control_id, is_timed, runs_to_count, max_runs
		FROM stages
		WHERE event_id = ?
		ORDER BY stage_number ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()
	return collectStages(rows)
}

// UpdateStage rewrites a stage's mutable fields.
func (s *Store) UpdateStage(ctx context.Context, st *race.Stage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stages
		SET stage_number = ?, name = ?, start_control_id = ?, finish_control_id = ?,
			is_timed = ?, runs_to_count = ?, max_runs = ?
		WHERE id = ?
	`, st.StageNumber, st.Name, st.StartControlID, st.FinishControlID,
		st.IsTimed, st.RunsToCount, st.MaxRuns, st.ID)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	return nil
}

// DeleteStage removes a stage and its course links. Refuses with ErrInUse
// once runs have been recorded on it.
func (s *Store) DeleteStage(ctx context.Context, stageID int64) error {
	var runID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM stage_runs WHERE stage_id = ? LIMIT 1
	`, stageID).Scan(&runID)
	if err == nil {
		return fmt.Errorf("stage has recorded runs: %w", ErrInUse)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check stage references: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete stage: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM course_stages WHERE stage_id = ?`, stageID); err != nil {
		return fmt.Errorf("delete stage links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE id = ?`, stageID); err != nil {
		return fmt.Errorf("delete stage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete stage: %w", err)
	}
	return nil
}

// CreateCourse inserts a course and sets c.ID.
func (s *Store) CreateCourse(ctx context.Context, c *race.Course) error {
	if c.Laps == 0 {
		c.Laps = 1
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (event_id, name, laps, stages_any_order, allow_repeat)
		VALUES (?, ?, ?, ?, ?)
	`, c.EventID, c.Name, c.Laps, c.StagesAnyOrder, c.AllowRepeat)
	if err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("create course id: %w", err)
	}
	c.ID = id
	return nil
}

// ListCourses returns all courses for an event in creation order.
func (s *Store) ListCourses(ctx context.Context, eventID int64) ([]race.Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, name, laps, stages_any_order, allow_repeat
		FROM courses
		WHERE event_id = ?
		ORDER BY id ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query courses: %w", err)
	}
	defer rows.Close()

	var courses []race.Course
	for rows.Next() {
		var c race.Course
		if err := rows.Scan(&c.ID, &c.EventID, &c.Name, &c.Laps, &c.StagesAnyOrder, &c.AllowRepeat); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	if courses == nil {
		courses = []race.Course{}
	}
	return courses, nil
}

// UpdateCourse rewrites a course's mutable fields.
func (s *Store) UpdateCourse(ctx context.Context, c *race.Course) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE courses SET name = ?, laps = ?, stages_any_order = ?, allow_repeat = ? WHERE id = ?
	`, c.Name, c.Laps, c.StagesAnyOrder, c.AllowRepeat, c.ID)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// DeleteCourse removes a course and its stage links. Refuses with ErrInUse
// while classes reference it.
func (s *Store) DeleteCourse(ctx context.Context, courseID int64) error {
	var classID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM classes WHERE course_id = ? LIMIT 1
	`, courseID).Scan(&classID)
	if err == nil {
		return fmt.Errorf("course has classes attached, remove the classes first: %w", ErrInUse)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check course references: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete course: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM course_stages WHERE course_id = ?`, courseID); err != nil {
		return fmt.Errorf("delete course links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, courseID); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete course: %w", err)
	}
	return nil
}

// LinkCourseStage attaches a stage to a course at the given position.
// Linking the same stage twice is a no-op thanks to the duplicate check.
func (s *Store) LinkCourseStage(ctx context.Context, courseID, stageID int64, order int) error {
	var existing int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM course_stages WHERE course_id = ? AND stage_id = ?
	`, courseID, stageID).Scan(&existing)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check course link: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO course_stages (course_id, stage_id, stage_order) VALUES (?, ?, ?)
	`, courseID, stageID, order); err != nil {
		return fmt.Errorf("link course stage: %w", err)
	}
	return nil
}

// UnlinkCourseStage detaches a stage from a course.
func (s *Store) UnlinkCourseStage(ctx context.Context, courseID, stageID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM course_stages WHERE course_id = ? AND stage_id = ?
	`, courseID, stageID)
	if err != nil {
		return fmt.Errorf("unlink course stage: %w", err)
	}
	return nil
}

// ListCourseStages returns the stage links of a course in course order.
func (s *Store) ListCourseStages(ctx context.Context, courseID int64) ([]race.CourseStage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT course_id, stage_id, stage_order
		FROM course_stages
		WHERE course_id = ?
		ORDER BY stage_order ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("query course stages: %w", err)
	}
	defer rows.Close()

	var links []race.CourseStage
	for rows.Next() {
		var cs race.CourseStage
		if err := rows.Scan(&cs.CourseID, &cs.StageID, &cs.StageOrder); err != nil {
			return nil, fmt.Errorf("scan course stage: %w", err)
		}
		links = append(links, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course stages: %w", err)
	}
	if links == nil {
		links = []race.CourseStage{}
	}
	return links, nil
}

// CreateClass inserts a class and sets cl.ID.
func (s *Store) CreateClass(ctx context.Context, cl *race.Class) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO classes (event_id, course_id, name, mass_start_time)
		VALUES (?, ?, ?, ?)
	`, cl.EventID, cl.CourseID, cl.Name, cl.MassStartTime)
	if err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("create class id: %w", err)
	}
	cl.ID = id
	return nil
}

// ListClasses returns all classes for an event ordered by name.
func (s *Store) ListClasses(ctx context.Context, eventID int64) ([]race.Class, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, course_id, name, mass_start_time
		FROM classes
		WHERE event_id = ?
		ORDER BY name ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	defer rows.Close()

	var classes []race.Class
	for rows.Next() {
		cl, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		classes = append(classes, *cl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classes: %w", err)
	}
	if classes == nil {
		classes = []race.Class{}
	}
	return classes, nil
}

// GetClass retrieves a single class by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetClass(ctx context.Context, id int64) (*race.Class, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, course_id, name, mass_start_time FROM classes WHERE id = ?
	`, id)
	return scanClass(row)
}

// UpdateClass rewrites a class's mutable fields.
func (s *Store) UpdateClass(ctx context.Context, cl *race.Class) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE classes SET course_id = ?, name = ?, mass_start_time = ? WHERE id = ?
	`, cl.CourseID, cl.Name, cl.MassStartTime, cl.ID)
	if err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return nil
}

// DeleteClass removes a class. Refuses with ErrInUse while entries exist.
func (s *Store) DeleteClass(ctx context.Context, classID int64) error {
	var entryID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM entries WHERE class_id = ? LIMIT 1
	`, classID).Scan(&entryID)
	if err == nil {
		return fmt.Errorf("class has registered riders: %w", ErrInUse)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check class references: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM classes WHERE id = ?`, classID); err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return nil
}

// ClearStructure deletes every class, course, stage and control for an
// event in one transaction. Used before applying a template to a dirty
// event. Fails if entries or runs still reference the structure.
func (s *Store) ClearStructure(ctx context.Context, eventID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear structure: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM classes WHERE event_id = ?`,
		`DELETE FROM course_stages WHERE course_id IN (SELECT id FROM courses WHERE event_id = ?)`,
		`DELETE FROM courses WHERE event_id = ?`,
		`DELETE FROM stages WHERE event_id = ?`,
		`DELETE FROM controls WHERE event_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, eventID); err != nil {
			return fmt.Errorf("clear structure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear structure: %w", err)
	}
	return nil
}

// StageTiming is a stage with its boundary control codes resolved, the
// shape the assembler works with.
type StageTiming struct {
	Stage      race.Stage
	StartCode  int
	FinishCode int
}

// StageForControl finds the stage whose start or finish control carries the
// given code. The first matching stage by stage number wins when a code is
// shared. Returns sql.ErrNoRows if no stage uses the code.
func (s *Store) StageForControl(ctx context.Context, eventID int64, code int) (*StageTiming, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.event_id, s.stage_number, s.name, s.start_control_id,
			s.finish_control_id, s.is_timed, s.runs_to_count, s.max_runs,
			sc.code, fc.code
		FROM stages s
		JOIN controls sc ON sc.id = s.start_control_id
		JOIN controls fc ON fc.id = s.finish_control_id
		WHERE s.event_id = ? AND (sc.code = ? OR fc.code = ?)
		ORDER BY s.stage_number ASC
		LIMIT 1
	`, eventID, code, code)

	var (
		st      StageTiming
		maxRuns sql.NullInt64
	)
	err := row.Scan(&st.Stage.ID, &st.Stage.EventID, &st.Stage.StageNumber,
		&st.Stage.Name, &st.Stage.StartControlID, &st.Stage.FinishControlID,
		&st.Stage.IsTimed, &st.Stage.RunsToCount, &maxRuns,
		&st.StartCode, &st.FinishCode)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan stage timing: %w", err)
	}
	st.Stage.MaxRuns = intPtr(maxRuns)
	return &st, nil
}

// TimedStagesForEntry resolves the timed stages an entry competes on via
// class to course to course_stages, in course order. Falls back to all
// timed stages of the event when the course has no linked stages.
func (s *Store) TimedStagesForEntry(ctx context.Context, eventID int64, entry *race.Entry) ([]race.Stage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.event_id, s.stage_number, s.name, s.start_control_id,
			s.finish_control_id, s.is_timed, s.runs_to_count, s.max_runs
		FROM stages s
		JOIN course_stages cs ON cs.stage_id = s.id
		JOIN classes cl ON cl.course_id = cs.course_id
		WHERE cl.id = ? AND s.is_timed = 1
		ORDER BY cs.stage_order ASC
	`, entry.ClassID)
	if err != nil {
		return nil, fmt.Errorf("query course stages: %w", err)
	}
	stages, err := func() ([]race.Stage, error) {
		defer rows.Close()
		return collectStages(rows)
	}()
	if err != nil {
		return nil, err
	}
	if len(stages) > 0 {
		return stages, nil
	}

	// No course linkage: every timed stage of the event counts.
	rows, err = s.db.QueryContext(ctx, `
		SELECT id, event_id, stage_number, name, start_control_id,
			finish_control_id, is_timed, runs_to_count, max_runs
		FROM stages
		WHERE event_id = ? AND is_timed = 1
		ORDER BY stage_number ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query timed stages: %w", err)
	}
	defer rows.Close()
	return collectStages(rows)
}

// StartControlCodes returns the codes of all start-type controls for an
// event. Dual slalom grouping partitions punches on these codes.
func (s *Store) StartControlCodes(ctx context.Context, eventID int64) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code FROM controls WHERE event_id = ? AND type = 'start' ORDER BY code ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query start controls: %w", err)
	}
	defer rows.Close()

	var codes []int
	for rows.Next() {
		var code int
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan control code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate control codes: %w", err)
	}
	if codes == nil {
		codes = []int{}
	}
	return codes, nil
}

// collectStages drains a stage query into a slice.
func collectStages(rows *sql.Rows) ([]race.Stage, error) {
	var stages []race.Stage
	for rows.Next() {
		var (
			st      race.Stage
			maxRuns sql.NullInt64
		)
		err := rows.Scan(&st.ID, &st.EventID, &st.StageNumber, &st.Name,
			&st.StartControlID, &st.FinishControlID, &st.IsTimed,
			&st.RunsToCount, &maxRuns)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		st.MaxRuns = intPtr(maxRuns)
		stages = append(stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}
	if stages == nil {
		stages = []race.Stage{}
	}
	return stages, nil
}

// scanClass scans one class row.
func scanClass(row rowScanner) (*race.Class, error) {
	var (
		cl        race.Class
		massStart sql.NullString
	)
	err := row.Scan(&cl.ID, &cl.EventID, &cl.CourseID, &cl.Name, &massStart)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan class: %w", err)
	}
	cl.MassStartTime = stringPtr(massStart)
	return &cl, nil
}
