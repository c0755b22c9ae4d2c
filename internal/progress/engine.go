// Package progress implements the curriculum progression state machine.
//
// Every function is stateless: it operates on the curriculum.Tree passed in
// and mutates status fields in place. Statuses only ever move
// locked -> current -> completed, and XP is awarded once per transition into
// completed.
package progress

import (
	"errors"
	"fmt"
	"math"

	"github.com/p-n-ai/skoolup/internal/curriculum"
)

var (
	// ErrNotFound means the grade/subject/chapter/step path does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrLocked means the addressed chapter or step has not been unlocked yet.
	ErrLocked = errors.New("locked")
	// ErrChapterIncomplete means a chapter still has steps that are not completed.
	ErrChapterIncomplete = errors.New("chapter has incomplete steps")
)

// AwardKind tells what earned an award.
type AwardKind string

const (
	AwardStep    AwardKind = "step"
	AwardChapter AwardKind = "chapter"
)

// Award is a single XP grant.
type Award struct {
	Kind AwardKind `json:"kind"`
	ID   string    `json:"id"`
	XP   int       `json:"xp"`
}

// Outcome describes what a completion call changed. The zero Outcome means
// nothing changed.
type Outcome struct {
	StepCompleted    bool     `json:"step_completed"`
	ChapterCompleted bool     `json:"chapter_completed"`
	UnlockedSteps    []string `json:"unlocked_steps,omitempty"`
	UnlockedChapters []string `json:"unlocked_chapters,omitempty"`
	Awards           []Award  `json:"awards,omitempty"`
}

// XP returns the total XP delta of the outcome.
func (o Outcome) XP() int {
	total := 0
	for _, a := range o.Awards {
		total += a.XP
	}
	return total
}

// Changed reports whether any status field moved.
func (o Outcome) Changed() bool {
	return o.StepCompleted || o.ChapterCompleted || len(o.UnlockedSteps) > 0 || len(o.UnlockedChapters) > 0
}

// index is a flat view over one subject's chapters in curriculum order.
type index struct {
	chapters []*curriculum.Chapter
	position map[string]int
}

func newIndex(tree curriculum.Tree, grade curriculum.GradeLevel, subjectID string) (*index, error) {
	modules, ok := tree.Modules(grade, subjectID)
	if !ok {
		return nil, fmt.Errorf("subject %s/%s: %w", grade, subjectID, ErrNotFound)
	}
	chapters := curriculum.Chapters(modules)
	idx := &index{
		chapters: chapters,
		position: make(map[string]int, len(chapters)),
	}
	for i, c := range chapters {
		idx.position[c.ID] = i
	}
	return idx, nil
}

func (idx *index) chapter(id string) (*curriculum.Chapter, int, error) {
	i, ok := idx.position[id]
	if !ok {
		return nil, -1, fmt.Errorf("chapter %s: %w", id, ErrNotFound)
	}
	return idx.chapters[i], i, nil
}

// CompleteStep marks a step completed after a successful validation, unlocks
// the next step, and when it was the last step completes the chapter and
// unlocks the next chapter. Re-completing a completed step is a no-op.
func CompleteStep(tree curriculum.Tree, grade curriculum.GradeLevel, subjectID, chapterID, stepID string) (Outcome, error) {
	idx, err := newIndex(tree, grade, subjectID)
	if err != nil {
		return Outcome{}, err
	}
	chapter, pos, err := idx.chapter(chapterID)
	if err != nil {
		return Outcome{}, err
	}

	steps := chapter.OrderedSteps()
	at := -1
	for i, s := range steps {
		if s.ID == stepID {
			at = i
			break
		}
	}
	if at < 0 {
		return Outcome{}, fmt.Errorf("step %s in chapter %s: %w", stepID, chapterID, ErrNotFound)
	}

	step := steps[at]
	if step.Status == curriculum.StatusCompleted {
		return Outcome{}, nil
	}
	if chapter.Status == curriculum.StatusLocked {
		return Outcome{}, fmt.Errorf("chapter %s: %w", chapterID, ErrLocked)
	}
	if step.Status == curriculum.StatusLocked {
		return Outcome{}, fmt.Errorf("step %s: %w", stepID, ErrLocked)
	}

	var out Outcome
	step.Status = curriculum.StatusCompleted
	out.StepCompleted = true
	if step.XPReward > 0 {
		out.Awards = append(out.Awards, Award{Kind: AwardStep, ID: step.ID, XP: step.XPReward})
	}

	if at+1 < len(steps) {
		if next := steps[at+1]; next.Status == curriculum.StatusLocked {
			next.Status = curriculum.StatusCurrent
			out.UnlockedSteps = append(out.UnlockedSteps, next.ID)
		}
		return out, nil
	}

	if chapter.Status != curriculum.StatusCompleted && chapter.AllStepsCompleted() {
		completeChapter(idx, chapter, pos, &out)
	}
	return out, nil
}

// CompleteChapter completes a chapter whose steps are all completed. A
// chapter with any step not yet completed is left untouched.
func CompleteChapter(tree curriculum.Tree, grade curriculum.GradeLevel, subjectID, chapterID string) (Outcome, error) {
	idx, err := newIndex(tree, grade, subjectID)
	if err != nil {
		return Outcome{}, err
	}
	chapter, pos, err := idx.chapter(chapterID)
	if err != nil {
		return Outcome{}, err
	}

	switch {
	case chapter.Status == curriculum.StatusCompleted:
		return Outcome{}, nil
	case chapter.Status == curriculum.StatusLocked:
		return Outcome{}, fmt.Errorf("chapter %s: %w", chapterID, ErrLocked)
	case !chapter.AllStepsCompleted():
		return Outcome{}, fmt.Errorf("chapter %s: %w", chapterID, ErrChapterIncomplete)
	}

	var out Outcome
	completeChapter(idx, chapter, pos, &out)
	return out, nil
}

func completeChapter(idx *index, chapter *curriculum.Chapter, pos int, out *Outcome) {
	chapter.Status = curriculum.StatusCompleted
	out.ChapterCompleted = true
	if chapter.XPReward > 0 {
		out.Awards = append(out.Awards, Award{Kind: AwardChapter, ID: chapter.ID, XP: chapter.XPReward})
	}

	if pos+1 >= len(idx.chapters) {
		return
	}
	next := idx.chapters[pos+1]
	if next.Status != curriculum.StatusLocked {
		return
	}
	next.Status = curriculum.StatusCurrent
	out.UnlockedChapters = append(out.UnlockedChapters, next.ID)

	if steps := next.OrderedSteps(); len(steps) > 0 && steps[0].Status == curriculum.StatusLocked {
		steps[0].Status = curriculum.StatusCurrent
		out.UnlockedSteps = append(out.UnlockedSteps, steps[0].ID)
	}
}

// Seed starts a subject that has never been started: when no chapter is
// current or completed, the first chapter and its first step become current.
// It reports whether anything changed.
func Seed(tree curriculum.Tree, grade curriculum.GradeLevel, subjectID string) (bool, error) {
	idx, err := newIndex(tree, grade, subjectID)
	if err != nil {
		return false, err
	}
	if len(idx.chapters) == 0 {
		return false, nil
	}
	for _, c := range idx.chapters {
		if c.Status != curriculum.StatusLocked {
			return false, nil
		}
	}

	first := idx.chapters[0]
	first.Status = curriculum.StatusCurrent
	if steps := first.OrderedSteps(); len(steps) > 0 && steps[0].Status == curriculum.StatusLocked {
		steps[0].Status = curriculum.StatusCurrent
	}
	return true, nil
}

// ActiveStep returns the step the learner should work on next, or nil when
// the chapter is finished or not started.
func ActiveStep(chapter *curriculum.Chapter) *curriculum.Step {
	for _, s := range chapter.OrderedSteps() {
		if s.Status == curriculum.StatusCurrent {
			return s
		}
	}
	return nil
}

// ActiveChapter returns the current chapter of a subject, or nil.
func ActiveChapter(modules []curriculum.Module) *curriculum.Chapter {
	for _, c := range curriculum.Chapters(modules) {
		if c.Status == curriculum.StatusCurrent {
			return c
		}
	}
	return nil
}

// FindChapter locates a chapter of a subject by ID.
func FindChapter(tree curriculum.Tree, grade curriculum.GradeLevel, subjectID, chapterID string) (*curriculum.Chapter, error) {
	idx, err := newIndex(tree, grade, subjectID)
	if err != nil {
		return nil, err
	}
	c, _, err := idx.chapter(chapterID)
	return c, err
}

// FindStep locates a step of a chapter by ID.
func FindStep(chapter *curriculum.Chapter, stepID string) (*curriculum.Step, error) {
	for i := range chapter.Steps {
		if chapter.Steps[i].ID == stepID {
			return &chapter.Steps[i], nil
		}
	}
	return nil, fmt.Errorf("step %s in chapter %s: %w", stepID, chapter.ID, ErrNotFound)
}

// ProgressPercent returns round(100 * completed / total) over every chapter
// of the modules, and 0 when there are no chapters.
func ProgressPercent(modules []curriculum.Module) int {
	total, completed := 0, 0
	for _, m := range modules {
		for _, u := range m.Units {
			for _, c := range u.Chapters {
				total++
				if c.Status == curriculum.StatusCompleted {
					completed++
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// MaxXP is the XP a learner earns by completing every step and chapter of
// the modules.
func MaxXP(modules []curriculum.Module) int {
	total := 0
	for _, c := range curriculum.Chapters(modules) {
		total += c.XPReward
		for _, s := range c.Steps {
			total += s.XPReward
		}
	}
	return total
}
