package progress_test

import (
	"errors"
	"testing"

	"github.com/p-n-ai/skoolup/internal/curriculum"
	"github.com/p-n-ai/skoolup/internal/progress"
)

const (
	grade   = curriculum.Grade3eme
	subject = "math"
)

// newTree builds one subject with two modules; chapters c1 and c2 live in the
// first module (3 and 2 steps), c3 in the second (1 step).
func newTree() curriculum.Tree {
	step := func(id string, status curriculum.Status) curriculum.Step {
		return curriculum.Step{ID: id, Kind: curriculum.KindTheory, Title: id, Status: status, XPReward: 10}
	}
	modules := []curriculum.Module{
		{ID: "m1", Title: "Algèbre", Units: []curriculum.Unit{
			{ID: "u1", Title: "Équations", Chapters: []curriculum.Chapter{
				{ID: "c1", Title: "Premier degré", Status: curriculum.StatusCurrent, XPReward: 150, Steps: []curriculum.Step{
					step("c1s1", curriculum.StatusCurrent),
					step("c1s2", curriculum.StatusLocked),
					step("c1s3", curriculum.StatusLocked),
				}},
				{ID: "c2", Title: "Inéquations", Status: curriculum.StatusLocked, XPReward: 100, Steps: []curriculum.Step{
					step("c2s1", curriculum.StatusLocked),
					step("c2s2", curriculum.StatusLocked),
				}},
			}},
		}},
		{ID: "m2", Title: "Géométrie", Units: []curriculum.Unit{
			{ID: "u2", Title: "Triangles", Chapters: []curriculum.Chapter{
				{ID: "c3", Title: "Pythagore", Status: curriculum.StatusLocked, XPReward: 200, Steps: []curriculum.Step{
					step("c3s1", curriculum.StatusLocked),
				}},
			}},
		}},
	}
	curriculum.Normalize(modules)
	return curriculum.Tree{grade: {subject: modules}}
}

func chapter(t *testing.T, tree curriculum.Tree, id string) *curriculum.Chapter {
	t.Helper()
	c, err := progress.FindChapter(tree, grade, subject, id)
	if err != nil {
		t.Fatalf("FindChapter(%s) error = %v", id, err)
	}
	return c
}

func stepStatuses(c *curriculum.Chapter) []curriculum.Status {
	var out []curriculum.Status
	for _, s := range c.OrderedSteps() {
		out = append(out, s.Status)
	}
	return out
}

func assertStatuses(t *testing.T, c *curriculum.Chapter, want ...curriculum.Status) {
	t.Helper()
	got := stepStatuses(c)
	if len(got) != len(want) {
		t.Fatalf("chapter %s steps = %v, want %v", c.ID, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chapter %s steps = %v, want %v", c.ID, got, want)
		}
	}
}

func TestCompleteStep_UnlocksNextStep(t *testing.T) {
	tree := newTree()

	out, err := progress.CompleteStep(tree, grade, subject, "c1", "c1s1")
	if err != nil {
		t.Fatalf("CompleteStep() error = %v", err)
	}

	assertStatuses(t, chapter(t, tree, "c1"), curriculum.StatusCompleted, curriculum.StatusCurrent, curriculum.StatusLocked)
	if !out.StepCompleted || out.ChapterCompleted {
		t.Errorf("Outcome = %+v, want step completed only", out)
	}
	if out.XP() != 10 {
		t.Errorf("Outcome.XP() = %d, want 10", out.XP())
	}
	if len(out.UnlockedSteps) != 1 || out.UnlockedSteps[0] != "c1s2" {
		t.Errorf("UnlockedSteps = %v, want [c1s2]", out.UnlockedSteps)
	}
}

func TestCompleteStep_LastStepCompletesChapterAndCascades(t *testing.T) {
	tree := newTree()
	for _, id := range []string{"c1s1", "c1s2"} {
		if _, err := progress.CompleteStep(tree, grade, subject, "c1", id); err != nil {
			t.Fatalf("CompleteStep(%s) error = %v", id, err)
		}
	}
	assertStatuses(t, chapter(t, tree, "c1"), curriculum.StatusCompleted, curriculum.StatusCompleted, curriculum.StatusCurrent)

	out, err := progress.CompleteStep(tree, grade, subject, "c1", "c1s3")
	if err != nil {
		t.Fatalf("CompleteStep(c1s3) error = %v", err)
	}

	c1 := chapter(t, tree, "c1")
	assertStatuses(t, c1, curriculum.StatusCompleted, curriculum.StatusCompleted, curriculum.StatusCompleted)
	if c1.Status != curriculum.StatusCompleted {
		t.Errorf("c1.Status = %q, want completed", c1.Status)
	}
	c2 := chapter(t, tree, "c2")
	if c2.Status != curriculum.StatusCurrent {
		t.Errorf("c2.Status = %q, want current", c2.Status)
	}
	assertStatuses(t, c2, curriculum.StatusCurrent, curriculum.StatusLocked)

	if !out.ChapterCompleted {
		t.Error("Outcome.ChapterCompleted = false, want true")
	}
	if out.XP() != 10+150 {
		t.Errorf("Outcome.XP() = %d, want 160 (step + chapter)", out.XP())
	}
	if len(out.UnlockedChapters) != 1 || out.UnlockedChapters[0] != "c2" {
		t.Errorf("UnlockedChapters = %v, want [c2]", out.UnlockedChapters)
	}
}

func TestCompleteStep_CascadeCrossesModules(t *testing.T) {
	tree := newTree()
	completeAll(t, tree, "c1", "c1s1", "c1s2", "c1s3")
	completeAll(t, tree, "c2", "c2s1", "c2s2")

	c3 := chapter(t, tree, "c3")
	if c3.Status != curriculum.StatusCurrent {
		t.Errorf("c3.Status = %q, want current", c3.Status)
	}
	assertStatuses(t, c3, curriculum.StatusCurrent)
}

func TestCompleteStep_LastChapterHasNoNext(t *testing.T) {
	tree := newTree()
	completeAll(t, tree, "c1", "c1s1", "c1s2", "c1s3")
	completeAll(t, tree, "c2", "c2s1", "c2s2")

	out, err := progress.CompleteStep(tree, grade, subject, "c3", "c3s1")
	if err != nil {
		t.Fatalf("CompleteStep() error = %v", err)
	}
	if !out.ChapterCompleted || len(out.UnlockedChapters) != 0 {
		t.Errorf("Outcome = %+v, want chapter completed without unlocks", out)
	}
	modules, _ := tree.Modules(grade, subject)
	if got := progress.ProgressPercent(modules); got != 100 {
		t.Errorf("ProgressPercent() = %d, want 100", got)
	}
}

func TestCompleteStep_Idempotent(t *testing.T) {
	tree := newTree()

	first, err := progress.CompleteStep(tree, grade, subject, "c1", "c1s1")
	if err != nil {
		t.Fatalf("first CompleteStep() error = %v", err)
	}
	snapshot := tree.Clone()

	second, err := progress.CompleteStep(tree, grade, subject, "c1", "c1s1")
	if err != nil {
		t.Fatalf("second CompleteStep() error = %v", err)
	}

	if second.Changed() || second.XP() != 0 {
		t.Errorf("second Outcome = %+v, want no change", second)
	}
	if first.XP() != 10 {
		t.Errorf("first Outcome.XP() = %d, want 10", first.XP())
	}
	assertSameStatuses(t, snapshot, tree)
}

func TestCompleteStep_LastStepTwiceDoesNotReaward(t *testing.T) {
	tree := newTree()
	total := completeAll(t, tree, "c1", "c1s1", "c1s2", "c1s3")

	again, err := progress.CompleteStep(tree, grade, subject, "c1", "c1s3")
	if err != nil {
		t.Fatalf("CompleteStep() error = %v", err)
	}
	if again.XP() != 0 || again.Changed() {
		t.Errorf("repeat Outcome = %+v, want zero", again)
	}
	if total != 3*10+150 {
		t.Errorf("total XP = %d, want 180", total)
	}
}

func TestCompleteStep_NotFound(t *testing.T) {
	tests := []struct {
		name      string
		grade     curriculum.GradeLevel
		subjectID string
		chapterID string
		stepID    string
	}{
		{"unknown grade", curriculum.GradeTle, subject, "c1", "c1s1"},
		{"unknown subject", grade, "svt", "c1", "c1s1"},
		{"unknown chapter", grade, subject, "c9", "c1s1"},
		{"step of another chapter", grade, subject, "c1", "c2s1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := newTree()
			before := tree.Clone()

			out, err := progress.CompleteStep(tree, tt.grade, tt.subjectID, tt.chapterID, tt.stepID)
			if !errors.Is(err, progress.ErrNotFound) {
				t.Fatalf("CompleteStep() error = %v, want ErrNotFound", err)
			}
			if out.Changed() {
				t.Errorf("Outcome = %+v, want zero", out)
			}
			assertSameStatuses(t, before, tree)
		})
	}
}

func TestCompleteStep_LockedIsRejected(t *testing.T) {
	tree := newTree()
	before := tree.Clone()

	if _, err := progress.CompleteStep(tree, grade, subject, "c1", "c1s2"); !errors.Is(err, progress.ErrLocked) {
		t.Errorf("CompleteStep(locked step) error = %v, want ErrLocked", err)
	}
	if _, err := progress.CompleteStep(tree, grade, subject, "c2", "c2s1"); !errors.Is(err, progress.ErrLocked) {
		t.Errorf("CompleteStep(step of locked chapter) error = %v, want ErrLocked", err)
	}
	assertSameStatuses(t, before, tree)
}

func TestCompleteStep_FullyLockedTreeCannotProgress(t *testing.T) {
	tree := newTree()
	for _, c := range allChapters(tree) {
		c.Status = curriculum.StatusLocked
		for i := range c.Steps {
			c.Steps[i].Status = curriculum.StatusLocked
		}
	}

	for _, c := range allChapters(tree) {
		if s := progress.ActiveStep(c); s != nil {
			t.Errorf("ActiveStep(%s) = %s, want nil", c.ID, s.ID)
		}
		for _, s := range c.Steps {
			if _, err := progress.CompleteStep(tree, grade, subject, c.ID, s.ID); err == nil {
				t.Errorf("CompleteStep(%s, %s) succeeded on a locked tree", c.ID, s.ID)
			}
		}
	}

	seeded, err := progress.Seed(tree, grade, subject)
	if err != nil || !seeded {
		t.Fatalf("Seed() = %v, %v, want true, nil", seeded, err)
	}
	if _, err := progress.CompleteStep(tree, grade, subject, "c1", "c1s1"); err != nil {
		t.Errorf("CompleteStep() after Seed error = %v", err)
	}
}

func TestCompleteChapter_RejectsIncomplete(t *testing.T) {
	tree := newTree()
	c2 := chapter(t, tree, "c2")
	c2.Status = curriculum.StatusCurrent
	c2.Steps[0].Status = curriculum.StatusCompleted
	c2.Steps[1].Status = curriculum.StatusCurrent

	out, err := progress.CompleteChapter(tree, grade, subject, "c2")
	if !errors.Is(err, progress.ErrChapterIncomplete) {
		t.Fatalf("CompleteChapter() error = %v, want ErrChapterIncomplete", err)
	}
	if out.Changed() || c2.Status != curriculum.StatusCurrent {
		t.Errorf("chapter changed on rejected completion: status %q, outcome %+v", c2.Status, out)
	}
}

func TestCompleteChapter_EmptyChapter(t *testing.T) {
	tree := newTree()
	c1 := chapter(t, tree, "c1")
	c1.Steps = nil

	out, err := progress.CompleteChapter(tree, grade, subject, "c1")
	if err != nil {
		t.Fatalf("CompleteChapter() error = %v", err)
	}
	if !out.ChapterCompleted || out.XP() != 150 {
		t.Errorf("Outcome = %+v, want chapter completed with 150 XP", out)
	}
	if chapter(t, tree, "c2").Status != curriculum.StatusCurrent {
		t.Error("next chapter should be current")
	}

	again, err := progress.CompleteChapter(tree, grade, subject, "c1")
	if err != nil || again.Changed() {
		t.Errorf("repeat CompleteChapter() = %+v, %v, want no-op", again, err)
	}
}

func TestCompleteChapter_Errors(t *testing.T) {
	tree := newTree()

	if _, err := progress.CompleteChapter(tree, grade, subject, "c2"); !errors.Is(err, progress.ErrLocked) {
		t.Errorf("CompleteChapter(locked) error = %v, want ErrLocked", err)
	}
	if _, err := progress.CompleteChapter(tree, grade, subject, "nope"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("CompleteChapter(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := progress.CompleteChapter(tree, grade, "svt", "c1"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("CompleteChapter(unknown subject) error = %v, want ErrNotFound", err)
	}
}

func TestCompleteChapter_AfterAutoCompletionIsNoop(t *testing.T) {
	tree := newTree()
	completeAll(t, tree, "c1", "c1s1", "c1s2", "c1s3")

	out, err := progress.CompleteChapter(tree, grade, subject, "c1")
	if err != nil {
		t.Fatalf("CompleteChapter() error = %v", err)
	}
	if out.XP() != 0 {
		t.Errorf("CompleteChapter() awarded %d XP for an already completed chapter", out.XP())
	}
}

// TestInvariants walks the whole subject, checking after every call that
// statuses never move backwards, at most one chapter and one step per chapter
// are current, and the XP total equals the rewards of completed units.
func TestInvariants(t *testing.T) {
	tree := newTree()
	modules, _ := tree.Modules(grade, subject)
	awarded := 0
	prev := statusMap(tree)

	for i := 0; i < 20; i++ {
		c := progress.ActiveChapter(modules)
		if c == nil {
			break
		}
		s := progress.ActiveStep(c)
		if s == nil {
			t.Fatalf("chapter %s is current but has no active step", c.ID)
		}

		// Repeat calls must not change anything.
		for repeat := 0; repeat < 2; repeat++ {
			out, err := progress.CompleteStep(tree, grade, subject, c.ID, s.ID)
			if err != nil {
				t.Fatalf("CompleteStep(%s, %s) error = %v", c.ID, s.ID, err)
			}
			awarded += out.XP()
		}
		_, _ = progress.CompleteChapter(tree, grade, subject, c.ID)

		cur := statusMap(tree)
		for id, was := range prev {
			if rank(cur[id]) < rank(was) {
				t.Fatalf("%s moved backwards: %s -> %s", id, was, cur[id])
			}
		}
		prev = cur

		currentChapters := 0
		for _, ch := range curriculum.Chapters(modules) {
			if ch.Status == curriculum.StatusCurrent {
				currentChapters++
			}
			currentSteps := 0
			for _, st := range ch.Steps {
				if st.Status == curriculum.StatusCurrent {
					currentSteps++
				}
			}
			if currentSteps > 1 {
				t.Fatalf("chapter %s has %d current steps", ch.ID, currentSteps)
			}
			if ch.Status == curriculum.StatusCompleted && !ch.AllStepsCompleted() {
				t.Fatalf("chapter %s completed with incomplete steps", ch.ID)
			}
		}
		if currentChapters > 1 {
			t.Fatalf("%d chapters are current", currentChapters)
		}

		if want := completedRewards(modules); awarded != want {
			t.Fatalf("awarded XP = %d, want %d", awarded, want)
		}
	}

	if awarded != progress.MaxXP(modules) {
		t.Errorf("awarded XP = %d, want MaxXP %d", awarded, progress.MaxXP(modules))
	}
}

func TestActiveStep(t *testing.T) {
	tree := newTree()

	if s := progress.ActiveStep(chapter(t, tree, "c1")); s == nil || s.ID != "c1s1" {
		t.Errorf("ActiveStep(c1) = %v, want c1s1", s)
	}
	if s := progress.ActiveStep(chapter(t, tree, "c2")); s != nil {
		t.Errorf("ActiveStep(c2) = %s, want nil", s.ID)
	}

	completeAll(t, tree, "c1", "c1s1", "c1s2", "c1s3")
	if s := progress.ActiveStep(chapter(t, tree, "c1")); s != nil {
		t.Errorf("ActiveStep(completed c1) = %s, want nil", s.ID)
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name    string
		modules []curriculum.Module
		want    int
	}{
		{"no modules", nil, 0},
		{"modules without chapters", []curriculum.Module{{ID: "m1", Units: []curriculum.Unit{{ID: "u1"}}}}, 0},
		{"one of three", chaptersWith(curriculum.StatusCompleted, curriculum.StatusCurrent, curriculum.StatusLocked), 33},
		{"two of three", chaptersWith(curriculum.StatusCompleted, curriculum.StatusCompleted, curriculum.StatusCurrent), 67},
		{"all", chaptersWith(curriculum.StatusCompleted, curriculum.StatusCompleted), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progress.ProgressPercent(tt.modules); got != tt.want {
				t.Errorf("ProgressPercent() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSeed(t *testing.T) {
	tree := newTree()

	seeded, err := progress.Seed(tree, grade, subject)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if seeded {
		t.Error("Seed() on a started subject should not change anything")
	}

	if _, err := progress.Seed(tree, grade, "svt"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("Seed(unknown) error = %v, want ErrNotFound", err)
	}

	empty := curriculum.Tree{grade: {"svt": nil}}
	if seeded, err := progress.Seed(empty, grade, "svt"); err != nil || seeded {
		t.Errorf("Seed(empty subject) = %v, %v, want false, nil", seeded, err)
	}
}

func completeAll(t *testing.T, tree curriculum.Tree, chapterID string, stepIDs ...string) int {
	t.Helper()
	total := 0
	for _, id := range stepIDs {
		out, err := progress.CompleteStep(tree, grade, subject, chapterID, id)
		if err != nil {
			t.Fatalf("CompleteStep(%s, %s) error = %v", chapterID, id, err)
		}
		total += out.XP()
	}
	return total
}

func allChapters(tree curriculum.Tree) []*curriculum.Chapter {
	modules, _ := tree.Modules(grade, subject)
	return curriculum.Chapters(modules)
}

func chaptersWith(statuses ...curriculum.Status) []curriculum.Module {
	var chapters []curriculum.Chapter
	for i, s := range statuses {
		chapters = append(chapters, curriculum.Chapter{ID: string(rune('a' + i)), Status: s})
	}
	return []curriculum.Module{{ID: "m", Units: []curriculum.Unit{{ID: "u", Chapters: chapters}}}}
}

func statusMap(tree curriculum.Tree) map[string]curriculum.Status {
	out := make(map[string]curriculum.Status)
	for _, c := range allChapters(tree) {
		out[c.ID] = c.Status
		for _, s := range c.Steps {
			out[c.ID+"/"+s.ID] = s.Status
		}
	}
	return out
}

func assertSameStatuses(t *testing.T, want, got curriculum.Tree) {
	t.Helper()
	w, g := statusMap(want), statusMap(got)
	for id, status := range w {
		if g[id] != status {
			t.Errorf("%s status = %q, want %q", id, g[id], status)
		}
	}
}

func completedRewards(modules []curriculum.Module) int {
	total := 0
	for _, c := range curriculum.Chapters(modules) {
		if c.Status == curriculum.StatusCompleted {
			total += c.XPReward
		}
		for _, s := range c.Steps {
			if s.Status == curriculum.StatusCompleted {
				total += s.XPReward
			}
		}
	}
	return total
}

func rank(s curriculum.Status) int {
	switch s {
	case curriculum.StatusCurrent:
		return 1
	case curriculum.StatusCompleted:
		return 2
	default:
		return 0
	}
}
