package session_test

import (
	"sync"
	"time"

	"github.com/p-n-ai/skoolup/internal/curriculum"
)

const (
	grade   = curriculum.Grade3eme
	subject = "math"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// testCatalog serves a fixed tree: math has chapter c1 (theory s1,
// checkpoint s2) and chapter c2 (exercise s3). Steps are worth 10 XP,
// chapters 100.
type testCatalog struct {
	mu       sync.Mutex
	tree     curriculum.Tree
	subjects map[curriculum.GradeLevel][]curriculum.Subject
	digest   string
}

func newTestCatalog() *testCatalog {
	modules := []curriculum.Module{
		{ID: "m1", Title: "Algèbre", Units: []curriculum.Unit{
			{ID: "u1", Title: "Calcul", Chapters: []curriculum.Chapter{
				{ID: "c1", Title: "Fractions", Status: curriculum.StatusLocked, XPReward: 100, Steps: []curriculum.Step{
					{ID: "s1", Kind: curriculum.KindTheory, Title: "Cours", Status: curriculum.StatusLocked, XPReward: 10, Content: "Une fraction..."},
					{ID: "s2", Kind: curriculum.KindCheckpoint, Title: "Quiz", Status: curriculum.StatusLocked, XPReward: 10, Quiz: &curriculum.Quiz{
						ID:       "q1",
						Question: "1/2 + 1/4 ?",
						Options: []curriculum.QuizOption{
							{ID: "a", Text: "3/4", IsCorrect: true},
							{ID: "b", Text: "2/6"},
						},
					}},
				}},
				{ID: "c2", Title: "Puissances", Status: curriculum.StatusLocked, XPReward: 100, Steps: []curriculum.Step{
					{ID: "s3", Kind: curriculum.KindExercise, Title: "Remets dans l'ordre", Status: curriculum.StatusLocked, XPReward: 10, Fragments: []curriculum.Fragment{
						{ID: "f1", Content: "x = 2"},
						{ID: "f2", Content: "x² = 4"},
					}},
				}},
			}},
		}},
	}
	curriculum.Normalize(modules)
	return &testCatalog{
		tree: curriculum.Tree{grade: {subject: modules}},
		subjects: map[curriculum.GradeLevel][]curriculum.Subject{
			grade: {{ID: subject, Name: "Mathématiques", Icon: "Calculator", Color: "blue", Order: 1}},
		},
		digest: "v1",
	}
}

// addSubject adds a one-chapter subject and changes the digest.
func (c *testCatalog) addSubject(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	modules := []curriculum.Module{{ID: id + "-m", Units: []curriculum.Unit{{ID: id + "-u", Chapters: []curriculum.Chapter{
		{ID: id + "-c", Status: curriculum.StatusLocked, XPReward: 100, Steps: []curriculum.Step{
			{ID: id + "-s", Kind: curriculum.KindTheory, Status: curriculum.StatusLocked, XPReward: 10},
		}},
	}}}}}
	curriculum.Normalize(modules)
	c.tree[grade][id] = modules
	c.subjects[grade] = append(c.subjects[grade], curriculum.Subject{ID: id, Name: id, Order: len(c.subjects[grade]) + 1})
	c.digest += "+" + id
}

func (c *testCatalog) Tree() curriculum.Tree {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Clone()
}

func (c *testCatalog) Subjects(g curriculum.GradeLevel) []curriculum.Subject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]curriculum.Subject(nil), c.subjects[g]...)
}

func (c *testCatalog) Subject(g curriculum.GradeLevel, id string) (curriculum.Subject, bool) {
	for _, s := range c.Subjects(g) {
		if s.ID == id {
			return s, true
		}
	}
	return curriculum.Subject{}, false
}

func (c *testCatalog) Digest() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.digest
}
