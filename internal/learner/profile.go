// Package learner holds the user progress attributes that live outside the
// curriculum tree: XP, streak, premium flag and daily quests.
package learner

import (
	"time"

	"github.com/p-n-ai/skoolup/internal/curriculum"
)

const xpPerLevel = 2500

// Role distinguishes students from teachers.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Profile is a learner's gamification state.
type Profile struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Grade        curriculum.GradeLevel `json:"grade"`
	School       string                `json:"school,omitempty"`
	Role         Role                  `json:"role"`
	XP           int                   `json:"xp"`
	Streak       int                   `json:"streak"`
	LastActiveOn string                `json:"last_active_on,omitempty"` // YYYY-MM-DD
	Premium      bool                  `json:"premium"`
	Quests       []Quest               `json:"quests,omitempty"`
	QuestDay     string                `json:"quest_day,omitempty"` // YYYY-MM-DD the quests belong to
}

// New creates a student profile with today's quests.
func New(id string, grade curriculum.GradeLevel, now time.Time) Profile {
	p := Profile{
		ID:    id,
		Grade: grade,
		Role:  RoleStudent,
	}
	p.RefreshQuests(now)
	return p
}

// AwardXP adds a positive XP delta and records activity for the streak.
// Non-positive deltas are ignored so XP never decreases.
func (p *Profile) AwardXP(delta int, now time.Time) {
	if delta <= 0 {
		return
	}
	p.XP += delta
	p.touch(now)
}

// Level is derived from XP.
func (p *Profile) Level() int {
	return 1 + p.XP/xpPerLevel
}

// Upgrade turns on the premium flag.
func (p *Profile) Upgrade() {
	p.Premium = true
}

// touch updates the daily streak: same day keeps it, the next day extends
// it, any gap restarts it at 1.
func (p *Profile) touch(now time.Time) {
	today := day(now)
	switch p.LastActiveOn {
	case today:
		return
	case day(now.AddDate(0, 0, -1)):
		p.Streak++
	default:
		p.Streak = 1
	}
	p.LastActiveOn = today
}

// day is the UTC calendar day of t, whatever location t carries.
func day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
