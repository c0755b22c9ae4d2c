package learner

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrQuestNotFound    = errors.New("quest not found")
	ErrQuestNotComplete = errors.New("quest not complete")
	ErrQuestClaimed     = errors.New("quest already claimed")
)

// QuestMetric is what a quest counts.
type QuestMetric string

const (
	MetricSteps    QuestMetric = "steps"
	MetricChapters QuestMetric = "chapters"
	MetricXP       QuestMetric = "xp"
)

// Quest is a daily goal with its own XP reward.
type Quest struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Metric    QuestMetric `json:"metric"`
	Target    int         `json:"target"`
	Current   int         `json:"current"`
	XPReward  int         `json:"xp_reward"`
	Icon      string      `json:"icon,omitempty"`
	Completed bool        `json:"completed"`
	Claimed   bool        `json:"claimed"`
}

// DailyQuests is the set every learner gets each day.
var DailyQuests = []Quest{
	{ID: "daily-steps", Title: "Termine 3 étapes", Metric: MetricSteps, Target: 3, XPReward: 50, Icon: "Footprints"},
	{ID: "daily-chapter", Title: "Termine un chapitre", Metric: MetricChapters, Target: 1, XPReward: 100, Icon: "BookCheck"},
	{ID: "daily-xp", Title: "Gagne 200 XP", Metric: MetricXP, Target: 200, XPReward: 75, Icon: "Zap"},
}

// Activity is the progress made by one completion call.
type Activity struct {
	Steps    int
	Chapters int
	XP       int
}

// RefreshQuests resets quests when the day has changed. It reports whether a
// reset happened.
func (p *Profile) RefreshQuests(now time.Time) bool {
	today := day(now)
	if p.QuestDay == today && len(p.Quests) > 0 {
		return false
	}
	p.Quests = append([]Quest(nil), DailyQuests...)
	p.QuestDay = today
	return true
}

// RecordActivity advances quest counters. Quest rewards are not granted until
// claimed.
func (p *Profile) RecordActivity(a Activity, now time.Time) {
	p.RefreshQuests(now)
	for i := range p.Quests {
		q := &p.Quests[i]
		if q.Completed {
			continue
		}
		switch q.Metric {
		case MetricSteps:
			q.Current += a.Steps
		case MetricChapters:
			q.Current += a.Chapters
		case MetricXP:
			q.Current += a.XP
		}
		if q.Current >= q.Target {
			q.Current = q.Target
			q.Completed = true
		}
	}
}

// ClaimQuest grants a completed quest's reward exactly once and returns the
// XP granted.
func (p *Profile) ClaimQuest(id string, now time.Time) (int, error) {
	p.RefreshQuests(now)
	for i := range p.Quests {
		q := &p.Quests[i]
		if q.ID != id {
			continue
		}
		switch {
		case q.Claimed:
			return 0, fmt.Errorf("quest %s: %w", id, ErrQuestClaimed)
		case !q.Completed:
			return 0, fmt.Errorf("quest %s (%d/%d): %w", id, q.Current, q.Target, ErrQuestNotComplete)
		}
		q.Claimed = true
		p.AwardXP(q.XPReward, now)
		return q.XPReward, nil
	}
	return 0, fmt.Errorf("quest %s: %w", id, ErrQuestNotFound)
}
