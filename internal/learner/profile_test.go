package learner_test

import (
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/skoolup/internal/curriculum"
	"github.com/p-n-ai/skoolup/internal/learner"
)

var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestProfile_AwardXP(t *testing.T) {
	p := learner.New("u1", curriculum.Grade3eme, monday)

	p.AwardXP(150, monday)
	p.AwardXP(0, monday)
	p.AwardXP(-40, monday)

	if p.XP != 150 {
		t.Errorf("XP = %d, want 150 (non-positive deltas ignored)", p.XP)
	}
	if p.Streak != 1 {
		t.Errorf("Streak = %d, want 1", p.Streak)
	}
}

func TestProfile_Streak(t *testing.T) {
	tests := []struct {
		name string
		days []int // day offsets from monday with activity
		want int
	}{
		{"single day", []int{0}, 1},
		{"same day twice", []int{0, 0}, 1},
		{"three in a row", []int{0, 1, 2}, 3},
		{"gap resets", []int{0, 1, 3}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := learner.New("u1", curriculum.Grade3eme, monday)
			for _, d := range tt.days {
				p.AwardXP(10, monday.AddDate(0, 0, d))
			}
			if p.Streak != tt.want {
				t.Errorf("Streak = %d, want %d", p.Streak, tt.want)
			}
		})
	}
}

func TestProfile_StreakUsesUTCDay(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	lateMonday := time.Date(2026, 3, 2, 23, 30, 0, 0, paris)  // 22:30 UTC
	pastMidnight := time.Date(2026, 3, 3, 0, 30, 0, 0, paris) // 23:30 UTC, still Monday

	p := learner.New("u1", curriculum.Grade3eme, lateMonday)
	p.AwardXP(10, lateMonday)
	p.AwardXP(10, pastMidnight)

	if p.Streak != 1 {
		t.Errorf("Streak = %d, want 1 within one UTC day", p.Streak)
	}
	if p.LastActiveOn != "2026-03-02" {
		t.Errorf("LastActiveOn = %q, want 2026-03-02", p.LastActiveOn)
	}

	p.AwardXP(10, time.Date(2026, 3, 3, 1, 30, 0, 0, paris)) // 00:30 UTC Tuesday
	if p.Streak != 2 {
		t.Errorf("Streak = %d, want 2 on the next UTC day", p.Streak)
	}
}

func TestProfile_Level(t *testing.T) {
	tests := []struct {
		xp   int
		want int
	}{
		{0, 1},
		{2499, 1},
		{2500, 2},
		{12450, 5},
	}
	for _, tt := range tests {
		p := learner.Profile{XP: tt.xp}
		if got := p.Level(); got != tt.want {
			t.Errorf("Level() with %d XP = %d, want %d", tt.xp, got, tt.want)
		}
	}
}

func TestProfile_Upgrade(t *testing.T) {
	p := learner.New("u1", curriculum.Grade3eme, monday)
	p.Upgrade()
	if !p.Premium {
		t.Error("Premium = false after Upgrade()")
	}
}

func TestQuests_ProgressAndClaim(t *testing.T) {
	p := learner.New("u1", curriculum.Grade3eme, monday)

	p.RecordActivity(learner.Activity{Steps: 2, XP: 20}, monday)
	if _, err := p.ClaimQuest("daily-steps", monday); !errors.Is(err, learner.ErrQuestNotComplete) {
		t.Fatalf("ClaimQuest(incomplete) error = %v, want ErrQuestNotComplete", err)
	}

	p.RecordActivity(learner.Activity{Steps: 5, XP: 10}, monday)
	xpBefore := p.XP
	got, err := p.ClaimQuest("daily-steps", monday)
	if err != nil {
		t.Fatalf("ClaimQuest() error = %v", err)
	}
	if got != 50 || p.XP != xpBefore+50 {
		t.Errorf("ClaimQuest() = %d, XP %d -> %d, want +50", got, xpBefore, p.XP)
	}

	if _, err := p.ClaimQuest("daily-steps", monday); !errors.Is(err, learner.ErrQuestClaimed) {
		t.Errorf("second ClaimQuest() error = %v, want ErrQuestClaimed", err)
	}
	if p.XP != xpBefore+50 {
		t.Errorf("XP after double claim = %d, want %d", p.XP, xpBefore+50)
	}
	if _, err := p.ClaimQuest("weekly", monday); !errors.Is(err, learner.ErrQuestNotFound) {
		t.Errorf("ClaimQuest(unknown) error = %v, want ErrQuestNotFound", err)
	}
}

func TestQuests_CurrentIsCappedAtTarget(t *testing.T) {
	p := learner.New("u1", curriculum.Grade3eme, monday)
	p.RecordActivity(learner.Activity{Chapters: 4}, monday)

	for _, q := range p.Quests {
		if q.ID == "daily-chapter" && (q.Current != 1 || !q.Completed) {
			t.Errorf("daily-chapter = %d/%d completed=%v, want 1/1 completed", q.Current, q.Target, q.Completed)
		}
	}
}

func TestQuests_ResetNextDay(t *testing.T) {
	p := learner.New("u1", curriculum.Grade3eme, monday)
	p.RecordActivity(learner.Activity{Steps: 3}, monday)

	if p.RefreshQuests(monday) {
		t.Error("RefreshQuests() reset quests on the same day")
	}
	if !p.RefreshQuests(monday.AddDate(0, 0, 1)) {
		t.Fatal("RefreshQuests() did not reset on the next day")
	}
	for _, q := range p.Quests {
		if q.Current != 0 || q.Completed || q.Claimed {
			t.Errorf("quest %s not reset: %+v", q.ID, q)
		}
	}
}
