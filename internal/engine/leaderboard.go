package engine

import (
	"sort"

	"activist-bot/internal/models"
)

type RankingQuery struct {
	// UserID, when set, asks for that user's place in the full ordering.
	UserID string
	// TopN truncates the entries; zero keeps all of them.
	TopN int
	// ExcludeBanned drops banned users before ranking.
	ExcludeBanned bool
}

type RankEntry struct {
	UserID      string
	DisplayName string
	Score       int
}

type Leaderboard struct {
	Entries []RankEntry
	// Rank is the 1-based place of RankingQuery.UserID, or 0 when absent.
	Rank int
}

// Ranking orders users by score, ties broken by id so repeated calls agree.
func (e *Engine) Ranking(q RankingQuery) (Leaderboard, error) {
	users, err := e.st.Users()
	if err != nil {
		return Leaderboard{}, err
	}
	return rank(users, q), nil
}

func rank(users models.Users, q RankingQuery) Leaderboard {
	entries := make([]RankEntry, 0, len(users))
	for id, u := range users {
		if u == nil {
			continue
		}
		if q.ExcludeBanned && bool(u.Ban) {
			continue
		}
		entries = append(entries, RankEntry{UserID: id, DisplayName: u.DisplayName(), Score: u.Score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return lessID(entries[i].UserID, entries[j].UserID)
	})

	var lb Leaderboard
	if q.UserID != "" {
		for i, en := range entries {
			if en.UserID == q.UserID {
				lb.Rank = i + 1
				break
			}
		}
	}
	if q.TopN > 0 && len(entries) > q.TopN {
		entries = entries[:q.TopN]
	}
	lb.Entries = entries
	return lb
}
