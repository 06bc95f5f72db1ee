package sheets

import (
	"activist-bot/internal/engine"
	"activist-bot/internal/models"
)

func LeaderboardRows(entries []engine.RankEntry) [][]interface{} {
	out := [][]interface{}{{"place", "user_id", "name", "score"}}
	for i, en := range entries {
		out = append(out, []interface{}{i + 1, en.UserID, en.DisplayName, en.Score})
	}
	return out
}

// RosterRows puts a project summary line above the member table.
func RosterRows(p *models.Project, rows []engine.RosterRow) [][]interface{} {
	out := [][]interface{}{
		{"project", p.Title(), "date", p.Date, "prize", p.Prize, "members", len(rows)},
		{},
		{"user_id", "name", "username", "phone", "IDfirst", "score", "role"},
	}
	for _, r := range rows {
		out = append(out, []interface{}{r.UserID, r.DisplayName, blank(r.Username), blank(r.Phone), blank(r.ExternalID), r.Score, r.Role})
	}
	return out
}

func blank(v string) string {
	if !models.IsSet(v) {
		return ""
	}
	return v
}
