package tgbot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activist-bot/internal/engine"
	"activist-bot/internal/models"
)

func TestParseCommand(t *testing.T) {
	cmd, args, ok := parseCommand("/Edit_Project@activist_bot sport 17")
	require.True(t, ok)
	assert.Equal(t, "edit_project", cmd)
	assert.Equal(t, []string{"sport", "17"}, args)

	_, _, ok = parseCommand("hello")
	assert.False(t, ok)
	_, _, ok = parseCommand("/")
	assert.False(t, ok)
	_, _, ok = parseCommand("/@bot")
	assert.False(t, ok)
}

func TestSplitCallback(t *testing.T) {
	p, a, payload := splitCallback("a:edit:name:sport:::7")
	assert.Equal(t, "a", p)
	assert.Equal(t, "edit", a)
	assert.Equal(t, "name:sport:::7", payload)

	p, a, payload = splitCallback("u:menu")
	assert.Equal(t, []string{"u", "menu", ""}, []string{p, a, payload})

	p, a, payload = splitCallback("junk")
	assert.Equal(t, []string{"junk", "", ""}, []string{p, a, payload})
}

func TestRefArgs(t *testing.T) {
	ref, err := refArgs([]string{"sport", "17"})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectRef{Category: models.CategorySport, ID: "17"}, ref)

	_, err = refArgs([]string{"sport"})
	assert.Error(t, err)
	_, err = refArgs([]string{"karting", "1"})
	assert.Error(t, err)
	_, err = refArgs([]string{"sport", "1:::x"})
	assert.Error(t, err)
	_, err = refArgs([]string{"sport", "-3"})
	assert.Error(t, err)
}

func TestReasonText(t *testing.T) {
	assert.Equal(t, textNotFound, reasonText(engine.Result{Reason: engine.ReasonNotFound}))
	assert.Equal(t, textSaveFailed, reasonText(engine.Result{Reason: engine.ReasonPersistFailed}))
	assert.Contains(t,
		reasonText(engine.Result{Reason: engine.ReasonProfileIncomplete, Detail: "phone"}),
		"«Телефон»")
}

func TestLeaderboardText(t *testing.T) {
	lb := engine.Leaderboard{
		Entries: []engine.RankEntry{
			{UserID: "1", DisplayName: "Анна <b>", Score: 90},
			{UserID: "2", DisplayName: "Иван", Score: 70},
			{UserID: "3", DisplayName: "Пётр", Score: 40},
			{UserID: "4", DisplayName: "Олег", Score: 10},
		},
		Rank: 7,
	}
	txt := leaderboardText(lb, &models.User{Score: 3})
	assert.Contains(t, txt, "🥇 Анна &lt;b&gt;: 90")
	assert.Contains(t, txt, "🥉 Пётр: 40")
	assert.Contains(t, txt, "4. Олег: 10")
	assert.Contains(t, txt, "Ваше место: 7 (3 баллов)")

	assert.Contains(t, leaderboardText(engine.Leaderboard{}, nil), "Пока никого нет.")
}

func TestTerminateResultText(t *testing.T) {
	res := engine.TerminateResult{Success: true, Title: "Субботник", Rewarded: 2, Detached: 3, Unrewarded: []string{"77"}}
	txt := terminateResultText(res, true)
	assert.Contains(t, txt, "Участников отключено: 3")
	assert.Contains(t, txt, "Награждено: 2")
	assert.Contains(t, txt, "77")

	assert.NotContains(t, terminateResultText(engine.TerminateResult{Success: true, Title: "X"}, false), "Награждено")
	assert.Equal(t, textNotFound, terminateResultText(engine.TerminateResult{Reason: engine.ReasonNotFound}, true))
}

func TestEditorKeyboard_CallbackData(t *testing.T) {
	ref := models.ProjectRef{Category: models.CategoryCulture, ID: "5"}
	kb := editorKeyboard(ref, models.NewProject("Театр"))

	var data []string
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			require.NotNil(t, b.CallbackData)
			data = append(data, *b.CallbackData)
			assert.LessOrEqual(t, len(*b.CallbackData), 64)
		}
	}
	assert.Contains(t, data, "a:edit:max_members:culture:::5")
	assert.Contains(t, data, "a:toggle:visible:culture:::5")
	assert.Contains(t, data, "a:terminate:culture:::5")
}
