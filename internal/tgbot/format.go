package tgbot

import (
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"activist-bot/internal/engine"
	"activist-bot/internal/models"
)

const (
	flowAuth         = "auth"
	flowOnboard      = "onboard"
	flowProfileEdit  = "profile_edit"
	flowNewProject   = "new_project"
	flowProjectEdit  = "project_edit"
	flowProjectPhoto = "project_photo"
	flowNotify       = "notify"
	flowNotifyAll    = "notify_all"
	flowTerminate    = "terminate"
)

// Words a moderator must type to confirm closing a project.
const (
	confirmReward = "Награда"
	confirmDelete = "Удаление"
)

const (
	textBanned       = "⛔ Вы заблокированы и не можете пользоваться ботом."
	textNotModerator = "Эта команда доступна только модераторам."
	textNotFound     = "Не найдено. Возможно, запись уже удалена."
	textSaveFailed   = "⚠️ Не удалось сохранить изменения. Попробуйте позже."
)

var moderatorCommands = map[string]bool{
	"admin":          true,
	"new_project":    true,
	"edit_project":   true,
	"ban":            true,
	"unban":          true,
	"remove_user":    true,
	"remove_member":  true,
	"set_score":      true,
	"set_completed":  true,
	"notify":         true,
	"notify_all":     true,
	"search":         true,
	"export":         true,
	"check_projects": true,
}

func isModeratorCommand(cmd string) bool { return moderatorCommands[cmd] }

// parseCommand splits "/cmd@bot a b" into "cmd" and its arguments.
func parseCommand(txt string) (string, []string, bool) {
	if !strings.HasPrefix(txt, "/") {
		return "", nil, false
	}
	fields := strings.Fields(txt)
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd == "" {
		return "", nil, false
	}
	return strings.ToLower(cmd), fields[1:], true
}

// splitCallback turns "u:join:sport:::7" into "u", "join", "sport:::7".
func splitCallback(data string) (prefix, action, payload string) {
	parts := strings.SplitN(data, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return data, "", ""
	}
}

// refArgs reads "<category> <id>" command arguments.
func refArgs(args []string) (models.ProjectRef, error) {
	if len(args) != 2 {
		return models.ProjectRef{}, fmt.Errorf("нужно указать категорию и номер проекта")
	}
	cat, ok := models.ParseCategory(args[0])
	if !ok {
		return models.ProjectRef{}, fmt.Errorf("неизвестная категория %q", args[0])
	}
	if !isDigits(args[1]) {
		return models.ProjectRef{}, fmt.Errorf("номер проекта должен быть числом, а не %q", args[1])
	}
	return models.ProjectRef{Category: cat, ID: args[1]}, nil
}

func reasonText(res engine.Result) string {
	switch res.Reason {
	case engine.ReasonOK:
		return "✅ Готово."
	case engine.ReasonNotFound:
		return textNotFound
	case engine.ReasonAlreadyMember:
		return "Вы уже участвуете в этом проекте."
	case engine.ReasonNotMember:
		return "Вы не участвуете в этом проекте."
	case engine.ReasonCapacityExceeded:
		return "😔 Свободных мест больше нет."
	case engine.ReasonApprovalRequired:
		return "📨 Заявка отправлена модераторам. Мы сообщим о решении."
	case engine.ReasonUnleaveable:
		return "Из этого проекта нельзя выйти самостоятельно. Обратитесь к модератору."
	case engine.ReasonProfileIncomplete:
		return "Чтобы записаться, заполните в профиле поле «" + profileFieldTitles[res.Detail] + "»."
	case engine.ReasonAlreadyExists:
		return "Вы уже зарегистрированы."
	case engine.ReasonPartialFailure:
		return "⚠️ Выполнено частично."
	default:
		return textSaveFailed
	}
}

var profileFieldTitles = map[string]string{
	"name":    "Имя",
	"surname": "Фамилия",
	"IDfirst": "ID",
	"phone":   "Телефон",
}

var projectFieldTitles = map[string]string{
	"name":        "Название",
	"description": "Описание",
	"url":         "Ссылка",
	"date":        "Дата окончания",
	"prize":       "Награда",
	"max_members": "Максимум участников",
}

var projectFieldPrompts = map[string]string{
	"name":        "Введите новое название проекта:",
	"description": "Введите новое описание (до 850 символов):",
	"url":         "Введите ссылку (начинается с http:// или https://):",
	"date":        "Введите дату окончания в формате ДД.ММ.ГГГГ:",
	"prize":       "Введите награду в баллах (целое число):",
	"max_members": "Введите максимум участников (0, если без ограничений):",
}

func profileText(u *models.User) string {
	b := strings.Builder{}
	b.WriteString("👤 <b>Профиль</b>\n\n")
	fmt.Fprintf(&b, "Имя: %s\n", html.EscapeString(u.Name))
	fmt.Fprintf(&b, "Фамилия: %s\n", html.EscapeString(u.Surname))
	fmt.Fprintf(&b, "ID: %s\n", html.EscapeString(u.ExternalID))
	fmt.Fprintf(&b, "📞 Телефон: %s\n", html.EscapeString(u.Phone))
	fmt.Fprintf(&b, "\n⭐ Баллы: %d\n", u.Score)
	fmt.Fprintf(&b, "🏁 Завершено проектов: %d\n", u.CompletedProjects)
	fmt.Fprintf(&b, "📌 Активных проектов: %d", len(u.ActiveProjects))
	return b.String()
}

func projectCard(ref models.ProjectRef, p *models.Project) string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(p.Title()))
	fmt.Fprintf(&b, "%s\n\n", ref.Category.Title())
	b.WriteString(html.EscapeString(p.Description))
	b.WriteString("\n\n")
	if models.IsSet(p.URL) && p.URL != "" {
		fmt.Fprintf(&b, "🔗 %s\n", html.EscapeString(p.URL))
	}
	fmt.Fprintf(&b, "🗓️ <b>Сроки: до %s</b>\n", html.EscapeString(p.Date))
	fmt.Fprintf(&b, "🏆 Награда: %d\n", p.Prize)
	if p.MaxMembers > 0 {
		fmt.Fprintf(&b, "👥 Участники: %d/%d", len(p.Members), p.MaxMembers)
	} else {
		fmt.Fprintf(&b, "👥 Участники: %d", len(p.Members))
	}
	return b.String()
}

// editorText is the moderator view of a project with every editable field.
func editorText(ref models.ProjectRef, p *models.Project) string {
	status := "опубликован"
	if p.Hidden() {
		status = "скрыт (черновик)"
	}
	return fmt.Sprintf("🛠 <b>Редактирование</b> <code>%s %s</code>\nСтатус: %s\nВыйти самостоятельно: %s\nЗапись по одобрению: %s\n\n%s",
		ref.Category, html.EscapeString(ref.ID), status, yesNo(bool(!p.Unleaveable)), yesNo(bool(p.ApprovalRequired)), projectCard(ref, p))
}

func expiredText(ref models.ProjectRef, p *models.Project) string {
	return fmt.Sprintf("⏰ Срок проекта <b>%s</b> (<code>%s %s</code>) истёк %s.\nУчастников: %d, награда: %d.\nНаградить участников или удалить проект?",
		html.EscapeString(p.Title()), ref.Category, html.EscapeString(ref.ID), html.EscapeString(p.Date), len(p.Members), p.Prize)
}

func leaderboardText(lb engine.Leaderboard, self *models.User) string {
	b := strings.Builder{}
	b.WriteString("🏆 <b>Рейтинг активистов</b>\n\n")
	if len(lb.Entries) == 0 {
		b.WriteString("Пока никого нет.")
	}
	for i, en := range lb.Entries {
		fmt.Fprintf(&b, "%s %s: %d\n", place(i+1), html.EscapeString(en.DisplayName), en.Score)
	}
	if lb.Rank > 0 && self != nil {
		fmt.Fprintf(&b, "\nВаше место: %d (%d баллов)", lb.Rank, self.Score)
	}
	return b.String()
}

func place(n int) string {
	switch n {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	}
	return fmt.Sprintf("%d.", n)
}

func searchText(query string, hits []engine.SearchHit) string {
	if len(hits) == 0 {
		return "По запросу «" + html.EscapeString(query) + "» ничего не найдено."
	}
	b := strings.Builder{}
	fmt.Fprintf(&b, "🔎 Найдено: %d\n\n", len(hits))
	for _, h := range hits {
		u := h.User
		fmt.Fprintf(&b, "<b>%s</b> <code>%s</code>\n", html.EscapeString(u.DisplayName()), h.UserID)
		fmt.Fprintf(&b, "%s · ID %s · 📞 %s · ⭐ %d", html.EscapeString(u.Username), html.EscapeString(u.ExternalID), html.EscapeString(u.Phone), u.Score)
		if u.Ban {
			b.WriteString(" · ⛔")
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func terminateResultText(res engine.TerminateResult, reward bool) string {
	if !res.Success {
		return reasonText(engine.Result{Reason: res.Reason})
	}
	txt := fmt.Sprintf("Проект «%s» завершён. Участников отключено: %d.", res.Title, res.Detached)
	if reward {
		txt += fmt.Sprintf(" Награждено: %d.", res.Rewarded)
	}
	if len(res.Unrewarded) > 0 {
		txt += " Без профиля (не награждены): " + strings.Join(res.Unrewarded, ", ") + "."
	}
	return txt
}

func yesNo(v bool) string {
	if v {
		return "да"
	}
	return "нет"
}

// ---------- Keyboards ----------

func button(text, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}

func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("📋 Проекты", "u:catalog"),
			button("📌 Мои проекты", "u:my"),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("👤 Профиль", "u:profile"),
			button("🏆 Рейтинг", "u:top"),
		),
	)
}

func profileKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("✏️ Имя", "u:edit:name"),
			button("✏️ Фамилия", "u:edit:surname"),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("✏️ ID", "u:edit:IDfirst"),
			button("✏️ Телефон", "u:edit:phone"),
		),
		tgbotapi.NewInlineKeyboardRow(button("🏠 В меню", "u:menu")),
	)
}

func categoriesKeyboard(action string, prefix string) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{}
	for i := 0; i < len(models.Categories); i += 2 {
		row := []tgbotapi.InlineKeyboardButton{button(models.Categories[i].Title(), prefix+":"+action+":"+string(models.Categories[i]))}
		if i+1 < len(models.Categories) {
			c := models.Categories[i+1]
			row = append(row, button(c.Title(), prefix+":"+action+":"+string(c)))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func projectKeyboard(ref models.ProjectRef, member bool) tgbotapi.InlineKeyboardMarkup {
	action := button("✅ Записаться", "u:join:"+ref.String())
	if member {
		action = button("🚪 Выйти", "u:leave:"+ref.String())
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(action),
		tgbotapi.NewInlineKeyboardRow(button("⬅️ К категории", "u:cat:"+string(ref.Category))),
	)
}

func editorKeyboard(ref models.ProjectRef, p *models.Project) tgbotapi.InlineKeyboardMarkup {
	r := ref.String()
	visibility := "👁 Опубликовать"
	if !p.Hidden() {
		visibility = "🙈 Скрыть"
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("Название", "a:edit:name:"+r),
			button("Описание", "a:edit:description:"+r),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("Ссылка", "a:edit:url:"+r),
			button("Дата", "a:edit:date:"+r),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("Награда", "a:edit:prize:"+r),
			button("Мест", "a:edit:max_members:"+r),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("🖼 Превью", "a:photo:"+r),
			button(visibility, "a:toggle:visible:"+r),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("🔒 Выход", "a:toggle:unleaveable:"+r),
			button("📨 Одобрение", "a:toggle:approval:"+r),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("👥 Участники", "a:members:"+r),
			button("🏁 Завершить", "a:terminate:"+r),
		),
	)
}

func terminateKeyboard(ref models.ProjectRef) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("🏆 Наградить", "a:finish:1:"+ref.String()),
			button("🗑 Удалить", "a:finish:0:"+ref.String()),
		),
	)
}

func joinRequestKeyboard(req engine.JoinRequest) tgbotapi.InlineKeyboardMarkup {
	payload := req.Encode()
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("✅ Принять", "a:approve:"+payload),
			button("❌ Отклонить", "a:decline:"+payload),
		),
	)
}
