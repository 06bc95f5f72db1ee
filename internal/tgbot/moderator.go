package tgbot

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"activist-bot/internal/engine"
	"activist-bot/internal/models"
	"activist-bot/internal/util"
)

const maxProjectName = 100

var downloadClient = &http.Client{Timeout: 30 * time.Second}

const moderatorHelp = `🛠 <b>Команды модератора</b>

/new_project: создать проект
/edit_project &lt;категория&gt; &lt;номер&gt;: редактировать проект
/check_projects: проекты с истёкшим сроком
/notify &lt;категория&gt; &lt;номер&gt;: сообщение участникам проекта
/notify_all: сообщение всем пользователям
/search &lt;запрос&gt;: поиск пользователя
/ban, /unban, /remove_user &lt;id&gt;: управление пользователями
/remove_member &lt;id&gt; &lt;категория&gt; &lt;номер&gt;: исключить участника из проекта
/set_score, /set_completed &lt;id&gt; &lt;число&gt;: поправить баллы или число завершённых проектов
/export [&lt;категория&gt; &lt;номер&gt;]: выгрузка рейтинга или списка участников`

func (a *App) handleModeratorCommand(ctx context.Context, tgID int64, cmd string, args []string) error {
	switch cmd {
	case "admin":
		return a.sendHTML(tgID, moderatorHelp, nil)
	case "new_project":
		kb := categoriesKeyboard("newcat", "a")
		return a.sendHTML(tgID, "Выберите категорию нового проекта:", &kb)
	case "edit_project":
		ref, err := refArgs(args)
		if err != nil {
			return a.SendText(tgID, err.Error()+". Пример: /edit_project sport 17")
		}
		return a.showEditor(ctx, tgID, ref)
	case "ban", "unban", "remove_user":
		return a.handleUserAdmin(ctx, tgID, cmd, args)
	case "remove_member":
		return a.removeMember(ctx, tgID, args)
	case "set_score", "set_completed":
		return a.setUserCounter(ctx, tgID, cmd, args)
	case "notify":
		ref, err := refArgs(args)
		if err != nil {
			return a.SendText(tgID, err.Error()+". Пример: /notify sport 17")
		}
		p, err := a.eng.Project(ref)
		if err != nil {
			return err
		}
		if p == nil {
			return a.SendText(tgID, textNotFound)
		}
		a.setState(tgID, userState{Flow: flowNotify, Data: map[string]string{"ref": ref.String()}})
		return a.SendText(tgID, fmt.Sprintf("Введите сообщение для участников «%s» (%d чел.):", p.Title(), len(p.Members)))
	case "notify_all":
		a.setState(tgID, userState{Flow: flowNotifyAll})
		return a.SendText(tgID, "Рассылка. Введите текст сообщения (будет отправлено всем пользователям):")
	case "search":
		query := strings.Join(args, " ")
		if query == "" {
			return a.SendText(tgID, "Укажите запрос: /search Иванов")
		}
		hits, err := a.eng.SearchUsers(query, 20)
		if err != nil {
			return err
		}
		return a.sendHTML(tgID, searchText(query, hits), nil)
	case "export":
		return a.handleExport(ctx, tgID, args)
	case "check_projects":
		return a.checkProjects(ctx, tgID)
	}
	return nil
}

func (a *App) handleUserAdmin(ctx context.Context, tgID int64, cmd string, args []string) error {
	if len(args) != 1 || !isDigits(args[0]) {
		return a.SendText(tgID, fmt.Sprintf("Укажите числовой id пользователя: /%s 123456789", cmd))
	}
	id := args[0]
	var (
		res engine.Result
		err error
	)
	switch cmd {
	case "ban":
		res, err = a.eng.Ban(id)
	case "unban":
		res, err = a.eng.Unban(id)
	case "remove_user":
		res, err = a.eng.RemoveUser(id)
	}
	if err == nil && res.Success {
		a.log.Info("moderator action", zap.Int64("moderator", tgID), zap.String("cmd", cmd), zap.String("user", id))
	}
	return a.reply(tgID, res, err)
}

func (a *App) removeMember(ctx context.Context, tgID int64, args []string) error {
	const usage = "Пример: /remove_member 123456789 sport 17"
	if len(args) != 3 || !isDigits(args[0]) {
		return a.SendText(tgID, usage)
	}
	userID := args[0]
	ref, err := refArgs(args[1:])
	if err != nil {
		return a.SendText(tgID, err.Error()+". "+usage)
	}
	p, err := a.eng.Project(ref)
	if err != nil {
		return err
	}
	if p == nil {
		return a.SendText(tgID, textNotFound)
	}
	res, err := a.eng.RemoveMember(userID, ref)
	if err == nil && res.Reason == engine.ReasonNotMember {
		return a.SendText(tgID, "Пользователь не участвует в этом проекте.")
	}
	if err != nil || !res.Success {
		return a.reply(tgID, res, err)
	}
	a.log.Info("moderator action", zap.Int64("moderator", tgID), zap.String("cmd", "remove_member"),
		zap.String("user", userID), zap.Stringer("project", ref))

	if chatID, perr := strconv.ParseInt(userID, 10, 64); perr == nil {
		_ = a.SendText(chatID, fmt.Sprintf("Вас удалили из проекта «%s».", p.Title()))
	}
	return a.SendText(tgID, fmt.Sprintf("Пользователь %s удалён из проекта «%s».", userID, p.Title()))
}

func (a *App) setUserCounter(ctx context.Context, tgID int64, cmd string, args []string) error {
	if len(args) != 2 || !isDigits(args[0]) {
		return a.SendText(tgID, fmt.Sprintf("Пример: /%s 123456789 40", cmd))
	}
	n, err := util.ParseNonNegative(args[1])
	if err != nil {
		return a.SendText(tgID, "Нужно целое неотрицательное число.")
	}
	var res engine.Result
	if cmd == "set_score" {
		res, err = a.eng.SetScore(args[0], n)
	} else {
		res, err = a.eng.SetCompletedProjects(args[0], n)
	}
	if err == nil && res.Success {
		a.log.Info("moderator action", zap.Int64("moderator", tgID), zap.String("cmd", cmd),
			zap.String("user", args[0]), zap.Int("value", n))
	}
	return a.reply(tgID, res, err)
}

func (a *App) handleModeratorCallback(ctx context.Context, tgID int64, action, payload string) error {
	switch action {
	case "menu":
		return a.sendHTML(tgID, moderatorHelp, nil)
	case "newcat":
		cat, ok := models.ParseCategory(payload)
		if !ok {
			return nil
		}
		a.setState(tgID, userState{Flow: flowNewProject, Data: map[string]string{"category": string(cat)}})
		return a.SendText(tgID, "Введите название проекта:")
	case "approve", "decline":
		req, err := engine.ParseJoinRequest(payload)
		if err != nil {
			return nil
		}
		return a.decideJoinRequest(ctx, tgID, req, action == "approve")
	}

	// the rest carry "<arg>:<ref>" or "<ref>"
	arg, rest := "", payload
	switch action {
	case "edit", "toggle", "finish":
		var found bool
		arg, rest, found = strings.Cut(payload, ":")
		if !found {
			return nil
		}
	}
	ref, err := models.ParseProjectRef(rest)
	if err != nil {
		return nil
	}

	switch action {
	case "edit":
		prompt, ok := projectFieldPrompts[arg]
		if !ok {
			return nil
		}
		a.setState(tgID, userState{Flow: flowProjectEdit, Data: map[string]string{"field": arg, "ref": ref.String()}})
		return a.SendText(tgID, prompt)
	case "photo":
		a.setState(tgID, userState{Flow: flowProjectPhoto, Data: map[string]string{"ref": ref.String()}})
		return a.SendText(tgID, "Отправьте изображение для превью проекта:")
	case "toggle":
		return a.toggle(ctx, tgID, arg, ref)
	case "members":
		return a.showRoster(ctx, tgID, ref)
	case "terminate":
		p, err := a.eng.Project(ref)
		if err != nil {
			return err
		}
		if p == nil {
			return a.SendText(tgID, textNotFound)
		}
		kb := terminateKeyboard(ref)
		return a.sendHTML(tgID, fmt.Sprintf("Завершить проект <b>%s</b>?", html.EscapeString(p.Title())), &kb)
	case "finish":
		word := confirmDelete
		if arg == "1" {
			word = confirmReward
		}
		a.setState(tgID, userState{Flow: flowTerminate, Data: map[string]string{"ref": ref.String(), "reward": arg}})
		return a.sendHTML(tgID, fmt.Sprintf("Для подтверждения введите слово <b>%s</b>. Любой другой ответ отменит действие.", word), nil)
	}
	return nil
}

func (a *App) showEditor(ctx context.Context, tgID int64, ref models.ProjectRef) error {
	p, err := a.eng.Project(ref)
	if err != nil {
		return err
	}
	if p == nil {
		return a.SendText(tgID, textNotFound)
	}
	kb := editorKeyboard(ref, p)
	return a.sendHTML(tgID, editorText(ref, p), &kb)
}

func (a *App) toggle(ctx context.Context, tgID int64, what string, ref models.ProjectRef) error {
	p, err := a.eng.Project(ref)
	if err != nil {
		return err
	}
	if p == nil {
		return a.SendText(tgID, textNotFound)
	}
	var res engine.Result
	switch what {
	case "visible":
		res, err = a.eng.ToggleVisibility(ref)
	case "unleaveable":
		res, err = a.eng.SetUnleaveable(ref, !bool(p.Unleaveable))
	case "approval":
		res, err = a.eng.SetApprovalRequired(ref, !bool(p.ApprovalRequired))
	default:
		return nil
	}
	if err != nil || !res.Success {
		return a.reply(tgID, res, err)
	}
	return a.showEditor(ctx, tgID, ref)
}

func (a *App) showRoster(ctx context.Context, tgID int64, ref models.ProjectRef) error {
	p, rows, err := a.eng.Roster(ref)
	if err != nil {
		return err
	}
	if p == nil {
		return a.SendText(tgID, textNotFound)
	}
	b := strings.Builder{}
	fmt.Fprintf(&b, "👥 <b>%s</b>: %d участн.\n\n", html.EscapeString(p.Title()), len(rows))
	for i, r := range rows {
		fmt.Fprintf(&b, "%d. %s %s, ID %s, 📞 %s <code>%s</code>\n", i+1,
			html.EscapeString(r.DisplayName), html.EscapeString(r.Username),
			html.EscapeString(r.ExternalID), html.EscapeString(r.Phone), r.UserID)
	}
	if link := a.projectLink(ref); link != "" {
		fmt.Fprintf(&b, "\n📤 CSV: %s", html.EscapeString(link))
	}
	return a.sendHTML(tgID, b.String(), nil)
}

func (a *App) decideJoinRequest(ctx context.Context, tgID int64, req engine.JoinRequest, approve bool) error {
	p, err := a.eng.Project(req.Ref)
	if err != nil {
		return err
	}
	title := req.Ref.String()
	if p != nil {
		title = p.Title()
	}
	chatID, perr := strconv.ParseInt(req.UserID, 10, 64)

	if !approve {
		res, err := a.eng.Decline(req)
		if err != nil || !res.Success {
			return a.reply(tgID, res, err)
		}
		if perr == nil {
			_ = a.SendText(chatID, fmt.Sprintf("❌ Заявка на участие в «%s» отклонена.", title))
		}
		return a.SendText(tgID, "Заявка отклонена.")
	}

	res, err := a.eng.Approve(req)
	if err != nil || !res.Success {
		return a.reply(tgID, res, err)
	}
	if perr == nil {
		_ = a.SendText(chatID, fmt.Sprintf("✅ Заявка принята! Вы участник проекта «%s».", title))
	}
	return a.SendText(tgID, "Заявка принята.")
}

func (a *App) handleExport(ctx context.Context, tgID int64, args []string) error {
	if len(args) > 0 {
		ref, err := refArgs(args)
		if err != nil {
			return a.SendText(tgID, err.Error()+". Пример: /export sport 17")
		}
		p, rows, err := a.eng.Roster(ref)
		if err != nil {
			return err
		}
		if p == nil {
			return a.SendText(tgID, textNotFound)
		}
		var lines []string
		if a.sheet != nil {
			if err := a.sheet.ExportRoster(ctx, ref, p, rows); err != nil {
				a.log.Error("roster export failed", zap.Stringer("project", ref), zap.Error(err))
				lines = append(lines, "⚠️ Таблица не обновлена.")
			} else {
				lines = append(lines, "📊 Таблица обновлена: "+a.sheet.URL())
			}
		}
		if link := a.projectLink(ref); link != "" {
			lines = append(lines, "📤 CSV: "+link)
		}
		return a.SendText(tgID, exportSummary(lines))
	}

	lb, err := a.eng.Ranking(engine.RankingQuery{})
	if err != nil {
		return err
	}
	var lines []string
	if a.sheet != nil {
		if err := a.sheet.ExportLeaderboard(ctx, lb.Entries); err != nil {
			a.log.Error("leaderboard export failed", zap.Error(err))
			lines = append(lines, "⚠️ Таблица не обновлена.")
		} else {
			lines = append(lines, "📊 Таблица обновлена: "+a.sheet.URL())
		}
	}
	if a.links != nil {
		if link := a.links.LeaderboardCSV(); link != "" {
			lines = append(lines, "📤 CSV: "+link)
		}
	}
	return a.SendText(tgID, exportSummary(lines))
}

func exportSummary(lines []string) string {
	if len(lines) == 0 {
		return "Выгрузка не настроена: нет ни таблицы, ни публичного адреса."
	}
	return strings.Join(lines, "\n")
}

func (a *App) projectLink(ref models.ProjectRef) string {
	if a.links == nil {
		return ""
	}
	return a.links.ProjectCSV(ref)
}

func (a *App) checkProjects(ctx context.Context, tgID int64) error {
	expired, err := a.eng.ExpiredProjects(time.Now())
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return a.SendText(tgID, "Проектов с истёкшим сроком нет.")
	}
	for _, en := range expired {
		kb := terminateKeyboard(en.Ref)
		if err := a.sendHTML(tgID, expiredText(en.Ref, en.Project), &kb); err != nil {
			return err
		}
	}
	return nil
}

// ---------- Flows ----------

func (a *App) handleNewProjectFlow(ctx context.Context, tgID int64, txt string, st userState) error {
	name := strings.TrimSpace(txt)
	if name == "" || utf8.RuneCountInString(name) > maxProjectName {
		return a.SendText(tgID, fmt.Sprintf("Название должно быть от 1 до %d символов. Введите ещё раз:", maxProjectName))
	}
	cat, ok := models.ParseCategory(st.Data["category"])
	if !ok {
		a.setState(tgID, userState{})
		return a.SendText(tgID, "Сброс. /new_project")
	}
	ref, err := a.eng.CreateProject(cat, name)
	a.setState(tgID, userState{})
	if err != nil {
		a.log.Error("create project failed", zap.String("category", string(cat)), zap.Error(err))
		return a.SendText(tgID, textSaveFailed)
	}
	if err := a.SendText(tgID, "✅ Проект создан и пока скрыт. Заполните поля и опубликуйте его."); err != nil {
		return err
	}
	return a.showEditor(ctx, tgID, ref)
}

func (a *App) handleProjectEditFlow(ctx context.Context, tgID int64, txt string, st userState) error {
	ref, err := models.ParseProjectRef(st.Data["ref"])
	if err != nil {
		a.setState(tgID, userState{})
		return nil
	}
	txt = strings.TrimSpace(txt)
	var res engine.Result
	switch st.Data["field"] {
	case "name":
		if txt == "" || utf8.RuneCountInString(txt) > maxProjectName {
			return a.SendText(tgID, fmt.Sprintf("Название должно быть от 1 до %d символов. Введите ещё раз:", maxProjectName))
		}
		res, err = a.eng.SetProjectName(ref, txt)
	case "description":
		n, valid := util.ValidDescription(txt)
		if !valid {
			return a.SendText(tgID, fmt.Sprintf("❌ В описании не может быть больше %d символов\n\nУ Вас - %d", util.MaxDescriptionLen, n))
		}
		res, err = a.eng.SetDescription(ref, txt)
	case "url":
		if !util.ValidURL(txt) {
			return a.SendText(tgID, "Ссылка должна начинаться с http:// или https://. Введите ещё раз:")
		}
		res, err = a.eng.SetURL(ref, txt)
	case "date":
		if !util.ValidDate(txt) {
			return a.SendText(tgID, "Дата должна быть в формате ДД.ММ.ГГГГ. Введите ещё раз:")
		}
		res, err = a.eng.SetEndDate(ref, txt)
	case "prize", "max_members":
		n, perr := util.ParseNonNegative(txt)
		if perr != nil {
			return a.SendText(tgID, "Нужно целое неотрицательное число. Введите ещё раз:")
		}
		if st.Data["field"] == "prize" {
			res, err = a.eng.SetPrize(ref, n)
		} else {
			res, err = a.eng.SetMaxMembers(ref, n)
			if err == nil && res.Reason == engine.ReasonCapacityExceeded {
				return a.SendText(tgID, "Нельзя поставить меньше мест, чем уже записано участников. Введите ещё раз:")
			}
		}
	default:
		a.setState(tgID, userState{})
		return nil
	}
	a.setState(tgID, userState{})
	if err != nil || !res.Success {
		return a.reply(tgID, res, err)
	}
	if err := a.SendText(tgID, "✅ Поле «"+projectFieldTitles[st.Data["field"]]+"» обновлено."); err != nil {
		return err
	}
	return a.showEditor(ctx, tgID, ref)
}

func (a *App) handleProjectPhotoFlow(ctx context.Context, tgID int64, m *tgbotapi.Message, st userState) error {
	ref, err := models.ParseProjectRef(st.Data["ref"])
	if err != nil {
		a.setState(tgID, userState{})
		return nil
	}
	if len(m.Photo) == 0 {
		return a.SendText(tgID, "Нужно отправить изображение (как фото, не файлом). Или /cancel")
	}
	// the last size is the largest one
	largest := m.Photo[len(m.Photo)-1]
	path, err := a.downloadPreview(ctx, ref, largest.FileID)
	if err != nil {
		a.log.Error("preview download failed", zap.Stringer("project", ref), zap.Error(err))
		return a.SendText(tgID, "⚠️ Не удалось загрузить изображение. Попробуйте ещё раз.")
	}
	res, err := a.eng.SetPreview(ref, path)
	if err != nil || !res.Success {
		_ = a.media.Remove(path)
		a.setState(tgID, userState{})
		return a.reply(tgID, res, err)
	}
	a.setState(tgID, userState{})
	return a.showEditor(ctx, tgID, ref)
}

func (a *App) downloadPreview(ctx context.Context, ref models.ProjectRef, fileID string) (string, error) {
	url, err := a.out.GetFileDirectURL(fileID)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: %s", resp.Status)
	}
	ext := filepath.Ext(url)
	if ext == "" {
		ext = ".jpg"
	}
	return a.media.Save(ref, ext, resp.Body)
}

func (a *App) handleNotifyFlow(ctx context.Context, tgID int64, txt string, st userState) error {
	msgText := strings.TrimSpace(txt)
	if msgText == "" {
		return a.SendText(tgID, "Текст пустой. Введите ещё раз:")
	}
	ref, err := models.ParseProjectRef(st.Data["ref"])
	a.setState(tgID, userState{})
	if err != nil {
		return nil
	}
	p, err := a.eng.Project(ref)
	if err != nil {
		return err
	}
	if p == nil {
		return a.SendText(tgID, textNotFound)
	}
	ids, err := a.eng.Members(ref)
	if err != nil {
		return err
	}
	sent := a.broadcast(ids, fmt.Sprintf("📢 Сообщение для участников «%s»:\n\n%s", p.Title(), msgText))
	return a.SendText(tgID, fmt.Sprintf("✅ Рассылка выполнена: %d из %d получателей.", sent, len(ids)))
}

func (a *App) handleNotifyAllFlow(ctx context.Context, tgID int64, txt string) error {
	msgText := strings.TrimSpace(txt)
	if msgText == "" {
		return a.SendText(tgID, "Текст пустой. Введите ещё раз:")
	}
	a.setState(tgID, userState{})
	ids, err := a.eng.Recipients()
	if err != nil {
		return err
	}
	sent := a.broadcast(ids, "📢 Сообщение от организаторов:\n\n"+msgText)
	return a.SendText(tgID, fmt.Sprintf("✅ Рассылка выполнена: %d из %d получателей.", sent, len(ids)))
}

func (a *App) handleTerminateFlow(ctx context.Context, tgID int64, txt string, st userState) error {
	a.setState(tgID, userState{})
	ref, err := models.ParseProjectRef(st.Data["ref"])
	if err != nil {
		return nil
	}
	reward := st.Data["reward"] == "1"
	word := confirmDelete
	if reward {
		word = confirmReward
	}
	if !strings.EqualFold(strings.TrimSpace(txt), word) {
		return a.SendText(tgID, "Подтверждение не совпало. Действие отменено.")
	}

	res, err := a.eng.TerminateProject(ref, reward)
	if err != nil {
		a.log.Error("terminate failed", zap.Stringer("project", ref), zap.Error(err))
		return a.SendText(tgID, textSaveFailed)
	}
	if !res.Success {
		return a.SendText(tgID, terminateResultText(res, reward))
	}
	a.log.Info("project closed by moderator", zap.Int64("moderator", tgID), zap.Stringer("project", ref), zap.Bool("reward", reward))

	notice := fmt.Sprintf("Проект «%s» завершён. Спасибо за участие!", res.Title)
	if reward && res.Prize > 0 {
		notice = fmt.Sprintf("🏆 Проект «%s» завершён. Вам начислено %d баллов!", res.Title, res.Prize)
	}
	a.broadcast(res.Former, notice)
	return a.SendText(tgID, terminateResultText(res, reward))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

