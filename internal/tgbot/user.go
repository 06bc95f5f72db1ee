package tgbot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"activist-bot/internal/engine"
	"activist-bot/internal/models"
	"activist-bot/internal/util"
)

// maxCaption is the Telegram limit for a photo caption.
const maxCaption = 1024

func (a *App) showStart(ctx context.Context, tgID int64, username string) error {
	u, err := a.eng.User(userKey(tgID))
	if err != nil {
		return err
	}
	if u == nil {
		a.setState(tgID, userState{Flow: flowAuth})
		return a.SendText(tgID, "Привет! Это бот школьных активистов.\nВведите пароль, который выдали в школе:")
	}
	if u.ConsentAccepted == "" {
		return a.askConsent(tgID)
	}
	if models.IsSet(username) && !models.IsSet(u.Username) {
		a.keep(a.eng.SetUsername(userKey(tgID), "@"+username))
	}
	return a.continueOnboarding(ctx, tgID)
}

func (a *App) showMainMenu(ctx context.Context, tgID int64) error {
	u, err := a.eng.User(userKey(tgID))
	if err != nil {
		return err
	}
	if u == nil {
		return a.SendText(tgID, "Ты ещё не зарегистрирован. Нажми /start")
	}
	kb := mainMenuKeyboard()
	return a.sendHTML(tgID, fmt.Sprintf("Привет, <b>%s</b>! Выберите раздел:", html.EscapeString(u.DisplayName())), &kb)
}

// reply reports the outcome of an engine call to the user.
func (a *App) reply(tgID int64, res engine.Result, err error) error {
	if err != nil {
		a.log.Error("engine call failed", zap.Int64("user", tgID), zap.Error(err))
		return a.SendText(tgID, textSaveFailed)
	}
	return a.SendText(tgID, reasonText(res))
}

// keep logs a failed write whose outcome the user does not need to see.
func (a *App) keep(_ engine.Result, err error) {
	if err != nil {
		a.log.Error("engine call failed", zap.Error(err))
	}
}

// ---------- Auth / consent / onboarding ----------

func (a *App) handleAuthFlow(ctx context.Context, tgID int64, username, txt string) error {
	if txt != a.cfg.AuthPassword {
		return a.SendText(tgID, "❌ Неверный пароль. Попробуйте ещё раз или нажмите /cancel")
	}
	key := userKey(tgID)
	res, err := a.eng.CreateUser(key)
	if err != nil {
		return a.reply(tgID, res, err)
	}
	if username != "" {
		a.keep(a.eng.SetUsername(key, "@"+username))
	}
	a.setState(tgID, userState{})
	a.log.Info("user authorized", zap.Int64("user", tgID))
	return a.askConsent(tgID)
}

func (a *App) askConsent(tgID int64) error {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("✅ Согласен", "u:consent")),
	)
	return a.sendHTML(tgID, "Для участия в проектах нам нужно хранить ваше имя, фамилию, школьный ID и телефон.\n"+
		"Нажимая «Согласен», вы даёте согласие на обработку персональных данных.", &kb)
}

func (a *App) continueOnboarding(ctx context.Context, tgID int64) error {
	need, err := a.eng.NeedsOnboarding(userKey(tgID))
	if err != nil {
		return err
	}
	if need {
		a.setState(tgID, userState{Flow: flowOnboard, Step: 1, Data: map[string]string{}})
		return a.SendText(tgID, "Давайте познакомимся. Введите ваше имя:")
	}
	return a.showMainMenu(ctx, tgID)
}

func (a *App) handleOnboardingFlow(ctx context.Context, tgID int64, txt string, st userState) error {
	if !util.ValidName(txt) {
		return a.SendText(tgID, "Используйте только буквы, пробел и дефис. Введите ещё раз:")
	}
	key := userKey(tgID)
	switch st.Step {
	case 1:
		res, err := a.eng.SetName(key, util.Capitalize(txt))
		if err != nil || !res.Success {
			return a.reply(tgID, res, err)
		}
		st.Step = 2
		a.setState(tgID, st)
		return a.SendText(tgID, "Введите фамилию:")
	case 2:
		res, err := a.eng.SetSurname(key, util.Capitalize(txt))
		if err != nil || !res.Success {
			return a.reply(tgID, res, err)
		}
		a.setState(tgID, userState{})
		if err := a.SendText(tgID, "✅ Готово! ID и телефон можно добавить в профиле, они нужны для записи в проекты."); err != nil {
			return err
		}
		return a.showMainMenu(ctx, tgID)
	default:
		a.setState(tgID, userState{})
		return a.SendText(tgID, "Сброс. /start")
	}
}

// ---------- Profile ----------

func (a *App) showProfile(ctx context.Context, tgID int64) error {
	u, err := a.eng.User(userKey(tgID))
	if err != nil {
		return err
	}
	if u == nil {
		return a.SendText(tgID, "Ты ещё не зарегистрирован. Нажми /start")
	}
	kb := profileKeyboard()
	return a.sendHTML(tgID, profileText(u), &kb)
}

var profilePrompts = map[string]string{
	"name":    "Введите имя:",
	"surname": "Введите фамилию:",
	"IDfirst": "Введите школьный ID (8 цифр):",
	"phone":   "Введите номер телефона, например +7 999 123-45-67:",
}

func (a *App) handleProfileEditFlow(ctx context.Context, tgID int64, txt string, st userState) error {
	key := userKey(tgID)
	var (
		res engine.Result
		err error
	)
	switch field := st.Data["field"]; field {
	case "name", "surname":
		if !util.ValidName(txt) {
			return a.SendText(tgID, "Используйте только буквы, пробел и дефис. Введите ещё раз:")
		}
		if field == "name" {
			res, err = a.eng.SetName(key, util.Capitalize(txt))
		} else {
			res, err = a.eng.SetSurname(key, util.Capitalize(txt))
		}
	case "IDfirst":
		if !util.ValidExternalID(txt) {
			return a.SendText(tgID, "ID должен состоять ровно из 8 цифр. Введите ещё раз:")
		}
		res, err = a.eng.SetExternalID(key, strings.TrimSpace(txt))
	case "phone":
		phone, perr := util.NormalizePhone(txt)
		if perr != nil {
			return a.SendText(tgID, "Не похоже на номер телефона. Введите ещё раз:")
		}
		res, err = a.eng.SetPhone(key, phone)
	default:
		a.setState(tgID, userState{})
		return a.SendText(tgID, "Сброс. /start")
	}
	if err != nil || !res.Success {
		a.setState(tgID, userState{})
		return a.reply(tgID, res, err)
	}
	a.setState(tgID, userState{})
	return a.showProfile(ctx, tgID)
}

// ---------- Callbacks ----------

func (a *App) handleUserCallback(ctx context.Context, tgID int64, action, payload string) error {
	key := userKey(tgID)
	u, err := a.eng.User(key)
	if err != nil {
		return err
	}
	if u == nil {
		return a.SendText(tgID, "Ты ещё не зарегистрирован. Нажми /start")
	}

	switch action {
	case "consent":
		res, err := a.eng.SaveConsent(key, time.Now())
		if err != nil || !res.Success {
			return a.reply(tgID, res, err)
		}
		return a.continueOnboarding(ctx, tgID)
	}
	if u.ConsentAccepted == "" {
		return a.askConsent(tgID)
	}

	switch action {
	case "menu":
		a.setState(tgID, userState{})
		return a.showMainMenu(ctx, tgID)
	case "profile":
		return a.showProfile(ctx, tgID)
	case "edit":
		prompt, ok := profilePrompts[payload]
		if !ok {
			return nil
		}
		a.setState(tgID, userState{Flow: flowProfileEdit, Data: map[string]string{"field": payload}})
		return a.SendText(tgID, prompt)
	case "catalog":
		kb := categoriesKeyboard("cat", "u")
		return a.sendHTML(tgID, "Выберите направление:", &kb)
	case "cat":
		cat, ok := models.ParseCategory(payload)
		if !ok {
			return nil
		}
		return a.showCategory(ctx, tgID, cat)
	case "my":
		return a.showMyProjects(ctx, tgID, u)
	case "top":
		return a.showLeaderboard(ctx, tgID, u)
	}

	ref, err := models.ParseProjectRef(payload)
	if err != nil {
		return nil
	}
	switch action {
	case "proj":
		return a.showProject(ctx, tgID, ref)
	case "join":
		return a.joinProject(ctx, tgID, u, ref)
	case "leave":
		res, err := a.eng.Leave(key, ref)
		if err == nil && res.Success {
			return a.SendText(tgID, "Вы вышли из проекта.")
		}
		return a.reply(tgID, res, err)
	}
	return nil
}

func (a *App) showCategory(ctx context.Context, tgID int64, cat models.Category) error {
	entries, err := a.eng.Projects(cat, false)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(button("⬅️ Назад", "u:catalog")))
		return a.sendHTML(tgID, cat.Title()+"\n\nСейчас проектов нет.", &kb)
	}
	rows := [][]tgbotapi.InlineKeyboardButton{}
	for _, en := range entries {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(shorten(en.Project.Title(), 50), "u:proj:"+en.Ref.String()),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("⬅️ Назад", "u:catalog")))
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return a.sendHTML(tgID, cat.Title(), &kb)
}

func (a *App) showProject(ctx context.Context, tgID int64, ref models.ProjectRef) error {
	p, err := a.eng.Project(ref)
	if err != nil {
		return err
	}
	if p == nil || (p.Hidden() && !a.isModerator(tgID)) {
		return a.SendText(tgID, textNotFound)
	}
	kb := projectKeyboard(ref, p.IsMember(userKey(tgID)))
	card := projectCard(ref, p)
	if p.PreviewPhoto != "" && utf8.RuneCountInString(card) <= maxCaption {
		photo := tgbotapi.NewPhoto(tgID, tgbotapi.FilePath(p.PreviewPhoto))
		photo.Caption = card
		photo.ParseMode = tgbotapi.ModeHTML
		photo.ReplyMarkup = kb
		_, serr := a.out.Send(photo)
		if serr == nil {
			return nil
		}
		a.log.Warn("preview not sent", zap.String("path", p.PreviewPhoto), zap.Error(serr))
	}
	return a.sendHTML(tgID, card, &kb)
}

func (a *App) joinProject(ctx context.Context, tgID int64, u *models.User, ref models.ProjectRef) error {
	key := userKey(tgID)
	res, err := a.eng.CheckRegistration(key)
	if err != nil || !res.Success {
		return a.reply(tgID, res, err)
	}
	res, err = a.eng.RequestJoin(key, ref)
	if err != nil {
		return a.reply(tgID, res, err)
	}
	switch res.Reason {
	case engine.ReasonApprovalRequired:
		req := engine.JoinRequest{UserID: key, Ref: ref}
		p, perr := a.eng.Project(ref)
		if perr != nil || p == nil {
			return a.reply(tgID, engine.Result{Reason: engine.ReasonNotFound}, perr)
		}
		kb := joinRequestKeyboard(req)
		text := fmt.Sprintf("📨 Заявка на участие в <b>%s</b>\n%s (%s), ID %s, 📞 %s, ⭐ %d",
			html.EscapeString(p.Title()), html.EscapeString(u.DisplayName()), html.EscapeString(u.Username),
			html.EscapeString(u.ExternalID), html.EscapeString(u.Phone), u.Score)
		if err := a.notifyModerators(text, &kb); err != nil {
			a.log.Error("join request not delivered", zap.String("user", key), zap.Stringer("project", ref), zap.Error(err))
			return a.SendText(tgID, "⚠️ Не удалось отправить заявку модераторам. Попробуйте позже.")
		}
		return a.SendText(tgID, reasonText(res))
	case engine.ReasonOK:
		return a.SendText(tgID, "✅ Вы записаны в проект!")
	}
	return a.reply(tgID, res, nil)
}

func (a *App) showMyProjects(ctx context.Context, tgID int64, u *models.User) error {
	if len(u.ActiveProjects) == 0 {
		return a.SendText(tgID, "Вы пока не участвуете ни в одном проекте.")
	}
	rows := [][]tgbotapi.InlineKeyboardButton{}
	for _, raw := range u.ActiveProjects {
		ref, err := models.ParseProjectRef(raw)
		if err != nil {
			continue
		}
		p, err := a.eng.Project(ref)
		if err != nil {
			return err
		}
		if p == nil {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(shorten(p.Title(), 50), "u:proj:"+raw)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("🏠 В меню", "u:menu")))
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return a.sendHTML(tgID, "📌 Ваши проекты:", &kb)
}

func (a *App) showLeaderboard(ctx context.Context, tgID int64, u *models.User) error {
	lb, err := a.eng.Ranking(engine.RankingQuery{UserID: userKey(tgID), TopN: a.cfg.LeaderboardSize})
	if err != nil {
		return err
	}
	return a.sendHTML(tgID, leaderboardText(lb, u), nil)
}

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
