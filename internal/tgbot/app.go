package tgbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"activist-bot/internal/config"
	"activist-bot/internal/engine"
	"activist-bot/internal/media"
	"activist-bot/internal/models"
)

// sender is the part of the Bot API the handlers talk to.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Exporter pushes rankings and rosters to a spreadsheet.
type Exporter interface {
	ExportLeaderboard(ctx context.Context, entries []engine.RankEntry) error
	ExportRoster(ctx context.Context, ref models.ProjectRef, p *models.Project, rows []engine.RosterRow) error
	URL() string
}

type App struct {
	cfg   config.Config
	bot   *tgbotapi.BotAPI
	out   sender
	eng   *engine.Engine
	media *media.Store
	sheet Exporter
	log   *zap.Logger

	// links builds signed CSV links; nil when the HTTP export is off.
	links Links

	// broadcastDelay spaces out mass sends to stay under flood limits.
	broadcastDelay time.Duration

	mu sync.Mutex
	// very simple in-memory state machine for onboarding / moderator flows
	state map[int64]userState
}

type Links interface {
	ProjectCSV(ref models.ProjectRef) string
	LeaderboardCSV() string
}

type userState struct {
	Flow string
	Step int
	Data map[string]string
}

type Option func(*App)

func WithExporter(e Exporter) Option {
	return func(a *App) { a.sheet = e }
}

func WithLinks(l Links) Option {
	return func(a *App) { a.links = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.log = l }
}

func New(cfg config.Config, eng *engine.Engine, ms *media.Store, opts ...Option) (*App, error) {
	b, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	b.Debug = false
	a := newApp(cfg, b, eng, ms, opts...)
	a.bot = b
	return a, nil
}

func newApp(cfg config.Config, out sender, eng *engine.Engine, ms *media.Store, opts ...Option) *App {
	a := &App{
		cfg:            cfg,
		out:            out,
		eng:            eng,
		media:          ms,
		log:            zap.NewNop(),
		broadcastDelay: 35 * time.Millisecond,
		state:          map[int64]userState{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *App) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)
	defer a.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			if upd.Message != nil {
				if err := a.handleMessage(ctx, upd.Message); err != nil {
					a.log.Error("handle message", zap.Int64("chat", upd.Message.Chat.ID), zap.Error(err))
				}
			} else if upd.CallbackQuery != nil {
				if err := a.handleCallback(ctx, upd.CallbackQuery); err != nil {
					a.log.Error("handle callback", zap.String("data", upd.CallbackQuery.Data), zap.Error(err))
				}
			}
		}
	}
}

func (a *App) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := a.out.Send(msg)
	return err
}

func (a *App) sendHTML(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	_, err := a.out.Send(msg)
	return err
}

func (a *App) getState(tgID int64) userState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state[tgID]
}

func (a *App) setState(tgID int64, st userState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st.Flow == "" {
		delete(a.state, tgID)
		return
	}
	a.state[tgID] = st
}

func (a *App) isModerator(tgID int64) bool {
	mod, err := a.eng.IsModerator(userKey(tgID))
	if err != nil {
		a.log.Warn("moderator check failed", zap.Int64("user", tgID), zap.Error(err))
		return false
	}
	return mod
}

func userKey(tgID int64) string { return strconv.FormatInt(tgID, 10) }

// ---------- Message handling ----------

func (a *App) handleMessage(ctx context.Context, m *tgbotapi.Message) error {
	if m.From == nil {
		return nil
	}
	tgID := m.From.ID
	txt := strings.TrimSpace(m.Text)

	banned, err := a.eng.IsBanned(userKey(tgID))
	if err != nil {
		return err
	}
	if banned {
		return a.SendText(tgID, textBanned)
	}

	if cmd, args, isCmd := parseCommand(txt); isCmd {
		switch cmd {
		case "start":
			a.setState(tgID, userState{})
			return a.showStart(ctx, tgID, m.From.UserName)
		case "cancel":
			a.setState(tgID, userState{})
			return a.SendText(tgID, "Действие отменено.")
		}
		if isModeratorCommand(cmd) {
			if !a.isModerator(tgID) {
				return a.SendText(tgID, textNotModerator)
			}
			a.setState(tgID, userState{})
			return a.handleModeratorCommand(ctx, tgID, cmd, args)
		}
	}

	// flow-based input
	st := a.getState(tgID)
	if st.Flow != "" {
		return a.handleFlowInput(ctx, tgID, m, txt, st)
	}

	// default: show main menu
	return a.showMainMenu(ctx, tgID)
}

func (a *App) handleFlowInput(ctx context.Context, tgID int64, m *tgbotapi.Message, txt string, st userState) error {
	switch st.Flow {
	case flowAuth:
		return a.handleAuthFlow(ctx, tgID, m.From.UserName, txt)
	case flowOnboard:
		return a.handleOnboardingFlow(ctx, tgID, txt, st)
	case flowProfileEdit:
		return a.handleProfileEditFlow(ctx, tgID, txt, st)
	case flowNewProject:
		return a.handleNewProjectFlow(ctx, tgID, txt, st)
	case flowProjectEdit:
		return a.handleProjectEditFlow(ctx, tgID, txt, st)
	case flowProjectPhoto:
		return a.handleProjectPhotoFlow(ctx, tgID, m, st)
	case flowNotify:
		return a.handleNotifyFlow(ctx, tgID, txt, st)
	case flowNotifyAll:
		return a.handleNotifyAllFlow(ctx, tgID, txt)
	case flowTerminate:
		return a.handleTerminateFlow(ctx, tgID, txt, st)
	default:
		a.setState(tgID, userState{})
		return a.SendText(tgID, "Сброс состояния. Нажми /start")
	}
}

// ---------- Callback handling ----------

func (a *App) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q.From == nil {
		return nil
	}
	tgID := q.From.ID

	// ack
	cb := tgbotapi.NewCallback(q.ID, "")
	_, _ = a.out.Request(cb)

	banned, err := a.eng.IsBanned(userKey(tgID))
	if err != nil {
		return err
	}
	if banned {
		return a.SendText(tgID, textBanned)
	}

	prefix, action, payload := splitCallback(q.Data)
	switch prefix {
	case "u":
		return a.handleUserCallback(ctx, tgID, action, payload)
	case "a":
		if !a.isModerator(tgID) {
			return a.SendText(tgID, textNotModerator)
		}
		return a.handleModeratorCallback(ctx, tgID, action, payload)
	}
	return nil
}

// broadcast sends text to every recipient and reports how many got it.
func (a *App) broadcast(ids []string, text string) int {
	sent := 0
	for _, id := range ids {
		chatID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		if err := a.SendText(chatID, text); err != nil {
			a.log.Debug("broadcast send failed", zap.String("user", id), zap.Error(err))
		} else {
			sent++
		}
		time.Sleep(a.broadcastDelay) // simple anti-flood
	}
	return sent
}

// moderatorChats is where join requests and expiry notices go.
func (a *App) moderatorChats() ([]int64, error) {
	if a.cfg.ModeratorsChatID != 0 {
		return []int64{a.cfg.ModeratorsChatID}, nil
	}
	users, err := a.eng.Users()
	if err != nil {
		return nil, err
	}
	var out []int64
	for id, u := range users {
		if u == nil || !bool(u.Moderator) {
			continue
		}
		if chatID, err := strconv.ParseInt(id, 10, 64); err == nil {
			out = append(out, chatID)
		}
	}
	return out, nil
}

func (a *App) notifyModerators(text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	chats, err := a.moderatorChats()
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		return fmt.Errorf("no moderator chat configured")
	}
	var firstErr error
	for _, chatID := range chats {
		if err := a.sendHTML(chatID, text, kb); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NotifyExpired asks moderators to close a project whose end date has passed.
func (a *App) NotifyExpired(ref models.ProjectRef, p *models.Project) error {
	kb := terminateKeyboard(ref)
	return a.notifyModerators(expiredText(ref, p), &kb)
}
