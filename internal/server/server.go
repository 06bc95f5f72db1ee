package server

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"activist-bot/internal/config"
	"activist-bot/internal/engine"
	"activist-bot/internal/models"
	"activist-bot/internal/util"
)

const leaderboardSubject = "leaderboard"

func New(cfg config.Config, eng *engine.Engine, log *zap.Logger) *http.Server {
	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: Handler(cfg, eng, log),
	}
}

func Handler(cfg config.Config, eng *engine.Engine, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": util.NowISO(),
		})
	})

	// CSV export (moderator-only link with token = HMAC)
	mux.HandleFunc("/export/project.csv", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		cat, valid := models.ParseCategory(q.Get("category"))
		id := q.Get("id")
		token := q.Get("token")
		if !valid || id == "" || token == "" {
			http.Error(w, "category, id and token required", http.StatusBadRequest)
			return
		}
		ref := models.ProjectRef{Category: cat, ID: id}
		if !util.ValidToken(cfg.ExportSecret, exportMessage(ref.String()), token) {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		p, rows, err := eng.Roster(ref)
		if err != nil {
			log.Error("roster export failed", zap.Stringer("project", ref), zap.Error(err))
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		if p == nil {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		records := [][]string{{"user_id", "name", "username", "phone", "IDfirst", "score", "role"}}
		for _, row := range rows {
			records = append(records, []string{
				row.UserID, row.DisplayName, row.Username, row.Phone, row.ExternalID, strconv.Itoa(row.Score), row.Role,
			})
		}
		writeCSV(w, log, "project_"+string(cat)+"_"+id+".csv", records)
	})

	mux.HandleFunc("/export/leaderboard.csv", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "token required", http.StatusBadRequest)
			return
		}
		if !util.ValidToken(cfg.ExportSecret, exportMessage(leaderboardSubject), token) {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		lb, err := eng.Ranking(engine.RankingQuery{})
		if err != nil {
			log.Error("leaderboard export failed", zap.Error(err))
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		records := [][]string{{"place", "user_id", "name", "score"}}
		for i, en := range lb.Entries {
			records = append(records, []string{strconv.Itoa(i + 1), en.UserID, en.DisplayName, strconv.Itoa(en.Score)})
		}
		writeCSV(w, log, "leaderboard.csv", records)
	})

	return mux
}

func writeCSV(w http.ResponseWriter, log *zap.Logger, filename string, records [][]string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		log.Warn("csv write failed", zap.String("file", filename), zap.Error(err))
	}
}

func exportMessage(subject string) string { return "export:" + subject }

// ProjectCSVURL builds a signed download link, or "" when links are not configured.
func ProjectCSVURL(cfg config.Config, ref models.ProjectRef) string {
	if cfg.BasePublicURL == "" || cfg.ExportSecret == "" {
		return ""
	}
	v := url.Values{}
	v.Set("category", string(ref.Category))
	v.Set("id", ref.ID)
	v.Set("token", util.HMACSHA256Hex(cfg.ExportSecret, exportMessage(ref.String())))
	return cfg.BasePublicURL + "/export/project.csv?" + v.Encode()
}

func LeaderboardCSVURL(cfg config.Config) string {
	if cfg.BasePublicURL == "" || cfg.ExportSecret == "" {
		return ""
	}
	v := url.Values{}
	v.Set("token", util.HMACSHA256Hex(cfg.ExportSecret, exportMessage(leaderboardSubject)))
	return cfg.BasePublicURL + "/export/leaderboard.csv?" + v.Encode()
}
