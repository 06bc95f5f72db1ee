package engine

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"activist-bot/internal/models"
	"activist-bot/internal/store"
)

// CreateUser stores an empty profile for a freshly authenticated user.
func (e *Engine) CreateUser(userID string) (Result, error) {
	err := e.st.Update(func(tx *store.Tx) error {
		if tx.Users[userID] != nil {
			return abort(ReasonAlreadyExists)
		}
		tx.Users[userID] = models.NewUser()
		return nil
	})
	res, err := e.settle("create_user", err, ok())
	if res.Success {
		e.log.Info("user created", zap.String("user", userID))
	}
	return res, err
}

// User returns a copy of the record, or nil when there is none.
func (e *Engine) User(userID string) (*models.User, error) {
	users, err := e.st.Users()
	if err != nil {
		return nil, err
	}
	return users[userID], nil
}

func (e *Engine) Users() (models.Users, error) {
	return e.st.Users()
}

func (e *Engine) IsBanned(userID string) (bool, error) {
	u, err := e.User(userID)
	if err != nil || u == nil {
		return false, err
	}
	return bool(u.Ban), nil
}

func (e *Engine) IsModerator(userID string) (bool, error) {
	u, err := e.User(userID)
	if err != nil || u == nil {
		return false, err
	}
	return bool(u.Moderator), nil
}

func (e *Engine) HasConsent(userID string) (bool, error) {
	u, err := e.User(userID)
	if err != nil || u == nil {
		return false, err
	}
	return u.ConsentAccepted != "", nil
}

// NeedsOnboarding reports a registered user who has not given a name yet.
func (e *Engine) NeedsOnboarding(userID string) (bool, error) {
	u, err := e.User(userID)
	if err != nil || u == nil {
		return false, err
	}
	return !models.IsSet(u.Name) || !models.IsSet(u.Surname), nil
}

func (e *Engine) SaveConsent(userID string, at time.Time) (Result, error) {
	return e.updateUser("save_consent", userID, func(u *models.User) {
		u.ConsentAccepted = at.Format(time.RFC3339)
	})
}

func (e *Engine) SetUsername(userID, v string) (Result, error) {
	return e.updateUser("set_username", userID, func(u *models.User) { u.Username = v })
}

func (e *Engine) SetName(userID, v string) (Result, error) {
	return e.updateUser("set_name", userID, func(u *models.User) { u.Name = v })
}

func (e *Engine) SetSurname(userID, v string) (Result, error) {
	return e.updateUser("set_surname", userID, func(u *models.User) { u.Surname = v })
}

func (e *Engine) SetExternalID(userID, v string) (Result, error) {
	return e.updateUser("set_external_id", userID, func(u *models.User) { u.ExternalID = v })
}

func (e *Engine) SetPhone(userID, v string) (Result, error) {
	return e.updateUser("set_phone", userID, func(u *models.User) { u.Phone = v })
}

func (e *Engine) SetScore(userID string, v int) (Result, error) {
	return e.updateUser("set_score", userID, func(u *models.User) { u.Score = v })
}

func (e *Engine) SetCompletedProjects(userID string, v int) (Result, error) {
	return e.updateUser("set_completed_projects", userID, func(u *models.User) { u.CompletedProjects = v })
}

func (e *Engine) SetModerator(userID string, v bool) (Result, error) {
	return e.updateUser("set_moderator", userID, func(u *models.User) { u.Moderator = models.Flag(v) })
}

func (e *Engine) Unban(userID string) (Result, error) {
	return e.updateUser("unban", userID, func(u *models.User) { u.Ban = false })
}

// Ban flags the user and takes them out of every project they are in.
func (e *Engine) Ban(userID string) (Result, error) {
	err := e.st.Update(func(tx *store.Tx) error {
		u := tx.Users[userID]
		if u == nil {
			return abort(ReasonNotFound)
		}
		detachEverywhere(tx, userID)
		u.Ban = true
		return nil
	})
	res, err := e.settle("ban", err, ok())
	if res.Success {
		e.log.Info("user banned", zap.String("user", userID))
	}
	return res, err
}

// RemoveUser detaches the user from every project and deletes the record.
func (e *Engine) RemoveUser(userID string) (Result, error) {
	err := e.st.Update(func(tx *store.Tx) error {
		if tx.Users[userID] == nil {
			return abort(ReasonNotFound)
		}
		detachEverywhere(tx, userID)
		delete(tx.Users, userID)
		return nil
	})
	res, err := e.settle("remove_user", err, ok())
	if res.Success {
		e.log.Info("user removed", zap.String("user", userID))
	}
	return res, err
}

// Recipients lists every user who is not banned, for global notices.
func (e *Engine) Recipients() ([]string, error) {
	users, err := e.st.Users()
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, u := range users {
		if u != nil && !bool(u.Ban) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	return ids, nil
}

type SearchHit struct {
	UserID string
	User   *models.User
	// Score is 100 for an exact match and 80 for a substring match.
	Score int
}

// SearchUsers matches the query against id, handle, external id, phone and names.
func (e *Engine) SearchUsers(query string, limit int) ([]SearchHit, error) {
	users, err := e.st.Users()
	if err != nil {
		return nil, err
	}
	return search(users, query, limit), nil
}

func search(users models.Users, query string, limit int) []SearchHit {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	qDigits := strings.NewReplacer("-", "", "+", "", " ", "").Replace(q)
	var hits []SearchHit
	for id, u := range users {
		if u == nil {
			continue
		}
		username := strings.TrimPrefix(field(u.Username), "@")
		phone := strings.NewReplacer("-", "", "+", "", " ", "").Replace(field(u.Phone))
		external := field(u.ExternalID)
		fullName := strings.TrimSpace(field(u.Name) + " " + field(u.Surname))

		score := 0
		switch {
		case q == id || strings.TrimPrefix(q, "@") == username || q == external || (qDigits != "" && qDigits == phone) || q == fullName:
			score = 100
		case strings.Contains(id, q) || strings.Contains(username, q) || strings.Contains(external, q) ||
			(qDigits != "" && strings.Contains(phone, qDigits)) || strings.Contains(fullName, q):
			score = 80
		}
		if score > 0 {
			hits = append(hits, SearchHit{UserID: id, User: u, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return lessID(hits[i].UserID, hits[j].UserID)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// field lowercases a profile value, mapping the unset marker to "".
func field(v string) string {
	if !models.IsSet(v) {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(v))
}

func (e *Engine) updateUser(op, userID string, fn func(u *models.User)) (Result, error) {
	err := e.st.Update(func(tx *store.Tx) error {
		u := tx.Users[userID]
		if u == nil {
			return abort(ReasonNotFound)
		}
		fn(u)
		return nil
	})
	return e.settle(op, err, ok())
}

// detachEverywhere removes the user from every project membership and
// empties their active list.
func detachEverywhere(tx *store.Tx, userID string) {
	for _, byID := range tx.Projects {
		for _, p := range byID {
			if p != nil {
				delete(p.Members, userID)
			}
		}
	}
	if u := tx.Users[userID]; u != nil {
		u.ActiveProjects = []string{}
	}
}
