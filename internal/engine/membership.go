package engine

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"activist-bot/internal/models"
	"activist-bot/internal/store"
)

// AddMember puts the user into the project and the project into the user's
// active list, in one transaction.
func (e *Engine) AddMember(userID string, ref models.ProjectRef) (Result, error) {
	err := e.st.Update(func(tx *store.Tx) error {
		p, u, err := lookup(tx, userID, ref)
		if err != nil {
			return err
		}
		if p.IsMember(userID) {
			return abort(ReasonAlreadyMember)
		}
		if p.Full() {
			return abort(ReasonCapacityExceeded)
		}
		attach(p, u, userID, ref)
		return nil
	})
	res, err := e.settle("add_member", err, ok())
	if res.Success {
		e.log.Info("member added", zap.String("user", userID), zap.Stringer("project", ref))
	}
	return res, err
}

// RemoveMember takes the user out of the project. It never counts as completion.
func (e *Engine) RemoveMember(userID string, ref models.ProjectRef) (Result, error) {
	return e.remove("remove_member", userID, ref, false)
}

// Leave is a member removing themselves; unleaveable projects refuse it.
func (e *Engine) Leave(userID string, ref models.ProjectRef) (Result, error) {
	return e.remove("leave", userID, ref, true)
}

func (e *Engine) remove(op, userID string, ref models.ProjectRef, self bool) (Result, error) {
	err := e.st.Update(func(tx *store.Tx) error {
		p, u, err := lookup(tx, userID, ref)
		if err != nil {
			return err
		}
		if !p.IsMember(userID) {
			return abort(ReasonNotMember)
		}
		if self && bool(p.Unleaveable) {
			return abort(ReasonUnleaveable)
		}
		detach(p, u, userID, ref)
		return nil
	})
	res, err := e.settle(op, err, ok())
	if res.Success {
		e.log.Info("member removed", zap.String("user", userID), zap.Stringer("project", ref), zap.Bool("self", self))
	}
	return res, err
}

// JoinRequest is a pending join awaiting a moderator decision.
type JoinRequest struct {
	UserID string
	Ref    models.ProjectRef
}

// Encode packs the request for a callback payload.
func (r JoinRequest) Encode() string {
	return r.UserID + models.RefSeparator + r.Ref.String()
}

func ParseJoinRequest(s string) (JoinRequest, error) {
	userID, rest, found := strings.Cut(s, models.RefSeparator)
	if !found || userID == "" {
		return JoinRequest{}, fmt.Errorf("bad join request %q", s)
	}
	ref, err := models.ParseProjectRef(rest)
	if err != nil {
		return JoinRequest{}, err
	}
	return JoinRequest{UserID: userID, Ref: ref}, nil
}

// RequestJoin adds the user straight away, or reports ReasonApprovalRequired
// without changing anything when the project wants a moderator to decide.
func (e *Engine) RequestJoin(userID string, ref models.ProjectRef) (Result, error) {
	var needsApproval bool
	err := e.st.View(func(users models.Users, projects models.Projects) error {
		p, found := projects.Get(ref)
		u := users[userID]
		switch {
		case !found || u == nil:
			return abort(ReasonNotFound)
		case p.IsMember(userID):
			return abort(ReasonAlreadyMember)
		case p.Full():
			return abort(ReasonCapacityExceeded)
		}
		needsApproval = bool(p.ApprovalRequired)
		return nil
	})
	if err != nil {
		return e.settle("request_join", err, ok())
	}
	if needsApproval {
		e.log.Info("join request awaits approval", zap.String("user", userID), zap.Stringer("project", ref))
		return fail(ReasonApprovalRequired), nil
	}
	return e.AddMember(userID, ref)
}

// Approve accepts a pending request.
func (e *Engine) Approve(req JoinRequest) (Result, error) {
	return e.AddMember(req.UserID, req.Ref)
}

// Decline rejects a pending request. Nothing is stored; the result only says
// whether the request still points at existing records.
func (e *Engine) Decline(req JoinRequest) (Result, error) {
	err := e.st.View(func(users models.Users, projects models.Projects) error {
		if _, found := projects.Get(req.Ref); !found || users[req.UserID] == nil {
			return abort(ReasonNotFound)
		}
		return nil
	})
	return e.settle("decline", err, ok())
}

// CheckRegistration reports the first required profile field still unset.
func (e *Engine) CheckRegistration(userID string) (Result, error) {
	var res Result
	err := e.st.View(func(users models.Users, _ models.Projects) error {
		u := users[userID]
		if u == nil {
			res = fail(ReasonNotFound)
			return nil
		}
		required := []struct {
			field string
			value string
		}{
			{"name", u.Name},
			{"surname", u.Surname},
			{"IDfirst", u.ExternalID},
			{"phone", u.Phone},
		}
		for _, r := range required {
			if !models.IsSet(r.value) {
				res = Result{Reason: ReasonProfileIncomplete, Detail: r.field}
				return nil
			}
		}
		res = ok()
		return nil
	})
	if err != nil {
		return e.settle("check_registration", err, ok())
	}
	return res, nil
}

func lookup(tx *store.Tx, userID string, ref models.ProjectRef) (*models.Project, *models.User, error) {
	p, found := tx.Projects.Get(ref)
	if !found {
		return nil, nil, abort(ReasonNotFound)
	}
	u := tx.Users[userID]
	if u == nil {
		return nil, nil, abort(ReasonNotFound)
	}
	return p, u, nil
}

func attach(p *models.Project, u *models.User, userID string, ref models.ProjectRef) {
	if p.Members == nil {
		p.Members = map[string]*models.Member{}
	}
	p.Members[userID] = &models.Member{Role: models.MemberRole}
	u.AddActive(ref.String())
}

func detach(p *models.Project, u *models.User, userID string, ref models.ProjectRef) {
	delete(p.Members, userID)
	if u != nil {
		u.DropActive(ref.String())
	}
}
