package engine

import (
	"sort"

	"go.uber.org/zap"

	"activist-bot/internal/models"
	"activist-bot/internal/store"
)

type RewardResult struct {
	Success bool
	Reason  Reason
	// Rewarded counts members whose score was raised.
	Rewarded int
	// Unrewarded lists members without a user record.
	Unrewarded []string
}

type TerminateResult struct {
	Success    bool
	Reason     Reason
	Title      string
	Prize      int
	Rewarded   int
	Unrewarded []string
	// Detached counts former members whose records were updated.
	Detached int
	// Former lists those members, read in the same transaction as the deletion.
	Former []string
}

// RewardAllMembers adds the project's prize to every member's score in one
// transaction. A member whose user record is gone is reported, not fatal.
// If the write fails nobody is paid.
func (e *Engine) RewardAllMembers(ref models.ProjectRef) (RewardResult, error) {
	var res RewardResult
	err := e.st.Update(func(tx *store.Tx) error {
		p, found := tx.Projects.Get(ref)
		if !found {
			return abort(ReasonNotFound)
		}
		res.Rewarded, res.Unrewarded = payout(tx.Users, p)
		return nil
	})
	r, err := e.settle("reward_all_members", err, ok())
	if !r.Success {
		return RewardResult{Reason: r.Reason}, err
	}
	res.Success = true
	res.Reason = ReasonOK
	if len(res.Unrewarded) > 0 {
		res.Reason = ReasonPartialFailure
		e.log.Warn("some members could not be rewarded",
			zap.Stringer("project", ref), zap.Strings("users", res.Unrewarded))
	}
	e.log.Info("project rewarded", zap.Stringer("project", ref), zap.Int("members", res.Rewarded))
	return res, nil
}

// TerminateProject deletes the project and detaches every member. With reward
// set, members are paid and their completed counter grows, all in the same
// transaction as the deletion.
func (e *Engine) TerminateProject(ref models.ProjectRef, reward bool) (TerminateResult, error) {
	var (
		res     TerminateResult
		preview string
	)
	err := e.st.Update(func(tx *store.Tx) error {
		p, found := tx.Projects.Get(ref)
		if !found {
			return abort(ReasonNotFound)
		}
		res.Title = p.Title()
		res.Prize = p.Prize
		if reward {
			res.Rewarded, res.Unrewarded = payout(tx.Users, p)
		}
		key := ref.String()
		for _, id := range memberIDs(p) {
			u := tx.Users[id]
			if u == nil {
				continue
			}
			u.DropActive(key)
			if reward {
				u.CompletedProjects++
			}
			res.Detached++
			res.Former = append(res.Former, id)
		}
		// Clear stale references left by older data as well.
		for _, u := range tx.Users {
			if u != nil {
				u.DropActive(key)
			}
		}
		preview = p.PreviewPhoto
		tx.Projects.Delete(ref)
		return nil
	})
	r, err := e.settle("terminate_project", err, ok())
	if !r.Success {
		return TerminateResult{Reason: r.Reason}, err
	}
	res.Success = true
	res.Reason = ReasonOK
	if reward && len(res.Unrewarded) > 0 {
		res.Reason = ReasonPartialFailure
		e.log.Warn("terminated with unrewarded members",
			zap.Stringer("project", ref), zap.Strings("users", res.Unrewarded))
	}
	if preview != "" {
		if err := e.media.Remove(preview); err != nil {
			e.log.Warn("preview not removed", zap.String("path", preview), zap.Error(err))
		}
	}
	e.log.Info("project terminated", zap.Stringer("project", ref),
		zap.Bool("reward", reward), zap.Int("detached", res.Detached), zap.Int("rewarded", res.Rewarded))
	return res, nil
}

func payout(users models.Users, p *models.Project) (int, []string) {
	rewarded := 0
	var missing []string
	for _, id := range memberIDs(p) {
		u := users[id]
		if u == nil {
			missing = append(missing, id)
			continue
		}
		u.Score += p.Prize
		rewarded++
	}
	return rewarded, missing
}

func memberIDs(p *models.Project) []string {
	ids := make([]string, 0, len(p.Members))
	for id := range p.Members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	return ids
}

// lessID orders numeric ids by value without parsing them.
func lessID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
