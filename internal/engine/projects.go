package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"activist-bot/internal/models"
	"activist-bot/internal/store"
)

// Project ids are drawn from [1, maxProjectID] per category.
const (
	maxProjectID    = 1000
	maxIDAttempts   = 200
	ProjectDateForm = "02.01.2006"
)

var ErrCategoryFull = errors.New("no free project id in category")

type ProjectEntry struct {
	Ref     models.ProjectRef
	Project *models.Project
}

// CreateProject stores a hidden draft with default fields and returns its reference.
func (e *Engine) CreateProject(category models.Category, name string) (models.ProjectRef, error) {
	if _, valid := models.ParseCategory(string(category)); !valid {
		return models.ProjectRef{}, fmt.Errorf("unknown category %q", category)
	}
	var ref models.ProjectRef
	err := e.st.Update(func(tx *store.Tx) error {
		id, err := e.freeID(tx.Projects[category])
		if err != nil {
			return err
		}
		ref = models.ProjectRef{Category: category, ID: id}
		tx.Projects.Put(ref, models.NewProject(name))
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCategoryFull) {
			return models.ProjectRef{}, err
		}
		_, err = e.settle("create_project", err, ok())
		return models.ProjectRef{}, err
	}
	e.log.Info("project created", zap.Stringer("project", ref))
	return ref, nil
}

// freeID samples random ids until one is unused, then falls back to a scan.
func (e *Engine) freeID(taken map[string]*models.Project) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := strconv.Itoa(e.intn(maxProjectID) + 1)
		if _, used := taken[id]; !used {
			return id, nil
		}
	}
	for n := 1; n <= maxProjectID; n++ {
		id := strconv.Itoa(n)
		if _, used := taken[id]; !used {
			return id, nil
		}
	}
	return "", ErrCategoryFull
}

// Project returns a copy of the record, or nil when there is none.
func (e *Engine) Project(ref models.ProjectRef) (*models.Project, error) {
	projects, err := e.st.Projects()
	if err != nil {
		return nil, err
	}
	p, _ := projects.Get(ref)
	return p, nil
}

// Projects lists a category ordered by id. Drafts are skipped unless asked for.
func (e *Engine) Projects(category models.Category, includeHidden bool) ([]ProjectEntry, error) {
	projects, err := e.st.Projects()
	if err != nil {
		return nil, err
	}
	var out []ProjectEntry
	for id, p := range projects[category] {
		if p == nil || (p.Hidden() && !includeHidden) {
			continue
		}
		out = append(out, ProjectEntry{Ref: models.ProjectRef{Category: category, ID: id}, Project: p})
	}
	sortEntries(out)
	return out, nil
}

// ExpiredProjects returns projects whose end date is before now's calendar day.
// Dates that do not parse never expire.
func (e *Engine) ExpiredProjects(now time.Time) ([]ProjectEntry, error) {
	projects, err := e.st.Projects()
	if err != nil {
		return nil, err
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var out []ProjectEntry
	for _, c := range models.Categories {
		for id, p := range projects[c] {
			if p == nil {
				continue
			}
			end, err := time.ParseInLocation(ProjectDateForm, p.Date, now.Location())
			if err != nil {
				continue
			}
			if end.Before(today) {
				out = append(out, ProjectEntry{Ref: models.ProjectRef{Category: c, ID: id}, Project: p})
			}
		}
	}
	sortEntries(out)
	return out, nil
}

// Members is the recipient set of a project broadcast.
func (e *Engine) Members(ref models.ProjectRef) ([]string, error) {
	p, err := e.Project(ref)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return memberIDs(p), nil
}

type RosterRow struct {
	UserID      string
	DisplayName string
	Username    string
	Phone       string
	ExternalID  string
	Score       int
	Role        string
}

// Roster joins a project's members with their profiles.
func (e *Engine) Roster(ref models.ProjectRef) (*models.Project, []RosterRow, error) {
	var (
		project *models.Project
		rows    []RosterRow
	)
	err := e.st.View(func(users models.Users, projects models.Projects) error {
		p, found := projects.Get(ref)
		if !found {
			return nil
		}
		project = p
		for _, id := range memberIDs(p) {
			row := RosterRow{UserID: id, DisplayName: "Unknown"}
			if m := p.Members[id]; m != nil {
				row.Role = m.Role
			}
			if u := users[id]; u != nil {
				row.DisplayName = u.DisplayName()
				row.Username = u.Username
				row.Phone = u.Phone
				row.ExternalID = u.ExternalID
				row.Score = u.Score
			}
			rows = append(rows, row)
		}
		return nil
	})
	return project, rows, err
}

func (e *Engine) SetProjectName(ref models.ProjectRef, name string) (Result, error) {
	return e.updateProject("set_name", ref, func(p *models.Project) {
		if p.Hidden() {
			name = models.HiddenMarker + name
		}
		p.Name = name
	})
}

func (e *Engine) SetDescription(ref models.ProjectRef, v string) (Result, error) {
	return e.updateProject("set_description", ref, func(p *models.Project) { p.Description = v })
}

func (e *Engine) SetURL(ref models.ProjectRef, v string) (Result, error) {
	return e.updateProject("set_url", ref, func(p *models.Project) { p.URL = v })
}

func (e *Engine) SetEndDate(ref models.ProjectRef, v string) (Result, error) {
	return e.updateProject("set_date", ref, func(p *models.Project) { p.Date = v })
}

func (e *Engine) SetPrize(ref models.ProjectRef, v int) (Result, error) {
	return e.updateProject("set_prize", ref, func(p *models.Project) { p.Prize = v })
}

// SetMaxMembers refuses a limit below the current member count.
func (e *Engine) SetMaxMembers(ref models.ProjectRef, v int) (Result, error) {
	err := e.st.Update(func(tx *store.Tx) error {
		p, found := tx.Projects.Get(ref)
		if !found {
			return abort(ReasonNotFound)
		}
		if v > 0 && v < len(p.Members) {
			return abort(ReasonCapacityExceeded)
		}
		p.MaxMembers = v
		return nil
	})
	return e.settle("set_max_members", err, ok())
}

func (e *Engine) SetUnleaveable(ref models.ProjectRef, v bool) (Result, error) {
	return e.updateProject("set_unleaveable", ref, func(p *models.Project) { p.Unleaveable = models.Flag(v) })
}

func (e *Engine) SetApprovalRequired(ref models.ProjectRef, v bool) (Result, error) {
	return e.updateProject("set_approval_required", ref, func(p *models.Project) { p.ApprovalRequired = models.Flag(v) })
}

// SetPreview records a new preview path and removes the file it replaces.
func (e *Engine) SetPreview(ref models.ProjectRef, path string) (Result, error) {
	var old string
	res, err := e.updateProject("set_preview", ref, func(p *models.Project) {
		old = p.PreviewPhoto
		p.PreviewPhoto = path
	})
	if res.Success && old != "" && old != path {
		if err := e.media.Remove(old); err != nil {
			e.log.Warn("old preview not removed", zap.String("path", old), zap.Error(err))
		}
	}
	return res, err
}

// ToggleVisibility publishes a draft or hides a published project.
func (e *Engine) ToggleVisibility(ref models.ProjectRef) (Result, error) {
	return e.updateProject("toggle_visibility", ref, func(p *models.Project) {
		if p.Hidden() {
			p.Name = p.Title()
		} else {
			p.Name = models.HiddenMarker + p.Name
		}
	})
}

func (e *Engine) updateProject(op string, ref models.ProjectRef, fn func(p *models.Project)) (Result, error) {
	err := e.st.Update(func(tx *store.Tx) error {
		p, found := tx.Projects.Get(ref)
		if !found {
			return abort(ReasonNotFound)
		}
		fn(p)
		return nil
	})
	return e.settle(op, err, ok())
}

func sortEntries(out []ProjectEntry) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ref.Category != out[j].Ref.Category {
			return categoryIndex(out[i].Ref.Category) < categoryIndex(out[j].Ref.Category)
		}
		return lessID(out[i].Ref.ID, out[j].Ref.ID)
	})
}

func categoryIndex(c models.Category) int {
	for i, x := range models.Categories {
		if x == c {
			return i
		}
	}
	return len(models.Categories)
}
