package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NotSpecified marks a profile field the user has not filled in yet.
const NotSpecified = "Не указано"

// HiddenMarker prefixes the name of a draft project.
const HiddenMarker = "\u200b"

// RefSeparator joins category and project id inside a project reference.
const RefSeparator = ":::"

// MemberRole is the role given to everyone added to a project.
const MemberRole = "участник"

const (
	DefaultDescription = "Без описания"
	DefaultDate        = "00.01.2000"
	DefaultMaxMembers  = 100
)

type Category string

const (
	CategoryEducation    Category = "education"
	CategoryScience      Category = "science"
	CategoryProfession   Category = "profession"
	CategoryCulture      Category = "culture"
	CategoryVolunteering Category = "volunteering"
	CategoryPatriotism   Category = "patriotism"
	CategorySport        Category = "sport"
	CategoryOther        Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryEducation,
	CategoryScience,
	CategoryProfession,
	CategoryCulture,
	CategoryVolunteering,
	CategoryPatriotism,
	CategorySport,
	CategoryOther,
}

var categoryTitles = map[Category]string{
	CategoryEducation:    "📚 Образование",
	CategoryScience:      "🔬 Наука",
	CategoryProfession:   "🛠 Профессия",
	CategoryCulture:      "🎭 Культура",
	CategoryVolunteering: "🤝 Волонтёрство",
	CategoryPatriotism:   "🎖 Патриотизм",
	CategorySport:        "⚽ Спорт",
	CategoryOther:        "📌 Другое",
}

func ParseCategory(s string) (Category, bool) {
	c := Category(strings.TrimSpace(s))
	_, ok := categoryTitles[c]
	return c, ok
}

func (c Category) Title() string {
	if t, ok := categoryTitles[c]; ok {
		return t
	}
	return string(c)
}

// ProjectRef addresses a project inside the registry.
type ProjectRef struct {
	Category Category
	ID       string
}

func (r ProjectRef) String() string {
	return string(r.Category) + RefSeparator + r.ID
}

func ParseProjectRef(s string) (ProjectRef, error) {
	parts := strings.Split(s, RefSeparator)
	if len(parts) != 2 {
		return ProjectRef{}, fmt.Errorf("bad project reference %q", s)
	}
	cat, ok := ParseCategory(parts[0])
	if !ok {
		return ProjectRef{}, fmt.Errorf("unknown category %q", parts[0])
	}
	if parts[1] == "" {
		return ProjectRef{}, fmt.Errorf("empty project id in %q", s)
	}
	return ProjectRef{Category: cat, ID: parts[1]}, nil
}

// Flag is a boolean stored as 0/1, the way the documents have always held it.
type Flag bool

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch strings.TrimSpace(string(b)) {
	case "null", "0", "false", `""`, `"0"`:
		*f = false
		return nil
	case "1", "true", `"1"`:
		*f = true
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flag: %w", err)
	}
	*f = n != 0
	return nil
}

type User struct {
	Username          string   `json:"username"`
	Name              string   `json:"name"`
	Surname           string   `json:"surname"`
	ExternalID        string   `json:"IDfirst"`
	Phone             string   `json:"phone"`
	Score             int      `json:"score"`
	CompletedProjects int      `json:"completed_projects"`
	ActiveProjects    []string `json:"active_projects"`
	Ban               Flag     `json:"ban"`
	Moderator         Flag     `json:"moderator"`
	ConsentAccepted   string   `json:"consent_accepted,omitempty"`
}

// NewUser returns the empty record created right after password auth.
func NewUser() *User {
	return &User{
		Username:       NotSpecified,
		Name:           NotSpecified,
		Surname:        NotSpecified,
		ExternalID:     NotSpecified,
		Phone:          NotSpecified,
		ActiveProjects: []string{},
	}
}

// IsSet reports whether a profile field holds a real value.
func IsSet(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && v != NotSpecified
}

func (u *User) DisplayName() string {
	var parts []string
	if IsSet(u.Name) {
		parts = append(parts, strings.TrimSpace(u.Name))
	}
	if IsSet(u.Surname) {
		parts = append(parts, strings.TrimSpace(u.Surname))
	}
	if name := strings.Join(parts, " "); name != "" {
		return name
	}
	if IsSet(u.Username) {
		return strings.TrimSpace(u.Username)
	}
	return "Unknown"
}

func (u *User) HasActive(ref string) bool {
	for _, r := range u.ActiveProjects {
		if r == ref {
			return true
		}
	}
	return false
}

func (u *User) AddActive(ref string) {
	if !u.HasActive(ref) {
		u.ActiveProjects = append(u.ActiveProjects, ref)
	}
}

// DropActive removes ref and reports whether it was present.
func (u *User) DropActive(ref string) bool {
	out := u.ActiveProjects[:0]
	found := false
	for _, r := range u.ActiveProjects {
		if r == ref {
			found = true
			continue
		}
		out = append(out, r)
	}
	u.ActiveProjects = out
	return found
}

type Member struct {
	Role string `json:"role"`
}

type Project struct {
	Name             string             `json:"name"`
	Description      string             `json:"description"`
	URL              string             `json:"url"`
	Date             string             `json:"date"`
	Prize            int                `json:"prize"`
	Unleaveable      Flag               `json:"unleaveable"`
	ApprovalRequired Flag               `json:"approval_required"`
	PreviewPhoto     string             `json:"preview_photo"`
	MaxMembers       int                `json:"max_members"`
	Members          map[string]*Member `json:"members"`
}

// NewProject returns a hidden draft with the stock defaults.
func NewProject(name string) *Project {
	return &Project{
		Name:        HiddenMarker + name,
		Description: DefaultDescription,
		Date:        DefaultDate,
		MaxMembers:  DefaultMaxMembers,
		Members:     map[string]*Member{},
	}
}

func (p *Project) Hidden() bool {
	return strings.HasPrefix(p.Name, HiddenMarker)
}

// Title is the name without the draft marker.
func (p *Project) Title() string {
	return strings.TrimPrefix(p.Name, HiddenMarker)
}

// Capacity treats a zero or negative limit as unrestricted.
func (p *Project) Capacity() int {
	if p.MaxMembers <= 0 {
		return int(^uint(0) >> 1)
	}
	return p.MaxMembers
}

func (p *Project) IsMember(userID string) bool {
	_, ok := p.Members[userID]
	return ok
}

func (p *Project) Full() bool {
	return len(p.Members) >= p.Capacity()
}

// Users is the user registry document.
type Users map[string]*User

// Projects is the project registry document.
type Projects map[Category]map[string]*Project

// EmptyProjects returns a registry with every category present.
func EmptyProjects() Projects {
	p := Projects{}
	for _, c := range Categories {
		p[c] = map[string]*Project{}
	}
	return p
}

func (ps Projects) Get(ref ProjectRef) (*Project, bool) {
	byID, ok := ps[ref.Category]
	if !ok {
		return nil, false
	}
	p, ok := byID[ref.ID]
	return p, ok && p != nil
}

func (ps Projects) Put(ref ProjectRef, p *Project) {
	if ps[ref.Category] == nil {
		ps[ref.Category] = map[string]*Project{}
	}
	ps[ref.Category][ref.ID] = p
}

func (ps Projects) Delete(ref ProjectRef) {
	delete(ps[ref.Category], ref.ID)
}
