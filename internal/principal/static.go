package principal

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feedline-io/feedline/internal/core/activity"
)

// StaticDirectory is a Directory backed by an in-memory dataset, optionally
// loaded from a YAML file. It stands in for the identity service in
// development and single-box deployments; unknown principals resolve to
// permissive defaults (public, default tenant, immediate email).
type StaticDirectory struct {
	defaultTenant string

	visibility  map[string]Visibility
	tenants     map[string]string
	followers   map[string][]string
	members     map[string][]string
	federations map[string][]string
	schedules   map[string]EmailSchedule
}

// NewStaticDirectory creates an empty directory with permissive defaults.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		defaultTenant: "default",
		visibility:    make(map[string]Visibility),
		tenants:       make(map[string]string),
		followers:     make(map[string][]string),
		members:       make(map[string][]string),
		federations:   make(map[string][]string),
		schedules:     make(map[string]EmailSchedule),
	}
}

// directoryFile is the on-disk YAML shape.
type directoryFile struct {
	DefaultTenant string `yaml:"default_tenant"`
	Principals    []struct {
		ID         string `yaml:"id"`
		Tenant     string `yaml:"tenant"`
		Visibility string `yaml:"visibility"`
		Email      struct {
			Preference string `yaml:"preference"`
			Hour       int    `yaml:"hour"`
			Weekday    string `yaml:"weekday"`
		} `yaml:"email"`
	} `yaml:"principals"`
	Follows     map[string][]string `yaml:"follows"` // principal -> followers
	Groups      map[string][]string `yaml:"groups"`  // group -> members
	Federations map[string][]string `yaml:"federations"`
}

// LoadStaticDirectory reads a directory dataset from a YAML file.
func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory file: %w", err)
	}

	var raw directoryFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing directory file %s: %w", path, err)
	}

	d := NewStaticDirectory()
	if raw.DefaultTenant != "" {
		d.defaultTenant = raw.DefaultTenant
	}

	for _, p := range raw.Principals {
		if p.Tenant != "" {
			d.tenants[p.ID] = p.Tenant
		}
		if p.Visibility != "" {
			vis := Visibility(p.Visibility)
			switch vis {
			case VisibilityPublic, VisibilityLoggedIn, VisibilityPrivate:
				d.visibility[p.ID] = vis
			default:
				return nil, fmt.Errorf("principal %q: unknown visibility %q", p.ID, p.Visibility)
			}
		}
		if p.Email.Preference != "" {
			pref := activity.EmailPreference(p.Email.Preference)
			if !activity.ValidEmailPreference(pref) {
				return nil, fmt.Errorf("principal %q: unknown email preference %q", p.ID, p.Email.Preference)
			}
			weekday, err := parseWeekday(p.Email.Weekday)
			if err != nil {
				return nil, fmt.Errorf("principal %q: %w", p.ID, err)
			}
			d.schedules[p.ID] = EmailSchedule{
				Preference: pref,
				Hour:       p.Email.Hour,
				Weekday:    weekday,
			}
		}
	}

	d.followers = raw.Follows
	if d.followers == nil {
		d.followers = make(map[string][]string)
	}
	d.members = raw.Groups
	if d.members == nil {
		d.members = make(map[string][]string)
	}
	d.federations = raw.Federations
	if d.federations == nil {
		d.federations = make(map[string][]string)
	}

	return d, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	if s == "" {
		return time.Monday, nil
	}
	for day := time.Sunday; day <= time.Saturday; day++ {
		if day.String() == s {
			return day, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func (d *StaticDirectory) CurrentVisibility(_ context.Context, principalID string) (Visibility, error) {
	if vis, ok := d.visibility[principalID]; ok {
		return vis, nil
	}
	return VisibilityPublic, nil
}

func (d *StaticDirectory) IsFollowerOf(_ context.Context, userID, principalID string) (bool, error) {
	for _, f := range d.followers[principalID] {
		if f == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d *StaticDirectory) TenantOf(_ context.Context, principalID string) (string, error) {
	if tenant, ok := d.tenants[principalID]; ok {
		return tenant, nil
	}
	return d.defaultTenant, nil
}

func (d *StaticDirectory) IsSameOrFederatedTenant(_ context.Context, a, b string) (bool, error) {
	if a == b {
		return true, nil
	}
	for _, peer := range d.federations[a] {
		if peer == b {
			return true, nil
		}
	}
	for _, peer := range d.federations[b] {
		if peer == a {
			return true, nil
		}
	}
	return false, nil
}

func (d *StaticDirectory) FollowersOf(_ context.Context, principalID string) ([]string, error) {
	return d.followers[principalID], nil
}

func (d *StaticDirectory) MembersOf(_ context.Context, groupID string) ([]string, error) {
	return d.members[groupID], nil
}

func (d *StaticDirectory) EmailScheduleOf(_ context.Context, recipientID string) (EmailSchedule, error) {
	if sched, ok := d.schedules[recipientID]; ok {
		return sched, nil
	}
	return EmailSchedule{Preference: activity.EmailImmediate}, nil
}
