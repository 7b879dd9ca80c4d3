package repository

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/openforge/mergebot/internal/domain"
)

// censusFile is the YAML roster format:
//
//	members:
//	  alice:
//	    role: reviewer
//	    attribution: Alice Smith <alice@example.org>
type censusFile struct {
	Members map[string]censusMember `mapstructure:"members"`
}

type censusMember struct {
	Role        string `mapstructure:"role"`
	Attribution string `mapstructure:"attribution"`
}

// LoadCensus reads a static roster from a YAML file. Unknown roles are
// rejected rather than silently mapped to no role.
func LoadCensus(fs afero.Fs, path string) (*StaticCensus, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read census file %s: %w", path, err)
	}
	var file censusFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to parse census file %s: %w", path, err)
	}

	census := &StaticCensus{
		Roles:        make(map[string]domain.Role),
		Attributions: make(map[string]domain.Author),
	}
	for username, member := range file.Members {
		role, err := parseRole(member.Role)
		if err != nil {
			return nil, fmt.Errorf("census member %s: %w", username, err)
		}
		census.Roles[username] = role
		if member.Attribution != "" {
			census.Attributions[username] = domain.ParseAuthor(member.Attribution)
		}
	}
	return census, nil
}

func parseRole(s string) (domain.Role, error) {
	switch strings.ToLower(s) {
	case "lead":
		return domain.RoleLead, nil
	case "reviewer":
		return domain.RoleReviewer, nil
	case "committer":
		return domain.RoleCommitter, nil
	case "author", "":
		return domain.RoleAuthor, nil
	default:
		return domain.RoleNone, fmt.Errorf("unknown role %q", s)
	}
}
