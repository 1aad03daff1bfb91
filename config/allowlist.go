package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// CapGroup assigns one admission cap to a set of participants.
type CapGroup struct {
	Name         string
	Cap          *big.Int
	Participants []common.Address
}

type allowlistFile struct {
	Groups []struct {
		Name         string   `yaml:"name"`
		Cap          string   `yaml:"cap"`
		Participants []string `yaml:"participants"`
	} `yaml:"groups"`
}

// LoadAllowlist reads a YAML allowlist of cap groups from path.
func LoadAllowlist(path string) ([]CapGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseAllowlist(data)
}

// ParseAllowlist decodes a YAML allowlist. A participant may appear in only
// one group.
func ParseAllowlist(data []byte) ([]CapGroup, error) {
	var file allowlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode allowlist: %w", err)
	}
	if len(file.Groups) == 0 {
		return nil, fmt.Errorf("allowlist: no groups defined")
	}
	seen := make(map[common.Address]string)
	groups := make([]CapGroup, 0, len(file.Groups))
	for i, raw := range file.Groups {
		name := strings.TrimSpace(raw.Name)
		if name == "" {
			name = fmt.Sprintf("group-%d", i)
		}
		if strings.TrimSpace(raw.Cap) == "" {
			return nil, fmt.Errorf("allowlist %s: cap required", name)
		}
		cap, err := parseUintAmount(raw.Cap)
		if err != nil {
			return nil, fmt.Errorf("allowlist %s: %w", name, err)
		}
		if len(raw.Participants) == 0 {
			return nil, fmt.Errorf("allowlist %s: no participants", name)
		}
		group := CapGroup{Name: name, Cap: cap, Participants: make([]common.Address, 0, len(raw.Participants))}
		for _, entry := range raw.Participants {
			addr, err := ParseAddress(entry)
			if err != nil {
				return nil, fmt.Errorf("allowlist %s: %w", name, err)
			}
			if prev, dup := seen[addr]; dup {
				return nil, fmt.Errorf("allowlist %s: %s already listed in %s", name, addr.Hex(), prev)
			}
			seen[addr] = name
			group.Participants = append(group.Participants, addr)
		}
		groups = append(groups, group)
	}
	return groups, nil
}
