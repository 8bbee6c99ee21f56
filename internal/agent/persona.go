package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Persona defines an agent's identity and personality as plain data.
// There is exactly one Shell implementation; all behavioral variety
// comes from these fields reaching the oracle prompt, never from
// subtyping.
type Persona struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Role      string          `json:"role"` // free-text backstory fed to the oracle
	Strategy  string          `json:"strategy,omitempty"`
	Budget    decimal.Decimal `json:"budget"`
	Inventory int64           `json:"inventory"`
	// Traits carries tuning knobs such as price tolerance; they are
	// surfaced to the oracle, not interpreted by the engine.
	Traits map[string]float64 `json:"traits,omitempty"`
	// Provider optionally pins the agent to a specific oracle provider.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// LoadRoster reads the agent roster from a JSON file.
func LoadRoster(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	var roster []Persona
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(roster))
	for i := range roster {
		if roster[i].ID == "" {
			roster[i].ID = slug(roster[i].Name)
		}
		if roster[i].ID == "" {
			return nil, fmt.Errorf("roster entry %d has no id or name", i)
		}
		if _, dup := seen[roster[i].ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %q in roster", roster[i].ID)
		}
		seen[roster[i].ID] = struct{}{}
		if roster[i].Budget.IsNegative() {
			return nil, fmt.Errorf("agent %s has negative budget", roster[i].ID)
		}
		if roster[i].Inventory < 0 {
			return nil, fmt.Errorf("agent %s has negative inventory", roster[i].ID)
		}
	}
	return roster, nil
}

func slug(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}
