package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tripforge/pricing-engine/internal/model"
)

// LoadFile reads a JSON array of pricing rules and returns a validated
// engine. The file is the deployment's rule table; it is read once at startup
// so every evaluation sees the same immutable snapshot.
func LoadFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var ruleSet []model.PricingRule
	if err := json.Unmarshal(data, &ruleSet); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	return NewEngine(ruleSet...)
}
