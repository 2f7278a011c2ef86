package backtest

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pullbackbot/internal/ports"
)

// Variant is one parameter combination in a sweep. Zero-valued fields fall
// back to the runner's base parameters; MinProfitPct and ProfitSplitRatio
// use pointers so an explicit zero survives.
type Variant struct {
	Name             string   `yaml:"name"`
	RiskMultiplier   float64  `yaml:"risk_multiplier"`
	ProfitSplitRatio *float64 `yaml:"profit_split_ratio"`
	MinProfitPct     *float64 `yaml:"min_profit_pct"`
}

type variantFile struct {
	Variants []Variant `yaml:"variants"`
}

// LoadVariants reads a variant sweep definition from a YAML file.
func LoadVariants(path string) ([]Variant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading variants file '%s': %w", path, err)
	}
	var vf variantFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("%w: parsing variants file '%s': %w", ports.ErrInvalidRequest, path, err)
	}
	if len(vf.Variants) == 0 {
		return nil, fmt.Errorf("%w: variants file '%s' defines no variants", ports.ErrInvalidRequest, path)
	}
	for i := range vf.Variants {
		if vf.Variants[i].Name == "" {
			vf.Variants[i].Name = fmt.Sprintf("variant-%d", i+1)
		}
	}
	return vf.Variants, nil
}

// VariantResult pairs a variant with its backtest outcome.
type VariantResult struct {
	Variant Variant
	Result  *Result
}

// RunVariants runs the same backtest once per variant, overriding the base
// parameters with each variant's values. Variants run sequentially; each
// variant already parallelizes across symbols.
func (r *Runner) RunVariants(ctx context.Context, symbols []string, historyDays int, variants []Variant) ([]*VariantResult, error) {
	results := make([]*VariantResult, 0, len(variants))
	for _, v := range variants {
		cfg := r.cfg
		if v.RiskMultiplier != 0 {
			cfg.Params.RiskMultiplier = v.RiskMultiplier
		}
		if v.ProfitSplitRatio != nil {
			cfg.Params.ProfitSplitRatio = *v.ProfitSplitRatio
		}
		if v.MinProfitPct != nil {
			cfg.Params.MinProfitPct = *v.MinProfitPct
		}

		runner, err := NewRunner(cfg)
		if err != nil {
			return nil, fmt.Errorf("variant '%s': %w", v.Name, err)
		}
		res, err := runner.Run(ctx, symbols, historyDays)
		if err != nil {
			return nil, fmt.Errorf("variant '%s': %w", v.Name, err)
		}
		r.cfg.Logger.Info(ctx, "Variant complete", map[string]interface{}{
			"variant": v.Name, "aggregate": res.Aggregate,
		})
		results = append(results, &VariantResult{Variant: v, Result: res})
	}
	return results, nil
}
