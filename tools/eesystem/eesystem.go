// Package eesystem provides step-by-step reasoning with fitness scoring and a
// bounded evolutionary search over candidate solutions.
package eesystem

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/adapter"
)

const (
	Name          = "evolutionaryIntelligence"
	KeyOpenAIKey  = "OPENAI_API_KEY"
	KeyOpenAIBase = "OPENAI_BASE_URL"
	KeyModel      = "OPENAI_MODEL"
)

type Config struct {
	// OpenAIKey enables the model-backed evolver and critic. Without it the
	// search uses the built-in heuristics.
	OpenAIKey string
	BaseURL   string
	Model     string
}

type plugin struct {
	cfg Config
}

func New(cfg Config) tools.Plugin {
	p := &plugin{cfg: cfg}
	str := map[string]interface{}{"type": "string"}

	return adapter.NewSet(Name).
		Add("eesystem", stepDescription, adapter.Object(map[string]interface{}{
			"thought":           adapter.StringParam("Your current thinking step or solution approach"),
			"nextThoughtNeeded": adapter.BoolParam("Whether another thought step is needed"),
			"thoughtNumber":     adapter.IntParam("Current thought number in sequence (>= 1)"),
			"totalThoughts":     adapter.IntParam("Estimated total thoughts needed (>= 1)"),
			"fitnessScore":      adapter.NumberParam("Solution fitness score (0-1, where 1 is optimal)"),
			"isRevision":        adapter.BoolParam("Whether this thought revises previous thinking"),
			"revisesThought":    adapter.IntParam("Which thought number is being revised"),
		}, "thought", "nextThoughtNeeded", "thoughtNumber", "totalThoughts"), p.step).
		Add("eesystem_evolve", "Run an evolutionary search: propose, score, critique and recombine candidate solutions over several generations",
			adapter.Object(map[string]interface{}{
				"problem_definition": adapter.StringParam("Clear, concise definition of the problem to be solved"),
				"solution_criteria":  adapter.ArrayParam("Objective criteria for a successful solution", str),
				"max_generations":    adapter.IntParam(fmt.Sprintf("Maximum number of evolutionary cycles (default %d, at most %d)", DefaultGenerations, MaxGenerations)),
				"population_size":    adapter.IntParam(fmt.Sprintf("Number of solutions per generation (%d-%d, default %d)", MinPopulation, MaxPopulation, DefaultPopulation)),
			}, "problem_definition", "solution_criteria"), p.evolve).
		Plugin()
}

const stepDescription = `Evolutionary Intelligence: step-by-step problem solving with fitness scoring.

Start with thoughtNumber=1 and an estimate of totalThoughts. Give each thought a fitnessScore when it proposes a solution, set nextThoughtNeeded=false when done, and use isRevision with revisesThought to evolve an earlier thought.`

// FitnessLevel names a score band.
func FitnessLevel(score float64) string {
	switch {
	case score >= 0.9:
		return "Excellent"
	case score >= 0.8:
		return "Good"
	case score >= 0.7:
		return "Acceptable"
	case score >= 0.6:
		return "Moderate"
	}
	return "Needs improvement"
}

func (p *plugin) step(_ context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("thought", "nextThoughtNeeded", "thoughtNumber", "totalThoughts"); err != nil {
		return nil, err
	}
	num, total := args.Int("thoughtNumber"), args.Int("totalThoughts")
	if num < 1 || total < 1 {
		return nil, errors.New("thoughtNumber and totalThoughts must be at least 1")
	}
	if total < num {
		total = num
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Evolutionary Intelligence - Step %d/%d**\n\n", num, total)
	fmt.Fprintf(&b, "**Thought**: %s\n\n", args.String("thought"))

	hasScore := args.Has("fitnessScore")
	score := args.Float("fitnessScore")
	if hasScore {
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("fitnessScore must be between 0 and 1, got %g", score)
		}
		fmt.Fprintf(&b, "**Fitness Score**: %.2f (%s)\n\n", score, FitnessLevel(score))
	}
	if args.Bool("isRevision") && args.Int("revisesThought") > 0 {
		fmt.Fprintf(&b, "**Revision**: Evolving thought %d\n\n", args.Int("revisesThought"))
	}

	if args.Bool("nextThoughtNeeded") {
		b.WriteString("**Status**: Evolution continuing...")
		if hasScore && score < 0.7 {
			b.WriteString(" (Seeking higher fitness)")
		}
	} else {
		b.WriteString("**Status**: Evolution complete")
		if hasScore && score >= 0.8 {
			b.WriteString(" - High quality solution achieved")
		}
	}
	return b.String(), nil
}

func (p *plugin) evolve(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("problem_definition", "solution_criteria"); err != nil {
		return nil, err
	}
	criteria := args.Strings("solution_criteria")
	if len(criteria) == 0 {
		return nil, errors.New("solution_criteria must list at least one criterion")
	}

	var (
		ev Evolver = &heuristicEvolver{}
		cr Critic  = heuristicCritic{}
	)
	if p.cfg.OpenAIKey != "" {
		m := newLLM(p.cfg.OpenAIKey, p.cfg.BaseURL, p.cfg.Model)
		ev, cr = m, m
	}

	report, err := Run(ctx, ev, cr, args.String("problem_definition"), criteria, Options{
		MaxGenerations: args.Int("max_generations"),
		PopulationSize: args.Int("population_size"),
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
