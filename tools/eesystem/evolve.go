package eesystem

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const (
	MaxGenerations     = 10
	DefaultGenerations = 5
	MinPopulation      = 2
	MaxPopulation      = 10
	DefaultPopulation  = 3
)

type Solution struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Details     string   `json:"details"`
	Fitness     float64  `json:"fitness"`
	Addresses   []string `json:"addresses,omitempty"`
}

// Evolver proposes n new solutions, optionally building on parents.
type Evolver interface {
	Propose(ctx context.Context, problem string, criteria []string, parents []Solution, n int) ([]Solution, error)
}

// Critic lists weaknesses of a solution.
type Critic interface {
	Critique(ctx context.Context, s Solution, criteria []string) ([]string, error)
}

// Score is the fraction of criteria a solution's text mentions.
func Score(s Solution, criteria []string) float64 {
	if len(criteria) == 0 {
		return 0
	}
	text := strings.ToLower(s.Description + "\n" + s.Details)
	hit := 0
	for _, c := range criteria {
		if strings.Contains(text, strings.ToLower(c)) {
			hit++
		}
	}
	return float64(hit) / float64(len(criteria))
}

type Generation struct {
	Number      int      `json:"generation"`
	BestID      string   `json:"bestId"`
	BestFitness float64  `json:"bestFitness"`
	Critiques   []string `json:"critiques,omitempty"`
}

type Report struct {
	Problem     string       `json:"problem"`
	Criteria    []string     `json:"criteria"`
	Generations []Generation `json:"generations"`
	Converged   bool         `json:"converged"`
	Best        Solution     `json:"best"`
}

type Options struct {
	MaxGenerations int
	PopulationSize int
}

func (o Options) normalized() Options {
	if o.MaxGenerations <= 0 {
		o.MaxGenerations = DefaultGenerations
	}
	if o.MaxGenerations > MaxGenerations {
		o.MaxGenerations = MaxGenerations
	}
	if o.PopulationSize <= 0 {
		o.PopulationSize = DefaultPopulation
	}
	if o.PopulationSize < MinPopulation {
		o.PopulationSize = MinPopulation
	}
	if o.PopulationSize > MaxPopulation {
		o.PopulationSize = MaxPopulation
	}
	return o
}

// Run scores each generation, keeps the top half, adds a hybrid of the two
// best and refills the population from the evolver. It stops early once a
// solution satisfies every criterion.
func Run(ctx context.Context, ev Evolver, cr Critic, problem string, criteria []string, opts Options) (*Report, error) {
	opts = opts.normalized()
	report := &Report{Problem: problem, Criteria: criteria}

	pop, err := ev.Propose(ctx, problem, criteria, nil, opts.PopulationSize)
	if err != nil {
		return nil, fmt.Errorf("initial population: %w", err)
	}
	if len(pop) == 0 {
		return nil, fmt.Errorf("initial population: evolver proposed no solutions")
	}

	best := Solution{Fitness: -1}
	for gen := 1; gen <= opts.MaxGenerations; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range pop {
			pop[i].Fitness = Score(pop[i], criteria)
		}
		if len(pop) >= 2 {
			hybrid := synthesize(gen, pop)
			hybrid.Fitness = Score(hybrid, criteria)
			pop = append(pop, hybrid)
		}
		sort.SliceStable(pop, func(i, j int) bool { return pop[i].Fitness > pop[j].Fitness })
		if pop[0].Fitness > best.Fitness {
			best = pop[0]
		}

		critiques, err := cr.Critique(ctx, pop[0], criteria)
		if err != nil {
			return nil, fmt.Errorf("generation %d critique: %w", gen, err)
		}
		report.Generations = append(report.Generations, Generation{
			Number:      gen,
			BestID:      pop[0].ID,
			BestFitness: pop[0].Fitness,
			Critiques:   critiques,
		})
		if best.Fitness >= 1 {
			report.Converged = true
			break
		}
		if gen == opts.MaxGenerations {
			break
		}

		keep := opts.PopulationSize / 2
		if keep < 1 {
			keep = 1
		}
		if keep > len(pop) {
			keep = len(pop)
		}
		survivors := append([]Solution(nil), pop[:keep]...)
		offspring, err := ev.Propose(ctx, problem, criteria, survivors, opts.PopulationSize-keep)
		if err != nil {
			return nil, fmt.Errorf("generation %d: %w", gen, err)
		}
		pop = append(survivors, offspring...)
	}

	report.Best = best
	return report, nil
}

// synthesize merges the two fittest solutions of a scored population.
func synthesize(gen int, pop []Solution) Solution {
	ranked := append([]Solution(nil), pop...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })
	a, b := ranked[0], ranked[1]
	return Solution{
		ID:          fmt.Sprintf("gen%d-hybrid", gen),
		Description: fmt.Sprintf("Hybrid of %s and %s", a.ID, b.ID),
		Details:     a.Details + "\n--- combined with ---\n" + b.Details,
		Addresses:   union(a.Addresses, b.Addresses),
	}
}

func union(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// heuristicEvolver builds solutions that each cover one more criterion than
// their parent. It needs no model and is fully deterministic.
type heuristicEvolver struct {
	round int
}

func (h *heuristicEvolver) Propose(_ context.Context, problem string, criteria []string, parents []Solution, n int) ([]Solution, error) {
	h.round++
	out := make([]Solution, 0, n)
	for i := 0; i < n; i++ {
		var base []string
		if len(parents) > 0 {
			base = parents[i%len(parents)].Addresses
		}
		addr := append([]string(nil), base...)
		if next, ok := nextCriterion(criteria, addr, i); ok {
			addr = append(addr, next)
		}
		out = append(out, Solution{
			ID:          fmt.Sprintf("round%d-%d", h.round, i+1),
			Description: fmt.Sprintf("Approach %d for: %s", i+1, problem),
			Details:     "Addresses: " + strings.Join(addr, "; "),
			Addresses:   addr,
		})
	}
	return out, nil
}

// nextCriterion picks the offset-th criterion not yet covered, wrapping.
func nextCriterion(criteria, covered []string, offset int) (string, bool) {
	var open []string
	for _, c := range criteria {
		if !contains(covered, c) {
			open = append(open, c)
		}
	}
	if len(open) == 0 {
		return "", false
	}
	return open[offset%len(open)], true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type heuristicCritic struct{}

func (heuristicCritic) Critique(_ context.Context, s Solution, criteria []string) ([]string, error) {
	var out []string
	if s.Fitness < 0.5 {
		out = append(out, "Low fitness score indicates fundamental gaps.")
	}
	text := strings.ToLower(s.Description + "\n" + s.Details)
	for _, c := range criteria {
		if !strings.Contains(text, strings.ToLower(c)) {
			out = append(out, "Does not address: "+c)
		}
	}
	return out, nil
}
