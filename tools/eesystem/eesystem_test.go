package eesystem

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/gliderlab/mcpgate/tools"
)

func call(t *testing.T, p tools.Plugin, name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	resp, err := p.Adapter(context.Background(), name, args)
	require.NoError(t, err)
	return resp.Text(), resp.IsError
}

func TestFitnessLevel(t *testing.T) {
	cases := map[float64]string{
		1: "Excellent", 0.9: "Excellent", 0.85: "Good", 0.8: "Good",
		0.75: "Acceptable", 0.7: "Acceptable", 0.6: "Moderate", 0.59: "Needs improvement", 0: "Needs improvement",
	}
	for score, want := range cases {
		assert.Equal(t, want, FitnessLevel(score), "score %v", score)
	}
}

func TestStep(t *testing.T) {
	p := New(Config{})

	text, isErr := call(t, p, "eesystem", map[string]interface{}{
		"thought": "cache hot keys", "nextThoughtNeeded": true,
		"thoughtNumber": float64(1), "totalThoughts": float64(3), "fitnessScore": 0.65,
	})
	require.False(t, isErr, text)
	assert.Equal(t, "**Evolutionary Intelligence - Step 1/3**\n\n"+
		"**Thought**: cache hot keys\n\n"+
		"**Fitness Score**: 0.65 (Moderate)\n\n"+
		"**Status**: Evolution continuing... (Seeking higher fitness)", text)

	text, _ = call(t, p, "eesystem", map[string]interface{}{
		"thought": "add TTLs", "nextThoughtNeeded": false,
		"thoughtNumber": float64(3), "totalThoughts": float64(3), "fitnessScore": 0.92,
		"isRevision": true, "revisesThought": float64(1),
	})
	assert.Contains(t, text, "**Revision**: Evolving thought 1\n\n")
	assert.True(t, strings.HasSuffix(text, "**Status**: Evolution complete - High quality solution achieved"))

	text, isErr = call(t, p, "eesystem", map[string]interface{}{
		"thought": "x", "nextThoughtNeeded": false, "thoughtNumber": float64(1), "totalThoughts": float64(1), "fitnessScore": 1.5,
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "fitnessScore must be between 0 and 1")

	text, isErr = call(t, p, "eesystem", map[string]interface{}{"thought": "x"})
	assert.True(t, isErr)
	assert.Contains(t, text, "nextThoughtNeeded")
}

func TestEvolveHeuristicConverges(t *testing.T) {
	p := New(Config{})
	text, isErr := call(t, p, "eesystem_evolve", map[string]interface{}{
		"problem_definition": "design a session store",
		"solution_criteria":  []interface{}{"fast", "cheap", "secure"},
	})
	require.False(t, isErr, text)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(text), &report))
	assert.True(t, report.Converged)
	require.Len(t, report.Generations, 2)
	assert.InDelta(t, 2.0/3, report.Generations[0].BestFitness, 1e-9)
	assert.Equal(t, "gen1-hybrid", report.Generations[0].BestID)
	assert.Contains(t, report.Generations[0].Critiques, "Does not address: secure")
	assert.Equal(t, 1.0, report.Best.Fitness)
	assert.ElementsMatch(t, []string{"fast", "cheap", "secure"}, report.Best.Addresses)
}

func TestEvolveValidation(t *testing.T) {
	p := New(Config{})
	text, isErr := call(t, p, "eesystem_evolve", map[string]interface{}{"problem_definition": "x", "solution_criteria": []interface{}{}})
	assert.True(t, isErr)
	assert.Contains(t, text, "solution_criteria")
}

func TestRunBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		criteria := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{6,10}`), 1, 8, rapid.ID[string]).Draw(t, "criteria")
		opts := Options{
			MaxGenerations: rapid.IntRange(-3, 20).Draw(t, "gens"),
			PopulationSize: rapid.IntRange(-3, 20).Draw(t, "pop"),
		}
		report, err := Run(context.Background(), &heuristicEvolver{}, heuristicCritic{}, "problem", criteria, opts)
		if err != nil {
			t.Fatal(err)
		}
		if n := len(report.Generations); n < 1 || n > MaxGenerations {
			t.Fatalf("ran %d generations", n)
		}
		if report.Best.Fitness < 0 || report.Best.Fitness > 1 {
			t.Fatalf("fitness %v out of range", report.Best.Fitness)
		}
		for i := 1; i < len(report.Generations); i++ {
			if report.Generations[i].BestFitness < report.Generations[i-1].BestFitness {
				t.Fatalf("best fitness regressed at generation %d", i+1)
			}
		}
	})
}

func TestOptionsNormalized(t *testing.T) {
	assert.Equal(t, Options{MaxGenerations: 5, PopulationSize: 3}, Options{}.normalized())
	assert.Equal(t, Options{MaxGenerations: 10, PopulationSize: 2}, Options{MaxGenerations: 99, PopulationSize: 1}.normalized())
	assert.Equal(t, Options{MaxGenerations: 1, PopulationSize: 10}, Options{MaxGenerations: 1, PopulationSize: 50}.normalized())
}

func TestEvolveWithModel(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		calls++

		reply := "- needs load testing\nNONE"
		if !strings.Contains(req.Messages[0].Content, "reviewer") {
			reply = "```json\n[{\"description\":\"sharded redis\",\"details\":\"fast and cheap and secure\"}," +
				"{\"description\":\"sqlite\",\"details\":\"cheap\"}]\n```"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": req.Model,
			"choices": []interface{}{map[string]interface{}{
				"index": 0, "finish_reason": "stop",
				"message": map[string]interface{}{"role": "assistant", "content": reply},
			}},
		})
	}))
	defer srv.Close()

	p := New(Config{OpenAIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "test-model"})
	text, isErr := call(t, p, "eesystem_evolve", map[string]interface{}{
		"problem_definition": "pick a cache", "solution_criteria": []interface{}{"fast", "cheap", "secure"},
	})
	require.False(t, isErr, text)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(text), &report))
	assert.True(t, report.Converged)
	assert.Equal(t, "sharded redis", report.Best.Description)
	assert.Equal(t, []string{"needs load testing"}, report.Generations[0].Critiques)
	assert.Equal(t, 2, calls)
}

func TestModelErrorsAreResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := New(Config{OpenAIKey: "sk-bad", BaseURL: srv.URL + "/v1"})
	text, isErr := call(t, p, "eesystem_evolve", map[string]interface{}{
		"problem_definition": "x", "solution_criteria": []interface{}{"y"},
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "bad key")
}
