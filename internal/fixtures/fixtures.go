// Package fixtures provides canned GitHub and LLM transports for dry runs
// and tests. No fixture path touches the network; responses are
// deterministic functions of the request.
package fixtures

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Repos is the fixture corpus served by the search endpoint.
var Repos = []map[string]any{
	{
		"full_name":        "alpha/vector-db",
		"stargazers_count": 412,
		"forks_count":      37,
		"topics":           []string{"vector-database", "similarity-search", "embeddings"},
		"language":         "Go",
		"license":          map[string]any{"spdx_id": "Apache-2.0"},
		"pushed_at":        "2026-07-20T09:00:00Z",
	},
	{
		"full_name":        "beta/embed-store",
		"stargazers_count": 188,
		"forks_count":      12,
		"topics":           []string{"embeddings", "storage"},
		"language":         "Rust",
		"license":          map[string]any{"spdx_id": "MIT"},
		"pushed_at":        "2026-07-28T15:30:00Z",
	},
	{
		"full_name":        "gamma/sim-engine",
		"stargazers_count": 95,
		"forks_count":      8,
		"topics":           []string{"similarity-search", "workflow"},
		"language":         "Go",
		"pushed_at":        "2026-08-01T11:00:00Z",
	},
}

func jsonResponse(status int, v any) *http.Response {
	body, _ := json.Marshal(v)
	return rawResponse(status, body, "application/json")
}

func rawResponse(status int, body []byte, contentType string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(string(body))),
	}
}

var readmePathRegex = regexp.MustCompile(`^/repos/([^/]+)/([^/]+)/readme$`)

// GitHubDo returns a transport that answers the three endpoints the
// pipeline calls. Pass2-generated queries return an empty result set so
// dry runs terminate.
func GitHubDo() func(*http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		path := req.URL.Path
		switch {
		case path == "/rate_limit":
			return jsonResponse(200, map[string]any{
				"resources": map[string]any{
					"core":   map[string]any{"limit": 5000, "remaining": 5000, "reset": time.Now().Add(time.Hour).Unix()},
					"search": map[string]any{"limit": 30, "remaining": 30, "reset": time.Now().Add(time.Minute).Unix()},
				},
			}), nil

		case path == "/search/repositories":
			items := Repos
			// Keyword-driven expansion queries find nothing new.
			if !strings.Contains(req.URL.Query().Get("q"), "vector database") {
				items = nil
			}
			return jsonResponse(200, map[string]any{
				"total_count":        len(items),
				"incomplete_results": false,
				"items":              items,
			}), nil

		case readmePathRegex.MatchString(path):
			m := readmePathRegex.FindStringSubmatch(path)
			owner, name := m[1], m[2]
			if owner == "gamma" {
				// One fixture repo has no README, exercising the 404 path.
				return jsonResponse(404, map[string]any{"message": "Not Found"}), nil
			}
			readme := fmt.Sprintf("# %s/%s\n\nA %s project from the fixture corpus.\n", owner, name, name)
			resp := rawResponse(200, []byte(readme), "text/plain")
			resp.Header.Set("ETag", fmt.Sprintf(`W/"fixture-%s-%s"`, owner, name))
			return resp, nil

		default:
			return jsonResponse(404, map[string]any{"message": "Not Found"}), nil
		}
	}
}

var repoLineRegex = regexp.MustCompile(`Repository: ([^\s]+/[^\s]+)`)

// scoresFor derives stable per-repo scores so fixture runs are replayable.
var scoresFor = map[string][3]float64{
	"alpha/vector-db":  {0.8, 0.7, 0.75},
	"beta/embed-store": {0.7, 0.6, 0.8},
	"gamma/sim-engine": {0.5, 0.5, 0.5},
}

func analysisContent(fullName string) string {
	scores, ok := scoresFor[fullName]
	if !ok {
		scores = [3]float64{0.6, 0.6, 0.6}
	}
	short := fullName[strings.Index(fullName, "/")+1:]
	out := map[string]any{
		"repo": map[string]any{"full_name": fullName},
		"scores": map[string]any{
			"interestingness":         scores[0],
			"novelty":                 scores[1],
			"collaboration_potential": scores[2],
		},
		"reasons": map[string]any{
			"interestingness":         []string{"active fixture project"},
			"novelty":                 []string{"fresh fixture approach"},
			"collaboration_potential": []string{"clear integration points"},
		},
		"signals": map[string]any{
			"problem_summary":     fmt.Sprintf("%s handles vector similarity workloads", short),
			"who_is_it_for":       "teams building retrieval systems",
			"integration_surface": []string{"API", "CLI"},
			"risk_flags":          []string{},
		},
		"keywords": map[string]any{
			"primary":        []string{"vector search", short},
			"secondary":      []string{"embeddings"},
			"search_queries": []string{"vector similarity " + short},
		},
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func briefContent(names []string) string {
	repos := make([]map[string]any, 0, len(names))
	for _, n := range names {
		repos = append(repos, map[string]any{
			"full_name":        n,
			"why_it_fits":      "complementary fixture capability",
			"integration_role": "component",
		})
	}
	out := map[string]any{
		"title":            "Fixture collaboration concept",
		"concept":          "Combine the fixture projects into one retrieval stack.",
		"repos":            repos,
		"outreach_message": "Hello maintainers, this is a fixture draft.",
	}
	b, _ := json.Marshal(out)
	return string(b)
}

var fullNameRegex = regexp.MustCompile(`"full_name":\s*"([^"]+)"`)

// LLMDo returns a transport answering chat completions with valid
// fixture output for both the repo-analysis and brief prompts.
func LLMDo() func(*http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		var payload struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(body, &payload)
		var user string
		if n := len(payload.Messages); n > 0 {
			user = payload.Messages[n-1].Content
		}

		var content string
		if strings.Contains(user, "collaboration brief") {
			var names []string
			for _, m := range fullNameRegex.FindAllStringSubmatch(user, -1) {
				names = append(names, m[1])
			}
			content = briefContent(names)
		} else if m := repoLineRegex.FindStringSubmatch(user); m != nil {
			content = analysisContent(m[1])
		} else {
			content = `{"error": "unrecognized fixture prompt"}`
		}

		return jsonResponse(200, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}), nil
	}
}
