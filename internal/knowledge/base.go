// Package knowledge provides keyword-overlap search over a file-backed
// Q&A corpus.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ashureev/devops-qa/internal/domain"
)

// Category names with dedicated search behavior.
const (
	CategoryBuildErrors = "build_errors"
	CategoryGeneralQA   = "general_qa"
)

// Entry is one keyword-tagged Q&A item.
type Entry struct {
	Keywords []string `json:"keywords"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
}

// Base is the process-wide knowledge corpus. Loaded once at startup,
// read-mostly; Add serializes the mutate-and-persist sequence.
type Base struct {
	path string
	mu   sync.RWMutex
	data map[string][]Entry
}

// Load reads the corpus from path, seeding a default corpus when the file
// does not exist yet.
func Load(path string) (*Base, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create knowledge base directory: %w", err)
	}

	b := &Base{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		b.data = defaultCorpus()
		if err := b.persistLocked(); err != nil {
			return nil, fmt.Errorf("seed default knowledge base: %w", err)
		}
		return b, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	if err := json.Unmarshal(raw, &b.data); err != nil {
		return nil, fmt.Errorf("decode knowledge base: %w", err)
	}
	if b.data == nil {
		b.data = make(map[string][]Entry)
	}
	return b, nil
}

// Search returns corpus hits for a query and optional error keywords.
// Build-error hits are inserted before general hits; within a category,
// corpus insertion order is kept.
func (b *Base) Search(query string, errorKeywords []string) []domain.KnowledgeMatch {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var results []domain.KnowledgeMatch

	// Each supplied error keyword contributes one result per entry whose
	// keyword set substring-matches it.
	for _, entry := range b.data[CategoryBuildErrors] {
		for _, errKeyword := range errorKeywords {
			if entryMatchesKeyword(entry, errKeyword) {
				results = append(results, domain.KnowledgeMatch{
					Category:       "build_error",
					Question:       entry.Question,
					Answer:         entry.Answer,
					MatchedKeyword: errKeyword,
				})
			}
		}
	}

	// Each general entry contributes at most one result: first keyword hit
	// wins, the entry is not duplicated.
	lowerQuery := strings.ToLower(query)
	for _, entry := range b.data[CategoryGeneralQA] {
		for _, keyword := range entry.Keywords {
			if strings.Contains(lowerQuery, strings.ToLower(keyword)) {
				results = append(results, domain.KnowledgeMatch{
					Category:       "general",
					Question:       entry.Question,
					Answer:         entry.Answer,
					MatchedKeyword: keyword,
				})
				break
			}
		}
	}

	return results
}

func entryMatchesKeyword(entry Entry, errKeyword string) bool {
	lower := strings.ToLower(errKeyword)
	for _, kw := range entry.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Add appends an entry to a category and persists the corpus back to disk.
func (b *Base) Add(category string, keywords []string, question, answer string) error {
	if category == "" {
		return fmt.Errorf("category cannot be empty")
	}
	if len(keywords) == 0 {
		return fmt.Errorf("keywords cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		b.data = make(map[string][]Entry)
	}
	b.data[category] = append(b.data[category], Entry{
		Keywords: keywords,
		Question: question,
		Answer:   answer,
	})

	return b.persistLocked()
}

// persistLocked writes the corpus to disk. Callers must hold the write lock
// (or be the sole owner during Load).
func (b *Base) persistLocked() error {
	raw, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode knowledge base: %w", err)
	}
	if err := os.WriteFile(b.path, raw, 0644); err != nil {
		return fmt.Errorf("write knowledge base: %w", err)
	}
	return nil
}

// EntryCount returns the number of entries in a category.
func (b *Base) EntryCount(category string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data[category])
}

func defaultCorpus() map[string][]Entry {
	return map[string][]Entry{
		CategoryBuildErrors: {
			{
				Keywords: []string{"BUILD FAILED", "Compilation failed", "build failure"},
				Question: "What should I do when a build fails?",
				Answer:   "Build failures are usually caused by: 1. syntax errors in the code 2. missing dependencies 3. environment configuration problems. Check the build log to locate the failing step first.",
			},
			{
				Keywords: []string{"Missing dependency", "package not found", "dependency missing"},
				Question: "How do I fix a missing dependency?",
				Answer:   "Missing dependency fixes: 1. check package.json or requirements.txt 2. run npm install or pip install 3. clear the dependency cache and reinstall.",
			},
			{
				Keywords: []string{"Permission denied", "access denied"},
				Question: "How do I handle permission errors?",
				Answer:   "Permission error fixes: 1. check file permissions 2. run with elevated privileges where appropriate 3. change the file owner 4. check SELinux settings.",
			},
			{
				Keywords: []string{"Test failure", "tests failed"},
				Question: "How do I debug a failing test?",
				Answer:   "Failing test debugging: 1. read the test log 2. check the test environment 3. verify test data 4. run the single failing case in isolation.",
			},
		},
		CategoryGeneralQA: {
			{
				Keywords: []string{"deploy", "deployment", "release"},
				Question: "How do I deploy an application?",
				Answer:   "Deployment steps: 1. build the project 2. configure environment variables 3. start the service 4. run health checks 5. monitor after rollout.",
			},
			{
				Keywords: []string{"performance", "optimize", "slow"},
				Question: "How do I improve application performance?",
				Answer:   "Performance work: 1. profile and optimize hot code paths 2. tune database queries 3. add caching 4. balance load across instances 5. keep monitoring.",
			},
		},
	}
}
