package qos

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tchap/go-patricia/patricia"
)

// ErrDuplicateRule means two rules escape to the same name.
var ErrDuplicateRule = errors.New("duplicate rule name")

// RuleTable indexes rules by escaped name.
type RuleTable struct {
	mu   sync.RWMutex
	trie *patricia.Trie
	n    int
}

// NewRuleTable returns an empty table.
func NewRuleTable() *RuleTable {
	return &RuleTable{trie: patricia.NewTrie()}
}

// RulesFromConfig builds a table from configured rules, escaping their names.
func RulesFromConfig(rules []Rule) (*RuleTable, error) {
	t := NewRuleTable()
	for _, r := range rules {
		if err := t.Add(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add stores r under its escaped name.
func (t *RuleTable) Add(r Rule) error {
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	r.Name = EscapeRuleName(r.Name)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.trie.Insert(patricia.Prefix(r.Name), r) {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, r.Name)
	}
	t.n++
	return nil
}

// Get looks up a rule by name; the name is escaped first.
func (t *RuleTable) Get(name string) (Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item := t.trie.Get(patricia.Prefix(EscapeRuleName(name)))
	if item == nil {
		return Rule{}, false
	}
	return item.(Rule), true
}

// WithPrefix lists rules whose escaped name starts with prefix, sorted.
func (t *RuleTable) WithPrefix(prefix string) []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Rule
	t.trie.VisitSubtree(patricia.Prefix(EscapeRuleName(prefix)), func(_ patricia.Prefix, item patricia.Item) error {
		out = append(out, item.(Rule))
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All lists every rule, sorted by name.
func (t *RuleTable) All() []Rule {
	return t.WithPrefix("")
}

func (t *RuleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.n
}
