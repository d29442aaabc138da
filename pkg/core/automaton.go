package core

// Aho-Corasick multi-pattern matcher used to locate modification name
// occurrences inside peptidoform strings. One automaton is built per run
// from the modification map keys and shared read-only afterwards.

// acNode is one state in the automaton.
type acNode struct {
	next [256]int // 0 => absent (root is state 0)
	fail int
	out  []int // pattern indexes that end at this state
}

// Automaton matches a fixed set of byte patterns against input strings.
type Automaton struct {
	nodes    []acNode
	patterns []string
}

// NewAutomaton builds the trie and failure links for the given patterns.
func NewAutomaton(patterns []string) *Automaton {
	a := &Automaton{
		nodes:    make([]acNode, 1), // state 0 = root
		patterns: patterns,
	}

	// Trie edges
	for i, p := range patterns {
		cur := 0
		for j := 0; j < len(p); j++ {
			b := p[j]
			if a.nodes[cur].next[b] == 0 {
				a.nodes = append(a.nodes, acNode{})
				a.nodes[cur].next[b] = len(a.nodes) - 1
			}
			cur = a.nodes[cur].next[b]
		}
		a.nodes[cur].out = append(a.nodes[cur].out, i)
	}

	// BFS to set fail links and propagate outputs
	queue := make([]int, 0, len(a.nodes))
	for c := 0; c < 256; c++ {
		if child := a.nodes[0].next[c]; child != 0 {
			a.nodes[child].fail = 0
			queue = append(queue, child)
		}
	}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		for c := 0; c < 256; c++ {
			s := a.nodes[r].next[c]
			if s == 0 {
				continue
			}
			queue = append(queue, s)
			f := a.nodes[r].fail
			for f > 0 && a.nodes[f].next[c] == 0 {
				f = a.nodes[f].fail
			}
			if a.nodes[f].next[c] != 0 {
				f = a.nodes[f].next[c]
			}
			a.nodes[s].fail = f
			if len(a.nodes[f].out) > 0 {
				a.nodes[s].out = append(a.nodes[s].out, a.nodes[f].out...)
			}
		}
	}
	return a
}

// Match is one pattern occurrence: s[Start:End] == Pattern.
type Match struct {
	Pattern string
	Start   int
	End     int
}

// FindAll runs the automaton over s and collects every pattern occurrence,
// overlapping matches included.
func (a *Automaton) FindAll(s string) []Match {
	state := 0
	var out []Match
	for i := 0; i < len(s); i++ {
		b := s[i]
		for state > 0 && a.nodes[state].next[b] == 0 {
			state = a.nodes[state].fail
		}
		if next := a.nodes[state].next[b]; next != 0 {
			state = next
		}
		for _, idx := range a.nodes[state].out {
			p := a.patterns[idx]
			out = append(out, Match{
				Pattern: p,
				Start:   i + 1 - len(p),
				End:     i + 1,
			})
		}
	}
	return out
}
