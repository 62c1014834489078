// Package peephole implements the rule-driven textual peephole
// optimiser that runs over assembly emitted by internal/backend/tiny.
//
// The rule file format is Christopher Fraser's classic peephole
// optimiser DSL (as carried into original_source/64_6809_Target/cpeep.c):
// pattern/replacement pairs separated by a line containing only "=",
// rule groups separated by a line containing only "====". A pattern
// line is a sequence of whitespace-separated tokens where %0..%9 bind
// a wildcard to whatever token occupies that position in the input
// line; a replacement line may reuse those bindings, mint fresh
// labels with %L/%M/%N, or evaluate an RPN expression with %eval(...).
//
// Where the reference optimiser threads rules through a hand-rolled
// singly linked list of "lnode" structs, this implementation keeps
// the line stream in a container/list.List (per spec.md §9's redesign
// note on manually linked lists) and rules as plain Go slices.
package peephole

import (
	"container/list"
	"fmt"
	"strconv"
	"strings"
)

// MaxPasses bounds how many times the full rule set is swept over the
// line stream before giving up, matching cpeep.c's MAX_PASS.
const MaxPasses = 16

// defaultFireCount is the initial per-rule fire budget; large enough
// that ordinary optimisation runs never exhaust it, but finite so a
// buggy rule can't spin forever.
const defaultFireCount = 1 << 20

// Rule is one pattern/replacement pair.
type Rule struct {
	Pattern     []patLine
	Replacement []string
	Once        bool

	fireCount int
	fired     map[string]bool // signatures already used by %activate guards
}

// patLine is one line of a rule's pattern: either a literal/wildcard
// token sequence to match against an input line, or a %check /
// %check_eval constraint evaluated against already-bound wildcards
// without consuming an input line.
type patLine struct {
	tokens    []string // nil for check lines
	checkKind checkKind
	checkExpr string // raw text after the keyword, for check lines
}

type checkKind int

const (
	checkNone checkKind = iota
	checkRange
	checkEval
)

// Ruleset is a parsed, loaded rule file plus any rules added at
// runtime via %activate.
type Ruleset struct {
	rules []*Rule
}

// Load parses a rule file in the format documented above.
func Load(text string) (*Ruleset, error) {
	groups := splitMarker(text, "====")
	rs := &Ruleset{}
	for _, g := range groups {
		halves := splitEquals(g)
		if len(halves) < 2 {
			continue
		}
		// A group may define more than one pattern=replacement rule
		// separated by further "=" lines; pair them up consecutively.
		for i := 0; i+1 < len(halves); i += 2 {
			r, err := parseRule(halves[i], halves[i+1])
			if err != nil {
				return nil, err
			}
			rs.rules = append(rs.rules, r)
		}
	}
	return rs, nil
}

// splitMarker splits text into blocks separated by a line that is
// exactly marker (ignoring surrounding whitespace), dropping blank
// leading/trailing blocks.
func splitMarker(text, marker string) []string {
	var blocks []string
	var cur []string
	for _, ln := range strings.Split(text, "\n") {
		if strings.TrimSpace(ln) == marker {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
			continue
		}
		cur = append(cur, ln)
	}
	blocks = append(blocks, strings.Join(cur, "\n"))
	var out []string
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	return out
}

// splitEquals splits a rule group into its pattern/replacement
// halves on lines that are exactly "=". Unlike splitMarker, empty
// halves are preserved: a blank replacement is a legitimate rule that
// deletes the matched lines.
func splitEquals(text string) []string {
	var blocks []string
	var cur []string
	for _, ln := range strings.Split(text, "\n") {
		if strings.TrimSpace(ln) == "=" {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
			continue
		}
		cur = append(cur, ln)
	}
	blocks = append(blocks, strings.Join(cur, "\n"))
	return blocks
}

func parseRule(patText, replText string) (*Rule, error) {
	r := &Rule{fireCount: defaultFireCount, fired: map[string]bool{}}
	for _, ln := range nonBlankLines(patText) {
		trimmed := strings.TrimSpace(ln)
		switch {
		case strings.HasPrefix(trimmed, "%check_eval"):
			r.Pattern = append(r.Pattern, patLine{checkKind: checkEval, checkExpr: strings.TrimSpace(strings.TrimPrefix(trimmed, "%check_eval"))})
		case strings.HasPrefix(trimmed, "%check"):
			r.Pattern = append(r.Pattern, patLine{checkKind: checkRange, checkExpr: strings.TrimSpace(strings.TrimPrefix(trimmed, "%check"))})
		default:
			r.Pattern = append(r.Pattern, patLine{tokens: fieldsNoComma(trimmed)})
		}
	}
	for _, ln := range nonBlankLines(replText) {
		trimmed := strings.TrimSpace(ln)
		if trimmed == "%once" {
			r.Once = true
			continue
		}
		r.Replacement = append(r.Replacement, trimmed)
	}
	if len(r.Pattern) == 0 {
		return nil, fmt.Errorf("peephole: rule with empty pattern")
	}
	return r, nil
}

func nonBlankLines(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if strings.TrimSpace(ln) != "" {
			out = append(out, ln)
		}
	}
	return out
}

// bindings captures wildcard -> token text for one match attempt, and
// a per-match cache of %L/%M/%N fresh labels so repeated references
// within one replacement reuse the same minted label.
type bindings struct {
	wild   map[string]string
	labels map[string]int
}

// labelMinter hands out monotonically increasing fresh label numbers
// shared across an entire optimisation run.
type labelMinter struct{ next int }

func (m *labelMinter) mint() int {
	m.next++
	return m.next
}

// Run applies the ruleset to src (one assembly instruction/line per
// string) until a fixed point or MaxPasses is reached, returning the
// rewritten lines.
func (rs *Ruleset) Run(src []string) []string {
	ll := list.New()
	for _, s := range src {
		ll.PushBack(s)
	}
	lm := &labelMinter{}

	for pass := 0; pass < MaxPasses; pass++ {
		changed := false
		for e := ll.Front(); e != nil; {
			next := e.Next()
			if applied, advance := rs.tryRules(ll, e, lm); applied {
				changed = true
				next = advance
			}
			e = next
		}
		if !changed {
			break
		}
	}

	out := make([]string, 0, ll.Len())
	for e := ll.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// tryRules attempts every rule against the window starting at e,
// applying the first one that matches and has fire budget remaining.
// Returns the element to resume scanning from.
func (rs *Ruleset) tryRules(ll *list.List, e *list.Element, lm *labelMinter) (bool, *list.Element) {
	for _, r := range rs.rules {
		if r.fireCount <= 0 {
			continue
		}
		b := &bindings{wild: map[string]string{}, labels: map[string]int{}}
		end, ok := matchWindow(e, r.Pattern, b)
		if !ok {
			continue
		}
		sig := signature(b)
		if r.Once && r.fired[sig] {
			continue
		}
		seen := r.fired[sig]
		r.fired[sig] = true
		r.fireCount--

		repl, activated := expand(r.Replacement, b, lm)
		resume := spliceWindow(ll, e, end, repl)
		if !seen {
			rs.activate(activated)
		}
		return true, resume
	}
	return false, nil
}

// activate parses and appends %activate-spawned rule texts (each the
// full "pattern=replacement" text of a nested rule) to the ruleset so
// later passes can match them.
func (rs *Ruleset) activate(texts []string) {
	for _, t := range texts {
		halves := strings.SplitN(t, "=", 2)
		if len(halves) != 2 {
			continue
		}
		if r, err := parseRule(halves[0], halves[1]); err == nil {
			rs.rules = append(rs.rules, r)
		}
	}
}

// matchWindow tries to match pattern lines, starting at e, against
// the line list, consuming one list element per token-line and zero
// elements per check-line. Returns the last consumed element.
func matchWindow(e *list.Element, pattern []patLine, b *bindings) (*list.Element, bool) {
	cur := e
	var last *list.Element
	for _, pl := range pattern {
		if pl.checkKind != checkNone {
			if !evalCheck(pl, b) {
				return nil, false
			}
			continue
		}
		if cur == nil {
			return nil, false
		}
		if !matchLine(cur.Value.(string), pl.tokens, b) {
			return nil, false
		}
		last = cur
		cur = cur.Next()
	}
	if last == nil {
		return nil, false
	}
	return last, true
}

// fieldsNoComma tokenizes a pattern or instruction line the way
// assembly operand lists are written ("op dst, src"): commas are
// operand separators, not part of a token, so a pattern wildcard like
// %0 lines up with an operand regardless of whether either side wrote
// a trailing comma.
func fieldsNoComma(line string) []string {
	return strings.Fields(strings.ReplaceAll(line, ",", " "))
}

func matchLine(line string, pattern []string, b *bindings) bool {
	fields := fieldsNoComma(line)
	if len(fields) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if w, ok := wildcardName(p); ok {
			if existing, seen := b.wild[w]; seen {
				if existing != fields[i] {
					return false
				}
			} else {
				b.wild[w] = fields[i]
			}
			continue
		}
		if p != fields[i] {
			return false
		}
	}
	return true
}

func wildcardName(tok string) (string, bool) {
	if len(tok) == 2 && tok[0] == '%' && tok[1] >= '0' && tok[1] <= '9' {
		return tok[1:], true
	}
	return "", false
}

// spliceWindow removes the list elements from start through end
// inclusive and inserts repl lines in their place, returning the
// element to resume scanning from (the one preceding the splice, or
// the list front).
func spliceWindow(ll *list.List, start, end *list.Element, repl []string) *list.Element {
	before := start.Prev()
	cur := start
	for cur != nil {
		nxt := cur.Next()
		ll.Remove(cur)
		if cur == end {
			break
		}
		cur = nxt
	}
	var firstNew *list.Element
	anchor := before
	for _, s := range repl {
		if anchor == nil {
			firstNew = ll.PushFront(s)
			anchor = firstNew
		} else {
			e := ll.InsertAfter(s, anchor)
			if firstNew == nil {
				firstNew = e
			}
			anchor = e
		}
	}
	if before != nil {
		return before
	}
	return ll.Front()
}

// expand substitutes wildcards, mints %L/%M/%N fresh labels, and
// evaluates %eval(...) in each replacement line. It also extracts any
// %activate(...) payloads, returning them separately for the caller
// to feed back into the ruleset.
func expand(repl []string, b *bindings, lm *labelMinter) ([]string, []string) {
	var out []string
	var activated []string
	for _, line := range repl {
		if strings.HasPrefix(strings.TrimSpace(line), "%activate") {
			payload := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "%activate"))
			activated = append(activated, substitute(payload, b, lm))
			continue
		}
		out = append(out, substitute(line, b, lm))
	}
	return out, activated
}

func substitute(line string, b *bindings, lm *labelMinter) string {
	var sb strings.Builder
	i := 0
	for i < len(line) {
		c := line[i]
		if c != '%' || i+1 >= len(line) {
			sb.WriteByte(c)
			i++
			continue
		}
		nc := line[i+1]
		switch {
		case nc >= '0' && nc <= '9':
			sb.WriteString(b.wild[string(nc)])
			i += 2
		case nc == 'L' || nc == 'M' || nc == 'N':
			name := string(nc)
			id, ok := b.labels[name]
			if !ok {
				id = lm.mint()
				b.labels[name] = id
			}
			sb.WriteString(fmt.Sprintf("L%d", id))
			i += 2
		case strings.HasPrefix(line[i:], "%eval("):
			end := strings.IndexByte(line[i:], ')')
			if end < 0 {
				sb.WriteByte(c)
				i++
				continue
			}
			expr := line[i+len("%eval(") : i+end]
			v, err := evalRPN(expr, b)
			if err == nil {
				sb.WriteString(strconv.FormatInt(v, 10))
			}
			i += end + 1
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// signature builds a stable key from the wildcard bindings captured
// for one match, used to guard %once rules and %activate rules
// against reactivating themselves on the same input forever.
func signature(b *bindings) string {
	var sb strings.Builder
	for _, k := range []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"} {
		if v, ok := b.wild[k]; ok {
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v)
			sb.WriteByte(';')
		}
	}
	return sb.String()
}

func evalCheck(pl patLine, b *bindings) bool {
	switch pl.checkKind {
	case checkRange:
		return evalCheckRange(pl.checkExpr, b)
	case checkEval:
		return evalCheckEval(pl.checkExpr, b)
	}
	return true
}

// evalCheckRange parses "min <= %n <= max" and reports whether the
// bound wildcard's integer value falls in [min, max].
func evalCheckRange(expr string, b *bindings) bool {
	parts := strings.Split(expr, "<=")
	if len(parts) != 3 {
		return false
	}
	lo, err1 := strconv.ParseInt(strings.TrimSpace(parts[0]), 0, 64)
	mid := strings.TrimSpace(parts[1])
	hi, err2 := strconv.ParseInt(strings.TrimSpace(parts[2]), 0, 64)
	if err1 != nil || err2 != nil {
		return false
	}
	w, ok := wildcardName(mid)
	if !ok {
		return false
	}
	val, err := strconv.ParseInt(b.wild[w], 0, 64)
	if err != nil {
		return false
	}
	return lo <= val && val <= hi
}

// evalCheckEval parses "value = rpn" and reports whether the
// evaluated RPN expression equals the given integer value.
func evalCheckEval(expr string, b *bindings) bool {
	parts := strings.SplitN(expr, "=", 2)
	if len(parts) != 2 {
		return false
	}
	want, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 0, 64)
	if err != nil {
		return false
	}
	got, err := evalRPN(strings.TrimSpace(parts[1]), b)
	if err != nil {
		return false
	}
	return got == want
}

// evalRPN evaluates a reverse-Polish expression over captured
// wildcards and integer literals with the operators spec §4.9 lists:
// + - * / % & | ^ < > %% (< and > being shifts, and %% a second
// spelling of % (modulo) that the rule DSL accepts alongside the
// %-escapes).
func evalRPN(expr string, b *bindings) (int64, error) {
	toks := strings.Fields(expr)
	var stack []int64
	pop := func() (int64, error) {
		if len(stack) == 0 {
			return 0, fmt.Errorf("peephole: %%eval stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}
	for _, t := range toks {
		switch t {
		case "+", "-", "*", "/", "%", "&", "|", "^", "<", ">", "%%":
			r, err := pop()
			if err != nil {
				return 0, err
			}
			l, err := pop()
			if err != nil {
				return 0, err
			}
			var v int64
			switch t {
			case "+":
				v = l + r
			case "-":
				v = l - r
			case "*":
				v = l * r
			case "/":
				if r == 0 {
					return 0, fmt.Errorf("peephole: %%eval division by zero")
				}
				v = l / r
			case "%", "%%":
				if r == 0 {
					return 0, fmt.Errorf("peephole: %%eval modulo by zero")
				}
				v = l % r
			case "&":
				v = l & r
			case "|":
				v = l | r
			case "^":
				v = l ^ r
			case "<":
				v = l << uint(r)
			case ">":
				v = l >> uint(r)
			}
			stack = append(stack, v)
		default:
			if w, ok := wildcardName(t); ok {
				v, err := strconv.ParseInt(b.wild[w], 0, 64)
				if err != nil {
					return 0, fmt.Errorf("peephole: %%eval wildcard %%%s is not an integer: %v", w, err)
				}
				stack = append(stack, v)
				continue
			}
			v, err := strconv.ParseInt(t, 0, 64)
			if err != nil {
				return 0, fmt.Errorf("peephole: %%eval bad token %q", t)
			}
			stack = append(stack, v)
		}
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("peephole: %%eval left %d values on stack", len(stack))
	}
	return stack[0], nil
}
