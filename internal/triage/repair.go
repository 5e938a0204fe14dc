package triage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultRepairConfidence is the primary confidence used when the model
// payload carries none.
const DefaultRepairConfidence = 0.5

const (
	lastResortClinic = "Family Medicine"
	repairedReason   = "model output did not name a usable clinic"
)

// Defaults supplies the values Repair and Validate fall back to.
type Defaults struct {
	Clinic       string
	Confidence   float64
	ModelVersion string
	Strategy     Strategy
}

func (d Defaults) withFallbacks() Defaults {
	if strings.TrimSpace(d.Clinic) == "" {
		d.Clinic = lastResortClinic
	}
	d.Confidence = clamp01(d.Confidence)
	if !d.Strategy.Valid() {
		d.Strategy = StrategyLLM
	}
	return d
}

// RepairReport describes what Repair had to do to a payload.
type RepairReport struct {
	// Parsed is false when no JSON object could be recovered at all.
	Parsed bool

	// Usable is true when the payload named a primary clinic.
	Usable bool

	// Fixes lists the repairs applied, in order.
	Fixes []string
}

// Repaired reports whether the payload needed any fix.
func (r RepairReport) Repaired() bool { return len(r.Fixes) > 0 }

func (r *RepairReport) fix(format string, args ...any) {
	r.Fixes = append(r.Fixes, fmt.Sprintf(format, args...))
}

// Repair turns untrusted model text into a complete Result. It never fails:
// text that cannot be salvaged yields a Result built from d. Any repair sets
// the strategy to StrategyLLMRepaired when it would otherwise be StrategyLLM.
// Repairing the JSON encoding of a valid Result returns that Result unchanged.
func Repair(text string, d Defaults) (Result, RepairReport) {
	d = d.withFallbacks()
	var rep RepairReport

	body, trimmed := extractObject(text)
	if trimmed {
		rep.fix("trimmed text around object")
	}

	c := newCleaner()
	full, safe := c.clean(body)
	rep.Fixes = append(rep.Fixes, c.fixes...)

	var root gjson.Result
	for i, candidate := range []string{full, safe} {
		if candidate == "" || !gjson.Valid(candidate) {
			continue
		}
		parsed := gjson.Parse(candidate)
		if !parsed.IsObject() {
			continue
		}
		if i > 0 {
			rep.fix("dropped incomplete trailing member")
		}
		root, rep.Parsed = parsed, true
		break
	}
	if !rep.Parsed {
		rep.fix("payload is not a JSON object")
	}

	res := project(root, d, &rep)
	if rep.Repaired() && res.Strategy == StrategyLLM {
		res.Strategy = StrategyLLMRepaired
	}
	return res, rep
}

// extractObject slices text from the first '{' to the last '}'. With an
// opening brace but no closing one the tail is kept for truncation repair.
func extractObject(text string) (body string, trimmed bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text, false
	}
	end := strings.LastIndexByte(text, '}')
	if end < start {
		return text[start:], strings.TrimSpace(text[:start]) != ""
	}
	return text[start : end+1], strings.TrimSpace(text[:start]) != "" || strings.TrimSpace(text[end+1:]) != ""
}

// cleaner is a single-pass tokenizer that rewrites near-JSON into JSON.
// Outside strings it drops code fences and comments, collapses whitespace,
// removes trailing commas and balances brackets; inside strings it escapes
// raw control characters. It remembers the last element boundary so a
// truncated tail can be cut off if closing it is not enough.
type cleaner struct {
	out      []byte
	stack    []byte // pending closers
	inString bool
	escaped  bool

	safeLen   int
	safeStack []byte

	fixes []string
	seen  map[string]bool
}

func newCleaner() *cleaner {
	return &cleaner{seen: make(map[string]bool)}
}

func (c *cleaner) note(fix string) {
	if c.seen[fix] {
		return
	}
	c.seen[fix] = true
	c.fixes = append(c.fixes, fix)
}

func (c *cleaner) clean(s string) (full, safe string) {
	c.out = make([]byte, 0, len(s)+8)

	for i := 0; i < len(s); {
		ch := s[i]
		if c.inString {
			c.stringByte(ch)
			i++
			continue
		}

		switch {
		case strings.HasPrefix(s[i:], "```"):
			i += 3
			for i < len(s) && isTagByte(s[i]) {
				i++
			}
			c.space()
			c.note("stripped code fence")
		case strings.HasPrefix(s[i:], "//"):
			for i < len(s) && s[i] != '\n' {
				i++
			}
			c.space()
			c.note("stripped comment")
		case strings.HasPrefix(s[i:], "/*"):
			if end := strings.Index(s[i+2:], "*/"); end >= 0 {
				i += 2 + end + 2
			} else {
				i = len(s)
			}
			c.space()
			c.note("stripped comment")
		case ch == '"':
			c.out = append(c.out, ch)
			c.inString = true
			i++
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			c.space()
			i++
		case ch == '{' || ch == '[':
			c.out = append(c.out, ch)
			if ch == '{' {
				c.stack = append(c.stack, '}')
			} else {
				c.stack = append(c.stack, ']')
			}
			c.markSafe()
			i++
		case ch == '}' || ch == ']':
			c.closeBracket(ch)
			i++
		case ch == ',':
			c.trimSpace()
			c.markSafe()
			c.out = append(c.out, ch)
			i++
		default:
			c.out = append(c.out, ch)
			i++
		}
	}

	if c.inString {
		if c.escaped {
			c.out = c.out[:len(c.out)-1]
			c.escaped = false
		}
		c.out = append(c.out, '"')
		c.inString = false
		c.note("closed unterminated string")
	}
	c.dropTrailingComma()
	if len(c.stack) > 0 {
		c.note("closed unterminated bracket")
	}

	full = string(closeAll(c.out, c.stack))
	if n := min(c.safeLen, len(c.out)); n > 0 {
		safe = string(closeAll(c.out[:n], c.safeStack))
	}
	return full, safe
}

func (c *cleaner) stringByte(ch byte) {
	switch {
	case c.escaped:
		c.out = append(c.out, ch)
		c.escaped = false
	case ch == '\\':
		c.out = append(c.out, ch)
		c.escaped = true
	case ch == '"':
		c.out = append(c.out, ch)
		c.inString = false
	case ch == '\n':
		c.out = append(c.out, '\\', 'n')
		c.note("escaped control character in string")
	case ch == '\r':
		c.out = append(c.out, '\\', 'r')
		c.note("escaped control character in string")
	case ch == '\t':
		c.out = append(c.out, '\\', 't')
		c.note("escaped control character in string")
	case ch < 0x20:
		c.out = append(c.out, fmt.Sprintf(`\u%04x`, ch)...)
		c.note("escaped control character in string")
	default:
		c.out = append(c.out, ch)
	}
}

func (c *cleaner) space() {
	if n := len(c.out); n > 0 && c.out[n-1] != ' ' {
		c.out = append(c.out, ' ')
	}
}

func (c *cleaner) trimSpace() {
	for n := len(c.out); n > 0 && c.out[n-1] == ' '; n = len(c.out) {
		c.out = c.out[:n-1]
	}
}

func (c *cleaner) dropTrailingComma() {
	c.trimSpace()
	if n := len(c.out); n > 0 && c.out[n-1] == ',' {
		c.out = c.out[:n-1]
		c.trimSpace()
		c.note("removed trailing comma")
	}
}

func (c *cleaner) markSafe() {
	c.safeLen = len(c.out)
	c.safeStack = append(c.safeStack[:0], c.stack...)
}

func (c *cleaner) closeBracket(ch byte) {
	c.dropTrailingComma()
	if strings.IndexByte(string(c.stack), ch) < 0 {
		c.note("dropped unbalanced bracket")
		return
	}
	for c.stack[len(c.stack)-1] != ch {
		c.out = append(c.out, c.pop())
		c.note("closed unterminated bracket")
	}
	c.out = append(c.out, c.pop())
}

func (c *cleaner) pop() byte {
	top := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return top
}

func closeAll(out, stack []byte) []byte {
	res := make([]byte, len(out), len(out)+len(stack))
	copy(res, out)
	for i := len(stack) - 1; i >= 0; i-- {
		res = append(res, stack[i])
	}
	return res
}

func isTagByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// project builds a Result from the parsed tree, one validator per field.
func project(root gjson.Result, d Defaults, rep *RepairReport) Result {
	res := Result{
		PrimaryClinic:    projectPrimary(root.Get("primary_clinic"), d, rep),
		SecondaryClinics: projectSecondaries(root.Get("secondary_clinics"), rep),
		Strategy:         d.Strategy,
		ModelVersion:     d.ModelVersion,
		PriorList:        []string{},
	}

	if v := root.Get("strategy"); present(v) {
		if s := Strategy(v.String()); v.Type == gjson.String && s.Valid() {
			res.Strategy = s
		} else {
			rep.fix("strategy is not a known value")
		}
	}

	if v := root.Get("model_version"); present(v) {
		if v.Type == gjson.String {
			res.ModelVersion = v.String()
		} else {
			rep.fix("model_version has the wrong type")
		}
	}

	if v := root.Get("latency_ms"); present(v) {
		switch {
		case v.Type != gjson.Number:
			rep.fix("latency_ms has the wrong type")
		case v.Int() < 0:
			rep.fix("latency_ms is negative")
		default:
			res.LatencyMS = v.Int()
		}
	}

	if v := root.Get("requires_prior"); present(v) {
		switch v.Type {
		case gjson.True:
			res.RequiresPrior = true
		case gjson.False:
		default:
			rep.fix("requires_prior has the wrong type")
		}
	}

	if v := root.Get("prior_list"); present(v) {
		if v.IsArray() {
			v.ForEach(func(_, el gjson.Result) bool {
				if el.Type == gjson.String && strings.TrimSpace(el.String()) != "" {
					res.PriorList = append(res.PriorList, el.String())
				} else {
					rep.fix("dropped invalid prior_list entry")
				}
				return true
			})
		} else {
			rep.fix("prior_list has the wrong type")
		}
	}

	if v := root.Get("gate_note"); present(v) {
		if v.Type == gjson.String {
			res.GateNote = v.String()
		} else {
			rep.fix("gate_note has the wrong type")
		}
	}

	if res.RequiresPrior && len(res.PriorList) == 0 {
		res.RequiresPrior = false
		rep.fix("requires_prior set without a prior_list")
	}

	return res
}

func present(v gjson.Result) bool { return v.Exists() && v.Type != gjson.Null }

func projectPrimary(v gjson.Result, d Defaults, rep *RepairReport) Recommendation {
	rec := Recommendation{Name: d.Clinic, Reason: repairedReason, Confidence: d.Confidence}

	switch {
	case !present(v):
		rep.fix("primary_clinic missing")
		return rec
	case v.Type == gjson.String:
		rep.fix("primary_clinic given as a bare string")
		if name := strings.TrimSpace(v.String()); name != "" {
			rec.Name, rec.Reason = name, ""
			rep.Usable = true
		}
		return rec
	case !v.IsObject():
		rep.fix("primary_clinic has the wrong type")
		return rec
	}

	name := v.Get("name")
	if name.Type != gjson.String || strings.TrimSpace(name.String()) == "" {
		rep.fix("primary_clinic.name missing")
		return rec
	}
	rep.Usable = true
	rec.Name = name.String()
	rec.Reason = reasonField(v.Get("reason"), "primary_clinic.reason", rep)
	rec.Confidence = confidenceField(v.Get("confidence"), d.Confidence, "primary_clinic.confidence", rep)
	return rec
}

func projectSecondaries(v gjson.Result, rep *RepairReport) []Recommendation {
	out := []Recommendation{}

	switch {
	case !present(v):
		return out
	case v.IsObject():
		rep.fix("secondary_clinics given as a single object")
		if r, ok := projectSecondary(v, rep); ok {
			out = append(out, r)
		}
		return out
	case !v.IsArray():
		rep.fix("secondary_clinics has the wrong type")
		return out
	}

	v.ForEach(func(_, el gjson.Result) bool {
		if r, ok := projectSecondary(el, rep); ok {
			out = append(out, r)
		} else {
			rep.fix("dropped invalid secondary clinic")
		}
		return true
	})
	return out
}

func projectSecondary(v gjson.Result, rep *RepairReport) (Recommendation, bool) {
	if v.Type == gjson.String {
		name := strings.TrimSpace(v.String())
		if name == "" {
			return Recommendation{}, false
		}
		rep.fix("secondary clinic given as a bare string")
		return Recommendation{Name: name}, true
	}
	if !v.IsObject() {
		return Recommendation{}, false
	}

	name := v.Get("name")
	if name.Type != gjson.String || strings.TrimSpace(name.String()) == "" {
		return Recommendation{}, false
	}
	return Recommendation{
		Name:       name.String(),
		Reason:     reasonField(v.Get("reason"), "secondary_clinics.reason", rep),
		Confidence: confidenceField(v.Get("confidence"), 0, "secondary_clinics.confidence", rep),
	}, true
}

func reasonField(v gjson.Result, field string, rep *RepairReport) string {
	if !present(v) {
		return ""
	}
	if v.Type != gjson.String {
		rep.fix("%s has the wrong type", field)
		return ""
	}
	return v.String()
}

// confidenceField accepts a number in [0,1]. Percentages in (1,100] are
// scaled, numeric strings are parsed, anything else falls back to def.
func confidenceField(v gjson.Result, def float64, field string, rep *RepairReport) float64 {
	var f float64
	switch {
	case !present(v):
		rep.fix("%s missing", field)
		return def
	case v.Type == gjson.Number:
		f = v.Float()
	case v.Type == gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v.String()), "%")), 64)
		if err != nil {
			rep.fix("%s is not a number", field)
			return def
		}
		rep.fix("%s given as a string", field)
		f = parsed
	default:
		rep.fix("%s has the wrong type", field)
		return def
	}

	if f > 1 && f <= 100 {
		rep.fix("%s given as a percentage", field)
		f /= 100
	}
	if c := clamp01(f); c != f {
		rep.fix("%s out of range", field)
		return c
	}
	return f
}

// Validate re-checks a typed Result: names present, confidences clamped,
// slices non-nil, a known strategy, non-negative latency and the gate
// invariant. A Result that already satisfies all of these is returned as is.
func Validate(res Result, d Defaults) Result {
	d = d.withFallbacks()
	out := res

	if strings.TrimSpace(out.PrimaryClinic.Name) == "" {
		out.PrimaryClinic.Name = d.Clinic
	}
	out.PrimaryClinic.Confidence = clamp01(out.PrimaryClinic.Confidence)

	out.SecondaryClinics = make([]Recommendation, 0, len(res.SecondaryClinics))
	for _, s := range res.SecondaryClinics {
		if strings.TrimSpace(s.Name) == "" {
			continue
		}
		s.Confidence = clamp01(s.Confidence)
		out.SecondaryClinics = append(out.SecondaryClinics, s)
	}

	if !out.Strategy.Valid() {
		out.Strategy = d.Strategy
	}
	if out.LatencyMS < 0 {
		out.LatencyMS = 0
	}

	out.PriorList = make([]string, 0, len(res.PriorList))
	for _, p := range res.PriorList {
		if strings.TrimSpace(p) != "" {
			out.PriorList = append(out.PriorList, p)
		}
	}
	if out.RequiresPrior && len(out.PriorList) == 0 {
		out.RequiresPrior = false
	}

	return out
}
