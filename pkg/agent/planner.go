package agent

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PlannerConfig configures constraint extraction.
type PlannerConfig struct {
	// Categories are recognized category names, matched case-insensitively.
	Categories []string
	// KPIs maps a KPI name to the aliases that mention it.
	KPIs map[string][]string
}

// DefaultPlannerConfig returns categories and KPIs for the Northwind sample database.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Categories: []string{
			"Beverages", "Condiments", "Confections", "Dairy Products",
			"Grains/Cereals", "Meat/Poultry", "Produce", "Seafood",
		},
		KPIs: map[string][]string{
			"Average Order Value": {"average order value", "aov"},
			"Gross Margin":        {"gross margin", "gm"},
			"Revenue":             {"revenue", "sales"},
		},
	}
}

// Planner extracts structured constraints from a question and retrieved chunks.
type Planner struct {
	cfg      PlannerConfig
	kpiNames []string
}

func NewPlanner(cfg PlannerConfig) *Planner {
	names := make([]string, 0, len(cfg.KPIs))
	for name := range cfg.KPIs {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Planner{cfg: cfg, kpiNames: names}
}

var (
	isoRangePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*(?:to|through|until|and|-|–)\s*(\d{4}-\d{2}-\d{2})`)
	isoDatePattern  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	monthYear       = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+((?:19|20)\d{2})\b`)
	yearOnly        = regexp.MustCompile(`(?i)\b(?:in|during|for|of|year)\s+((?:19|20)\d{2})\b`)
	thresholdWords  = regexp.MustCompile(`(?i)\b(more than|greater than|over|above|at least|less than|fewer than|under|below|at most)\s+\$?(\d+(?:\.\d+)?)`)
	thresholdOps    = regexp.MustCompile(`(>=|<=|>|<)\s*\$?(\d+(?:\.\d+)?)`)
	topN            = regexp.MustCompile(`(?i)\btop\s+(\d+)\b`)
)

var thresholdWordOps = map[string]string{
	"more than": ">", "greater than": ">", "over": ">", "above": ">",
	"at least": ">=",
	"less than": "<", "fewer than": "<", "under": "<", "below": "<",
	"at most": "<=",
}

// Extract returns the constraints found in the question and chunks. It never
// fails; an empty result means nothing usable was found. Output order is
// deterministic: date ranges, categories, KPIs, then thresholds.
func (p *Planner) Extract(q Question, chunks []RetrievedChunk) []Constraint {
	type source struct {
		id   string
		text string
	}
	sources := []source{{id: "question", text: q.Text}}
	for _, c := range chunks {
		sources = append(sources, source{id: c.ID(), text: c.Text})
	}

	var dates, categories, kpis, thresholds []Constraint
	seen := make(map[string]bool)
	add := func(dst *[]Constraint, c Constraint) {
		key := string(c.Kind) + "|" + strings.ToLower(c.Value)
		if seen[key] {
			return
		}
		seen[key] = true
		*dst = append(*dst, c)
	}

	for _, src := range sources {
		for _, c := range extractDateRanges(src.text) {
			c.Source = src.id
			add(&dates, c)
		}
	}

	// Categories and thresholds come from the question; chunk text mentions
	// every category in passing and would over-constrain the query.
	lowerQ := strings.ToLower(q.Text)
	for _, cat := range p.cfg.Categories {
		if containsWord(lowerQ, strings.ToLower(cat)) {
			add(&categories, Constraint{Kind: ConstraintCategory, Value: cat, Source: "question"})
		}
	}
	for _, c := range extractThresholds(q.Text) {
		c.Source = "question"
		add(&thresholds, c)
	}

	for _, name := range p.kpiNames {
		if !p.mentionsKPI(lowerQ, name) {
			continue
		}
		c := Constraint{Kind: ConstraintKPI, Value: name, Source: "question"}
		for _, chunk := range chunks {
			if line := p.definitionLine(chunk.Text, name); line != "" {
				c.Detail = line
				c.Source = chunk.ID()
				break
			}
		}
		add(&kpis, c)
	}

	out := make([]Constraint, 0, len(dates)+len(categories)+len(kpis)+len(thresholds))
	out = append(out, dates...)
	out = append(out, categories...)
	out = append(out, kpis...)
	out = append(out, thresholds...)
	return out
}

func (p *Planner) mentionsKPI(lowerText, name string) bool {
	if containsWord(lowerText, strings.ToLower(name)) {
		return true
	}
	for _, alias := range p.cfg.KPIs[name] {
		if containsWord(lowerText, strings.ToLower(alias)) {
			return true
		}
	}
	return false
}

// definitionLine returns the first line of text that defines the KPI.
func (p *Planner) definitionLine(text, name string) string {
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		if !p.mentionsKPI(lower, name) {
			continue
		}
		if strings.Contains(line, "=") || strings.Contains(lower, "defined as") || strings.Contains(lower, "definition") {
			return strings.TrimSpace(strings.TrimLeft(line, "-*# "))
		}
	}
	return ""
}

func extractDateRanges(text string) []Constraint {
	var out []Constraint
	covered := make(map[string]bool)

	for _, m := range isoRangePattern.FindAllStringSubmatch(text, -1) {
		start, end := m[1], m[2]
		if !validDate(start) || !validDate(end) {
			continue
		}
		if end < start {
			start, end = end, start
		}
		covered[m[1]] = true
		covered[m[2]] = true
		out = append(out, dateRange(start, end))
	}
	for _, d := range isoDatePattern.FindAllString(text, -1) {
		if covered[d] || !validDate(d) {
			continue
		}
		covered[d] = true
		out = append(out, dateRange(d, d))
	}
	for _, m := range monthYear.FindAllStringSubmatch(text, -1) {
		month, err := time.Parse("January", titleCase(m[1]))
		if err != nil {
			continue
		}
		year, _ := strconv.Atoi(m[2])
		first := time.Date(year, month.Month(), 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1)
		out = append(out, dateRange(first.Format(time.DateOnly), last.Format(time.DateOnly)))
	}
	for _, m := range yearOnly.FindAllStringSubmatch(text, -1) {
		out = append(out, dateRange(m[1]+"-01-01", m[1]+"-12-31"))
	}
	return out
}

func dateRange(start, end string) Constraint {
	return Constraint{
		Kind:  ConstraintDateRange,
		Value: fmt.Sprintf("%s..%s", start, end),
		Start: start,
		End:   end,
	}
}

func validDate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func extractThresholds(text string) []Constraint {
	var out []Constraint
	for _, m := range thresholdWords.FindAllStringSubmatch(text, -1) {
		op := thresholdWordOps[strings.ToLower(m[1])]
		out = append(out, threshold(op, m[2]))
	}
	for _, m := range thresholdOps.FindAllStringSubmatch(text, -1) {
		out = append(out, threshold(m[1], m[2]))
	}
	for _, m := range topN.FindAllStringSubmatch(text, -1) {
		out = append(out, threshold("top", m[1]))
	}
	return out
}

func threshold(op, num string) Constraint {
	n, _ := strconv.ParseFloat(num, 64)
	return Constraint{
		Kind:   ConstraintThreshold,
		Value:  op + " " + num,
		Op:     op,
		Number: n,
	}
}

// containsWord reports whether needle occurs in haystack on word boundaries.
func containsWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(haystack[i:], needle)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(needle)
		if (start == 0 || !isWordByte(haystack[start-1])) && (end == len(haystack) || !isWordByte(haystack[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// formatConstraints renders constraints for a prompt.
func formatConstraints(cs []Constraint) string {
	if len(cs) == 0 {
		return "None."
	}
	var sb strings.Builder
	for _, c := range cs {
		switch c.Kind {
		case ConstraintDateRange:
			fmt.Fprintf(&sb, "- date range: %s to %s (inclusive)", c.Start, c.End)
		case ConstraintKPI:
			fmt.Fprintf(&sb, "- KPI: %s", c.Value)
			if c.Detail != "" {
				fmt.Fprintf(&sb, " (definition: %s)", c.Detail)
			}
		case ConstraintThreshold:
			if c.Op == "top" {
				fmt.Fprintf(&sb, "- limit: top %s", strconv.FormatFloat(c.Number, 'f', -1, 64))
			} else {
				fmt.Fprintf(&sb, "- threshold: %s", c.Value)
			}
		default:
			fmt.Fprintf(&sb, "- %s: %s", c.Kind, c.Value)
		}
		if c.Source != "" && c.Source != "question" {
			fmt.Fprintf(&sb, " [from %s]", c.Source)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
