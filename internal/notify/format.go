// Package notify renders daily digests and delivers them to Slack.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/TobiSchelling/PaperDigest/internal/database"
	"github.com/TobiSchelling/PaperDigest/internal/rank"
)

// DefaultChunkSize keeps each Slack message well below the API text limit.
const DefaultChunkSize = 3500

// Stats is the statistics block attached to every digest.
type Stats struct {
	Today       database.DailyStats
	Rollup      *database.StatsAggregate
	TopKeywords int
}

// Digest is one day's message.
type Digest struct {
	Date   string // YYYY-MM-DD
	Papers []rank.Candidate
	Stats  Stats
}

// StatsOnly reports whether the digest carries no papers.
func (d Digest) StatsOnly() bool { return len(d.Papers) == 0 }

// Title is the digest headline.
func (d Digest) Title() string {
	return "Swift & iOS Paper Digest - " + database.FormatDateDisplay(d.Date)
}

type style struct {
	escape func(string) string
	bold   func(string) string
	italic func(string) string
	code   func(string) string
	link   func(url, text string) string
	bullet string
	rule   string
}

// slackEscaper escapes the characters Slack reserves for control sequences.
var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var slackStyle = style{
	escape: slackEscaper.Replace,
	bold:   func(s string) string { return "*" + s + "*" },
	italic: func(s string) string { return "_" + s + "_" },
	code:   func(s string) string { return "`" + s + "`" },
	link:   func(url, text string) string { return "<" + url + "|" + text + ">" },
	bullet: "•",
	rule:   "───────────",
}

var markdownStyle = style{
	escape: func(s string) string { return s },
	bold:   func(s string) string { return "**" + s + "**" },
	italic: func(s string) string { return "_" + s + "_" },
	code:   func(s string) string { return "`" + s + "`" },
	link:   func(url, text string) string { return "[" + text + "](" + url + ")" },
	bullet: "-",
	rule:   "---",
}

// Markdown renders the digest as a Markdown document for the archive.
func (d Digest) Markdown() string {
	sections := d.sections(markdownStyle)
	sections[0] = "# " + d.Title() + "\n\n" + strings.TrimPrefix(sections[0], markdownStyle.bold(d.Title())+"\n")
	return strings.Join(sections, "\n\n"+markdownStyle.rule+"\n\n") + "\n"
}

// SlackMessages renders the digest in Slack mrkdwn, split on section
// boundaries into messages of at most limit characters.
func (d Digest) SlackMessages(limit int) []string {
	return Split(d.sections(slackStyle), limit)
}

func (d Digest) sections(st style) []string {
	var sections []string

	header := st.bold(st.escape(d.Title())) + "\n"
	if d.StatsOnly() {
		header += "No new Swift/iOS papers passed today's filter. Statistics below."
	} else {
		header += fmt.Sprintf("Today's %d Swift/iOS paper%s from arXiv.", len(d.Papers), plural(len(d.Papers)))
	}
	sections = append(sections, header)

	for i, c := range d.Papers {
		sections = append(sections, paperSection(st, i+1, c))
	}
	return append(sections, d.statsSection(st))
}

func paperSection(st style, n int, c rank.Candidate) string {
	p, a := c.Paper, c.Analysis
	var b strings.Builder

	marker := "⭐"
	if a.Score >= 8 {
		marker = "🔥"
	}
	fmt.Fprintf(&b, "%s %s\n", marker, st.bold(fmt.Sprintf("%d. %s", n, st.escape(p.Title))))
	if len(p.Authors) > 0 {
		b.WriteString(st.italic(st.escape(authorLine(p.Authors))) + "\n")
	}
	b.WriteString("> " + st.escape(a.Summary) + "\n")
	fmt.Fprintf(&b, "%s %d/10 (model %d, keywords %d)  %s %s\n",
		st.bold("Score:"), a.Score, a.ModelScore, a.KeywordBonus, st.bold("Category:"), st.escape(a.Category))

	if len(a.Keywords) > 0 {
		tags := make([]string, 0, 6)
		for i, kw := range a.Keywords {
			if i == 6 {
				break
			}
			tags = append(tags, st.code(st.escape(kw.Keyword)))
		}
		b.WriteString(st.bold("Keywords:") + " " + strings.Join(tags, " ") + "\n")
	}

	if len(a.KeyPoints) > 0 {
		b.WriteString(st.bold("Key points:") + "\n")
		for _, kp := range a.KeyPoints {
			b.WriteString(st.bullet + " " + st.escape(kp) + "\n")
		}
	}
	if a.TechnicalSummary != "" {
		b.WriteString(st.bold("Technical:") + " " + st.escape(a.TechnicalSummary) + "\n")
	}
	if a.BusinessImpact != "" {
		b.WriteString(st.bold("Impact:") + " " + st.escape(a.BusinessImpact) + "\n")
	}

	links := []string{st.link(p.URL, "arXiv")}
	if p.PDFURL != "" {
		links = append(links, st.link(p.PDFURL, "PDF"))
	}
	line := strings.Join(links, " | ")
	if !p.Published.IsZero() {
		line += " | published " + database.DateOf(p.Published)
	}
	b.WriteString(line)
	return b.String()
}

func (d Digest) statsSection(st style) string {
	s := d.Stats
	var b strings.Builder

	b.WriteString(st.bold("Today's statistics") + "\n")
	fmt.Fprintf(&b, "Seen %d %s analyzed %d %s passed %d %s delivered %d\n",
		s.Today.Seen, st.bullet, s.Today.Analyzed, st.bullet, s.Today.Passed, st.bullet, s.Today.Delivered)

	if len(s.Today.Categories) > 0 {
		b.WriteString(st.bold("Categories:") + "\n")
		for _, c := range sortedCategories(s.Today.Categories) {
			fmt.Fprintf(&b, "%s %s: %d\n", st.bullet, st.escape(c.Keyword), c.Count)
		}
	}

	k := s.TopKeywords
	if k <= 0 {
		k = 5
	}
	if top := topKeywords(st, s.Today.Keywords, k); top != "" {
		b.WriteString(st.bold("Top keywords:") + " " + top + "\n")
	}

	if r := s.Rollup; r != nil {
		fmt.Fprintf(&b, "%s %d run day%s: seen %d, analyzed %d, passed %d, delivered %d",
			st.bold(fmt.Sprintf("Since %s:", r.Since)), r.Days, plural(r.Days), r.Seen, r.Analyzed, r.Passed, r.Delivered)
		if top := topKeywords(st, r.Keywords, k); top != "" {
			b.WriteString("\n" + st.bold("Trending:") + " " + top)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// sortedCategories orders a category histogram by count, then by the
// fixed category order.
func sortedCategories(hist map[string]int) []database.KeywordCount {
	order := make(map[string]int, len(database.Categories))
	for i, c := range database.Categories {
		order[c] = i
	}
	out := make([]database.KeywordCount, 0, len(hist))
	for c, n := range hist {
		if n > 0 {
			out = append(out, database.KeywordCount{Keyword: c, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		oi, iok := order[out[i].Keyword]
		oj, jok := order[out[j].Keyword]
		if iok && jok {
			return oi < oj
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out
}

func topKeywords(st style, freq map[string]int, k int) string {
	sorted := database.SortKeywords(freq)
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	parts := make([]string, len(sorted))
	for i, kc := range sorted {
		parts[i] = fmt.Sprintf("%s (%d)", st.escape(kc.Keyword), kc.Count)
	}
	return strings.Join(parts, ", ")
}

func authorLine(authors []string) string {
	if len(authors) <= 3 {
		return strings.Join(authors, ", ")
	}
	return strings.Join(authors[:3], ", ") + fmt.Sprintf(" +%d more", len(authors)-3)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// Split packs sections into messages of at most limit runes, never
// splitting a section unless it alone exceeds the limit, in which case it
// is cut at line breaks.
func Split(sections []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultChunkSize
	}
	const sep = "\n\n"

	var (
		msgs    []string
		current string
	)
	flush := func() {
		if current != "" {
			msgs = append(msgs, current)
			current = ""
		}
	}

	for _, s := range sections {
		for _, piece := range cutSection(s, limit) {
			if current == "" {
				current = piece
				continue
			}
			if utf8.RuneCountInString(current)+len(sep)+utf8.RuneCountInString(piece) <= limit {
				current += sep + piece
				continue
			}
			flush()
			current = piece
		}
	}
	flush()
	return msgs
}

func cutSection(s string, limit int) []string {
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}

	var (
		out  []string
		buf  strings.Builder
		size int
	)
	for _, line := range strings.Split(s, "\n") {
		for utf8.RuneCountInString(line) > limit {
			if size > 0 {
				out = append(out, buf.String())
				buf.Reset()
				size = 0
			}
			runes := []rune(line)
			out = append(out, string(runes[:limit]))
			line = string(runes[limit:])
		}
		n := utf8.RuneCountInString(line)
		if size > 0 && size+1+n > limit {
			out = append(out, buf.String())
			buf.Reset()
			size = 0
		}
		if size > 0 {
			buf.WriteByte('\n')
			size++
		}
		buf.WriteString(line)
		size += n
	}
	if size > 0 {
		out = append(out, buf.String())
	}
	return out
}
