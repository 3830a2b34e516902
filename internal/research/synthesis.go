package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/delver/utils"
)

// Synthesizer turns the compressed corpus into the final markdown
// report, section by section. Every model call that fails degrades to
// omitting that section; a run never dies during write-up.
type Synthesizer struct {
	llm    CompletionProvider
	logger *log.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(llm CompletionProvider, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	return &Synthesizer{llm: llm, logger: logger}
}

// Report assembles the full document: title block, abstract,
// introduction, one section per corpus topic, conclusion and a
// bibliography of the fetched sources.
func (s *Synthesizer) Report(ctx context.Context, state *State, corpus CompressedCorpus) string {
	var b strings.Builder

	main, sub := s.titleBlock(ctx, state)
	b.WriteString("# " + main + "\n\n")
	if sub != "" {
		b.WriteString("*" + sub + "*\n\n")
	}

	if abstract := s.prose(ctx, state, corpus, "abstract",
		"Write a one-paragraph abstract summarizing the research findings."); abstract != "" {
		b.WriteString("## Abstract\n\n" + abstract + "\n\n")
	}

	if intro := s.prose(ctx, state, corpus, "introduction",
		"Write a short introduction framing the research question and the scope of the investigation."); intro != "" {
		b.WriteString("## Introduction\n\n" + intro + "\n\n")
	}

	for _, section := range corpus.Sections {
		body := s.sectionBody(ctx, state, section)
		if body == "" {
			continue
		}
		b.WriteString("## " + section.TopicTitle + "\n\n" + body + "\n\n")
	}

	if concl := s.prose(ctx, state, corpus, "conclusion",
		"Write a conclusion synthesizing the findings across all topics, noting open questions."); concl != "" {
		b.WriteString("## Conclusion\n\n" + concl + "\n\n")
	}

	if bib := bibliography(state); bib != "" {
		b.WriteString("## Sources\n\n" + bib + "\n")
	}

	return b.String()
}

func (s *Synthesizer) titleBlock(ctx context.Context, state *State) (string, string) {
	system := `You write research report titles.
Respond ONLY with JSON: {"main_title": "...", "subtitle": "..."}`
	resp, err := s.llm.Complete(ctx, system, "Research query: "+state.UserQuery)
	if err == nil {
		if main, sub, perr := ParseTitleBlock(resp); perr == nil && main != "" {
			return main, sub
		}
	}
	s.logger.Printf("title generation failed, using query as title")
	return state.UserQuery, ""
}

// prose generates one free-standing prose block. Empty string on any
// failure; the caller omits the section.
func (s *Synthesizer) prose(ctx context.Context, state *State, corpus CompressedCorpus, name, instruction string) string {
	var titles []string
	for _, sec := range corpus.Sections {
		titles = append(titles, sec.TopicTitle)
	}
	system := fmt.Sprintf(`You are writing the %s of a research report on %q.
Covered topics: %s.
%s Respond with the prose only, no headings.`, name, state.UserQuery, strings.Join(titles, "; "), instruction)
	resp, err := s.llm.Complete(ctx, system, instruction)
	if err != nil {
		s.logger.Printf("%s generation skipped: %v", name, err)
		return ""
	}
	return strings.TrimSpace(resp)
}

// sectionBody writes one topic section from its retained evidence.
func (s *Synthesizer) sectionBody(ctx context.Context, state *State, section CorpusSection) string {
	system := fmt.Sprintf(`You are writing one section of a research report on %q.
Section topic: %q.
Write the section from the evidence excerpts provided, in flowing prose. Do not invent facts beyond the evidence. Respond with the prose only, no headings.`, state.UserQuery, section.TopicTitle)
	user := "Evidence:\n\n" + strings.Join(section.Texts, "\n\n---\n\n")
	resp, err := s.llm.Complete(ctx, system, user)
	if err != nil {
		s.logger.Printf("section %q skipped: %v", section.TopicTitle, err)
		return ""
	}
	return strings.TrimSpace(resp)
}

// bibliography lists each distinct fetched source once, in fetch order.
func bibliography(state *State) string {
	seen := make(map[string]struct{})
	var b strings.Builder
	n := 0
	for _, r := range state.Results {
		if r.SourceURL == "" {
			continue
		}
		if _, ok := seen[r.SourceURL]; ok {
			continue
		}
		seen[r.SourceURL] = struct{}{}
		n++
		title := r.Title
		if title == "" {
			title = utils.Host(r.SourceURL)
		}
		fmt.Fprintf(&b, "%d. [%s](%s)\n", n, title, r.SourceURL)
	}
	return b.String()
}
