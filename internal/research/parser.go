package research

import (
	"encoding/json"
	"errors"
	"strings"
)

// ExtractJSON pulls the first balanced JSON object out of free-form
// model output. Models wrap JSON in prose and code fences often enough
// that trusting the whole response is not an option.
func ExtractJSON(response string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range response {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return response[start : i+1], nil
				}
			}
		}
	}
	return "", errors.New("no balanced JSON object found")
}

// ParseQueryList decodes {"queries": [...]} from model output.
func ParseQueryList(response string) ([]string, error) {
	raw, err := ExtractJSON(response)
	if err != nil {
		return nil, ParseError{What: "query list", Err: err}
	}
	var doc struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, ParseError{What: "query list", Err: err}
	}
	var out []string
	for _, q := range doc.Queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, ParseError{What: "query list", Err: errors.New("empty queries array")}
	}
	return out, nil
}

// OutlineItem is one drafted outline entry with its subtopics.
type OutlineItem struct {
	Topic     string   `json:"topic"`
	Subtopics []string `json:"subtopics"`
}

// ParseOutline decodes {"outline": [{"topic", "subtopics"}]}.
func ParseOutline(response string) ([]OutlineItem, error) {
	raw, err := ExtractJSON(response)
	if err != nil {
		return nil, ParseError{What: "outline", Err: err}
	}
	var doc struct {
		Outline []OutlineItem `json:"outline"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, ParseError{What: "outline", Err: err}
	}
	var out []OutlineItem
	for _, item := range doc.Outline {
		if strings.TrimSpace(item.Topic) == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil, ParseError{What: "outline", Err: errors.New("empty outline array")}
	}
	return out, nil
}

// CycleAnalysis is the model's per-cycle classification of topics.
type CycleAnalysis struct {
	Completed  []string `json:"completed_topics"`
	Partial    []string `json:"partial_topics"`
	Irrelevant []string `json:"irrelevant_topics"`
	New        []string `json:"new_topics"`
	Analysis   string   `json:"analysis"`
}

// ParseCycleAnalysis decodes the cycle analysis document.
func ParseCycleAnalysis(response string) (CycleAnalysis, error) {
	raw, err := ExtractJSON(response)
	if err != nil {
		return CycleAnalysis{}, ParseError{What: "cycle analysis", Err: err}
	}
	var doc CycleAnalysis
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return CycleAnalysis{}, ParseError{What: "cycle analysis", Err: err}
	}
	return doc, nil
}

// FeedbackSelection is the model's interpretation of natural-language
// outline feedback as 0-based keep/remove index sets.
type FeedbackSelection struct {
	Keep   []int `json:"keep"`
	Remove []int `json:"remove"`
}

// ParseFeedbackSelection decodes {"keep": [...], "remove": [...]}.
func ParseFeedbackSelection(response string) (FeedbackSelection, error) {
	raw, err := ExtractJSON(response)
	if err != nil {
		return FeedbackSelection{}, ParseError{What: "feedback selection", Err: err}
	}
	var doc FeedbackSelection
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return FeedbackSelection{}, ParseError{What: "feedback selection", Err: err}
	}
	return doc, nil
}

// ParseTopicList decodes {"topics": [...]} used for replacement topic
// generation after outline feedback.
func ParseTopicList(response string) ([]string, error) {
	raw, err := ExtractJSON(response)
	if err != nil {
		return nil, ParseError{What: "topic list", Err: err}
	}
	var doc struct {
		Topics []string `json:"topics"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, ParseError{What: "topic list", Err: err}
	}
	var out []string
	for _, t := range doc.Topics {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

// ParseTopicTitle decodes {"title": "...", "description": "..."} used
// when naming a discovered topic.
func ParseTopicTitle(response string) (title, description string, err error) {
	raw, jerr := ExtractJSON(response)
	if jerr != nil {
		return "", "", ParseError{What: "topic title", Err: jerr}
	}
	var doc struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if uerr := json.Unmarshal([]byte(raw), &doc); uerr != nil {
		return "", "", ParseError{What: "topic title", Err: uerr}
	}
	doc.Title = strings.TrimSpace(doc.Title)
	if doc.Title == "" {
		return "", "", ParseError{What: "topic title", Err: errors.New("empty title")}
	}
	return doc.Title, strings.TrimSpace(doc.Description), nil
}

// ParseTitleBlock decodes {"main_title", "subtitle"} for the report.
func ParseTitleBlock(response string) (main, subtitle string, err error) {
	raw, jerr := ExtractJSON(response)
	if jerr != nil {
		return "", "", ParseError{What: "title block", Err: jerr}
	}
	var doc struct {
		MainTitle string `json:"main_title"`
		Subtitle  string `json:"subtitle"`
	}
	if uerr := json.Unmarshal([]byte(raw), &doc); uerr != nil {
		return "", "", ParseError{What: "title block", Err: uerr}
	}
	return strings.TrimSpace(doc.MainTitle), strings.TrimSpace(doc.Subtitle), nil
}
