package research

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DecodeFeedback turns one raw line from the feedback channel into the
// tagged union. Slash commands (`/keep 1,3,5-7`, `/k`, `/remove`, `/r`)
// become index lists; empty input and "continue" accept the outline;
// anything else is natural-language steering. Malformed index tokens
// are decode errors, not silently skipped.
func DecodeFeedback(input string) (Feedback, error) {
	input = strings.TrimSpace(input)
	lower := strings.ToLower(input)
	if input == "" || lower == "continue" || lower == "c" {
		return Continue{}, nil
	}
	for _, prefix := range []string{"/keep ", "/k "} {
		if strings.HasPrefix(lower, prefix) {
			idx, err := parseIndexSpec(input[len(prefix):])
			if err != nil {
				return nil, err
			}
			return KeepList{Indices: idx}, nil
		}
	}
	for _, prefix := range []string{"/remove ", "/r "} {
		if strings.HasPrefix(lower, prefix) {
			idx, err := parseIndexSpec(input[len(prefix):])
			if err != nil {
				return nil, err
			}
			return RemoveList{Indices: idx}, nil
		}
	}
	if strings.HasPrefix(input, "/") {
		return nil, fmt.Errorf("unknown feedback command %q (use /keep, /remove, or plain text)", strings.Fields(input)[0])
	}
	return NaturalLanguage{Text: input}, nil
}

// parseIndexSpec expands "1,3,5-7" into sorted unique 1-based indices.
// Range bounds are not validated against the outline here; that happens
// at application time where the valid range is known.
func parseIndexSpec(spec string) ([]int, error) {
	spec = strings.ReplaceAll(spec, ",", " ")
	seen := make(map[int]struct{})
	var out []int
	add := func(i int) {
		if _, ok := seen[i]; !ok {
			seen[i] = struct{}{}
			out = append(out, i)
		}
	}
	for _, part := range strings.Fields(spec) {
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil || start > end {
				return nil, fmt.Errorf("invalid range %q", part)
			}
			for i := start; i <= end; i++ {
				add(i)
			}
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", part)
		}
		add(i)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty index list")
	}
	return out, nil
}

// ApplyFeedback mutates the outline according to one feedback message
// and records the resulting preference direction on the run state.
// Out-of-range indices fail with InvalidIndexError; nothing is clamped.
func (m *OutlineManager) ApplyFeedback(ctx context.Context, state *State, fb Feedback) (OutlineDelta, error) {
	switch f := fb.(type) {
	case Continue:
		return OutlineDelta{}, nil
	case KeepList:
		kept, err := indexSet(f.Indices, len(state.Outline))
		if err != nil {
			return OutlineDelta{}, err
		}
		return m.partitionOutline(ctx, state, kept, true)
	case RemoveList:
		removed, err := indexSet(f.Indices, len(state.Outline))
		if err != nil {
			return OutlineDelta{}, err
		}
		return m.partitionOutline(ctx, state, removed, false)
	case NaturalLanguage:
		return m.applyPreferenceText(ctx, state, f.Text)
	default:
		return OutlineDelta{}, fmt.Errorf("unsupported feedback type %T", fb)
	}
}

// indexSet validates 1-based indices against the outline length.
func indexSet(indices []int, n int) (map[int]struct{}, error) {
	out := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 1 || i > n {
			return nil, InvalidIndexError{Index: i, Min: 1, Max: n}
		}
		out[i-1] = struct{}{}
	}
	return out, nil
}

// partitionOutline splits the outline into kept and removed sets,
// retires the removed topics, derives the preference direction vector
// and backfills replacement topics for the removed slots.
func (m *OutlineManager) partitionOutline(ctx context.Context, state *State, selected map[int]struct{}, selectedIsKeep bool) (OutlineDelta, error) {
	var delta OutlineDelta
	var kept, removed []*Topic
	for i, t := range state.Outline {
		_, sel := selected[i]
		if sel == selectedIsKeep {
			kept = append(kept, t)
		} else {
			removed = append(removed, t)
		}
	}

	for _, t := range removed {
		if !t.Status.Terminal() {
			t.Status = TopicIrrelevant
		}
		delta.Removed = append(delta.Removed, t.Title)
	}
	for _, t := range kept {
		delta.Kept = append(delta.Kept, t.Title)
	}

	if pref := preferenceDirection(kept, removed); pref != nil {
		state.Preference = pref
	}

	if len(removed) > 0 {
		replacements := m.generateReplacements(ctx, state, kept, removed)
		for _, title := range replacements {
			vec := m.embedTitles(ctx, []string{title})[0]
			if t, created := m.addTopic(state, title, "", vec); created {
				delta.Discovered = append(delta.Discovered, t.Title)
			}
		}
	}
	return delta, nil
}

// preferenceDirection computes the normalized mean(kept)-mean(removed)
// embedding direction, as the original steering mechanism does. Either
// side missing embeddings yields no preference.
func preferenceDirection(kept, removed []*Topic) []float32 {
	var keptVecs, removedVecs [][]float32
	for _, t := range kept {
		if len(t.embedding) > 0 {
			keptVecs = append(keptVecs, t.embedding)
		}
	}
	for _, t := range removed {
		if len(t.embedding) > 0 {
			removedVecs = append(removedVecs, t.embedding)
		}
	}
	if len(keptVecs) == 0 || len(removedVecs) == 0 {
		return nil
	}
	diff := SubVectors(MeanVector(keptVecs), MeanVector(removedVecs))
	return Normalize(diff)
}

// generateReplacements asks the model for topics aligned with the kept
// set to fill the removed slots. Failure means no replacements, which
// is acceptable.
func (m *OutlineManager) generateReplacements(ctx context.Context, state *State, kept, removed []*Topic) []string {
	system := `You refine a research outline after user feedback. Propose replacement sub-topics that align with the topics the user kept and avoid the direction of the topics the user removed.
Respond ONLY with JSON: {"topics": ["...", "..."]}`
	var keptTitles, removedTitles []string
	for _, t := range kept {
		keptTitles = append(keptTitles, t.Title)
	}
	for _, t := range removed {
		removedTitles = append(removedTitles, t.Title)
	}
	user := fmt.Sprintf("Research query: %q\nKept: %s\nRemoved: %s\nPropose up to %d replacement topics.",
		state.UserQuery, strings.Join(keptTitles, "; "), strings.Join(removedTitles, "; "), len(removed))
	resp, err := m.llm.Complete(ctx, system, user)
	if err != nil {
		m.logger.Printf("replacement topic generation skipped: %v", err)
		return nil
	}
	topics, err := ParseTopicList(resp)
	if err != nil {
		m.logger.Printf("replacement topic parsing skipped: %v", err)
		return nil
	}
	if len(topics) > len(removed) {
		topics = topics[:len(removed)]
	}
	return topics
}

// applyPreferenceText handles natural-language steering: the text is
// embedded into a preference vector that biases every later priority
// score, and the model's keep/remove reading of the outline is applied
// when it parses. A failed interpretation keeps the outline untouched.
func (m *OutlineManager) applyPreferenceText(ctx context.Context, state *State, text string) (OutlineDelta, error) {
	if vecs, err := m.embed.CreateEmbedding(ctx, []string{text}); err == nil && len(vecs) == 1 {
		if pref := Normalize(vecs[0]); pref != nil {
			state.Preference = pref
		}
	} else if err != nil {
		m.logger.Printf("preference embedding failed: %v", err)
	}

	system := `You are analyzing user feedback on a research outline. Decide which topics to keep or remove based on the user's message.
Respond ONLY with JSON: {"keep": [0-based indices], "remove": [0-based indices]}`
	var titles []string
	for i, t := range state.Outline {
		titles = append(titles, fmt.Sprintf("%d. %s", i, t.Title))
	}
	user := fmt.Sprintf("Outline:\n%s\n\nUser feedback: %q", strings.Join(titles, "\n"), text)
	resp, err := m.llm.Complete(ctx, system, user)
	if err != nil {
		m.logger.Printf("feedback interpretation failed, keeping outline: %v", err)
		return OutlineDelta{}, nil
	}
	sel, err := ParseFeedbackSelection(resp)
	if err != nil {
		m.logger.Printf("feedback interpretation unparseable, keeping outline: %v", err)
		return OutlineDelta{}, nil
	}
	if len(sel.Remove) == 0 {
		return OutlineDelta{}, nil
	}
	// Model indices are advisory: out-of-range entries are dropped
	// rather than failing, unlike explicit user index commands.
	selected := make(map[int]struct{})
	for _, i := range sel.Remove {
		if i >= 0 && i < len(state.Outline) {
			selected[i] = struct{}{}
		}
	}
	if len(selected) == 0 {
		return OutlineDelta{}, nil
	}
	return m.partitionOutline(ctx, state, selected, false)
}
