package transcripts

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/oralhistory/backend/internal/logging"
)

var speakerTag = regexp.MustCompile(`\[([^\]]+)\]`)

const maxLabelLength = 60

// Speakers returns the distinct bracketed labels in order of first appearance.
func Speakers(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range speakerTag.FindAllStringSubmatch(text, -1) {
		label := m[1]
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

// NormalizeLabel trims a user-supplied speaker name and removes characters
// that would break the bracket syntax.
func NormalizeLabel(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '\n', '\r', '\t':
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")
	if runes := []rune(name); len(runes) > maxLabelLength {
		name = string(runes[:maxLabelLength])
	}
	return name
}

// Relabel replaces every [from] tag with [to]. An empty to leaves the label
// as from.
func Relabel(text, from, to string) string {
	if from == "" || to == "" || from == to {
		return text
	}
	return strings.ReplaceAll(text, "["+from+"]", "["+to+"]")
}

// RelabelSpeaker renames the speaker originally detected as id. The current
// label is looked up in mappings so repeated calls are idempotent and an
// empty name restores the original id. The updated mappings are returned.
func RelabelSpeaker(text string, mappings map[string]string, id, name string) (string, map[string]string) {
	next := make(map[string]string, len(mappings)+1)
	for k, v := range mappings {
		next[k] = v
	}

	// Callers may name the speaker by its current label instead of its id.
	if _, ok := next[id]; !ok {
		for original, label := range next {
			if label == id {
				id = original
				break
			}
		}
	}

	current := id
	if label, ok := next[id]; ok && label != "" {
		current = label
	}
	target := NormalizeLabel(name)
	if target == "" {
		target = id
	}

	text = Relabel(text, current, target)
	if target == id {
		delete(next, id)
	} else {
		next[id] = target
	}
	return text, next
}

// ApplyMappings relabels every mapped speaker id to its name.
func ApplyMappings(text string, mappings map[string]string) string {
	ids := make([]string, 0, len(mappings))
	for id := range mappings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		text = Relabel(text, id, NormalizeLabel(mappings[id]))
	}
	return text
}

// RestoreIDs turns mapped labels back into the detected speaker ids so the
// text agrees with mappings keyed by id. A label shared by several ids is
// ambiguous and left alone.
func RestoreIDs(text string, mappings map[string]string) string {
	owners := make(map[string][]string, len(mappings))
	for id, label := range mappings {
		if label != "" && label != id {
			owners[label] = append(owners[label], id)
		}
	}
	labels := make([]string, 0, len(owners))
	for label := range owners {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		if ids := owners[label]; len(ids) == 1 {
			text = Relabel(text, label, ids[0])
		}
	}
	return text
}

// Analyzer re-examines a transcript to correct speaker attribution. The
// transcript it receives is tagged with detected speaker ids, the keys of
// mappings.
type Analyzer interface {
	Reanalyze(ctx context.Context, transcript string, mappings map[string]string) (string, error)
}

// MappingAnalyzer is the deterministic analyzer: it applies the mappings.
type MappingAnalyzer struct{}

// Reanalyze applies mappings to transcript.
func (MappingAnalyzer) Reanalyze(_ context.Context, transcript string, mappings map[string]string) (string, error) {
	return ApplyMappings(transcript, mappings), nil
}

type fallbackAnalyzer struct {
	primary  Analyzer
	fallback Analyzer
}

// WithFallback returns an Analyzer that uses fallback when primary fails or
// returns nothing.
func WithFallback(primary, fallback Analyzer) Analyzer {
	if primary == nil {
		return fallback
	}
	return fallbackAnalyzer{primary: primary, fallback: fallback}
}

func (a fallbackAnalyzer) Reanalyze(ctx context.Context, transcript string, mappings map[string]string) (string, error) {
	corrected, err := a.primary.Reanalyze(ctx, transcript, mappings)
	if err == nil && strings.TrimSpace(corrected) != "" {
		return corrected, nil
	}
	if err != nil {
		logging.FromContext(ctx).Warn("speaker analyzer failed, using mappings", slog.Any("error", err))
	}
	return a.fallback.Reanalyze(ctx, transcript, mappings)
}
