// Package transcripts builds and edits subtitle-timed transcript text. The
// canonical form is SRT where every block's text starts with a bracketed
// speaker tag such as [SPEAKER_00].
package transcripts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Segment is a timed utterance produced by speech recognition.
type Segment struct {
	Start   time.Duration
	End     time.Duration
	Speaker string
	Text    string
}

// Block is one parsed subtitle block. Untimed blocks carry free text only.
type Block struct {
	Index   int
	Start   time.Duration
	End     time.Duration
	Speaker string
	Text    string
	Timed   bool
}

var (
	timingPattern  = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})[,.](\d{3})\s+-->\s+(\d{2}):(\d{2}):(\d{2})[,.](\d{3})`)
	leadingSpeaker = regexp.MustCompile(`^\[([^\]]+)\]\s*`)
)

// SpeakerID formats the default label for the n-th detected speaker.
func SpeakerID(n int) string {
	return fmt.Sprintf("SPEAKER_%02d", n)
}

// BuildSRT renders segments as canonical SRT text with a speaker tag on
// every block. Segments without text are skipped.
func BuildSRT(segments []Segment) string {
	return renderSRT(blocksFromSegments(segments))
}

// BuildVTT renders segments as WebVTT with voice spans.
func BuildVTT(segments []Segment) string {
	return RenderVTT(blocksFromSegments(segments))
}

func blocksFromSegments(segments []Segment) []Block {
	blocks := make([]Block, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		speaker := strings.TrimSpace(seg.Speaker)
		if speaker == "" {
			speaker = SpeakerID(0)
		}
		blocks = append(blocks, Block{
			Index:   len(blocks) + 1,
			Start:   seg.Start,
			End:     seg.End,
			Speaker: speaker,
			Text:    text,
			Timed:   true,
		})
	}
	return blocks
}

func renderSRT(blocks []Block) string {
	var b strings.Builder
	for i, block := range blocks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n", i+1, formatTimestamp(block.Start, ','), formatTimestamp(block.End, ','))
		if block.Speaker != "" {
			fmt.Fprintf(&b, "[%s] ", block.Speaker)
		}
		b.WriteString(block.Text)
	}
	return b.String()
}

// RenderVTT renders timed blocks as WebVTT. Untimed blocks are dropped.
func RenderVTT(blocks []Block) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, block := range blocks {
		if !block.Timed {
			continue
		}
		fmt.Fprintf(&b, "\n%s --> %s\n", formatTimestamp(block.Start, '.'), formatTimestamp(block.End, '.'))
		if block.Speaker != "" {
			fmt.Fprintf(&b, "<v %s>", block.Speaker)
		}
		b.WriteString(block.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// VTTFromSRT converts canonical SRT text to WebVTT.
func VTTFromSRT(text string) string {
	return RenderVTT(ParseSRT(text))
}

func formatTimestamp(d time.Duration, sep byte) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms%1000)
}

// ParseSRT splits text into blocks. Chunks without an index and timing line
// are returned as untimed blocks holding the raw chunk.
func ParseSRT(text string) []Block {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var blocks []Block
	for _, chunk := range splitChunks(text) {
		lines := strings.Split(chunk, "\n")
		if len(lines) >= 2 {
			index, idxErr := strconv.Atoi(strings.TrimSpace(lines[0]))
			if m := timingPattern.FindStringSubmatch(strings.TrimSpace(lines[1])); idxErr == nil && m != nil {
				body := strings.TrimSpace(strings.Join(lines[2:], "\n"))
				block := Block{
					Index: index,
					Start: parseTimestamp(m[1:5]),
					End:   parseTimestamp(m[5:9]),
					Timed: true,
				}
				if sm := leadingSpeaker.FindStringSubmatch(body); sm != nil {
					block.Speaker = sm[1]
					body = body[len(sm[0]):]
				}
				block.Text = body
				blocks = append(blocks, block)
				continue
			}
		}
		blocks = append(blocks, Block{Text: chunk})
	}
	return blocks
}

func splitChunks(text string) []string {
	var chunks []string
	for _, chunk := range regexp.MustCompile(`\n\s*\n`).Split(text, -1) {
		if chunk = strings.TrimSpace(chunk); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func parseTimestamp(parts []string) time.Duration {
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.Atoi(parts[2])
	ms, _ := strconv.Atoi(parts[3])
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(ms)*time.Millisecond
}

// Timed reports whether text contains at least one timed block.
func Timed(text string) bool {
	for _, block := range ParseSRT(text) {
		if block.Timed {
			return true
		}
	}
	return false
}

// DisplayText strips numbering and timing from canonical text. A speaker tag
// is shown only when the speaker changes. Text without timed blocks is
// returned unchanged.
func DisplayText(text string) string {
	blocks := ParseSRT(text)
	timed := false
	for _, block := range blocks {
		if block.Timed {
			timed = true
			break
		}
	}
	if !timed {
		return text
	}

	parts := make([]string, 0, len(blocks))
	previous := ""
	for _, block := range blocks {
		switch {
		case !block.Timed:
			parts = append(parts, block.Text)
			previous = ""
		case block.Speaker == "":
			parts = append(parts, block.Text)
		case block.Speaker == previous:
			parts = append(parts, block.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s] %s", block.Speaker, block.Text))
			previous = block.Speaker
		}
	}
	return strings.Join(parts, "\n\n")
}
