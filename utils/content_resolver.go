package utils

import (
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// RandomTag is the reserved merge-tag key that marks a spintax block rather
// than an attribute substitution.
const RandomTag = "RANDOM"

var (
	mergeBlockRe   = regexp.MustCompile(`\{\{[^{}]*\}\}`)
	spintaxBlockRe = regexp.MustCompile(`\{[^{}]*\}`)
)

// ContentResolver renders a message template against a lead's attribute bag.
// Resolution happens in two passes: merge-tag substitution first, spintax
// randomization second. Output is non-deterministic whenever the template
// contains spintax, so resolved content must never be cached by template.
type ContentResolver struct {
	rng *rand.Rand
}

// NewContentResolver returns a resolver backed by the given random source.
// A nil source gets a time-seeded one.
func NewContentResolver(rng *rand.Rand) *ContentResolver {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &ContentResolver{rng: rng}
}

// Resolve substitutes merge tags and then resolves spintax blocks.
func (cr *ContentResolver) Resolve(template string, attrs map[string]string) string {
	out := cr.substituteMergeTags(template, attrs)
	out = cr.resolveRandomBlocks(out)
	out = cr.resolveSpintax(out)
	return out
}

// substituteMergeTags replaces {{key}} and {{key|fallback}} blocks. Unresolved
// keys with no fallback become empty strings, never literal tags. RANDOM
// blocks are left for the spintax pass.
func (cr *ContentResolver) substituteMergeTags(template string, attrs map[string]string) string {
	return mergeBlockRe.ReplaceAllStringFunc(template, func(block string) string {
		inner := strings.TrimSuffix(strings.TrimPrefix(block, "{{"), "}}")
		parts := strings.Split(inner, "|")
		key := strings.TrimSpace(parts[0])

		if strings.EqualFold(key, RandomTag) {
			return block
		}

		if value, ok := attrs[key]; ok {
			return value
		}
		if value, ok := attrs[strings.ToLower(key)]; ok {
			return value
		}
		if len(parts) > 1 {
			return strings.TrimSpace(parts[1])
		}
		return ""
	})
}

// resolveRandomBlocks picks one option from each {{RANDOM | a | b | c}} block.
func (cr *ContentResolver) resolveRandomBlocks(template string) string {
	return mergeBlockRe.ReplaceAllStringFunc(template, func(block string) string {
		inner := strings.TrimSuffix(strings.TrimPrefix(block, "{{"), "}}")
		parts := strings.Split(inner, "|")
		if !strings.EqualFold(strings.TrimSpace(parts[0]), RandomTag) {
			return block
		}
		return cr.pickOption(parts[1:])
	})
}

// resolveSpintax picks one option from each bare {a|b} block. A braced block
// without a pipe is left untouched.
func (cr *ContentResolver) resolveSpintax(template string) string {
	return spintaxBlockRe.ReplaceAllStringFunc(template, func(block string) string {
		inner := strings.TrimSuffix(strings.TrimPrefix(block, "{"), "}")
		if !strings.Contains(inner, "|") {
			return block
		}
		return cr.pickOption(strings.Split(inner, "|"))
	})
}

// pickOption trims the options, drops empty ones and chooses uniformly.
// A degenerate empty list resolves to the empty string.
func (cr *ContentResolver) pickOption(raw []string) string {
	options := make([]string, 0, len(raw))
	for _, opt := range raw {
		opt = strings.TrimSpace(opt)
		if opt != "" {
			options = append(options, opt)
		}
	}
	if len(options) == 0 {
		return ""
	}
	return options[cr.rng.Intn(len(options))]
}
