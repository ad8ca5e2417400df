package utils

import (
	"strings"
)

// Reply tags, in decreasing matching precedence.
const (
	TagOutOfOffice   = "out_of_office"
	TagUnsubscribe   = "unsubscribe"
	TagInterested    = "interested"
	TagMeetingBooked = "meeting_booked"
	TagNotInterested = "not_interested"
	TagObjection     = "objection"
	TagNew           = "new"
)

// Sentiments
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Classification is the outcome of classifying one inbound message body.
type Classification struct {
	Tag        string  `json:"tag"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// ReplyClassifier tags an inbound message body. The keyword implementation is
// deterministic; a model-backed implementation may be substituted as long as
// it keeps the same output shape.
type ReplyClassifier interface {
	Classify(text string) Classification
}

// classifierRule is one ordered keyword rule; the first matching rule wins.
type classifierRule struct {
	keywords   []string
	tag        string
	sentiment  string
	confidence float64
}

var keywordRules = []classifierRule{
	{
		keywords: []string{
			"out of office", "out of the office", "auto-reply", "autoreply",
			"automatic reply", "on vacation", "on holiday", "annual leave",
			"parental leave", "currently away", "away from my desk",
			"limited access to email",
		},
		tag: TagOutOfOffice, sentiment: SentimentNeutral, confidence: 0.9,
	},
	{
		keywords: []string{
			"unsubscribe", "remove me", "take me off", "opt me out",
			"opt out", "stop emailing", "stop contacting", "do not contact",
			"don't contact me", "never email me",
		},
		tag: TagUnsubscribe, sentiment: SentimentNegative, confidence: 0.95,
	},
	{
		keywords: []string{
			"interested", "sounds good", "sounds great", "tell me more",
			"more information", "let's talk", "lets talk", "would love to",
			"send me more", "happy to chat", "open to",
		},
		tag: TagInterested, sentiment: SentimentPositive, confidence: 0.8,
	},
	{
		keywords: []string{
			"meeting confirmed", "see you then", "calendar invite",
			"works for me", "booked", "scheduled a call", "confirmed for",
			"added to my calendar",
		},
		tag: TagMeetingBooked, sentiment: SentimentPositive, confidence: 0.85,
	},
	{
		keywords: []string{
			"not interested", "no thanks", "no thank you", "not a fit",
			"not a good fit", "we're all set", "we are all set",
			"not looking", "no need",
		},
		tag: TagNotInterested, sentiment: SentimentNegative, confidence: 0.85,
	},
	{
		keywords: []string{
			"too expensive", "pricing", "price", "budget", "cost",
			"not right now", "maybe later", "next quarter", "next year",
			"bad timing", "circle back",
		},
		tag: TagObjection, sentiment: SentimentNeutral, confidence: 0.7,
	},
}

// KeywordClassifier is the rule-based stand-in for a model-backed classifier:
// case-insensitive substring matching over fixed keyword lists, evaluated in
// precedence order.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

func (kc *KeywordClassifier) Classify(text string) Classification {
	lowered := strings.ToLower(text)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return Classification{
					Tag:        rule.tag,
					Sentiment:  rule.sentiment,
					Confidence: rule.confidence,
				}
			}
		}
	}
	return Classification{Tag: TagNew, Sentiment: SentimentNeutral, Confidence: 0.2}
}

// TagPriority ranks tags for the "sticky" thread tag policy; higher wins.
func TagPriority(tag string) int {
	switch tag {
	case TagUnsubscribe:
		return 6
	case TagMeetingBooked:
		return 5
	case TagInterested:
		return 4
	case TagNotInterested:
		return 3
	case TagObjection:
		return 2
	case TagOutOfOffice:
		return 1
	default:
		return 0
	}
}
