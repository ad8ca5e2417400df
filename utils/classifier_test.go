package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyOutOfOffice(t *testing.T) {
	kc := NewKeywordClassifier()

	got := kc.Classify("I am currently out of office until March 5 and will reply on my return.")
	assert.Equal(t, TagOutOfOffice, got.Tag)
	assert.Equal(t, SentimentNeutral, got.Sentiment)
	assert.InDelta(t, 0.9, got.Confidence, 0.001)
}

func TestClassifyUnsubscribe(t *testing.T) {
	kc := NewKeywordClassifier()

	got := kc.Classify("Please remove me from your list immediately.")
	assert.Equal(t, TagUnsubscribe, got.Tag)
	assert.Equal(t, SentimentNegative, got.Sentiment)
}

func TestClassifyInterested(t *testing.T) {
	kc := NewKeywordClassifier()

	got := kc.Classify("This sounds good, can you send me more information?")
	assert.Equal(t, TagInterested, got.Tag)
	assert.Equal(t, SentimentPositive, got.Sentiment)
}

func TestClassifyNotInterested(t *testing.T) {
	kc := NewKeywordClassifier()

	got := kc.Classify("Thanks but we're all set with our current provider.")
	assert.Equal(t, TagNotInterested, got.Tag)
}

func TestClassifyObjection(t *testing.T) {
	kc := NewKeywordClassifier()

	got := kc.Classify("What is the pricing for the enterprise tier?")
	assert.Equal(t, TagObjection, got.Tag)
}

func TestClassifyPrecedenceOverLaterRules(t *testing.T) {
	kc := NewKeywordClassifier()

	// Contains both an out-of-office phrase and an interest phrase; the
	// earlier rule wins.
	got := kc.Classify("Automatic reply: I am interested but out of office this week.")
	assert.Equal(t, TagOutOfOffice, got.Tag)
}

func TestClassifyCaseInsensitive(t *testing.T) {
	kc := NewKeywordClassifier()

	got := kc.Classify("UNSUBSCRIBE")
	assert.Equal(t, TagUnsubscribe, got.Tag)
}

func TestClassifyUnmatchedDefaultsToNew(t *testing.T) {
	kc := NewKeywordClassifier()

	got := kc.Classify("Who is this?")
	assert.Equal(t, TagNew, got.Tag)
	assert.Equal(t, SentimentNeutral, got.Sentiment)
	assert.InDelta(t, 0.2, got.Confidence, 0.001)
}

func TestTagPriorityOrdering(t *testing.T) {
	assert.Greater(t, TagPriority(TagUnsubscribe), TagPriority(TagMeetingBooked))
	assert.Greater(t, TagPriority(TagMeetingBooked), TagPriority(TagInterested))
	assert.Greater(t, TagPriority(TagInterested), TagPriority(TagNotInterested))
	assert.Greater(t, TagPriority(TagOutOfOffice), TagPriority(TagNew))
	assert.Equal(t, 0, TagPriority("unknown"))
}
