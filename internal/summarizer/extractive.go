package summarizer

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Extractive ranks sentences by normalized term frequency and keeps the
// best ones, in document order, within the word budget. It runs in process
// with no model weights and is fully deterministic.
type Extractive struct {
	tokenizer *sentences.DefaultSentenceTokenizer
	stopwords map[string]struct{}
}

func NewExtractive() (*Extractive, error) {
	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentence tokenizer: %w", err)
	}
	return &Extractive{tokenizer: tokenizer, stopwords: defaultStopwords()}, nil
}

func (e *Extractive) Name() string { return "extractive-tf-v1" }

func (e *Extractive) Ping(context.Context) error { return nil }

func (e *Extractive) Close() error { return nil }

type scoredSentence struct {
	idx   int
	text  string
	words int
	score float64
}

func (e *Extractive) Summarize(ctx context.Context, text string, opts DecodeOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var sents []scoredSentence
	for _, s := range e.tokenizer.Tokenize(text) {
		t := strings.Join(strings.Fields(s.Text), " ")
		if t == "" {
			continue
		}
		sents = append(sents, scoredSentence{idx: len(sents), text: t, words: len(strings.Fields(t))})
	}
	if len(sents) == 0 {
		return "", nil
	}

	freq := map[string]float64{}
	for _, s := range sents {
		for _, tok := range e.tokens(s.text) {
			if _, stop := e.stopwords[tok]; !stop {
				freq[tok]++
			}
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	for i := range sents {
		toks := e.tokens(sents[i].text)
		for _, tok := range toks {
			if maxF > 0 {
				sents[i].score += freq[tok] / maxF
			}
		}
		if len(toks) > 0 {
			sents[i].score /= math.Sqrt(float64(len(toks)))
		}
	}

	ranked := append([]scoredSentence(nil), sents...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	budget := opts.MaxLength
	if budget <= 0 {
		budget = math.MaxInt
	}
	var (
		picked []scoredSentence
		used   int
		seen   = map[string]struct{}{}
	)
	for _, s := range ranked {
		key := strings.ToLower(s.text)
		if _, dup := seen[key]; dup && opts.NoRepeatNgramSize > 0 {
			continue
		}
		if used+s.words > budget {
			if opts.EarlyStopping && used >= opts.MinLength && used > 0 {
				break
			}
			continue
		}
		seen[key] = struct{}{}
		picked = append(picked, s)
		used += s.words
	}

	if len(picked) == 0 {
		words := strings.Fields(ranked[0].text)
		return strings.Join(words[:min(len(words), budget)], " "), nil
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].idx < picked[j].idx })
	out := make([]string, len(picked))
	for i, s := range picked {
		out[i] = s.text
	}
	return strings.Join(out, " "), nil
}

func (e *Extractive) tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these",
		"those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into",
		"about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own",
		"same", "too", "very", "can", "will", "just", "should", "now", "not", "no", "we", "you", "they",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
