// Package parser extracts card drafts from markdown notes.
//
// A card starts at a line beginning with "Q:" and runs until the next "Q:" or
// a "---" separator. "C:" starts the context block, "A:" starts a reference
// answer that is kept with the context, and "T:" lists comma separated tags.
// Blocks may span several lines.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/dailyreview/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	tagsPrefix     = "T:"
	separator      = "---"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
	readingTags
)

// ParseFile reads a file from the given path and extracts all drafts.
func ParseFile(path string) ([]domain.Draft, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

type cardBuilder struct {
	question string
	answer   string
	context  string
	tags     []string
}

func (b cardBuilder) draft() domain.Draft {
	d := domain.Draft{
		Front: strings.TrimSpace(b.question),
		Tags:  domain.NormalizeTags(b.tags),
	}
	ctx := strings.TrimSpace(b.context)
	if answer := strings.TrimSpace(b.answer); answer != "" {
		if ctx != "" {
			ctx += "\n\n"
		}
		ctx += "Answer: " + answer
	}
	if ctx != "" {
		d.Context = &ctx
	}
	return d
}

// Parse reads from an io.Reader and extracts all drafts.
func Parse(r io.Reader) ([]domain.Draft, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var drafts []domain.Draft
	var current cardBuilder
	var block []string
	currentState := seeking

	flushBlock := func() {
		if len(block) == 0 {
			return
		}
		content := strings.Join(block, "\n")
		switch currentState {
		case readingQuestion:
			current.question = content
		case readingAnswer:
			current.answer = content
		case readingContext:
			current.context = content
		}
		block = nil
	}

	finishCard := func() {
		flushBlock()
		if d := current.draft(); d.Front != "" {
			drafts = append(drafts, d)
		}
		current = cardBuilder{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if strings.TrimSpace(line) == separator {
			finishCard()
			continue
		}

		switch {
		case strings.HasPrefix(line, questionPrefix):
			if currentState != seeking { // A new question always starts a new card
				finishCard()
			}
			currentState = readingQuestion
			block = append(block, content(line, questionPrefix))
		case strings.HasPrefix(line, answerPrefix):
			flushBlock()
			currentState = readingAnswer
			block = append(block, content(line, answerPrefix))
		case strings.HasPrefix(line, contextPrefix):
			flushBlock()
			currentState = readingContext
			block = append(block, content(line, contextPrefix))
		case strings.HasPrefix(line, tagsPrefix):
			if currentState == seeking {
				continue
			}
			flushBlock()
			current.tags = append(current.tags, strings.Split(content(line, tagsPrefix), ",")...)
			currentState = readingTags
		default:
			// Text after a tag line belongs to no block.
			if currentState != seeking && currentState != readingTags {
				block = append(block, line)
			}
		}
	}

	finishCard() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return drafts, nil
}

// content strips prefix and one following space.
func content(line, prefix string) string {
	return strings.TrimPrefix(line[len(prefix):], " ")
}
