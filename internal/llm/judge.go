package llm

import (
	"regexp"
	"strconv"
	"strings"
)

var scoreLine = regexp.MustCompile(`(?i)score:\s*([01](?:\.\d+)?)`)

// parseJudgeResponse extracts the "SCORE: 0.xx" line Judge's prompt asks
// for. A response lacking a parseable score yields 0 with the full text as
// rationale rather than an error — grading degrades to "ungraded", it never
// blocks the pipeline.
func parseJudgeResponse(text string) JudgeResult {
	match := scoreLine.FindStringSubmatch(text)
	if match == nil {
		return JudgeResult{Score: 0, Rationale: strings.TrimSpace(text)}
	}
	score, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return JudgeResult{Score: 0, Rationale: strings.TrimSpace(text)}
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	rationale := strings.TrimSpace(scoreLine.ReplaceAllString(text, ""))
	return JudgeResult{Score: score, Rationale: rationale}
}
