package reasoning

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// stripFences removes a surrounding markdown code fence, if any
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		return ""
	}
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

// DecodeJudgement parses and validates a verdict payload.
// The first JSON object in text is used; surrounding prose is ignored.
func DecodeJudgement(text string) (*Judgement, error) {
	text = stripFences(text)

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
	}

	obj := text[start : end+1]
	if !gjson.Valid(obj) {
		return nil, fmt.Errorf("%w: invalid JSON object", ErrMalformedResponse)
	}

	fields := gjson.GetMany(obj, "verdict", "reason", "confidence", "risk_score")
	j := &Judgement{
		Verdict:   strings.ToLower(strings.TrimSpace(fields[0].String())),
		Reason:    strings.TrimSpace(fields[1].String()),
		RiskScore: strings.ToLower(strings.TrimSpace(fields[3].String())),
	}

	switch j.Verdict {
	case "approve", "reject", "defer":
	default:
		return nil, fmt.Errorf("%w: unknown verdict %q", ErrMalformedResponse, fields[0].String())
	}

	switch j.RiskScore {
	case "low", "medium", "high":
	default:
		return nil, fmt.Errorf("%w: unknown risk score %q", ErrMalformedResponse, fields[3].String())
	}

	confidence := fields[2]
	if confidence.Type != gjson.Number || confidence.Float() < 0 || confidence.Float() > 1 {
		return nil, fmt.Errorf("%w: confidence must be a number within [0,1]", ErrMalformedResponse)
	}
	j.Confidence = confidence.Float()

	return j, nil
}

// ExtractDiff returns the unified diff contained in text.
// A diff must carry either git headers or ---/+++ file headers and at least one hunk.
func ExtractDiff(text string) (string, error) {
	text = stripFences(text)

	lines := strings.Split(text, "\n")
	first := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "diff --git ") || strings.HasPrefix(line, "--- ") {
			first = i
			break
		}
	}
	if first < 0 {
		return "", ErrEmptyPatch
	}

	body := lines[first:]
	for i, line := range body {
		if strings.HasPrefix(line, "```") {
			body = body[:i]
			break
		}
	}

	diff := strings.TrimRight(strings.Join(body, "\n"), "\n")
	if !strings.Contains(diff, "\n+++ ") || !strings.Contains(diff, "\n@@") {
		return "", ErrEmptyPatch
	}

	if !strings.HasSuffix(diff, "\n") {
		diff += "\n"
	}
	return diff, nil
}
