package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJudgement(t *testing.T) {
	j, err := DecodeJudgement("```json\n{\"verdict\":\"Approve\",\"reason\":\"clear win\",\"confidence\":0.82,\"risk_score\":\"LOW\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, &Judgement{Verdict: "approve", Reason: "clear win", Confidence: 0.82, RiskScore: "low"}, j)

	j, err = DecodeJudgement(`Sure. {"verdict":"defer","reason":"thin data","confidence":0,"risk_score":"high"} Thanks`)
	require.NoError(t, err)
	assert.Equal(t, "defer", j.Verdict)
	assert.Equal(t, 0.0, j.Confidence)
}

func TestDecodeJudgementMalformed(t *testing.T) {
	cases := map[string]string{
		"no json":          "I approve",
		"bad json":         `{"verdict": approve}`,
		"unknown verdict":  `{"verdict":"maybe","confidence":0.5,"risk_score":"low"}`,
		"unknown risk":     `{"verdict":"approve","confidence":0.5,"risk_score":"extreme"}`,
		"confidence range": `{"verdict":"approve","confidence":1.5,"risk_score":"low"}`,
		"missing conf":     `{"verdict":"approve","risk_score":"low"}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJudgement(text)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

const sampleDiff = `diff --git a/config/risk.go b/config/risk.go
--- a/config/risk.go
+++ b/config/risk.go
@@ -1,3 +1,3 @@
 package config
 
-const StopLossPct = 0.01
+const StopLossPct = 0.015`

func TestExtractDiff(t *testing.T) {
	diff, err := ExtractDiff("Here you go:\n```diff\n" + sampleDiff + "\n```\nLet me know.")
	require.NoError(t, err)
	assert.Equal(t, sampleDiff+"\n", diff)

	diff, err = ExtractDiff("```diff\n" + sampleDiff + "\n```")
	require.NoError(t, err)
	assert.Equal(t, sampleDiff+"\n", diff)

	diff, err = ExtractDiff("Patch below\n" + sampleDiff)
	require.NoError(t, err)
	assert.Equal(t, sampleDiff+"\n", diff)
}

func TestExtractDiffRejectsNonDiff(t *testing.T) {
	for _, text := range []string{"", "   ", "no changes needed", "--- a/x\nno hunk"} {
		_, err := ExtractDiff(text)
		assert.ErrorIs(t, err, ErrEmptyPatch, text)
	}
}

func TestPatchPromptBoundsFileList(t *testing.T) {
	files := make([]string, maxListedFiles+5)
	for i := range files {
		files[i] = "f.go"
	}
	p := patchPrompt(PatchRequest{Change: ChangeContext{Hypothesis: "h"}, Files: files})
	assert.Contains(t, p, "... 5 more")
	assert.Contains(t, p, `"hypothesis": "h"`)
}

func TestDecodeJudgementRejectsQuotedConfidence(t *testing.T) {
	_, err := DecodeJudgement(`{"verdict":"approve","reason":"ok","confidence":"0.9","risk_score":"low"}`)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
