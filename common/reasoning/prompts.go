package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
)

const judgeSystem = `You review proposed changes to an automated trading system.
Answer with a single JSON object and nothing else:
{"verdict": "approve|reject|defer", "reason": "<one or two sentences>", "confidence": <0.0-1.0>, "risk_score": "low|medium|high"}
Approve only changes whose expected benefit clearly outweighs their risk.
Defer when the evidence is thin. Reject changes that could increase drawdown.`

const patchSystem = `You write minimal patches for a Go trading system.
Answer with a single unified diff (git format, paths relative to the repository root) and nothing else.
Only touch files that exist in the listed tree unless the change requires a new file.
Keep the change as small as possible and keep the existing tests passing.`

func judgePrompt(c ChangeContext) string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return fmt.Sprintf("Recommendation under review:\n%s\n", data)
}

// maxListedFiles bounds the tree listing sent with a patch request
const maxListedFiles = 400

func patchPrompt(req PatchRequest) string {
	var b strings.Builder

	data, _ := json.MarshalIndent(req.Change, "", "  ")
	b.WriteString("Implement this approved recommendation:\n")
	b.Write(data)
	b.WriteString("\n\nRepository files:\n")

	files := req.Files
	if len(files) > maxListedFiles {
		files = files[:maxListedFiles]
	}
	for _, f := range files {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	if len(req.Files) > maxListedFiles {
		fmt.Fprintf(&b, "... %d more\n", len(req.Files)-maxListedFiles)
	}

	return b.String()
}
