package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/lyzr/seed-improver/common/policy"
	"github.com/lyzr/seed-improver/common/validation"
)

// TunablesFile is the JSON document of runtime tunables the trading engine
// reads. Phase 3 patches it in place with RFC 6902 operations.
type TunablesFile struct {
	path string
	mu   sync.Mutex
}

// NewTunablesFile creates a new tunables file handle
func NewTunablesFile(path string) *TunablesFile {
	return &TunablesFile{path: path}
}

// Path returns the file location
func (t *TunablesFile) Path() string {
	return t.path
}

// Read returns the current document, "{}" when the file does not exist yet
func (t *TunablesFile) Read() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read()
}

func (t *TunablesFile) read() ([]byte, error) {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tunables: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("{}"), nil
	}
	return data, nil
}

// Apply patches the document and replaces the file atomically
func (t *TunablesFile) Apply(patchJSON []byte) error {
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return fmt.Errorf("failed to decode patch: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.read()
	if err != nil {
		return err
	}

	prepared, err := ensureParents(current, patch)
	if err != nil {
		return err
	}

	patched, err := patch.ApplyIndent(prepared, "  ")
	if err != nil {
		return fmt.Errorf("failed to apply patch: %w", err)
	}
	out := append(patched, '\n')

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("failed to create tunables dir: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("failed to write tunables: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to replace tunables: %w", err)
	}
	return nil
}

// ensureParents creates the missing objects above every "add" target so a
// patch can introduce new pairs and strategies. Non-object parents are left
// alone for the patch itself to reject.
func ensureParents(doc []byte, patch jsonpatch.Patch) ([]byte, error) {
	var root map[string]any
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("tunables is not a JSON object: %w", err)
	}
	if root == nil {
		root = map[string]any{}
	}

	for _, op := range patch {
		if op.Kind() != "add" {
			continue
		}
		path, err := op.Path()
		if err != nil {
			return nil, fmt.Errorf("failed to read patch path: %w", err)
		}
		tokens := strings.Split(path, "/")
		if len(tokens) < 3 {
			continue
		}

		node := root
		for _, tok := range tokens[1 : len(tokens)-1] {
			key := pointerUnescape(tok)
			next, ok := node[key]
			if !ok {
				child := map[string]any{}
				node[key] = child
				node = child
				continue
			}
			child, ok := next.(map[string]any)
			if !ok {
				break
			}
			node = child
		}
	}

	return json.Marshal(root)
}

func pointerUnescape(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

// ActionResult reports Phase 3 outcomes
type ActionResult struct {
	Applied int
	Failed  int
}

// Actioner directly applies pre-approved low-risk categories. It never goes
// through the judge or the patch/test/commit pipeline.
type Actioner struct {
	changes   ChangeStore
	tunables  *TunablesFile
	validator *validation.PatchValidator
	policies  *policy.Store
	flags     ActionFlags
	log       *logger.Logger
}

// ActionFlags are the two independent auto-apply switches
type ActionFlags struct {
	General  bool
	Strategy bool
}

// ActionerOpts contains options for creating an Actioner
type ActionerOpts struct {
	Changes   ChangeStore
	Tunables  *TunablesFile
	Validator *validation.PatchValidator
	Policies  *policy.Store // nil allows everything the flags permit
	Flags     ActionFlags
	Logger    *logger.Logger
}

// NewActioner creates a new actioner
func NewActioner(opts *ActionerOpts) *Actioner {
	return &Actioner{
		changes:   opts.Changes,
		tunables:  opts.Tunables,
		validator: opts.Validator,
		policies:  opts.Policies,
		flags:     opts.Flags,
		log:       opts.Logger,
	}
}

// Eligible reports whether the flags allow c at all. Policy rules can only narrow this.
func (a *Actioner) Eligible(c *models.Change) bool {
	if len(c.ConfigPatch) == 0 {
		return false
	}
	if c.StrategyAffecting {
		return a.flags.Strategy
	}
	return a.flags.General && c.RiskCategory == models.RiskLow
}

// Act applies every eligible change. Apply failures are recorded on the
// change and never returned; only a store failure is.
func (a *Actioner) Act(ctx context.Context, changes []*models.Change) (*ActionResult, error) {
	res := &ActionResult{}
	if !a.flags.General && !a.flags.Strategy {
		return res, nil
	}

	for _, c := range changes {
		if !a.Eligible(c) {
			continue
		}

		allowed, err := a.allowedByPolicy(c)
		if err == nil && !allowed {
			a.log.Info("change denied by auto-apply policy", "change_id", c.ID, "category", c.Category)
			continue
		}

		note := models.AppliedMarker
		if err != nil {
			a.log.Warn("policy evaluation failed, not applying", "change_id", c.ID, "error", err)
			note = "[POLICY-FAILED] " + err.Error()
			res.Failed++
		} else if err := a.apply(c); err != nil {
			a.log.Warn("auto-apply failed", "change_id", c.ID, "error", err)
			note = "[APPLY-FAILED] " + err.Error()
			res.Failed++
		} else {
			res.Applied++
		}

		if err := a.changes.AppendCheck(ctx, c.ID, note); err != nil {
			return nil, fmt.Errorf("failed to record apply result for %s: %w", c.ID, err)
		}
		c.CompatibilityCheck = appendCheck(c.CompatibilityCheck, note)
	}

	return res, nil
}

func (a *Actioner) apply(c *models.Change) error {
	ops, err := validation.ParseOperations(c.ConfigPatch)
	if err != nil {
		return err
	}
	if err := a.validator.ValidateOperations(ops); err != nil {
		return err
	}
	return a.tunables.Apply(c.ConfigPatch)
}

func (a *Actioner) allowedByPolicy(c *models.Change) (bool, error) {
	if a.policies == nil {
		return true, nil
	}
	kind := policy.KindGeneral
	if c.StrategyAffecting {
		kind = policy.KindStrategy
	}
	return a.policies.Current().Allows(kind, policyInput(c), patternTags(c))
}

// policyInput renders the fields rules may reference as change.<field>
func policyInput(c *models.Change) map[string]any {
	return map[string]any{
		"category":            string(c.Category),
		"pair":                c.Pair,
		"strategy":            c.Strategy,
		"priority":            string(c.Priority),
		"risk_category":       string(c.RiskCategory),
		"strategy_affecting":  c.StrategyAffecting,
		"estimated_impact":    c.EstimatedImpact,
		"analysis_confidence": c.AnalysisConfidence,
	}
}

func appendCheck(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
