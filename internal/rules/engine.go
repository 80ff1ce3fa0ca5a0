package rules

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"example.com/dflashgate/internal/common"
	"example.com/dflashgate/internal/dflash"
	"example.com/dflashgate/internal/dict"
)

type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

type Rule struct {
	RuleId    string         `json:"ruleId"`
	Name      string         `json:"name,omitempty"`
	Scope     string         `json:"scope"` // image|vehicle|sector|output
	AppliesTo map[string]any `json:"appliesTo,omitempty"`
	Severity  Severity       `json:"severity"`
	Fixable   bool           `json:"fixable"`
	FixFunc   string         `json:"fixFunction,omitempty"`
	Refs      []string       `json:"refs"`
	Params    map[string]any `json:"params,omitempty"`
	Message   string         `json:"message"`
}

type RulePack struct {
	RulePackId string `json:"rulePackId"`
	Version    string `json:"version"`
	Profile    string `json:"profile"`
	Rules      []Rule `json:"rules"`
}

type Diagnostic struct {
	Ts              time.Time `json:"ts"`
	File            string    `json:"file"`
	Sector          int       `json:"sector,omitempty"`
	Offset          string    `json:"offset,omitempty"`
	RuleId          string    `json:"ruleId"`
	Severity        Severity  `json:"severity"`
	Message         string    `json:"message"`
	Refs            []string  `json:"refs"`
	FixSuggested    bool      `json:"fixSuggested"`
	FixApplied      bool      `json:"fixApplied"`
	FixPatchId      string    `json:"fixPatchId,omitempty"`
	VIN             *string   `json:"vin"`
	CorruptionLevel *int      `json:"corruption_level"`
}

type AcceptanceReport struct {
	Summary struct {
		Total    int  `json:"total"`
		Errors   int  `json:"errors"`
		Warnings int  `json:"warnings"`
		Pass     bool `json:"pass"`
	} `json:"summary"`
	GateMatrix []GateResult `json:"gateMatrix"`
	Findings   []Diagnostic `json:"findings,omitempty"`
}

// GateResult aggregates the findings of one rule.
type GateResult struct {
	Scope    string   `json:"scope,omitempty"`
	Severity Severity `json:"severity"`
	RuleId   string   `json:"ruleId"`
	Name     string   `json:"name,omitempty"`
	Pass     bool     `json:"pass"`
	Findings int      `json:"findings"`
}

// Context carries the inputs a rule evaluation works on. Image and
// Analysis are populated lazily by EnsureAnalysis so that callers can
// hand over either a file path or an in-memory dump.
type Context struct {
	InputFile  string
	OutputFile string
	Profile    string

	Image    []byte
	Analysis *dflash.Analysis
	Dict     *dict.Store
	Metrics  *common.Metrics
}

// EnsureAnalysis loads the source image if needed and runs the analyzer
// once. Subsequent calls are no-ops.
func (ctx *Context) EnsureAnalysis() error {
	if ctx == nil {
		return errors.New("nil context")
	}
	if ctx.Analysis != nil {
		return nil
	}
	if ctx.Image == nil {
		if ctx.InputFile == "" {
			return nil
		}
		img, err := os.ReadFile(ctx.InputFile)
		if err != nil {
			return err
		}
		ctx.Image = img
	}
	if ctx.Metrics != nil {
		ctx.Metrics.AddImage(int64(len(ctx.Image)))
	}
	analysis, err := dflash.Analyze(ctx.Image)
	if err != nil {
		return err
	}
	dict.Refine(&analysis.Vehicle, ctx.Dict)
	ctx.Analysis = &analysis
	return nil
}

type Engine struct {
	rulePack             RulePack
	registry             map[string]CheckFunc
	diagnostics          []Diagnostic
	includeVehicleFields bool
	concurrency          int

	cbMu         sync.Mutex
	diagCallback func(Diagnostic) error
}

func NewEngine(rp RulePack) *Engine {
	return &Engine{
		rulePack:             rp,
		registry:             make(map[string]CheckFunc),
		includeVehicleFields: true,
		concurrency:          1,
	}
}

type CheckFunc func(ctx *Context, rule Rule) (Diagnostic, bool, error)

func (e *Engine) Register(name string, f CheckFunc) {
	e.registry[name] = f
}

// SetDiagnosticCallback registers a function invoked for every
// diagnostic as it is produced, before Eval returns. Pass nil to clear.
func (e *Engine) SetDiagnosticCallback(fn func(Diagnostic) error) {
	e.cbMu.Lock()
	e.diagCallback = fn
	e.cbMu.Unlock()
}

func (e *Engine) emit(d Diagnostic) {
	e.cbMu.Lock()
	fn := e.diagCallback
	e.cbMu.Unlock()
	if fn != nil {
		_ = fn(d)
	}
}

// SetConcurrency bounds how many rules evaluate in parallel. Values
// below one fall back to sequential evaluation.
func (e *Engine) SetConcurrency(n int) {
	if e == nil {
		return
	}
	if n < 1 {
		n = 1
	}
	e.concurrency = n
}

func (e *Engine) Eval(ctx *Context) ([]Diagnostic, error) {
	if ctx == nil {
		return nil, errors.New("nil context")
	}
	if err := ctx.EnsureAnalysis(); err != nil {
		return nil, err
	}
	diags := make([]Diagnostic, len(e.rulePack.Rules))
	keep := make([]bool, len(e.rulePack.Rules))

	run := func(i int, r Rule) {
		fn, ok := e.registry[r.FixFunc]
		if !ok {
			diags[i] = Diagnostic{
				Ts: time.Now(), File: ctx.InputFile, RuleId: r.RuleId, Severity: WARN,
				Message: "no function for rule", Refs: r.Refs, FixSuggested: false,
			}
			keep[i] = true
			e.emit(diags[i])
			return
		}
		d, applied, err := fn(ctx, r)
		if err != nil {
			d.Severity = ERROR
			d.Message = d.Message + " (" + err.Error() + ")"
		}
		d.FixApplied = applied
		diags[i] = d
		keep[i] = true
		e.emit(d)
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for i, r := range e.rulePack.Rules {
		if r.FixFunc == "" {
			continue
		}
		if e.concurrency <= 1 {
			run(i, r)
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, r Rule) {
			defer wg.Done()
			defer func() { <-sem }()
			run(i, r)
		}(i, r)
	}
	wg.Wait()

	out := make([]Diagnostic, 0, len(diags))
	for i := range diags {
		if keep[i] {
			out = append(out, diags[i])
		}
	}
	e.diagnostics = out
	return out, nil
}

func (e *Engine) WriteDiagnosticsNDJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()
	for _, d := range e.diagnostics {
		var b []byte
		if e.includeVehicleFields {
			b, _ = json.Marshal(d)
		} else {
			b, _ = json.Marshal(d.toNoVehicle())
		}
		w.Write(b)
		w.WriteString("\n")
	}
	return nil
}

type diagnosticNoVehicle struct {
	Ts           time.Time `json:"ts"`
	File         string    `json:"file"`
	Sector       int       `json:"sector,omitempty"`
	Offset       string    `json:"offset,omitempty"`
	RuleId       string    `json:"ruleId"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	Refs         []string  `json:"refs"`
	FixSuggested bool      `json:"fixSuggested"`
	FixApplied   bool      `json:"fixApplied"`
	FixPatchId   string    `json:"fixPatchId,omitempty"`
}

func (d Diagnostic) toNoVehicle() diagnosticNoVehicle {
	return diagnosticNoVehicle{
		Ts:           d.Ts,
		File:         d.File,
		Sector:       d.Sector,
		Offset:       d.Offset,
		RuleId:       d.RuleId,
		Severity:     d.Severity,
		Message:      d.Message,
		Refs:         d.Refs,
		FixSuggested: d.FixSuggested,
		FixApplied:   d.FixApplied,
		FixPatchId:   d.FixPatchId,
	}
}

func (e *Engine) SetConfigValue(key string, value any) {
	if e == nil {
		return
	}
	switch key {
	case "diag.include_vehicle_fields":
		switch v := value.(type) {
		case bool:
			e.includeVehicleFields = v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				e.includeVehicleFields = b
			}
		default:
			if s, ok := value.(fmt.Stringer); ok {
				if b, err := strconv.ParseBool(s.String()); err == nil {
					e.includeVehicleFields = b
				}
			}
		}
	}
}

func (e *Engine) MakeAcceptance() AcceptanceReport {
	var rep AcceptanceReport
	var errs, warns int

	ruleByID := make(map[string]Rule, len(e.rulePack.Rules))
	for _, r := range e.rulePack.Rules {
		ruleByID[r.RuleId] = r
	}
	rowByID := make(map[string]int)
	for _, d := range e.diagnostics {
		switch d.Severity {
		case ERROR:
			errs++
		case WARN:
			warns++
		}
		idx, ok := rowByID[d.RuleId]
		if !ok {
			r := ruleByID[d.RuleId]
			rep.GateMatrix = append(rep.GateMatrix, GateResult{
				Scope:    r.Scope,
				Severity: d.Severity,
				RuleId:   d.RuleId,
				Name:     r.Name,
				Pass:     true,
			})
			idx = len(rep.GateMatrix) - 1
			rowByID[d.RuleId] = idx
		}
		row := &rep.GateMatrix[idx]
		row.Findings++
		if d.Severity == ERROR {
			row.Pass = false
			row.Severity = ERROR
		} else if d.Severity == WARN && row.Severity == INFO {
			row.Severity = WARN
		}
	}
	rep.Summary.Total = len(e.diagnostics)
	rep.Summary.Errors = errs
	rep.Summary.Warnings = warns
	rep.Summary.Pass = errs == 0
	rep.Findings = e.diagnostics
	return rep
}

func LoadRulePack(path string) (RulePack, error) {
	var rp RulePack
	b, err := os.ReadFile(path)
	if err != nil {
		return rp, err
	}
	err = json.Unmarshal(b, &rp)
	return rp, err
}

var ErrNotImplemented = errors.New("fix not implemented yet")
