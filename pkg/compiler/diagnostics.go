package compiler

import (
	"fmt"
	"go/scanner"
	"go/token"
	"go/types"
	"strings"
)

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Phase names the compiler stage that produced a diagnostic.
type Phase string

const (
	PhaseParse Phase = "parse"
	PhaseCheck Phase = "check"
	PhaseLower Phase = "lower"
)

// Location is a 1-based source position. Zero means unknown.
type Location struct {
	Line   int
	Column int
}

func (l Location) String() string {
	if l.Line == 0 {
		return "-"
	}
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

type Diagnostic struct {
	Severity Severity
	Phase    Phase
	Message  string
	Location Location
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Location, d.Severity, d.Message)
}

// CompileError reports why a source unit produced no module.
type CompileError struct {
	Module      string
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	if e == nil || len(e.Diagnostics) == 0 {
		return "compiler: compilation failed"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "compiler: %s: %s", e.Module, e.Diagnostics[0])
	if extra := len(e.Diagnostics) - 1; extra > 0 {
		fmt.Fprintf(&b, " (and %d more)", extra)
	}
	return b.String()
}

// Phase reports the stage of the first diagnostic.
func (e *CompileError) Phase() Phase {
	if e == nil || len(e.Diagnostics) == 0 {
		return ""
	}
	return e.Diagnostics[0].Phase
}

func locationOf(pos token.Position) Location {
	return Location{Line: pos.Line, Column: pos.Column}
}

func parseDiagnostics(err error) []Diagnostic {
	if list, ok := err.(scanner.ErrorList); ok {
		diags := make([]Diagnostic, 0, len(list))
		for _, e := range list {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Phase:    PhaseParse,
				Message:  e.Msg,
				Location: locationOf(e.Pos),
			})
		}
		return diags
	}
	return []Diagnostic{{Severity: SeverityError, Phase: PhaseParse, Message: err.Error()}}
}

func checkDiagnostic(err error) Diagnostic {
	diag := Diagnostic{Severity: SeverityError, Phase: PhaseCheck, Message: err.Error()}
	if terr, ok := err.(types.Error); ok {
		diag.Message = terr.Msg
		if terr.Fset != nil {
			diag.Location = locationOf(terr.Fset.Position(terr.Pos))
		}
	}
	return diag
}
