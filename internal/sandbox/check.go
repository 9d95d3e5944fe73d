package sandbox

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// fileOptions enables every dialect feature the parser can recognise so
// that forbidden constructs surface as validation errors with a clear
// message instead of opaque parse failures.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

var forbiddenCalls = map[string]bool{
	"exec": true, "eval": true, "open": true, "__import__": true, "compile": true,
	"input": true, "globals": true, "locals": true, "vars": true, "getattr": true,
	"setattr": true, "delattr": true, "hasattr": true, "dir": true, "help": true,
}

var reservedNames = map[string]bool{
	"__builtins__": true, "__loader__": true, "__spec__": true, "__package__": true,
}

var configMutators = map[string]bool{
	"update": true, "setdefault": true, "pop": true, "popitem": true, "clear": true,
}

// Check parses src and statically rejects unsafe constructs and malformed
// CONFIG declarations. It never executes anything.
func Check(src string) (*syntax.File, error) {
	f, err := fileOptions.Parse("strategy.star", src, 0)
	if err != nil {
		return nil, &ValidationError{Msg: "Syntax error: " + err.Error()}
	}

	var verr error
	attrNames := map[*syntax.Ident]bool{}
	syntax.Walk(f, func(n syntax.Node) bool {
		if verr != nil {
			return false
		}
		verr = checkNode(n, attrNames)
		return verr == nil
	})
	if verr != nil {
		return nil, verr
	}
	return f, nil
}

func checkNode(n syntax.Node, attrNames map[*syntax.Ident]bool) error {
	switch n := n.(type) {
	case *syntax.LoadStmt:
		return reject(n, "Imports are not allowed in the algorithm.")
	case *syntax.WhileStmt:
		return reject(n, "While loops are not allowed.")
	case *syntax.DotExpr:
		attrNames[n.Name] = true
		if strings.Contains(n.Name.Name, "__") {
			return reject(n, "Dunder attribute access is not allowed.")
		}
		if x, ok := n.X.(*syntax.Ident); ok && x.Name == "CONFIG" && configMutators[n.Name.Name] {
			return reject(n, "CONFIG must not be modified.")
		}
	case *syntax.Ident:
		if attrNames[n] {
			return nil
		}
		if forbiddenCalls[n.Name] {
			return reject(n, fmt.Sprintf("Use of '%s' is not allowed.", n.Name))
		}
		if reservedNames[n.Name] || (strings.HasPrefix(n.Name, "__") && strings.HasSuffix(n.Name, "__")) {
			return reject(n, fmt.Sprintf("Access to '%s' is not allowed.", n.Name))
		}
	case *syntax.AssignStmt:
		return checkConfigAssign(n)
	}
	return nil
}

func checkConfigAssign(n *syntax.AssignStmt) error {
	switch lhs := n.LHS.(type) {
	case *syntax.Ident:
		if lhs.Name != "CONFIG" {
			return nil
		}
	case *syntax.IndexExpr:
		if x, ok := lhs.X.(*syntax.Ident); ok && x.Name == "CONFIG" {
			return reject(n, "CONFIG must not be modified.")
		}
		return nil
	default:
		return nil
	}

	if n.Op != syntax.EQ {
		return reject(n, "CONFIG must not be modified.")
	}
	dict, ok := n.RHS.(*syntax.DictExpr)
	if !ok {
		return reject(n, "CONFIG must be defined as a dictionary literal.")
	}
	for _, e := range dict.List {
		entry := e.(*syntax.DictEntry)
		key, ok := entry.Key.(*syntax.Literal)
		if !ok || key.Token != syntax.STRING {
			return reject(entry, "CONFIG keys must be string literals.")
		}
		name, _ := key.Value.(string)
		if !domain.AllowedConfigFields[name] {
			return reject(entry, fmt.Sprintf("Invalid CONFIG field: '%s'", name))
		}
		if !isSimpleLiteral(entry.Value) {
			return reject(entry, "CONFIG values must be simple literals (numbers, strings, booleans, None).")
		}
	}
	return nil
}

func isSimpleLiteral(e syntax.Expr) bool {
	switch e := e.(type) {
	case *syntax.Literal:
		return e.Token == syntax.STRING || e.Token == syntax.INT || e.Token == syntax.FLOAT
	case *syntax.Ident:
		return e.Name == "True" || e.Name == "False" || e.Name == "None"
	case *syntax.UnaryExpr:
		lit, ok := e.X.(*syntax.Literal)
		return ok && (e.Op == syntax.MINUS || e.Op == syntax.PLUS) &&
			(lit.Token == syntax.INT || lit.Token == syntax.FLOAT)
	}
	return false
}

func reject(n syntax.Node, msg string) error {
	start, _ := n.Span()
	return &ValidationError{Line: int(start.Line), Msg: msg}
}
