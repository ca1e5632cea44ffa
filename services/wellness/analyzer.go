// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wellness

import (
	"context"
	"fmt"
	"math"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Sentinel report returned when a fragment fails to parse. Downstream
// consumers depend on these exact values to recognize the failure case.
const (
	parseFailScore      = 10.0
	parseFailComplexity = 999
	parseFailNesting    = 999
)

// errSyntax is returned by parseFragment when tree-sitter reports an
// error node anywhere in the tree.
var errSyntax = fmt.Errorf("fragment contains syntax errors")

// parsedFragment wraps a successfully parsed tree. Callers must Close it.
type parsedFragment struct {
	tree    *sitter.Tree
	content []byte
}

func (p *parsedFragment) root() *sitter.Node { return p.tree.RootNode() }

func (p *parsedFragment) Close() { p.tree.Close() }

// parseFragment parses a code fragment with the tree-sitter Python
// grammar. Any error node in the resulting tree is treated as a parse
// failure: validation fails closed rather than scoring partial trees.
func parseFragment(ctx context.Context, fragment string) (*parsedFragment, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(fragment)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse failed: %w", err)
	}
	if tree.RootNode().HasError() {
		tree.Close()
		return nil, errSyntax
	}
	return &parsedFragment{tree: tree, content: content}, nil
}

// walk visits every node in pre-order.
func walk(n *sitter.Node, fn func(*sitter.Node)) {
	fn(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

// =============================================================================
// Cognitive Load Metrics
// =============================================================================

// AnalyzeCognitiveLoad computes the structural load report for a code
// fragment. A fragment that fails to parse yields the fixed sentinel
// report (score 10.0, complexity and nesting 999, severe, syntax_error)
// rather than an error, so load analysis is a total function.
func AnalyzeCognitiveLoad(ctx context.Context, fragment string) *CognitiveLoadReport {
	parsed, err := parseFragment(ctx, fragment)
	if err != nil {
		return &CognitiveLoadReport{
			OverallScore:         parseFailScore,
			CyclomaticComplexity: parseFailComplexity,
			NestingDepth:         parseFailNesting,
			HRVImpactEstimate:    "severe",
			StressIndicators:     []string{"syntax_error"},
		}
	}
	defer parsed.Close()

	complexity := cyclomaticComplexity(parsed.root())
	nesting := nestingDepth(parsed.root())
	funcCount, avgLength := functionMetrics(parsed.root())

	highComplexity := 0.0
	if complexity > 15 {
		highComplexity = 1.0
	}
	score := math.Min(10.0,
		float64(complexity)/10*3+
			float64(nesting)/5*2+
			avgLength/50*2+
			float64(funcCount)/10*1.5+
			highComplexity*1.5)

	var impact string
	switch {
	case score < 4:
		impact = "low"
	case score < 6:
		impact = "moderate"
	case score < 8:
		impact = "high"
	default:
		impact = "severe"
	}

	var indicators []string
	if complexity > 15 {
		indicators = append(indicators, "high_cyclomatic_complexity")
	}
	if nesting > 4 {
		indicators = append(indicators, "deep_nesting")
	}
	if avgLength > 50 {
		indicators = append(indicators, "long_functions")
	}
	if funcCount > 10 {
		indicators = append(indicators, "too_many_functions")
	}

	return &CognitiveLoadReport{
		OverallScore:          round2(score),
		CyclomaticComplexity:  complexity,
		NestingDepth:          nesting,
		FunctionCount:         funcCount,
		AverageFunctionLength: round2(avgLength),
		HRVImpactEstimate:     impact,
		StressIndicators:      indicators,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// cyclomaticComplexity computes the McCabe count: base 1, plus 1 per
// branch construct and per binary boolean operator. Chained boolean
// expressions nest in the grammar, so counting each boolean_operator
// node matches the operand-minus-one rule.
func cyclomaticComplexity(root *sitter.Node) int {
	complexity := 1
	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "if_statement", "elif_clause", "while_statement", "for_statement",
			"except_clause", "with_statement", "for_in_clause",
			"boolean_operator":
			complexity++
		}
	})
	return complexity
}

// nestingDepth returns the maximum containment depth of block
// constructs. Siblings do not compound; only nesting does. The grammar
// keeps elif clauses as flat siblings of their if_statement, but
// Python's AST nests each elif one level deeper inside the previous
// one's orelse, so the k-th elif (and a trailing else) is visited k
// levels down.
func nestingDepth(root *sitter.Node) int {
	var maxDepth int
	var visit func(n *sitter.Node, depth int)
	visit = func(n *sitter.Node, depth int) {
		switch n.Type() {
		case "if_statement", "elif_clause", "for_statement",
			"while_statement", "function_definition", "class_definition",
			"with_statement", "try_statement":
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		}
		elifs := 0
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			switch child.Type() {
			case "elif_clause":
				visit(child, depth+elifs)
				elifs++
			case "else_clause":
				visit(child, depth+elifs)
			default:
				visit(child, depth)
			}
		}
	}
	visit(root, 0)
	return maxDepth
}

// functionMetrics counts function definitions and averages their span in
// lines (end row minus start row). The async keyword does not change the
// node type, so async defs are counted with the rest.
func functionMetrics(root *sitter.Node) (count int, avgLength float64) {
	var total int
	walk(root, func(n *sitter.Node) {
		if n.Type() != "function_definition" {
			return
		}
		count++
		total += int(n.EndPoint().Row) - int(n.StartPoint().Row)
	})
	if count == 0 {
		return 0, 0
	}
	return count, float64(total) / float64(count)
}

// =============================================================================
// Structural Stressors
// =============================================================================

// detectTightLoops flags loops with no cooperative exit point: no yield,
// no await, and no call to a sleep-named function anywhere in the loop
// body. Such loops risk freezing the UI thread.
func detectTightLoops(parsed *parsedFragment) []WellnessViolation {
	var violations []WellnessViolation
	walk(parsed.root(), func(n *sitter.Node) {
		switch n.Type() {
		case "for_statement", "while_statement":
		default:
			return
		}
		if !isTightLoop(n, parsed.content) {
			return
		}
		violations = append(violations, WellnessViolation{
			Kind:                  KindAnxietyInducing,
			Severity:              SeverityInfo,
			Location:              fmt.Sprintf("diff:%d:0", n.StartPoint().Row+1),
			Message:               "Tight loop detected - may cause UI freezing",
			SuggestedFix:          "Add yield points or use async patterns",
			WellnessImpact:        "UI freezing causes user frustration",
			CognitiveLoadIncrease: 1.0,
		})
	})
	return violations
}

func isTightLoop(loop *sitter.Node, content []byte) bool {
	tight := true
	walk(loop, func(n *sitter.Node) {
		if !tight {
			return
		}
		switch n.Type() {
		case "yield", "await":
			tight = false
		case "call":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return
			}
			name := fn.Content(content)
			if name == "sleep" || strings.HasSuffix(name, ".sleep") {
				tight = false
			}
		}
	})
	return tight
}
