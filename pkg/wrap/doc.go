// Package wrap implements the composite node that aggregates controls and
// loads them as one unit.
//
// Controls are registered into the parallel, series or eventually group of a
// Node. Run seeds an accumulator with the caller's values and the node
// defaults, loads every control through the flow engine and folds each
// result into the accumulator: keyed controls are stored under their key,
// keyless controls have their map result merged without overwriting
// existing entries.
//
// Example:
//
//	node := wrap.New(wrap.WithLogger(logger)).
//		Defaults(map[string]interface{}{"title": "Home"}).
//		Parallel("header", header).
//		Series("body", body).
//		Eventually("", footer)
//
//	content, err := node.Run(ctx, map[string]interface{}{"lang": "en"})
package wrap
