// Package interpreter evaluates single Go expressions directly, without
// producing a module. Integer literals stay integers until they meet a
// float64 operand; float arithmetic is IEEE-754 step by step, so non-finite
// results are ordinary values rather than errors.
package interpreter
