// Package herd is the client facade: namespaced JSON values, distributed
// locks and memoized computations over one shared store. Every public
// operation reports exactly one start and one finish event, so observers
// see the same stream no matter which capability a caller uses.
package herd
