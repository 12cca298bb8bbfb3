// Package logx wraps zerolog for groupcast.
//
// Console lines carry a short timestamp and caller, the optional file sink
// writes JSON, and warnings can be mirrored to an operator chat at a
// bounded rate.
package logx
