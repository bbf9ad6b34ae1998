// Package logx is tickrun's structured logging on top of zerolog.
//
// A Service owns the outputs (console, JSON file, extra writer) and swaps
// them on Apply; every Logger derived from it follows the swap.
package logx
