// Package logx is a small structured logging facade over zerolog.
//
// It exists so the rest of the codebase depends on a stable Logger type with
// field helpers, while sinks and levels can be swapped at runtime through the
// Service (config hot reload).
package logx
