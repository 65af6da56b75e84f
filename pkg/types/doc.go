// Package types defines the core interfaces and data structures for the AI Provider Kit.
// It includes provider interfaces, configuration types, message formats, tool definitions,
// and metrics structures used across all provider implementations.
package types
