// Package llm provides the completers used by llm controls.
//
// The factory creates a completer based on provider configuration.
// Currently supports:
//   - Anthropic Claude
package llm
