// Package decompctx carries the "no global state" parameterization
// (§9): every analysis takes an explicit Context rather than reading
// package-level mutable state, the way the teacher's VM takes its
// dependencies as struct fields rather than globals.
package decompctx

import "github.com/rs/zerolog"

// Settings bundles the handful of behavior switches the builder consults.
type Settings struct {
	// AlwaysGenerateExceptionVariableForCatchBlocks forces the AST
	// Assembler to materialize a named exception variable for every catch
	// block even when the handler body never loads it.
	AlwaysGenerateExceptionVariableForCatchBlocks bool
}

// Context is the decompiler context handle threaded through every pass:
// current type, current method, the optimize flag, and settings (§9).
type Context struct {
	CurrentType   string
	CurrentMethod string
	Optimize      bool
	Settings      Settings
	Log           zerolog.Logger
}

// New builds a Context with the given type/method identity and a
// production logger at Info level, writing structured fields the way the
// teacher's style favors explicit construction over init()-time globals.
func New(currentType, currentMethod string, optimize bool, settings Settings) *Context {
	return &Context{
		CurrentType:   currentType,
		CurrentMethod: currentMethod,
		Optimize:      optimize,
		Settings:      settings,
		Log: zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.InfoLevel).With().
			Timestamp().
			Str("type", currentType).
			Str("method", currentMethod).
			Logger(),
	}
}
