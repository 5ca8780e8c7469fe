//go:build ruleguard

// Package gorules contains project lint rules run by golangci-lint through
// ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// StatusLiterals flags string literals compared with or converted to the
// recording status types. Use the datastore constants so a renamed state is
// caught by the compiler.
//
//	rec.V2SStatus == "FALLBACK"        // flagged
//	rec.V2SStatus == datastore.V2SFallback
func StatusLiterals(m dsl.Matcher) {
	m.Match(`$s == $lit`, `$s != $lit`, `$lit == $s`, `$lit != $s`).
		Where(m["lit"].Const && m["lit"].Type.Is("untyped string") &&
			(m["s"].Type.Is("datastore.V2SStatus") || m["s"].Type.Is("datastore.OsmStatus"))).
		Report("compare $s with a datastore status constant instead of $lit")

	m.Match(`datastore.V2SStatus($lit)`, `datastore.OsmStatus($lit)`).
		Where(m["lit"].Const).
		Report("use the datastore status constant instead of converting $lit")
}

// LogFieldsNotFormatting flags formatted log messages. Structured fields keep
// messages greppable and values machine readable.
//
//	log.Info(fmt.Sprintf("saved %s", name))        // flagged
//	log.Info("saved", logger.String("file", name))
func LogFieldsNotFormatting(m dsl.Matcher) {
	m.Match(
		`$log.Trace(fmt.Sprintf($*_), $*_)`,
		`$log.Debug(fmt.Sprintf($*_), $*_)`,
		`$log.Info(fmt.Sprintf($*_), $*_)`,
		`$log.Warn(fmt.Sprintf($*_), $*_)`,
		`$log.Error(fmt.Sprintf($*_), $*_)`,
	).
		Where(m["log"].Type.Implements("logger.Logger")).
		Report("pass values as logger fields instead of formatting the message")
}

// EnhancedErrorf flags errors.New(fmt.Sprintf(...)) on the internal errors
// package, which has Newf.
func EnhancedErrorf(m dsl.Matcher) {
	m.Import("github.com/tphakala/ridenote/internal/errors")
	m.Match(`errors.New(fmt.Errorf($*args))`, `errors.NewStd(fmt.Sprintf($*args))`).
		Report("use errors.Newf($args) and the builder")
}

// TestingContext flags context.Background() and context.TODO() in tests;
// t.Context() is cancelled when the test ends.
func TestingContext(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("use t.Context() in tests")
}

// WaitGroupGo flags the Add/Done goroutine pattern replaced by wg.Go.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { ... })").
		Suggest("$wg.Go(func() { $*_ })")
}
