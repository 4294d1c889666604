//go:build streamdebug

package invariant

const debug = true
