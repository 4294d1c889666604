//go:build !streamdebug

package invariant

const debug = false
