// Package build constructs a tree from a sorted tuple stream in one
// bottom-up pass.
//
// A State keeps one open page per level. Leaf tuples are appended to the
// level 0 page until the fill factor is reached; the page is then split at
// ninety percent of its bytes, the left part is written and its downlink is
// appended one level up, which may split that level in turn. Finish flushes
// the open pages from the bottom and writes the root last.
//
// Any write failure poisons the State: the error is wrapped in
// ErrBuildFailed and returned from every later call.
package build
