// Package summary turns a meeting transcript into notes using a hosted
// text-completion model.
package summary
