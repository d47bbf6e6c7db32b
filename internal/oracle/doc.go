// Package oracle turns free-text rule oracle replies into typed, validated
// rules and URL suggestions. Replies are untrusted: nothing is executed and
// selector strings are passed through verbatim.
package oracle
