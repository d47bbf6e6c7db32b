// Package extraction holds the rule-free structural analyzer, the oracle
// sample preparation, the selector-based extractor and the completeness
// scorer. Everything here is a pure function of its inputs.
package extraction
