// Package reflection judges how detected patterns contributed to an edit.
//
// An Oracle receives the edited code, the rules that fired and the
// execution Evidence, and returns one Verdict per pattern it could judge.
// Patterns without a verdict are skipped for the cycle.
//
// Implementations:
//   - HeuristicOracle: derives verdicts from the test status alone
//   - LLMOracle: asks a language model (see AnthropicClient) for JSON verdicts
//   - FallbackOracle: tries a primary oracle and degrades to another on error
//   - RefiningOracle: re-asks an oracle with its previous verdicts until the
//     improvement between rounds levels off
//
// Candidate turns a verdict into the one-observation record that is handed
// to the curator.
package reflection
