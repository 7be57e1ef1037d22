package pattern

// Merge folds source into target and returns the result as a new record.
//
// The result keeps the target's identity and text. Counters are summed,
// LastSeen takes the later of the two, and insights are target's followed by
// source's with only the most recent MaxInsights retained. Neither input is
// modified.
func Merge(target, source *Record) *Record {
	out := target.Clone()
	if source == nil {
		return out
	}

	out.Observations += source.Observations
	out.Successes += source.Successes
	out.Failures += source.Failures
	out.Neutrals += source.Neutrals

	if source.LastSeen.After(out.LastSeen) {
		out.LastSeen = source.LastSeen
	}

	insights := make([]Insight, 0, len(out.Insights)+len(source.Insights))
	insights = append(insights, out.Insights...)
	insights = append(insights, source.Insights...)
	out.Insights = capInsights(insights)
	if len(out.Insights) == 0 {
		out.Insights = nil
	}

	out.Recompute()
	return out
}

// MergeAll folds every source into target in order.
func MergeAll(target *Record, sources ...*Record) *Record {
	out := target.Clone()
	for _, s := range sources {
		out = Merge(out, s)
	}
	return out
}
