// Package conversation keeps bounded per-conversation message history.
//
// The most recent MaxRecentMessages turns are always kept verbatim; older
// turns are condensed by a Summarizer once the unsummarized backlog exceeds
// SummaryThreshold. Summarized turns are dropped from memory, and callers see
// the summary as one leading system message:
//
//	Previous conversation summary: {summary}
//
// Summarization failures never escape UpdateConversationHistory: they are
// retried, recorded on the summary and reported as ErrorEvents.
package conversation
