// Package chat is the observation and orchestration loop that translates
// incoming chat messages in place.
//
// It binds to the page's message list (waiting for it to render when
// needed), watches the list for mutations, classifies each affected message
// and drives one translation request per message through its overlay:
//
//   - Process runs the per-message protocol: reclassify, extract the text
//     with overlays excluded, short-circuit unchanged messages, cancel stale
//     requests, mark the message pending and start a cancellable request.
//     Completions are posted back to the page loop and re-validated against
//     the message's current text before anything is committed.
//   - Mutation batches are reduced to a deduplicated set of messages, each
//     processed once per batch. Records produced inside overlays are ignored.
//   - A rescan timer re-processes every collected message as a safety net;
//     a thread timer watches the page location and the bound list and
//     performs a full reset when the conversation changes.
//   - Voice replies translate a speech transcript into the language most
//     recently detected from the counterparty and type it into the reply
//     input.
//
// Two attributes are written on message elements: data-ai-original-text
// (the text last sent for translation) and data-ai-translation-status
// (pending, done, skipped or error).
package chat
