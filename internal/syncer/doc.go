// Package syncer runs one Bangumi to Notion synchronization pass.
//
// A pass is strictly sequential:
//
//	resolve user -> resolve table -> load cache -> fetch -> save cache
//	-> diff -> upsert added, updated -> mark deleted -> report
//
// The fresh snapshot is persisted before any table mutation, so a run that
// fails halfway is not replayed in full by the next run.
package syncer
