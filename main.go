// Package main is the bgm-notion-sync executable.
//
// Architecture overview:
//   - Fetch: internal/bangumi pages through the user's collection on the Bangumi v0 API and resolves
//     subject detail and covers on demand. Requests are paced by a token bucket; there is no retry.
//   - Snapshot: internal/snapshot keeps the last fetched collection and the Notion database id as JSON
//     objects on local disk, in a GCS bucket, or in memory for the lifetime of the process.
//   - Reconcile: collection.Diff classifies items as added, status-updated or deleted by subject id.
//   - Apply: internal/table upserts rows through internal/notion (an adapter over notionapi), resolving duplicate rows,
//     and marks rows of removed subjects as deleted. The table schema is refreshed every run and the
//     table recreated once when refresh fails.
//   - Report: every run produces a report.Report that goes to the log, Prometheus (optionally pushed
//     to a Pushgateway), and optionally a Postgres history table and a Pub/Sub topic.
//
// Operational notes:
//   - A run is strictly sequential and single-writer; do not run two passes against the same table.
//   - SIGINT/SIGTERM cancel the in-flight request. The snapshot is saved before reconciliation, so
//     an item whose write failed or was interrupted is not retried by the next run: the next diff
//     no longer sees it as changed. Change the item on Bangumi, or clear the cache, to rewrite it.
//
// Quick checklist:
//   - Set BGM_TOKEN and NOTION_TOKEN (environment or .env); optionally NOTION_PAGE_ID and NOTION_DATABASE_ID.
//   - Any other key can be overridden with BGMSYNC_<SECTION>_<KEY>, e.g. BGMSYNC_STORAGE_PROVIDER=gcs.
//   - Run: bgm-notion-sync sync [--config config.yaml]; inspect history with bgm-notion-sync runs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/bgm-notion-sync/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
