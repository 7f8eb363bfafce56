// Package mirror runs one synchronization pass: read the bucket inventory,
// scrape each configured directory listing, reconcile the two key sets and
// apply the resulting uploads and deletions.
//
// Failure policy:
//
//   - An unreadable inventory (*storage.AccessError) aborts the run before any write.
//   - A failed listing (*listing.FetchError) is a warning; that subdirectory
//     contributes no files and its stored keys are kept unless pruning is enabled.
//   - Download (*transfer.DownloadError) and write (*storage.WriteError) failures
//     are recorded per item and the run continues; the run then returns
//     ErrPartialFailure.
package mirror
