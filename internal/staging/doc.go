// Package staging persists a session without ever blocking the capture
// loop.
//
// Everything lands first in a staging area on fast storage (tmpfs by
// default):
//
//	<staging>/<session_id>/RGB/000000.jpg
//	<staging>/<session_id>/Thermal/000000.npy
//	<staging>/<session_id>/timestamps.csv
//	<staging>/<session_id>/session_info.yaml
//
// The Writer splits the work in two:
//   - payload files go to a bounded queue served by a small worker pool
//   - metadata rows are buffered in memory and appended in batches by a
//     single flusher, after the batch's payload writes have settled, so
//     each row records the real on-disk status of its artifacts
//
// When the session ends the Migrator moves the staging tree under
// <durable_root>/records/<session_id> atomically. Staging data is never
// deleted unless the durable copy is complete.
package staging
