// Package influxdb provides InfluxDB connectivity for the M307 bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, health monitoring and point builders for M307 data.
//
// # Purpose
//
// This package handles time-series storage for:
//   - Live status snapshots polled by the bridge (measurement m307_status)
//   - Entries drained from the device log (measurement m307_log), written
//     at the device's own timestamps so a backfill lines up with live data
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteStatus("cold-room-2", status, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via a callback.
// Connection and health check errors are returned directly.
package influxdb
