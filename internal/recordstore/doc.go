// Package recordstore keeps snapshots of M307 user records in SQLite.
//
// A backup is the raw 60-byte image of up to six user records read from one
// unit at one point in time. Images are stored exactly as the device
// returned them so a restore writes back the same bytes, including fields
// this client does not decode.
//
// The schema lives in the top-level migrations package.
package recordstore
