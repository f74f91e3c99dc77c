package recordstore

import "errors"

var (
	// ErrBackupNotFound is returned when a backup ID does not exist.
	ErrBackupNotFound = errors.New("record backup not found")

	// ErrInvalidBackup is returned when a backup has no records, a
	// duplicate record index or an index outside 0-5.
	ErrInvalidBackup = errors.New("invalid record backup")
)
